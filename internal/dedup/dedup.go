// Package dedup filters satellite hotspots that were already observed
// and stored by a previous fetch.
//
// Two detections are the same observation when they come from the same
// source on the same acquisition date, lie within the spatial tolerance
// and were acquired within the temporal tolerance of each other. Both
// comparisons are inclusive: a pair exactly at tolerance is a duplicate.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/firesentinel/firesentinel/internal/config"
	"github.com/firesentinel/firesentinel/internal/geo"
	"github.com/firesentinel/firesentinel/internal/models"
	"github.com/firesentinel/firesentinel/internal/store"
)

const minutesPerDay = 1440

type Engine struct {
	store *store.Store
	cfg   config.Dedup
}

func NewEngine(st *store.Store, cfg config.Dedup) *Engine {
	return &Engine{store: st, cfg: cfg}
}

// Deduplicate returns the candidates that are genuinely new, preserving
// input order. Stored hotspots are fetched with a single range query
// over the batch's padded bounding box and acquisition dates. Candidates
// are only compared against storage, never against each other: nearby
// detections from a single overpass are distinct observations and it is
// clustering's job to group them.
func (e *Engine) Deduplicate(ctx context.Context, candidates []models.Hotspot) ([]models.Hotspot, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	points := make([][2]float64, len(candidates))
	dateSet := make(map[string]struct{})
	for i, h := range candidates {
		points[i] = [2]float64{h.Latitude, h.Longitude}
		dateSet[h.AcqDate] = struct{}{}
	}
	box, _ := geo.FromPoints(points)
	box = box.Pad(e.cfg.SpatialToleranceM)

	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}

	existing, err := e.store.HotspotsInRange(ctx, box, dates)
	if err != nil {
		return nil, fmt.Errorf("query existing hotspots: %w", err)
	}

	// Group stored hotspots by (source, acq_date); candidates only ever
	// collide within a group.
	type groupKey struct {
		source models.Source
		date   string
	}
	groups := make(map[groupKey][]models.Hotspot)
	for _, h := range existing {
		k := groupKey{h.Source, h.AcqDate}
		groups[k] = append(groups[k], h)
	}

	var fresh []models.Hotspot
	for _, cand := range candidates {
		dup := false
		for _, prev := range groups[groupKey{cand.Source, cand.AcqDate}] {
			if e.isDuplicate(cand, prev) {
				dup = true
				break
			}
		}
		if !dup {
			fresh = append(fresh, cand)
		}
	}
	return fresh, nil
}

func (e *Engine) isDuplicate(a, b models.Hotspot) bool {
	if geo.Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude) > e.cfg.SpatialToleranceM {
		return false
	}
	return minuteDiff(a.AcqTime, b.AcqTime) <= e.cfg.TemporalToleranceMin
}

// minuteDiff returns the minute-of-day distance with midnight
// wraparound: 23:55 and 00:05 are ten minutes apart, not 1430.
func minuteDiff(a, b int) int {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff > minutesPerDay/2 {
		diff = minutesPerDay - diff
	}
	return diff
}

// Store assigns IDs and ingestion timestamps and persists the batch in
// one transaction.
func (e *Engine) Store(ctx context.Context, hotspots []models.Hotspot) ([]models.Hotspot, error) {
	if len(hotspots) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	stored := make([]models.Hotspot, len(hotspots))
	for i, h := range hotspots {
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		h.IngestedAt = now
		stored[i] = h
	}

	if err := e.store.InsertHotspots(ctx, stored); err != nil {
		return nil, fmt.Errorf("store hotspots: %w", err)
	}
	return stored, nil
}
