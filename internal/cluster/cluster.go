// Package cluster groups deduplicated hotspots into fire events by
// spatial and temporal proximity, and maintains the aggregate state of
// events across detection cycles.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/firesentinel/firesentinel/internal/config"
	"github.com/firesentinel/firesentinel/internal/geo"
	"github.com/firesentinel/firesentinel/internal/models"
	"github.com/firesentinel/firesentinel/internal/store"
)

type Engine struct {
	store *store.Store
	cfg   config.Clustering
}

func NewEngine(st *store.Store, cfg config.Clustering) *Engine {
	return &Engine{store: st, cfg: cfg}
}

// timed pairs a hotspot with its parsed acquisition timestamp.
type timed struct {
	h  models.EnrichedHotspot
	at time.Time
}

// pending is an in-memory cluster that has not matched a stored event.
type pending struct {
	members []models.EnrichedHotspot
	times   []time.Time
	// running mean centroid over members
	lat, lon float64
}

func (p *pending) add(h models.EnrichedHotspot, at time.Time) {
	p.members = append(p.members, h)
	p.times = append(p.times, at)
	n := float64(len(p.members))
	p.lat += (h.Hotspot.Latitude - p.lat) / n
	p.lon += (h.Hotspot.Longitude - p.lon) / n
}

// Cluster assigns the batch to events and persists the result in a
// single transaction, returning events that absorbed new members and
// events created this cycle. Returned events carry only current-batch
// members in Hotspots; counts include prior members. Assignment scans
// events oldest-first and in-memory clusters in creation order, taking
// the first match rather than the nearest.
func (e *Engine) Cluster(ctx context.Context, batch []models.EnrichedHotspot) (merged, created []models.FireEvent, err error) {
	if len(batch) == 0 {
		return nil, nil, nil
	}

	ordered := make([]timed, 0, len(batch))
	points := make([][2]float64, 0, len(batch))
	for _, h := range batch {
		at, err := h.Hotspot.AcquiredAt()
		if err != nil {
			return nil, nil, fmt.Errorf("hotspot %s: parse acquisition time: %w", h.Hotspot.ID, err)
		}
		ordered = append(ordered, timed{h, at})
		points = append(points, [2]float64{h.Hotspot.Latitude, h.Hotspot.Longitude})
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].at.Before(ordered[j].at) })

	box, _ := geo.FromPoints(points)
	box = box.Pad(e.cfg.RadiusM)
	active, err := e.store.ActiveEventsInBBox(ctx, box)
	if err != nil {
		return nil, nil, fmt.Errorf("query active events: %w", err)
	}

	window := time.Duration(e.cfg.TemporalWindowHours * float64(time.Hour))

	eventMembers := make(map[string][]timed, len(active))
	var clusters []*pending

assign:
	for _, th := range ordered {
		h := th.h.Hotspot
		for _, ev := range active {
			if geo.Haversine(h.Latitude, h.Longitude, ev.CentroidLat, ev.CentroidLon) <= e.cfg.RadiusM {
				eventMembers[ev.ID] = append(eventMembers[ev.ID], th)
				continue assign
			}
		}
		for _, c := range clusters {
			if geo.Haversine(h.Latitude, h.Longitude, c.lat, c.lon) > e.cfg.RadiusM {
				continue
			}
			for _, mt := range c.times {
				if absDuration(th.at.Sub(mt)) <= window {
					c.add(th.h, th.at)
					continue assign
				}
			}
		}
		c := &pending{}
		c.add(th.h, th.at)
		clusters = append(clusters, c)
	}

	var updates store.EventUpdates

	for _, ev := range active {
		members := eventMembers[ev.ID]
		if len(members) == 0 {
			continue
		}
		m := e.mergeEvent(ev, members)
		updates.Merge = append(updates.Merge, store.EventMerge{
			EventID:      m.ID,
			CentroidLat:  m.CentroidLat,
			CentroidLon:  m.CentroidLon,
			HotspotCount: m.HotspotCount,
			MaxFRP:       m.MaxFRP,
			Severity:     m.Severity,
			LastUpdated:  m.LastUpdated,
			HotspotIDs:   hotspotIDs(m.Hotspots),
		})
		merged = append(merged, m)
	}

	for _, c := range clusters {
		ev := e.newEvent(c)
		updates.Create = append(updates.Create, ev)
		created = append(created, ev)
	}

	if err := e.store.ApplyEventUpdates(ctx, updates); err != nil {
		return nil, nil, fmt.Errorf("apply event updates: %w", err)
	}
	return merged, created, nil
}

func (e *Engine) mergeEvent(ev models.FireEvent, members []timed) models.FireEvent {
	// Count-weighted centroid: the stored centroid stands in for its
	// prior members.
	wLat := ev.CentroidLat * float64(ev.HotspotCount)
	wLon := ev.CentroidLon * float64(ev.HotspotCount)
	maxFRP := ev.MaxFRP
	last := ev.LastUpdated

	enriched := make([]models.EnrichedHotspot, 0, len(members))
	for _, m := range members {
		wLat += m.h.Hotspot.Latitude
		wLon += m.h.Hotspot.Longitude
		if m.h.Hotspot.FRP > maxFRP {
			maxFRP = m.h.Hotspot.FRP
		}
		if m.at.After(last) {
			last = m.at
		}
		enriched = append(enriched, m.h)
	}

	total := ev.HotspotCount + len(members)
	ev.CentroidLat = wLat / float64(total)
	ev.CentroidLon = wLon / float64(total)
	ev.HotspotCount = total
	ev.MaxFRP = maxFRP
	ev.LastUpdated = last
	ev.Severity = e.severity(total, maxFRP)
	ev.Hotspots = enriched
	attachContext(&ev)
	return ev
}

func (e *Engine) newEvent(c *pending) models.FireEvent {
	first := c.times[0]
	last := c.times[0]
	maxFRP := 0.0
	for i, at := range c.times {
		if at.Before(first) {
			first = at
		}
		if at.After(last) {
			last = at
		}
		if c.members[i].Hotspot.FRP > maxFRP {
			maxFRP = c.members[i].Hotspot.FRP
		}
	}

	ev := models.FireEvent{
		ID:            uuid.NewString(),
		CentroidLat:   c.lat,
		CentroidLon:   c.lon,
		HotspotCount:  len(c.members),
		MaxFRP:        maxFRP,
		Severity:      e.severity(len(c.members), maxFRP),
		FirstDetected: first,
		LastUpdated:   last,
		Active:        true,
		Hotspots:      c.members,
	}
	attachContext(&ev)
	return ev
}

// severity maps hotspot count onto the four bands; extreme radiative
// power forces critical regardless of count.
func (e *Engine) severity(count int, maxFRP float64) models.Severity {
	if maxFRP > e.cfg.CriticalFRPMW {
		return models.SeverityCritical
	}
	switch {
	case count <= 2:
		return models.SeverityLow
	case count <= 5:
		return models.SeverityMedium
	case count <= 9:
		return models.SeverityHigh
	default:
		return models.SeverityCritical
	}
}

// attachContext promotes the first available member enrichment to the
// event level for scoring and alerting.
func attachContext(ev *models.FireEvent) {
	for _, m := range ev.Hotspots {
		if ev.Weather == nil && m.Weather != nil {
			ev.Weather = m.Weather
		}
		if ev.Road == nil && m.Road != nil {
			ev.Road = m.Road
		}
	}
}

func hotspotIDs(members []models.EnrichedHotspot) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.Hotspot.ID
	}
	return ids
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
