// Package pipeline orchestrates a detection cycle: fetch, dedup,
// enrich, cluster, classify, alert. Stages are fault-isolated; only a
// failure to acquire or persist hotspots aborts the cycle.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/firesentinel/firesentinel/internal/alert"
	"github.com/firesentinel/firesentinel/internal/classify"
	"github.com/firesentinel/firesentinel/internal/cluster"
	"github.com/firesentinel/firesentinel/internal/config"
	"github.com/firesentinel/firesentinel/internal/dedup"
	"github.com/firesentinel/firesentinel/internal/geo"
	"github.com/firesentinel/firesentinel/internal/metrics"
	"github.com/firesentinel/firesentinel/internal/models"
	"github.com/firesentinel/firesentinel/internal/store"
)

const (
	// Historical-repeat lookup: prior events within this radius over the
	// last three years feed the classifier's history signal.
	historyRadiusM       = 5000.0
	historyLookbackMonth = 36

	// Other events detected the same cycle within this radius count as
	// simultaneous ignition points.
	nearbyRadiusM = 10000.0

	// Events with no new hotspots for this long are resolved.
	staleAfter = 24 * time.Hour
)

// Ingester supplies raw hotspots for a bounding box.
type Ingester interface {
	FetchAll(ctx context.Context, box geo.BBox) ([]models.Hotspot, error)
}

// Enricher decorates hotspots with weather and road context, returning
// the decorated batch and the number of failed lookups.
type Enricher interface {
	Enrich(ctx context.Context, hotspots []models.Hotspot) ([]models.EnrichedHotspot, int)
}

type Pipeline struct {
	ingest     Ingester
	enricher   Enricher
	dedup      *dedup.Engine
	cluster    *cluster.Engine
	classifier *classify.Classifier
	dispatcher alert.Dispatcher
	store      *store.Store
	cfg        config.Config
}

// New wires the stages together. dispatcher may be nil, in which case
// the alert stage is skipped.
func New(ing Ingester, enr Enricher, de *dedup.Engine, cl *cluster.Engine,
	clf *classify.Classifier, disp alert.Dispatcher, st *store.Store, cfg config.Config) *Pipeline {
	return &Pipeline{
		ingest:     ing,
		enricher:   enr,
		dedup:      de,
		cluster:    cl,
		classifier: clf,
		dispatcher: disp,
		store:      st,
		cfg:        cfg,
	}
}

// RunCycle executes one full detection cycle and persists its run
// record. It always returns a run; inspect Status and Errors for the
// outcome.
func (p *Pipeline) RunCycle(ctx context.Context) models.PipelineRun {
	run := models.PipelineRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	fatal := false
	fail := func(stage string, err error) {
		run.Errors = append(run.Errors, fmt.Sprintf("%s: %v", stage, err))
		fatal = true
	}
	warn := func(stage string, err error) {
		run.Errors = append(run.Errors, fmt.Sprintf("%s: %v", stage, err))
	}

	box := p.cfg.Region.BBox()

	fetched, err := p.ingest.FetchAll(ctx, box)
	if err != nil {
		fail("ingest", err)
		return p.finish(ctx, run, fatal)
	}
	run.HotspotsFetched = len(fetched)
	log.Printf("pipeline: fetched %d hotspots", len(fetched))

	fresh, err := p.dedup.Deduplicate(ctx, fetched)
	if err != nil {
		fail("dedup", err)
		return p.finish(ctx, run, fatal)
	}
	if len(fresh) == 0 {
		log.Printf("pipeline: no new hotspots")
		return p.finish(ctx, run, fatal)
	}
	stored, err := p.dedup.Store(ctx, fresh)
	if err != nil {
		fail("dedup", err)
		return p.finish(ctx, run, fatal)
	}
	run.HotspotsNew = len(stored)
	metrics.HotspotsNew.Add(float64(len(stored)))
	log.Printf("pipeline: %d new hotspots after dedup", len(stored))

	enriched, failures := p.enrichStage(ctx, stored)
	if failures > 0 {
		warn("enrich", fmt.Errorf("%d lookups returned no context", failures))
	}

	merged, created, err := p.cluster.Cluster(ctx, enriched)
	if err != nil {
		warn("cluster", err)
		return p.finish(ctx, run, fatal)
	}
	run.EventsUpdated = len(merged)
	run.EventsCreated = len(created)
	metrics.EventsUpdated.Add(float64(len(merged)))
	metrics.EventsCreated.Add(float64(len(created)))

	events := append(merged, created...)
	log.Printf("pipeline: %d events updated, %d created", len(merged), len(created))

	p.classifyStage(ctx, events, warn)

	if p.dispatcher != nil && p.cfg.Alerts.Enabled {
		sent, err := p.dispatcher.Dispatch(ctx, events)
		run.AlertsSent = sent
		if err != nil {
			warn("alert", err)
		}
	}

	return p.finish(ctx, run, fatal)
}

// enrichStage never fails the cycle: if no enricher is wired, or every
// lookup fails, hotspots proceed with absent context.
func (p *Pipeline) enrichStage(ctx context.Context, hotspots []models.Hotspot) ([]models.EnrichedHotspot, int) {
	if p.enricher == nil {
		out := make([]models.EnrichedHotspot, len(hotspots))
		for i, h := range hotspots {
			out[i] = models.EnrichedHotspot{Hotspot: h}
		}
		return out, 0
	}
	return p.enricher.Enrich(ctx, hotspots)
}

func (p *Pipeline) classifyStage(ctx context.Context, events []models.FireEvent, warn func(string, error)) {
	for i := range events {
		ev := &events[i]

		count, months, err := p.store.EventHistory(ctx, ev.CentroidLat, ev.CentroidLon,
			historyRadiusM, ev.FirstDetected, historyLookbackMonth, ev.ID)
		if err != nil {
			warn("classify", fmt.Errorf("event %s history: %w", ev.ID, err))
			continue
		}

		nearby := 0
		for j := range events {
			if j == i {
				continue
			}
			if geo.Haversine(ev.CentroidLat, ev.CentroidLon,
				events[j].CentroidLat, events[j].CentroidLon) <= nearbyRadiusM {
				nearby++
			}
		}

		b := p.classifier.Classify(*ev, count, months, nearby)
		if err := p.store.SetEventIntent(ctx, ev.ID, b, ev.Weather, ev.Road); err != nil {
			warn("classify", fmt.Errorf("event %s: %w", ev.ID, err))
			continue
		}
		ev.Intent = &b
	}
}

func (p *Pipeline) finish(ctx context.Context, run models.PipelineRun, fatal bool) models.PipelineRun {
	if _, err := p.store.ResolveStaleEvents(ctx, time.Now().UTC().Add(-staleAfter)); err != nil {
		run.Errors = append(run.Errors, fmt.Sprintf("resolve: %v", err))
	}

	run.FinishedAt = time.Now().UTC()
	switch {
	case fatal:
		run.Status = models.RunFailed
	case len(run.Errors) > 0:
		run.Status = models.RunPartial
	default:
		run.Status = models.RunSuccess
	}

	if err := p.store.InsertPipelineRun(ctx, run); err != nil {
		log.Printf("pipeline: persist run %s: %v", run.ID, err)
	}

	metrics.PipelineCycles.WithLabelValues(string(run.Status)).Inc()
	metrics.PipelineCycleDuration.Observe(run.Duration().Seconds())
	log.Printf("pipeline: cycle %s finished %s in %s (%d errors)",
		run.ID, run.Status, run.Duration().Round(time.Millisecond), len(run.Errors))
	return run
}
