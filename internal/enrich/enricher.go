package enrich

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/firesentinel/firesentinel/internal/metrics"
	"github.com/firesentinel/firesentinel/internal/models"
)

// WeatherProvider supplies conditions at a point and time.
type WeatherProvider interface {
	WeatherAt(ctx context.Context, lat, lon float64, at time.Time) (*models.WeatherContext, error)
}

// RoadProvider supplies the nearest mapped road for a point.
type RoadProvider interface {
	NearestRoad(ctx context.Context, lat, lon float64) (*models.RoadContext, error)
}

// Enricher runs weather and road lookups across a batch of hotspots
// with bounded concurrency. Input order is preserved in the output.
type Enricher struct {
	weather     WeatherProvider
	roads       RoadProvider
	concurrency int
}

func NewEnricher(weather WeatherProvider, roads RoadProvider, concurrency int) *Enricher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Enricher{weather: weather, roads: roads, concurrency: concurrency}
}

// Enrich decorates each hotspot with weather and road context. The two
// lookups per hotspot run concurrently and fail independently; a failed
// lookup leaves that context nil. Returns the enriched batch and the
// number of failed lookups.
func (e *Enricher) Enrich(ctx context.Context, hotspots []models.Hotspot) ([]models.EnrichedHotspot, int) {
	out := make([]models.EnrichedHotspot, len(hotspots))
	var failed int
	var failedMu sync.Mutex

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for i, h := range hotspots {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, h models.Hotspot) {
			defer wg.Done()
			defer func() { <-sem }()

			enriched := models.EnrichedHotspot{Hotspot: h}

			var inner sync.WaitGroup
			inner.Add(2)
			go func() {
				defer inner.Done()
				at, err := h.AcquiredAt()
				if err != nil {
					log.Printf("enrich: hotspot %s has bad acquisition time: %v", h.ID, err)
					at = h.IngestedAt
				}
				wc, err := e.weather.WeatherAt(ctx, h.Latitude, h.Longitude, at)
				if err != nil {
					log.Printf("enrich: weather lookup for %s failed: %v", h.ID, err)
					metrics.EnrichmentFailures.WithLabelValues("weather").Inc()
					failedMu.Lock()
					failed++
					failedMu.Unlock()
					return
				}
				enriched.Weather = wc
			}()
			go func() {
				defer inner.Done()
				rc, err := e.roads.NearestRoad(ctx, h.Latitude, h.Longitude)
				if err != nil {
					log.Printf("enrich: road lookup for %s failed: %v", h.ID, err)
					metrics.EnrichmentFailures.WithLabelValues("roads").Inc()
					failedMu.Lock()
					failed++
					failedMu.Unlock()
					return
				}
				enriched.Road = rc
			}()
			inner.Wait()

			out[i] = enriched
		}(i, h)
	}
	wg.Wait()

	return out, failed
}
