package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FIRMSAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firesentinel_firms_api_calls_total",
			Help: "Total FIRMS area API calls",
		},
		[]string{"source", "status"},
	)

	HotspotsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firesentinel_hotspots_fetched_total",
			Help: "Hotspots fetched from FIRMS after filtering",
		},
		[]string{"source"},
	)

	HotspotsNew = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firesentinel_hotspots_new_total",
			Help: "Hotspots surviving deduplication",
		},
	)

	EnrichmentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firesentinel_enrichment_failures_total",
			Help: "Enrichment lookups that returned no context",
		},
		[]string{"kind"},
	)

	EventsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firesentinel_events_created_total",
			Help: "Fire events created by clustering",
		},
	)

	EventsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firesentinel_events_updated_total",
			Help: "Fire events merged with new hotspots",
		},
	)

	AlertsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firesentinel_alerts_sent_total",
			Help: "Alerts dispatched to subscribers",
		},
	)

	PipelineCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firesentinel_pipeline_cycles_total",
			Help: "Pipeline cycles by final status",
		},
		[]string{"status"},
	)

	PipelineCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "firesentinel_pipeline_cycle_duration_seconds",
			Help:    "Wall time of a full detection cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
)
