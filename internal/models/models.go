package models

import (
	"time"
)

// Source identifies the satellite product a hotspot came from.
type Source string

const (
	SourceVIIRSSNPP   Source = "VIIRS_SNPP_NRT"
	SourceVIIRSNOAA20 Source = "VIIRS_NOAA20_NRT"
	SourceVIIRSNOAA21 Source = "VIIRS_NOAA21_NRT"
	SourceMODIS       Source = "MODIS_NRT"
)

type DayNight string

const (
	DetectionDay   DayNight = "D"
	DetectionNight DayNight = "N"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type IntentLabel string

const (
	IntentNatural           IntentLabel = "natural"
	IntentUncertain         IntentLabel = "uncertain"
	IntentSuspicious        IntentLabel = "suspicious"
	IntentLikelyIntentional IntentLabel = "likely_intentional"
)

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Hotspot is a single satellite fire detection after parsing and
// validation, before deduplication.
type Hotspot struct {
	ID         string
	Source     Source
	Latitude   float64
	Longitude  float64
	Brightness float64 // primary channel brightness temperature, K
	BrightT31  float64 // secondary channel, K (bright_t31 / bright_ti5)
	FRP        float64 // fire radiative power, MW
	Confidence string  // "l"/"n"/"h" for VIIRS, "0".."100" for MODIS
	Satellite  string
	AcqDate    string // YYYY-MM-DD, UTC
	AcqTime    int    // minutes past midnight UTC
	DayNight   DayNight
	Raw        map[string]string // original provider fields by column name, kept for audit
	IngestedAt time.Time
}

// AcquiredAt combines AcqDate and AcqTime into a UTC timestamp.
func (h Hotspot) AcquiredAt() (time.Time, error) {
	d, err := time.Parse("2006-01-02", h.AcqDate)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(time.Duration(h.AcqTime) * time.Minute), nil
}

// WeatherContext holds conditions at a hotspot location around
// acquisition time. Absent when the weather provider was unreachable.
type WeatherContext struct {
	TempC            float64
	RelativeHumidity float64
	WindSpeedKmh     float64
	WindDirectionDeg float64
	PrecipLast6h     float64 // mm
	PrecipLast72h    float64 // mm
	CAPE             float64 // J/kg, lightning potential
	Thunderstorm     bool    // WMO weather code 95/96/99 nearby
}

// RoadContext holds proximity of the nearest mapped road.
// Absent when the road provider was unreachable.
type RoadContext struct {
	DistanceM   float64 // 10000 when no road within query radius
	HighwayType string  // "none" when no road found
}

// EnrichedHotspot decorates a hotspot with optional context. Either
// pointer may be nil; downstream scoring treats nil as "signal
// unavailable", never as an error.
type EnrichedHotspot struct {
	Hotspot Hotspot
	Weather *WeatherContext
	Road    *RoadContext
}

// FireEvent is a spatial-temporal cluster of hotspots.
type FireEvent struct {
	ID            string
	CentroidLat   float64
	CentroidLon   float64
	HotspotCount  int
	MaxFRP        float64
	Severity      Severity
	FirstDetected time.Time
	LastUpdated   time.Time
	Active        bool
	ResolvedAt    *time.Time
	Intent        *IntentBreakdown
	Weather       *WeatherContext
	Road          *RoadContext
	// Hotspots carries the current batch's members only; persisted
	// counts include members from earlier cycles.
	Hotspots []EnrichedHotspot
}

// IntentBreakdown is the per-signal decomposition of an intent score.
// Each component is the renormalized contribution, already rounded.
type IntentBreakdown struct {
	LightningAbsence int
	RoadProximity    int
	NighttimeStart   int
	HistoricalRepeat int
	MultiPoint       int
	DryConditions    int
	ActiveSignals    int
	TotalSignals     int
}

func (b IntentBreakdown) Total() int {
	return b.LightningAbsence + b.RoadProximity + b.NighttimeStart +
		b.HistoricalRepeat + b.MultiPoint + b.DryConditions
}

// Label maps a total score onto the four intent bands.
func (b IntentBreakdown) Label() IntentLabel {
	total := b.Total()
	switch {
	case total <= 25:
		return IntentNatural
	case total <= 50:
		return IntentUncertain
	case total <= 75:
		return IntentSuspicious
	default:
		return IntentLikelyIntentional
	}
}

// PipelineRun records one detection cycle.
type PipelineRun struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	Status          RunStatus
	HotspotsFetched int
	HotspotsNew     int
	EventsCreated   int
	EventsUpdated   int
	AlertsSent      int
	Errors          []string
}

func (r PipelineRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// AlertSubscription is a registered alert recipient with a zone of
// interest and a severity floor.
type AlertSubscription struct {
	ID          string
	ChatID      string
	Label       string
	CenterLat   float64
	CenterLon   float64
	RadiusKm    float64
	MinSeverity Severity
	Active      bool
	CreatedAt   time.Time
}

// SeverityRank orders severities for threshold comparison.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}
