package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/firesentinel/firesentinel/internal/geo"
)

// Config is the full monitoring configuration, loaded from YAML.
// Engines receive the sub-struct they need; nothing reads it globally.
type Config struct {
	Region     Region     `yaml:"region"`
	Ingest     Ingest     `yaml:"ingest"`
	Dedup      Dedup      `yaml:"dedup"`
	Clustering Clustering `yaml:"clustering"`
	Classifier Classifier `yaml:"classifier"`
	Enrichment Enrichment `yaml:"enrichment"`
	Alerts     Alerts     `yaml:"alerts"`
}

type Region struct {
	Name      string  `yaml:"name"`
	West      float64 `yaml:"west"`
	South     float64 `yaml:"south"`
	East      float64 `yaml:"east"`
	North     float64 `yaml:"north"`
	UTCOffset int     `yaml:"utc_offset_hours"` // for local-hour scoring
}

func (r Region) BBox() geo.BBox {
	return geo.BBox{West: r.West, South: r.South, East: r.East, North: r.North}
}

type Ingest struct {
	Sources         []string `yaml:"sources"`
	DayRange        int      `yaml:"day_range"`
	IntervalMinutes int      `yaml:"interval_minutes"`
	MinBrightnessK  float64  `yaml:"min_brightness_k"`
	MinConfidence   int      `yaml:"min_confidence"` // MODIS numeric floor
}

type Dedup struct {
	SpatialToleranceM    float64 `yaml:"spatial_tolerance_m"`
	TemporalToleranceMin int     `yaml:"temporal_tolerance_min"`
}

type Clustering struct {
	RadiusM             float64 `yaml:"radius_m"`
	TemporalWindowHours float64 `yaml:"temporal_window_hours"`
	CriticalFRPMW       float64 `yaml:"critical_frp_mw"`
}

// Classifier holds the signal weights and tier thresholds. Weights are
// points out of 100 when every signal is available.
type Classifier struct {
	Weights struct {
		LightningAbsence int `yaml:"lightning_absence"`
		RoadProximity    int `yaml:"road_proximity"`
		NighttimeStart   int `yaml:"nighttime_start"`
		HistoricalRepeat int `yaml:"historical_repeat"`
		MultiPoint       int `yaml:"multi_point"`
		DryConditions    int `yaml:"dry_conditions"`
	} `yaml:"weights"`
	RoadTiers struct {
		VeryCloseM float64 `yaml:"very_close_m"`
		CloseM     float64 `yaml:"close_m"`
		NearM      float64 `yaml:"near_m"`
		ModerateM  float64 `yaml:"moderate_m"`
	} `yaml:"road_tiers"`
	CAPE struct {
		HighJkg     float64 `yaml:"high_jkg"`
		ModerateJkg float64 `yaml:"moderate_jkg"`
	} `yaml:"cape"`
	Dryness struct {
		HumidityLowPct float64 `yaml:"humidity_low_pct"`
		HumidityMidPct float64 `yaml:"humidity_mid_pct"`
		PrecipTraceMM  float64 `yaml:"precip_trace_mm"`
	} `yaml:"dryness"`
	// NightHours is the local-hour window scored by the nighttime
	// signal. The peak window wraps past midnight when start > end;
	// shoulder hours either side of it score half weight.
	NightHours struct {
		PeakStartHour int `yaml:"peak_start_hour"`
		PeakEndHour   int `yaml:"peak_end_hour"`
		ShoulderHours int `yaml:"shoulder_hours"`
	} `yaml:"night_hours"`
}

type Enrichment struct {
	Concurrency        int     `yaml:"concurrency"`
	WeatherCacheDeg    float64 `yaml:"weather_cache_deg"`
	WeatherCacheTTLMin int     `yaml:"weather_cache_ttl_min"`
	RoadCacheDeg       float64 `yaml:"road_cache_deg"`
	RoadCacheTTLHours  int     `yaml:"road_cache_ttl_hours"`
	RoadQueryRadiusM   float64 `yaml:"road_query_radius_m"`
}

type Alerts struct {
	Enabled          bool   `yaml:"enabled"`
	MinSeverity      string `yaml:"min_severity"`
	RateLimitMinutes int    `yaml:"rate_limit_minutes"`
}

// Default returns the configuration used when no file is supplied.
// Values match the tuning the detection thresholds were validated with.
func Default() Config {
	var c Config
	c.Region = Region{
		Name:      "northeast-victoria",
		West:      145.5,
		South:     -37.5,
		East:      148.5,
		North:     -35.5,
		UTCOffset: -3,
	}
	c.Ingest = Ingest{
		Sources:         []string{"VIIRS_SNPP_NRT", "VIIRS_NOAA20_NRT", "VIIRS_NOAA21_NRT", "MODIS_NRT"},
		DayRange:        1,
		IntervalMinutes: 30,
		MinBrightnessK:  300,
		MinConfidence:   30,
	}
	c.Dedup = Dedup{
		SpatialToleranceM:    1000,
		TemporalToleranceMin: 30,
	}
	c.Clustering = Clustering{
		RadiusM:             2000,
		TemporalWindowHours: 2,
		CriticalFRPMW:       100,
	}
	c.Classifier.Weights.LightningAbsence = 25
	c.Classifier.Weights.RoadProximity = 20
	c.Classifier.Weights.NighttimeStart = 20
	c.Classifier.Weights.HistoricalRepeat = 15
	c.Classifier.Weights.MultiPoint = 10
	c.Classifier.Weights.DryConditions = 10
	c.Classifier.RoadTiers.VeryCloseM = 200
	c.Classifier.RoadTiers.CloseM = 500
	c.Classifier.RoadTiers.NearM = 1000
	c.Classifier.RoadTiers.ModerateM = 2000
	c.Classifier.CAPE.HighJkg = 1000
	c.Classifier.CAPE.ModerateJkg = 500
	c.Classifier.Dryness.HumidityLowPct = 25
	c.Classifier.Dryness.HumidityMidPct = 35
	c.Classifier.Dryness.PrecipTraceMM = 2
	c.Classifier.NightHours.PeakStartHour = 22
	c.Classifier.NightHours.PeakEndHour = 5
	c.Classifier.NightHours.ShoulderHours = 2
	c.Enrichment = Enrichment{
		Concurrency:        10,
		WeatherCacheDeg:    0.25,
		WeatherCacheTTLMin: 60,
		RoadCacheDeg:       0.1,
		RoadCacheTTLHours:  24,
		RoadQueryRadiusM:   10000,
	}
	c.Alerts = Alerts{
		Enabled:          false,
		MinSeverity:      "medium",
		RateLimitMinutes: 60,
	}
	return c
}

// Load reads a YAML config file over the defaults, so a partial file
// only overrides what it mentions.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.Region.West >= c.Region.East || c.Region.South >= c.Region.North {
		return fmt.Errorf("config: region box is degenerate (%f,%f)-(%f,%f)",
			c.Region.West, c.Region.South, c.Region.East, c.Region.North)
	}
	if c.Dedup.SpatialToleranceM <= 0 || c.Dedup.TemporalToleranceMin <= 0 {
		return fmt.Errorf("config: dedup tolerances must be positive")
	}
	if c.Clustering.RadiusM <= 0 || c.Clustering.TemporalWindowHours <= 0 {
		return fmt.Errorf("config: clustering radius and window must be positive")
	}
	if c.Enrichment.Concurrency <= 0 {
		return fmt.Errorf("config: enrichment concurrency must be positive")
	}
	w := c.Classifier.Weights
	total := w.LightningAbsence + w.RoadProximity + w.NighttimeStart +
		w.HistoricalRepeat + w.MultiPoint + w.DryConditions
	if total != 100 {
		return fmt.Errorf("config: classifier weights sum to %d, want 100", total)
	}
	n := c.Classifier.NightHours
	if n.PeakStartHour < 0 || n.PeakStartHour > 23 || n.PeakEndHour < 0 || n.PeakEndHour > 23 {
		return fmt.Errorf("config: night peak hours must be 0-23, got %d-%d", n.PeakStartHour, n.PeakEndHour)
	}
	if n.ShoulderHours < 0 {
		return fmt.Errorf("config: night shoulder hours must not be negative")
	}
	return nil
}
