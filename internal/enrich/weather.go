// Package enrich decorates hotspots with weather and road context from
// external providers. Providers are best-effort: a failed lookup yields
// an absent context, never an error that stops the pipeline.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/firesentinel/firesentinel/internal/config"
	"github.com/firesentinel/firesentinel/internal/httputil"
	"github.com/firesentinel/firesentinel/internal/models"
)

const (
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	DefaultArchiveURL  = "https://archive-api.open-meteo.com/v1/archive"
)

// Hourly variables requested from Open-Meteo.
const hourlyVars = "temperature_2m,relative_humidity_2m,wind_speed_10m,wind_direction_10m,precipitation,cape,weather_code"

// thunderstormCodes are the WMO weather codes treated as lightning
// activity near the point.
var thunderstormCodes = map[int]bool{95: true, 96: true, 99: true}

type WeatherClient struct {
	forecastURL string
	archiveURL  string
	client      *http.Client
	cfg         config.Enrichment

	mu    sync.Mutex
	cache map[weatherKey]cachedWeather
}

// weatherKey scopes cached responses to an acquisition date as well as
// a grid cell, so data fetched for a recent detection is never reused
// for one old enough to need the archive endpoint.
type weatherKey struct {
	cell gridCell
	date string // UTC date of the acquisition
}

type gridCell struct {
	lat, lon int
}

type cachedWeather struct {
	resp      openMeteoResponse
	fetchedAt time.Time
}

func NewWeatherClient(cfg config.Enrichment) *WeatherClient {
	return &WeatherClient{
		forecastURL: DefaultForecastURL,
		archiveURL:  DefaultArchiveURL,
		client:      httputil.NewClient(),
		cfg:         cfg,
		cache:       make(map[weatherKey]cachedWeather),
	}
}

// SetURLs overrides both endpoints. Used in tests.
func (w *WeatherClient) SetURLs(forecast, archive string) {
	w.forecastURL = forecast
	w.archiveURL = archive
}

type openMeteoResponse struct {
	Hourly struct {
		Time             []string  `json:"time"`
		Temperature      []float64 `json:"temperature_2m"`
		RelativeHumidity []float64 `json:"relative_humidity_2m"`
		WindSpeed        []float64 `json:"wind_speed_10m"`
		WindDirection    []float64 `json:"wind_direction_10m"`
		Precipitation    []float64 `json:"precipitation"`
		CAPE             []float64 `json:"cape"`
		WeatherCode      []int     `json:"weather_code"`
	} `json:"hourly"`
}

// WeatherAt returns conditions at the point around the given time.
// Responses are cached per grid cell and acquisition date, so a cluster
// of hotspots from one overpass costs one provider call.
func (w *WeatherClient) WeatherAt(ctx context.Context, lat, lon float64, at time.Time) (*models.WeatherContext, error) {
	key := weatherKey{cell: w.cell(lat, lon), date: at.UTC().Format("2006-01-02")}

	w.mu.Lock()
	cached, ok := w.cache[key]
	w.mu.Unlock()

	ttl := time.Duration(w.cfg.WeatherCacheTTLMin) * time.Minute
	if !ok || time.Since(cached.fetchedAt) > ttl {
		resp, err := w.fetch(ctx, lat, lon, at)
		if err != nil {
			return nil, err
		}
		cached = cachedWeather{resp: *resp, fetchedAt: time.Now()}
		w.mu.Lock()
		w.cache[key] = cached
		w.mu.Unlock()
	}

	return w.extract(cached.resp, at)
}

func (w *WeatherClient) cell(lat, lon float64) gridCell {
	return gridCell{
		lat: int(math.Floor(lat / w.cfg.WeatherCacheDeg)),
		lon: int(math.Floor(lon / w.cfg.WeatherCacheDeg)),
	}
}

func (w *WeatherClient) fetch(ctx context.Context, lat, lon float64, at time.Time) (*openMeteoResponse, error) {
	// Recent acquisitions come from the forecast endpoint with enough
	// past days to cover the 72h precipitation window; older ones need
	// the archive.
	var url string
	if time.Since(at) > 24*time.Hour {
		start := at.Add(-72 * time.Hour).UTC().Format("2006-01-02")
		end := at.UTC().Format("2006-01-02")
		url = fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&hourly=%s&start_date=%s&end_date=%s&timezone=UTC",
			w.archiveURL, lat, lon, hourlyVars, start, end)
	} else {
		url = fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&hourly=%s&past_days=4&forecast_days=1&timezone=UTC",
			w.forecastURL, lat, lon, hourlyVars)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch weather: status %d: %s", resp.StatusCode, string(b))
	}

	var data openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode weather: %w", err)
	}
	return &data, nil
}

func (w *WeatherClient) extract(resp openMeteoResponse, at time.Time) (*models.WeatherContext, error) {
	h := resp.Hourly
	if len(h.Time) == 0 {
		return nil, fmt.Errorf("weather response has no hourly data")
	}

	idx := -1
	best := math.MaxFloat64
	for i, ts := range h.Time {
		t, err := parseHour(ts)
		if err != nil {
			continue
		}
		diff := math.Abs(t.Sub(at).Hours())
		if diff < best {
			best = diff
			idx = i
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("weather response has no parseable timestamps")
	}

	wc := &models.WeatherContext{}
	if idx < len(h.Temperature) {
		wc.TempC = h.Temperature[idx]
	}
	if idx < len(h.RelativeHumidity) {
		wc.RelativeHumidity = h.RelativeHumidity[idx]
	}
	if idx < len(h.WindSpeed) {
		wc.WindSpeedKmh = h.WindSpeed[idx]
	}
	if idx < len(h.WindDirection) {
		wc.WindDirectionDeg = h.WindDirection[idx]
	}
	if idx < len(h.CAPE) {
		wc.CAPE = h.CAPE[idx]
	}

	wc.PrecipLast6h = sumWindow(h.Precipitation, idx, 6)
	wc.PrecipLast72h = sumWindow(h.Precipitation, idx, 72)

	// Lightning activity in the six hours up to acquisition counts as
	// a storm at the site.
	lo := idx - 6
	if lo < 0 {
		lo = 0
	}
	for i := lo; i <= idx && i < len(h.WeatherCode); i++ {
		if thunderstormCodes[h.WeatherCode[i]] {
			wc.Thunderstorm = true
			break
		}
	}

	return wc, nil
}

// sumWindow sums the n values up to and including idx.
func sumWindow(values []float64, idx, n int) float64 {
	lo := idx - n + 1
	if lo < 0 {
		lo = 0
	}
	total := 0.0
	for i := lo; i <= idx && i < len(values); i++ {
		total += values[i]
	}
	return total
}

// parseHour reads Open-Meteo's ISO hour format, with or without a zone.
func parseHour(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, strings.TrimSpace(s))
}
