// Package ingest fetches active fire detections from the NASA FIRMS
// area API and parses them into hotspots, applying per-instrument
// confidence and brightness filters.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/firesentinel/firesentinel/internal/config"
	"github.com/firesentinel/firesentinel/internal/geo"
	"github.com/firesentinel/firesentinel/internal/httputil"
	"github.com/firesentinel/firesentinel/internal/metrics"
	"github.com/firesentinel/firesentinel/internal/models"
)

const DefaultBaseURL = "https://firms.modaps.eosdis.nasa.gov"

type FIRMS struct {
	apiKey  string
	baseURL string
	client  *http.Client
	cfg     config.Ingest
}

func NewFIRMS(apiKey string, cfg config.Ingest) *FIRMS {
	return &FIRMS{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		client:  httputil.NewClient(),
		cfg:     cfg,
	}
}

// SetBaseURL points the client at a different endpoint. Used in tests.
func (f *FIRMS) SetBaseURL(u string) {
	f.baseURL = strings.TrimSuffix(u, "/")
}

// FetchAll queries every configured source for the region. A source
// failing is logged and skipped; the fetch as a whole fails only when
// no source could be read.
func (f *FIRMS) FetchAll(ctx context.Context, box geo.BBox) ([]models.Hotspot, error) {
	var all []models.Hotspot
	var lastErr error
	succeeded := 0

	for _, source := range f.cfg.Sources {
		hotspots, err := f.Fetch(ctx, models.Source(source), box)
		if err != nil {
			log.Printf("firms: fetch %s: %v", source, err)
			lastErr = err
			continue
		}
		succeeded++
		all = append(all, hotspots...)
	}

	if succeeded == 0 && lastErr != nil {
		return nil, fmt.Errorf("all sources failed: %w", lastErr)
	}
	return all, nil
}

// Fetch queries one source. Rate-limited responses are retried with
// exponential backoff; anything else fails immediately.
func (f *FIRMS) Fetch(ctx context.Context, source models.Source, box geo.BBox) ([]models.Hotspot, error) {
	url := fmt.Sprintf("%s/api/area/csv/%s/%s/%.4f,%.4f,%.4f,%.4f/%d",
		f.baseURL, f.apiKey, source, box.West, box.South, box.East, box.North, f.cfg.DayRange)

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch area: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			metrics.FIRMSAPICallsTotal.WithLabelValues(string(source), "429").Inc()
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			metrics.FIRMSAPICallsTotal.WithLabelValues(string(source), strconv.Itoa(resp.StatusCode)).Inc()
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch area: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		metrics.FIRMSAPICallsTotal.WithLabelValues(string(source), "200").Inc()
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	hotspots, err := f.parse(source, body)
	if err != nil {
		return nil, err
	}
	metrics.HotspotsFetched.WithLabelValues(string(source)).Add(float64(len(hotspots)))
	return hotspots, nil
}

func (f *FIRMS) parse(source models.Source, body []byte) ([]models.Hotspot, error) {
	r := csv.NewReader(strings.NewReader(string(body)))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"latitude", "longitude", "acq_date", "acq_time", "confidence"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("csv missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var hotspots []models.Hotspot
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		lat, err := strconv.ParseFloat(field(rec, "latitude"), 64)
		if err != nil {
			log.Printf("firms: %s line %d: bad latitude %q", source, line, field(rec, "latitude"))
			continue
		}
		lon, err := strconv.ParseFloat(field(rec, "longitude"), 64)
		if err != nil {
			log.Printf("firms: %s line %d: bad longitude %q", source, line, field(rec, "longitude"))
			continue
		}

		acqTime, err := parseAcqTime(field(rec, "acq_time"))
		if err != nil {
			log.Printf("firms: %s line %d: %v", source, line, err)
			continue
		}

		// Keep every original column as delivered, so parsed and
		// filtered values can be audited against the source row.
		raw := make(map[string]string, len(header))
		for _, name := range header {
			name = strings.TrimSpace(name)
			if v := field(rec, name); v != "" {
				raw[name] = v
			}
		}

		h := models.Hotspot{
			Source:     source,
			Latitude:   lat,
			Longitude:  lon,
			Confidence: field(rec, "confidence"),
			Satellite:  field(rec, "satellite"),
			AcqDate:    field(rec, "acq_date"),
			AcqTime:    acqTime,
			DayNight:   models.DayNight(field(rec, "daynight")),
			Raw:        raw,
		}

		// VIIRS and MODIS name their channels differently.
		if isMODIS(source) {
			h.Brightness, _ = strconv.ParseFloat(field(rec, "brightness"), 64)
			h.BrightT31, _ = strconv.ParseFloat(field(rec, "bright_t31"), 64)
		} else {
			h.Brightness, _ = strconv.ParseFloat(field(rec, "bright_ti4"), 64)
			h.BrightT31, _ = strconv.ParseFloat(field(rec, "bright_ti5"), 64)
		}
		h.FRP, _ = strconv.ParseFloat(field(rec, "frp"), 64)

		if !f.accept(h) {
			continue
		}
		hotspots = append(hotspots, h)
	}
	return hotspots, nil
}

// accept applies the confidence and brightness floors. VIIRS reports
// categorical confidence; low-confidence detections are dropped. MODIS
// reports a 0-100 percentage.
func (f *FIRMS) accept(h models.Hotspot) bool {
	if h.Brightness < f.cfg.MinBrightnessK {
		return false
	}
	if isMODIS(h.Source) {
		pct, err := strconv.Atoi(h.Confidence)
		if err != nil {
			return false
		}
		return pct >= f.cfg.MinConfidence
	}
	switch strings.ToLower(h.Confidence) {
	case "n", "nominal", "h", "high":
		return true
	default:
		return false
	}
}

func isMODIS(source models.Source) bool {
	return strings.HasPrefix(string(source), "MODIS")
}

// parseAcqTime converts FIRMS "HHMM" (zero-padding optional) to
// minutes past midnight UTC.
func parseAcqTime(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty acq_time")
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad acq_time %q", s)
	}
	hh := v / 100
	mm := v % 100
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("acq_time %q out of range", s)
	}
	return hh*60 + mm, nil
}
