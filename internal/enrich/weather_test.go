package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/firesentinel/firesentinel/internal/config"
)

func hourlyResponse(times []string, temp, precip []float64, codes []int) openMeteoResponse {
	var resp openMeteoResponse
	resp.Hourly.Time = times
	resp.Hourly.Temperature = temp
	resp.Hourly.RelativeHumidity = make([]float64, len(times))
	resp.Hourly.WindSpeed = make([]float64, len(times))
	resp.Hourly.WindDirection = make([]float64, len(times))
	resp.Hourly.Precipitation = precip
	resp.Hourly.CAPE = make([]float64, len(times))
	resp.Hourly.WeatherCode = codes
	return resp
}

func TestExtractPicksClosestHour(t *testing.T) {
	times := []string{"2026-01-15T03:00", "2026-01-15T04:00", "2026-01-15T05:00"}
	temps := []float64{10, 20, 30}
	resp := hourlyResponse(times, temps, make([]float64, 3), make([]int, 3))

	w := NewWeatherClient(config.Default().Enrichment)
	at := time.Date(2026, 1, 15, 4, 20, 0, 0, time.UTC)
	wc, err := w.extract(resp, at)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if wc.TempC != 20 {
		t.Errorf("TempC = %v, want 20 (04:00 sample)", wc.TempC)
	}
}

func TestExtractPrecipitationWindows(t *testing.T) {
	n := 80
	times := make([]string, n)
	precip := make([]float64, n)
	codes := make([]int, n)
	base := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Hour).Format("2006-01-02T15:04")
		precip[i] = 1.0
	}
	resp := hourlyResponse(times, make([]float64, n), precip, codes)

	w := NewWeatherClient(config.Default().Enrichment)
	at := base.Add(time.Duration(n-1) * time.Hour)
	wc, err := w.extract(resp, at)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if wc.PrecipLast6h != 6 {
		t.Errorf("PrecipLast6h = %v, want 6", wc.PrecipLast6h)
	}
	if wc.PrecipLast72h != 72 {
		t.Errorf("PrecipLast72h = %v, want 72", wc.PrecipLast72h)
	}
}

func TestExtractThunderstormWindow(t *testing.T) {
	n := 12
	times := make([]string, n)
	codes := make([]int, n)
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Hour).Format("2006-01-02T15:04")
	}
	at := base.Add(11 * time.Hour)

	w := NewWeatherClient(config.Default().Enrichment)

	// Storm three hours before acquisition counts.
	codes[8] = 95
	resp := hourlyResponse(times, make([]float64, n), make([]float64, n), codes)
	wc, err := w.extract(resp, at)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !wc.Thunderstorm {
		t.Error("Thunderstorm = false, want true for code 95 three hours prior")
	}

	// Storm ten hours before is outside the window.
	codes[8] = 0
	codes[1] = 99
	resp = hourlyResponse(times, make([]float64, n), make([]float64, n), codes)
	wc, err = w.extract(resp, at)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if wc.Thunderstorm {
		t.Error("Thunderstorm = true, want false for storm outside the 6h window")
	}
}

func TestExtractEmptyResponse(t *testing.T) {
	w := NewWeatherClient(config.Default().Enrichment)
	if _, err := w.extract(openMeteoResponse{}, time.Now()); err == nil {
		t.Fatal("expected error for response with no hourly data")
	}
}

func weatherFixture(t *testing.T, around time.Time) []byte {
	t.Helper()
	n := 6
	times := make([]string, n)
	temps := make([]float64, n)
	base := around.Truncate(time.Hour).Add(-3 * time.Hour)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Hour).UTC().Format("2006-01-02T15:04")
		temps[i] = 15
	}
	resp := hourlyResponse(times, temps, make([]float64, n), make([]int, n))
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return b
}

func TestWeatherAtCachesPerGridCell(t *testing.T) {
	var calls int64
	now := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		rw.Write(weatherFixture(t, now))
	}))
	defer srv.Close()

	w := NewWeatherClient(config.Default().Enrichment)
	w.SetURLs(srv.URL, srv.URL)

	ctx := context.Background()
	if _, err := w.WeatherAt(ctx, -36.80, 146.50, now); err != nil {
		t.Fatalf("WeatherAt: %v", err)
	}
	// Second point in the same 0.25 degree cell reuses the response.
	if _, err := w.WeatherAt(ctx, -36.82, 146.52, now); err != nil {
		t.Fatalf("WeatherAt: %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("provider calls = %d, want 1 for same-cell lookups", got)
	}

	// A point in a different cell triggers a fresh fetch.
	if _, err := w.WeatherAt(ctx, -37.80, 146.50, now); err != nil {
		t.Fatalf("WeatherAt: %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Errorf("provider calls = %d, want 2 after a different cell", got)
	}
}

func TestWeatherAtUsesArchiveForOldAcquisitions(t *testing.T) {
	at := time.Now().UTC().Add(-48 * time.Hour)

	var forecastCalls, archiveCalls int64
	forecast := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&forecastCalls, 1)
		rw.Write(weatherFixture(t, at))
	}))
	defer forecast.Close()
	archive := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&archiveCalls, 1)
		rw.Write(weatherFixture(t, at))
	}))
	defer archive.Close()

	w := NewWeatherClient(config.Default().Enrichment)
	w.SetURLs(forecast.URL, archive.URL)

	if _, err := w.WeatherAt(context.Background(), -36.80, 146.50, at); err != nil {
		t.Fatalf("WeatherAt: %v", err)
	}
	if archiveCalls != 1 || forecastCalls != 0 {
		t.Errorf("archive calls = %d, forecast calls = %d; want 1 and 0", archiveCalls, forecastCalls)
	}
}

func TestWeatherAtCacheScopedByDate(t *testing.T) {
	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	var forecastCalls, archiveCalls int64
	forecast := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&forecastCalls, 1)
		rw.Write(weatherFixture(t, now))
	}))
	defer forecast.Close()
	archive := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&archiveCalls, 1)
		rw.Write(weatherFixture(t, old))
	}))
	defer archive.Close()

	w := NewWeatherClient(config.Default().Enrichment)
	w.SetURLs(forecast.URL, archive.URL)

	ctx := context.Background()
	if _, err := w.WeatherAt(ctx, -36.80, 146.50, now); err != nil {
		t.Fatalf("WeatherAt recent: %v", err)
	}
	// Same cell, acquisition two days earlier: the forecast response
	// must not be reused; the archive is consulted.
	if _, err := w.WeatherAt(ctx, -36.80, 146.50, old); err != nil {
		t.Fatalf("WeatherAt old: %v", err)
	}
	if forecastCalls != 1 || archiveCalls != 1 {
		t.Errorf("forecast calls = %d, archive calls = %d; want 1 and 1", forecastCalls, archiveCalls)
	}
}

func TestWeatherAtServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWeatherClient(config.Default().Enrichment)
	w.SetURLs(srv.URL, srv.URL)

	if _, err := w.WeatherAt(context.Background(), -36.80, 146.50, time.Now().UTC()); err == nil {
		t.Fatal("expected error from failing provider")
	}
}
