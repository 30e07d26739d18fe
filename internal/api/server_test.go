package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/firesentinel/firesentinel/internal/models"
	"github.com/firesentinel/firesentinel/internal/store"
)

func setupServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewServer(st, ":0"), st
}

func seedEvent(t *testing.T, st *store.Store, id string, active bool) {
	t.Helper()
	now := time.Now().UTC()
	ev := models.FireEvent{
		ID: id, CentroidLat: -36.794, CentroidLon: 146.977,
		HotspotCount: 4, MaxFRP: 20, Severity: models.SeverityMedium,
		FirstDetected: now.Add(-2 * time.Hour), LastUpdated: now, Active: true,
	}
	if err := st.ApplyEventUpdates(context.Background(), store.EventUpdates{Create: []models.FireEvent{ev}}); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	if !active {
		if _, err := st.ResolveStaleEvents(context.Background(), now.Add(time.Hour)); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthNoRuns(t *testing.T) {
	s, _ := setupServer(t)

	rec := get(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var h struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Status != "ok" {
		t.Errorf("status = %q, want ok", h.Status)
	}
}

func TestHealthDegradedAfterFailedRun(t *testing.T) {
	s, st := setupServer(t)

	now := time.Now().UTC()
	run := models.PipelineRun{
		ID: "run-1", StartedAt: now.Add(-time.Minute), FinishedAt: now,
		Status: models.RunFailed, Errors: []string{"ingest: firms unreachable"},
	}
	if err := st.InsertPipelineRun(context.Background(), run); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	rec := get(t, s, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var h struct {
		Status     string   `json:"status"`
		LastStatus string   `json:"last_status"`
		Errors     []string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Status != "degraded" || h.LastStatus != "failed" || len(h.Errors) != 1 {
		t.Errorf("health = %+v, want degraded/failed with one error", h)
	}
}

func TestEventsListAndFilter(t *testing.T) {
	s, st := setupServer(t)
	// Seed the resolved event first: stale resolution sweeps everything
	// older than its cutoff.
	seedEvent(t, st, "ev-resolved", false)
	seedEvent(t, st, "ev-active", true)

	rec := get(t, s, "/api/events")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var all []models.FireEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}

	rec = get(t, s, "/api/events?active=true")
	var active []models.FireEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &active); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(active) != 1 || active[0].ID != "ev-active" {
		t.Errorf("active = %+v, want only ev-active", active)
	}
}

func TestEventByID(t *testing.T) {
	s, st := setupServer(t)
	seedEvent(t, st, "ev-1", true)

	rec := get(t, s, "/api/events/ev-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var ev models.FireEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.ID != "ev-1" || ev.HotspotCount != 4 {
		t.Errorf("event = %+v, want ev-1 with 4 hotspots", ev)
	}

	if rec := get(t, s, "/api/events/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown event", rec.Code)
	}
}

func TestRunsList(t *testing.T) {
	s, st := setupServer(t)

	now := time.Now().UTC()
	for i, status := range []models.RunStatus{models.RunSuccess, models.RunPartial} {
		run := models.PipelineRun{
			ID:         "run-" + string(rune('a'+i)),
			StartedAt:  now.Add(time.Duration(i) * time.Minute),
			FinishedAt: now.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Status:     status,
		}
		if err := st.InsertPipelineRun(context.Background(), run); err != nil {
			t.Fatalf("insert run: %v", err)
		}
	}

	rec := get(t, s, "/api/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var runs []models.PipelineRun
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != "run-b" {
		t.Errorf("runs[0].ID = %s, want run-b (newest first)", runs[0].ID)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := setupServer(t)
	if rec := get(t, s, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
