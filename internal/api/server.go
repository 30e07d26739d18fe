// Package api is the admin HTTP surface: health, metrics and read-only
// JSON views over events and pipeline runs.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/firesentinel/firesentinel/internal/models"
	"github.com/firesentinel/firesentinel/internal/store"
)

type Server struct {
	store *store.Store
	addr  string
}

func NewServer(st *store.Store, addr string) *Server {
	return &Server{store: st, addr: addr}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/events/", s.handleEvent)
	mux.HandleFunc("/api/runs", s.handleRuns)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

type healthStatus struct {
	Status     string     `json:"status"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	Errors     []string   `json:"errors,omitempty"`
}

// handleHealth reports degraded (503) when the most recent cycle
// failed outright. A partial cycle still counts as healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.RecentRuns(r.Context(), 1)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, healthStatus{Status: "error", Errors: []string{err.Error()}})
		return
	}

	health := healthStatus{Status: "ok"}
	if len(runs) > 0 {
		run := runs[0]
		health.LastRun = &run.FinishedAt
		health.LastStatus = string(run.Status)
		health.Errors = run.Errors
		if run.Status == models.RunFailed {
			health.Status = "degraded"
		}
	}

	if health.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, health)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	activeOnly := r.URL.Query().Get("active") == "true"

	events, err := s.store.RecentEvents(r.Context(), limit, activeOnly)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.FireEvent{}
	}
	writeJSON(w, events)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/events/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	ev, err := s.store.GetEvent(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ev == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, ev)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)

	runs, err := s.store.RecentRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.PipelineRun{}
	}
	writeJSON(w, runs)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
