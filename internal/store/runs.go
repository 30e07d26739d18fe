package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/firesentinel/firesentinel/internal/models"
)

func (s *Store) InsertPipelineRun(ctx context.Context, run models.PipelineRun) error {
	var errsJSON sql.NullString
	if len(run.Errors) > 0 {
		data, err := json.Marshal(run.Errors)
		if err != nil {
			return fmt.Errorf("encode run errors: %w", err)
		}
		errsJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, started_at, finished_at, duration_seconds, status, hotspots_fetched, hotspots_new, events_created, events_updated, alerts_sent, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.FinishedAt, run.Duration().Seconds(), run.Status,
		run.HotspotsFetched, run.HotspotsNew, run.EventsCreated, run.EventsUpdated, run.AlertsSent, errsJSON)
	return err
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, hotspots_fetched, hotspots_new, events_created, events_updated, alerts_sent, errors
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.PipelineRun
	for rows.Next() {
		var run models.PipelineRun
		var errsJSON sql.NullString
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status,
			&run.HotspotsFetched, &run.HotspotsNew, &run.EventsCreated, &run.EventsUpdated,
			&run.AlertsSent, &errsJSON); err != nil {
			return nil, err
		}
		if errsJSON.Valid && errsJSON.String != "" {
			if err := json.Unmarshal([]byte(errsJSON.String), &run.Errors); err != nil {
				return nil, fmt.Errorf("decode run errors for %s: %w", run.ID, err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
