package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firesentinel/firesentinel/internal/geo"
	"github.com/firesentinel/firesentinel/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertHotspots stores a batch in a single transaction, so a partial
// batch never lands in the table.
func (s *Store) InsertHotspots(ctx context.Context, hotspots []models.Hotspot) error {
	if len(hotspots) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO hotspots (id, source, latitude, longitude, brightness, bright_t31, frp, confidence, satellite, acq_date, acq_time, day_night, raw_json, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, h := range hotspots {
		var rawJSON sql.NullString
		if len(h.Raw) > 0 {
			data, err := json.Marshal(h.Raw)
			if err != nil {
				return fmt.Errorf("encode raw fields for %s: %w", h.ID, err)
			}
			rawJSON = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			h.ID, h.Source, h.Latitude, h.Longitude, h.Brightness, h.BrightT31,
			h.FRP, h.Confidence, h.Satellite, h.AcqDate, h.AcqTime, h.DayNight, rawJSON, h.IngestedAt,
		); err != nil {
			return fmt.Errorf("insert hotspot %s: %w", h.ID, err)
		}
	}

	return tx.Commit()
}

// HotspotsInRange returns stored hotspots inside the box on any of the
// given acquisition dates. The box is expected to be pre-padded by the
// caller's tolerance.
func (s *Store) HotspotsInRange(ctx context.Context, box geo.BBox, acqDates []string) ([]models.Hotspot, error) {
	if len(acqDates) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(acqDates)), ", ")
	query := `
		SELECT id, source, latitude, longitude, brightness, bright_t31, frp, confidence, satellite, acq_date, acq_time, day_night, raw_json, ingested_at
		FROM hotspots
		WHERE latitude >= ? AND latitude <= ? AND longitude >= ? AND longitude <= ?
		  AND acq_date IN (` + placeholders + `)`

	args := []any{box.South, box.North, box.West, box.East}
	for _, d := range acqDates {
		args = append(args, d)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hotspots []models.Hotspot
	for rows.Next() {
		var h models.Hotspot
		var rawJSON sql.NullString
		if err := rows.Scan(&h.ID, &h.Source, &h.Latitude, &h.Longitude, &h.Brightness, &h.BrightT31,
			&h.FRP, &h.Confidence, &h.Satellite, &h.AcqDate, &h.AcqTime, &h.DayNight, &rawJSON, &h.IngestedAt); err != nil {
			return nil, err
		}
		if rawJSON.Valid && rawJSON.String != "" {
			if err := json.Unmarshal([]byte(rawJSON.String), &h.Raw); err != nil {
				return nil, fmt.Errorf("decode raw fields for %s: %w", h.ID, err)
			}
		}
		hotspots = append(hotspots, h)
	}
	return hotspots, rows.Err()
}

func (s *Store) CountHotspots(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hotspots`).Scan(&n)
	return n, err
}
