package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/firesentinel/firesentinel/internal/geo"
	"github.com/firesentinel/firesentinel/internal/models"
)

// EventMerge carries the recomputed aggregate state for an existing
// event absorbing new hotspots.
type EventMerge struct {
	EventID      string
	CentroidLat  float64
	CentroidLon  float64
	HotspotCount int
	MaxFRP       float64
	Severity     models.Severity
	LastUpdated  time.Time
	HotspotIDs   []string
}

// EventUpdates is the full set of writes one clustering pass produced.
// ApplyEventUpdates commits it atomically: either every new event and
// merge lands, or none do.
type EventUpdates struct {
	Create []models.FireEvent
	Merge  []EventMerge
}

func (s *Store) ApplyEventUpdates(ctx context.Context, u EventUpdates) error {
	if len(u.Create) == 0 && len(u.Merge) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range u.Create {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fire_events (id, centroid_lat, centroid_lon, hotspot_count, max_frp, severity, first_detected, last_updated, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, TRUE)
		`, ev.ID, ev.CentroidLat, ev.CentroidLon, ev.HotspotCount, ev.MaxFRP, ev.Severity, ev.FirstDetected, ev.LastUpdated); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
		for _, eh := range ev.Hotspots {
			if _, err := tx.ExecContext(ctx, `UPDATE hotspots SET event_id = ? WHERE id = ?`, ev.ID, eh.Hotspot.ID); err != nil {
				return fmt.Errorf("link hotspot %s: %w", eh.Hotspot.ID, err)
			}
		}
	}

	for _, m := range u.Merge {
		res, err := tx.ExecContext(ctx, `
			UPDATE fire_events
			SET centroid_lat = ?, centroid_lon = ?, hotspot_count = ?, max_frp = ?, severity = ?, last_updated = ?
			WHERE id = ?
		`, m.CentroidLat, m.CentroidLon, m.HotspotCount, m.MaxFRP, m.Severity, m.LastUpdated, m.EventID)
		if err != nil {
			return fmt.Errorf("merge event %s: %w", m.EventID, err)
		}
		n, err := res.RowsAffected()
		if err == nil && n == 0 {
			return fmt.Errorf("merge event %s: not found", m.EventID)
		}
		for _, hid := range m.HotspotIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE hotspots SET event_id = ? WHERE id = ?`, m.EventID, hid); err != nil {
				return fmt.Errorf("link hotspot %s: %w", hid, err)
			}
		}
	}

	return tx.Commit()
}

// ActiveEventsInBBox returns active events whose centroid falls inside
// the box, oldest first.
func (s *Store) ActiveEventsInBBox(ctx context.Context, box geo.BBox) ([]models.FireEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, centroid_lat, centroid_lon, hotspot_count, max_frp, severity, first_detected, last_updated, is_active, resolved_at, intent_score, intent_label, intent_breakdown
		FROM fire_events
		WHERE is_active = TRUE
		  AND centroid_lat >= ? AND centroid_lat <= ? AND centroid_lon >= ? AND centroid_lon <= ?
		ORDER BY first_detected ASC
	`, box.South, box.North, box.West, box.East)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.FireEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) GetEvent(ctx context.Context, id string) (*models.FireEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, centroid_lat, centroid_lon, hotspot_count, max_frp, severity, first_detected, last_updated, is_active, resolved_at, intent_score, intent_label, intent_breakdown
		FROM fire_events
		WHERE id = ?
	`, id)

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// RecentEvents returns events most recently updated first.
func (s *Store) RecentEvents(ctx context.Context, limit int, activeOnly bool) ([]models.FireEvent, error) {
	q := `
		SELECT id, centroid_lat, centroid_lon, hotspot_count, max_frp, severity, first_detected, last_updated, is_active, resolved_at, intent_score, intent_label, intent_breakdown
		FROM fire_events
	`
	if activeOnly {
		q += ` WHERE is_active = TRUE`
	}
	q += ` ORDER BY last_updated DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.FireEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (models.FireEvent, error) {
	var ev models.FireEvent
	var resolvedAt sql.NullTime
	var score sql.NullInt64
	var label sql.NullString
	var breakdown sql.NullString

	err := row.Scan(&ev.ID, &ev.CentroidLat, &ev.CentroidLon, &ev.HotspotCount, &ev.MaxFRP,
		&ev.Severity, &ev.FirstDetected, &ev.LastUpdated, &ev.Active, &resolvedAt,
		&score, &label, &breakdown)
	if err != nil {
		return ev, err
	}

	if resolvedAt.Valid {
		t := resolvedAt.Time
		ev.ResolvedAt = &t
	}
	if breakdown.Valid && breakdown.String != "" {
		var b models.IntentBreakdown
		if err := json.Unmarshal([]byte(breakdown.String), &b); err != nil {
			return ev, fmt.Errorf("decode intent breakdown for %s: %w", ev.ID, err)
		}
		ev.Intent = &b
	}
	return ev, nil
}

// SetEventIntent persists a classification result along with the
// event-level context it was derived from.
func (s *Store) SetEventIntent(ctx context.Context, eventID string, b models.IntentBreakdown, weather *models.WeatherContext, road *models.RoadContext) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode intent breakdown: %w", err)
	}

	var roadDist, humidity, cape, precip72 sql.NullFloat64
	var highway sql.NullString
	if road != nil {
		roadDist = sql.NullFloat64{Float64: road.DistanceM, Valid: true}
		highway = sql.NullString{String: road.HighwayType, Valid: true}
	}
	if weather != nil {
		humidity = sql.NullFloat64{Float64: weather.RelativeHumidity, Valid: true}
		cape = sql.NullFloat64{Float64: weather.CAPE, Valid: true}
		precip72 = sql.NullFloat64{Float64: weather.PrecipLast72h, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE fire_events
		SET intent_score = ?, intent_label = ?, intent_breakdown = ?,
		    road_distance_m = ?, highway_type = ?, humidity_pct = ?, cape_jkg = ?, precip_72h_mm = ?
		WHERE id = ?
	`, b.Total(), b.Label(), string(data), roadDist, highway, humidity, cape, precip72, eventID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("set intent: event %s not found", eventID)
	}
	return nil
}

// EventHistory returns how many events started within radiusM of the
// point in the lookback window before `before`, and the months elapsed
// since the most recent one. monthsSince is -1 when count is zero.
// excludeID skips the event being scored.
func (s *Store) EventHistory(ctx context.Context, lat, lon, radiusM float64, before time.Time, lookbackMonths int, excludeID string) (count int, monthsSince float64, err error) {
	cutoff := before.AddDate(0, -lookbackMonths, 0)
	box := geo.BBox{West: lon, South: lat, East: lon, North: lat}.Pad(radiusM)

	rows, err := s.db.QueryContext(ctx, `
		SELECT centroid_lat, centroid_lon, first_detected
		FROM fire_events
		WHERE id != ?
		  AND first_detected >= ? AND first_detected < ?
		  AND centroid_lat >= ? AND centroid_lat <= ? AND centroid_lon >= ? AND centroid_lon <= ?
	`, excludeID, cutoff, before, box.South, box.North, box.West, box.East)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var latest time.Time
	for rows.Next() {
		var clat, clon float64
		var first time.Time
		if err := rows.Scan(&clat, &clon, &first); err != nil {
			return 0, 0, err
		}
		if geo.Haversine(lat, lon, clat, clon) > radiusM {
			continue
		}
		count++
		if first.After(latest) {
			latest = first
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	if count == 0 {
		return 0, -1, nil
	}
	monthsSince = before.Sub(latest).Hours() / 24 / 30.44
	return count, monthsSince, nil
}

// ResolveStaleEvents deactivates events not updated since the cutoff.
func (s *Store) ResolveStaleEvents(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fire_events
		SET is_active = FALSE, resolved_at = ?
		WHERE is_active = TRUE AND last_updated < ?
	`, time.Now().UTC(), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
