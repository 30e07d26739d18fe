package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/firesentinel/firesentinel/internal/models"
)

func (s *Store) UpsertSubscription(ctx context.Context, sub models.AlertSubscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_subscriptions (id, chat_id, label, center_lat, center_lon, radius_km, min_severity, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chat_id = excluded.chat_id,
			label = excluded.label,
			center_lat = excluded.center_lat,
			center_lon = excluded.center_lon,
			radius_km = excluded.radius_km,
			min_severity = excluded.min_severity,
			active = excluded.active
	`, sub.ID, sub.ChatID, sub.Label, sub.CenterLat, sub.CenterLon, sub.RadiusKm, sub.MinSeverity, sub.Active, sub.CreatedAt)
	return err
}

func (s *Store) ActiveSubscriptions(ctx context.Context) ([]models.AlertSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, label, center_lat, center_lon, radius_km, min_severity, active, created_at
		FROM alert_subscriptions
		WHERE active = TRUE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.AlertSubscription
	for rows.Next() {
		var sub models.AlertSubscription
		var label sql.NullString
		if err := rows.Scan(&sub.ID, &sub.ChatID, &label, &sub.CenterLat, &sub.CenterLon,
			&sub.RadiusKm, &sub.MinSeverity, &sub.Active, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.Label = label.String
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) RecordAlertSent(ctx context.Context, eventID, subscriptionID string, severity models.Severity, label models.IntentLabel, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts_sent (event_id, subscription_id, severity, intent_label, sent_at)
		VALUES (?, ?, ?, ?, ?)
	`, eventID, subscriptionID, severity, label, sentAt)
	return err
}

// LastAlertAt returns when the pair was last alerted, or zero time if
// never. Used for rate limiting repeat alerts on the same event. The
// query reads the column directly rather than MAX(sent_at): aggregate
// expressions lose the DATETIME decltype and scan back as plain text.
func (s *Store) LastAlertAt(ctx context.Context, eventID, subscriptionID string) (time.Time, error) {
	var last time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT sent_at FROM alerts_sent
		WHERE event_id = ? AND subscription_id = ?
		ORDER BY sent_at DESC
		LIMIT 1
	`, eventID, subscriptionID).Scan(&last)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return last, nil
}
