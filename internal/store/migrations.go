package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS hotspots (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    brightness REAL,
    bright_t31 REAL,
    frp REAL,
    confidence TEXT,
    satellite TEXT,
    acq_date TEXT NOT NULL,
    acq_time INTEGER NOT NULL,
    day_night TEXT,
    event_id TEXT REFERENCES fire_events(id),
    ingested_at DATETIME NOT NULL,
    UNIQUE(source, latitude, longitude, acq_date, acq_time)
);

CREATE TABLE IF NOT EXISTS fire_events (
    id TEXT PRIMARY KEY,
    centroid_lat REAL NOT NULL,
    centroid_lon REAL NOT NULL,
    hotspot_count INTEGER NOT NULL,
    max_frp REAL NOT NULL,
    severity TEXT NOT NULL,
    first_detected DATETIME NOT NULL,
    last_updated DATETIME NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    resolved_at DATETIME,
    intent_score INTEGER,
    intent_label TEXT,
    intent_breakdown TEXT
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    duration_seconds REAL NOT NULL,
    status TEXT NOT NULL,
    hotspots_fetched INTEGER NOT NULL,
    hotspots_new INTEGER NOT NULL,
    events_created INTEGER NOT NULL,
    events_updated INTEGER NOT NULL,
    alerts_sent INTEGER NOT NULL,
    errors TEXT
);

CREATE INDEX IF NOT EXISTS idx_hotspots_bbox ON hotspots(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_hotspots_acq_date ON hotspots(acq_date);
CREATE INDEX IF NOT EXISTS idx_hotspots_event ON hotspots(event_id);
CREATE INDEX IF NOT EXISTS idx_events_active ON fire_events(is_active);
CREATE INDEX IF NOT EXISTS idx_events_last_updated ON fire_events(last_updated);
CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at);
`,
	},
	{
		Version:     2,
		Description: "Add alert subscriptions and sent-alert log",
		SQL: `
CREATE TABLE IF NOT EXISTS alert_subscriptions (
    id TEXT PRIMARY KEY,
    chat_id TEXT NOT NULL,
    label TEXT,
    center_lat REAL NOT NULL,
    center_lon REAL NOT NULL,
    radius_km REAL NOT NULL,
    min_severity TEXT NOT NULL DEFAULT 'medium',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS alerts_sent (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL REFERENCES fire_events(id),
    subscription_id TEXT NOT NULL REFERENCES alert_subscriptions(id),
    severity TEXT NOT NULL,
    intent_label TEXT,
    sent_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_sent_event ON alerts_sent(event_id, subscription_id, sent_at);
`,
	},
	{
		Version:     3,
		Description: "Add event-level enrichment context columns",
		SQL: `
ALTER TABLE fire_events ADD COLUMN road_distance_m REAL;
ALTER TABLE fire_events ADD COLUMN highway_type TEXT;
ALTER TABLE fire_events ADD COLUMN humidity_pct REAL;
ALTER TABLE fire_events ADD COLUMN cape_jkg REAL;
ALTER TABLE fire_events ADD COLUMN precip_72h_mm REAL;
`,
	},
	{
		Version:     4,
		Description: "Keep original provider fields on hotspots for audit",
		SQL: `
ALTER TABLE hotspots ADD COLUMN raw_json TEXT;
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
