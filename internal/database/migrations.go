package database

import (
	"database/sql"
	"fmt"

	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// migration is one schema step. Steps are applied in order and recorded in
// schema_migrations so each runs once.
type migration struct {
	version  int
	name     string
	sqlite   string
	postgres string
}

var migrations = []migration{
	{
		version: 1,
		name:    "events",
		sqlite: `CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL,
			kind TEXT NOT NULL,
			service TEXT NOT NULL DEFAULT '',
			peer TEXT NOT NULL DEFAULT '',
			bytes INTEGER NOT NULL DEFAULT 0,
			text TEXT NOT NULL
		)`,
		postgres: `CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			kind TEXT NOT NULL,
			service TEXT NOT NULL DEFAULT '',
			peer TEXT NOT NULL DEFAULT '',
			bytes INTEGER NOT NULL DEFAULT 0,
			text TEXT NOT NULL
		)`,
	},
	{
		version:  2,
		name:     "events_indexes",
		sqlite:   `CREATE INDEX IF NOT EXISTS idx_events_service_ts ON events(service, ts)`,
		postgres: `CREATE INDEX IF NOT EXISTS idx_events_service_ts ON events(service, ts)`,
	},
	{
		version:  3,
		name:     "events_kind_index",
		sqlite:   `CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)`,
		postgres: `CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)`,
	},
}

// runMigrations applies every migration newer than the recorded version.
func runMigrations(db *sql.DB, d dialect) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	record := "INSERT INTO schema_migrations (version, name) VALUES (?, ?)"
	if d == dialectPostgres {
		record = "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)"
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		stmt := m.sqlite
		if d == dialectPostgres {
			stmt = m.postgres
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(record, m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		logging.Info("[store] applied migration %d (%s)", m.version, m.name)
	}
	return nil
}
