package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
)

// SQLiteProvider implements Provider on a local SQLite file
type SQLiteProvider struct {
	db     *sql.DB
	config *SQLiteConfig
	mu     sync.RWMutex
}

func NewSQLiteProvider(config *SQLiteConfig) *SQLiteProvider {
	return &SQLiteProvider{config: config}
}

// dsn carries the pragmas as go-sqlite3 connection parameters so every
// pooled connection gets them.
func (sp *SQLiteProvider) dsn() string {
	params := []string{"_busy_timeout=5000"}
	if sp.config.JournalMode != "" {
		params = append(params, "_journal_mode="+sp.config.JournalMode)
	}
	if sp.config.Synchronous != "" {
		params = append(params, "_synchronous="+sp.config.Synchronous)
	}
	return sp.config.Path + "?" + strings.Join(params, "&")
}

// Connect opens the database file, creating its directory if needed
func (sp *SQLiteProvider) Connect() error {
	if dir := filepath.Dir(sp.config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", sp.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	sp.db = db
	logging.Info("[SQLite] Opened event store: %s", sp.config.Path)
	return nil
}

func (sp *SQLiteProvider) Close() error {
	if sp.db != nil {
		return sp.db.Close()
	}
	return nil
}

func (sp *SQLiteProvider) Ping() error {
	return sp.db.Ping()
}

// Migrate creates or upgrades the events schema
func (sp *SQLiteProvider) Migrate() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return runMigrations(sp.db, dialectSQLite)
}

func (sp *SQLiteProvider) InsertEvent(ev logging.Event) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	_, err := sp.db.Exec(
		`INSERT INTO events (ts, kind, service, peer, bytes, text) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Time.UTC(), string(ev.Kind), ev.Service, ev.Peer, ev.Bytes, ev.Text,
	)
	return err
}

// ListEvents returns matching events, most recent first
func (sp *SQLiteProvider) ListEvents(filter EventFilter) ([]StoredEvent, error) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()

	where, args, limit := whereClause(filter, func(int) string { return "?" })
	args = append(args, limit)
	rows, err := sp.db.Query(
		`SELECT id, ts, kind, service, peer, bytes, text FROM events `+where+` ORDER BY id DESC LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var se StoredEvent
		var kind string
		if err := rows.Scan(&se.ID, &se.Time, &kind, &se.Service, &se.Peer, &se.Bytes, &se.Text); err != nil {
			return nil, err
		}
		se.Kind = logging.Kind(kind)
		events = append(events, se)
	}
	return events, rows.Err()
}

func (sp *SQLiteProvider) EventStats() ([]KindCount, error) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()

	rows, err := sp.db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind ORDER BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []KindCount
	for rows.Next() {
		var kc KindCount
		var kind string
		if err := rows.Scan(&kind, &kc.Count); err != nil {
			return nil, err
		}
		kc.Kind = logging.Kind(kind)
		stats = append(stats, kc)
	}
	return stats, rows.Err()
}

func (sp *SQLiteProvider) ServiceStats() ([]ServiceStat, error) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()

	rows, err := sp.db.Query(
		`SELECT service,
			SUM(CASE WHEN kind = 'NEW_CONNECTION' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'DATA' THEN 1 ELSE 0 END),
			COALESCE(SUM(CASE WHEN kind = 'DATA' THEN bytes ELSE 0 END), 0),
			SUM(CASE WHEN kind = 'ERROR' THEN 1 ELSE 0 END),
			MAX(ts)
		 FROM events
		 WHERE service != ''
		 GROUP BY service
		 ORDER BY service`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ServiceStat
	for rows.Next() {
		var st ServiceStat
		var last sql.NullString
		if err := rows.Scan(&st.Service, &st.Connections, &st.DataEvents, &st.Bytes, &st.Errors, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			// Aggregates lose the column type, so the driver hands back text.
			t, err := parseSQLiteTime(last.String)
			if err != nil {
				return nil, err
			}
			st.LastSeen = t
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
