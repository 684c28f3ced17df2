package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
)

// PostgresProvider implements Provider for PostgreSQL
type PostgresProvider struct {
	db     *sql.DB
	config *PostgresConfig
}

func NewPostgresProvider(config *PostgresConfig) *PostgresProvider {
	return &PostgresProvider{config: config}
}

// Connect establishes connection to PostgreSQL database
func (pp *PostgresProvider) Connect() error {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pp.config.Host,
		pp.config.Port,
		pp.config.User,
		pp.config.Password,
		pp.config.Database,
		pp.config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", describe(err))
	}

	if pp.config.MaxConnections > 0 {
		db.SetMaxOpenConns(pp.config.MaxConnections)
		db.SetMaxIdleConns(pp.config.MaxConnections / 2)
	}

	pp.db = db
	logging.Info("[PostgreSQL] Connected to database: %s@%s:%d/%s", pp.config.User, pp.config.Host, pp.config.Port, pp.config.Database)
	return nil
}

func (pp *PostgresProvider) Close() error {
	if pp.db != nil {
		return pp.db.Close()
	}
	return nil
}

func (pp *PostgresProvider) Ping() error {
	return pp.db.Ping()
}

func (pp *PostgresProvider) Migrate() error {
	if err := runMigrations(pp.db, dialectPostgres); err != nil {
		return describe(err)
	}
	return nil
}

func (pp *PostgresProvider) InsertEvent(ev logging.Event) error {
	_, err := pp.db.Exec(
		`INSERT INTO events (ts, kind, service, peer, bytes, text) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.Time.UTC(), string(ev.Kind), ev.Service, ev.Peer, ev.Bytes, ev.Text,
	)
	return describe(err)
}

// ListEvents returns matching events, most recent first
func (pp *PostgresProvider) ListEvents(filter EventFilter) ([]StoredEvent, error) {
	where, args, limit := whereClause(filter, func(n int) string { return fmt.Sprintf("$%d", n) })
	args = append(args, limit)
	rows, err := pp.db.Query(
		fmt.Sprintf(`SELECT id, ts, kind, service, peer, bytes, text FROM events %s ORDER BY id DESC LIMIT $%d`, where, len(args)),
		args...,
	)
	if err != nil {
		return nil, describe(err)
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

func (pp *PostgresProvider) EventStats() ([]KindCount, error) {
	rows, err := pp.db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind ORDER BY kind`)
	if err != nil {
		return nil, describe(err)
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

func (pp *PostgresProvider) ServiceStats() ([]ServiceStat, error) {
	rows, err := pp.db.Query(
		`SELECT service,
			COUNT(*) FILTER (WHERE kind = 'NEW_CONNECTION'),
			COUNT(*) FILTER (WHERE kind = 'DATA'),
			COALESCE(SUM(bytes) FILTER (WHERE kind = 'DATA'), 0),
			COUNT(*) FILTER (WHERE kind = 'ERROR'),
			MAX(ts)
		 FROM events
		 WHERE service <> ''
		 GROUP BY service
		 ORDER BY service`,
	)
	if err != nil {
		return nil, describe(err)
	}
	defer rows.Close()

	var stats []ServiceStat
	for rows.Next() {
		var st ServiceStat
		var last sql.NullTime
		if err := rows.Scan(&st.Service, &st.Connections, &st.DataEvents, &st.Bytes, &st.Errors, &last); err != nil {
			return nil, err
		}
		st.LastSeen = last.Time
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// describe adds the server's error code to driver errors.
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s (%s): %w", pqErr.Message, pqErr.Code.Name(), err)
	}
	return err
}
