package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
)

// Provider defines the interface that all event store implementations must follow
type Provider interface {
	// Connection management
	Connect() error
	Close() error
	Migrate() error
	Ping() error

	// Events
	InsertEvent(ev logging.Event) error
	ListEvents(filter EventFilter) ([]StoredEvent, error)

	// Aggregates
	EventStats() ([]KindCount, error)
	ServiceStats() ([]ServiceStat, error)
}

// StoredEvent is an event as read back from the store.
type StoredEvent struct {
	ID int64 `json:"id"`
	logging.Event
}

// EventFilter narrows ListEvents. Zero fields do not filter.
type EventFilter struct {
	Kind    logging.Kind
	Service string
	Peer    string
	Since   time.Time
	Limit   int
}

// DefaultListLimit caps ListEvents when the filter sets no limit.
const DefaultListLimit = 100

type KindCount struct {
	Kind  logging.Kind `json:"kind"`
	Count int64        `json:"count"`
}

// ServiceStat aggregates the events of one service.
type ServiceStat struct {
	Service     string    `json:"service"`
	Connections int64     `json:"connections"`
	DataEvents  int64     `json:"data_events"`
	Bytes       int64     `json:"bytes"`
	Errors      int64     `json:"errors"`
	LastSeen    time.Time `json:"last_seen"`
}

// ProviderFactory creates event store providers based on type
type ProviderFactory struct{}

// Create returns a provider for dbType. The provider is not connected yet.
func (pf *ProviderFactory) Create(dbType string, config interface{}) (Provider, error) {
	switch dbType {
	case "sqlite":
		cfg, ok := config.(*SQLiteConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for sqlite")
		}
		return NewSQLiteProvider(cfg), nil
	case "postgres", "postgresql":
		cfg, ok := config.(*PostgresConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for postgres")
		}
		return NewPostgresProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// Config types for different databases
type SQLiteConfig struct {
	Path        string
	JournalMode string
	Synchronous string
}

type PostgresConfig struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	SSLMode        string
	MaxConnections int
}

// whereClause renders the filter as a WHERE clause using the dialect's
// placeholder style, plus the LIMIT value.
func whereClause(f EventFilter, placeholder func(n int) string) (string, []interface{}, int) {
	var conds []string
	var args []interface{}
	add := func(col string, v interface{}, op string) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s %s %s", col, op, placeholder(len(args))))
	}
	if f.Kind != "" {
		add("kind", string(f.Kind), "=")
	}
	if f.Service != "" {
		add("service", f.Service, "=")
	}
	if f.Peer != "" {
		add("peer", f.Peer, "=")
	}
	if !f.Since.IsZero() {
		add("ts", f.Since.UTC(), ">=")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(conds) == 0 {
		return "", args, limit
	}
	return "WHERE " + strings.Join(conds, " AND "), args, limit
}
