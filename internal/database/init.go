package database

import (
	"fmt"

	"github.com/0tSystemsPublicRepos/logweaver/internal/config"
	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
)

// Enabled reports whether the config asks for an event store at all.
func Enabled(cfg config.StoreConfig) bool {
	return cfg.Type != "" && cfg.Type != "none"
}

// Open builds the configured provider, connects it and migrates the
// schema.
func Open(cfg config.StoreConfig) (Provider, error) {
	var providerCfg interface{}
	switch cfg.Type {
	case "sqlite":
		providerCfg = &SQLiteConfig{
			Path:        cfg.SQLite.Path,
			JournalMode: cfg.SQLite.JournalMode,
			Synchronous: cfg.SQLite.Synchronous,
		}
	case "postgres", "postgresql":
		providerCfg = &PostgresConfig{
			Host:           cfg.PostgreSQL.Host,
			Port:           cfg.PostgreSQL.Port,
			Database:       cfg.PostgreSQL.Database,
			User:           cfg.PostgreSQL.Username,
			Password:       cfg.PostgreSQL.Password,
			SSLMode:        cfg.PostgreSQL.SSLMode,
			MaxConnections: cfg.PostgreSQL.MaxConnections,
		}
	}

	factory := &ProviderFactory{}
	provider, err := factory.Create(cfg.Type, providerCfg)
	if err != nil {
		return nil, err
	}
	if err := provider.Connect(); err != nil {
		return nil, err
	}
	if err := provider.Migrate(); err != nil {
		provider.Close()
		return nil, fmt.Errorf("failed to migrate event store: %w", err)
	}

	logging.Info("[store] Event store ready (%s)", cfg.Type)
	return provider, nil
}
