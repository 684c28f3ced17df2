package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// === SERVICE TABLE ===

// ServiceConfig describes one emulated service. Exactly one of Greeting and
// GreetingHex is used; GreetingHex wins when both are set.
type ServiceConfig struct {
	Name               string           `yaml:"name" json:"name"`
	Port               int              `yaml:"port" json:"port"`
	Greeting           string           `yaml:"greeting" json:"greeting"`
	GreetingHex        string           `yaml:"greeting_hex" json:"greeting_hex"`
	CloseAfterGreeting bool             `yaml:"close_after_greeting" json:"close_after_greeting"`
	Reactions          []ReactionConfig `yaml:"reactions" json:"reactions"`
}

// ReactionConfig is one trigger -> response rule. Exactly one trigger field
// (Contains, ContainsFold, Token, Expr, Any) must be set.
type ReactionConfig struct {
	Contains     string `yaml:"contains" json:"contains"`
	ContainsFold string `yaml:"contains_fold" json:"contains_fold"`
	Token        string `yaml:"token" json:"token"`
	Expr         string `yaml:"expr" json:"expr"`
	Any          bool   `yaml:"any" json:"any"`
	Response     string `yaml:"response" json:"response"`
	ResponseHex  string `yaml:"response_hex" json:"response_hex"`
	Close        bool   `yaml:"close" json:"close"`
}

// === LOG SINK ===

type LogConfig struct {
	File    string `yaml:"file" json:"file"`
	Console *bool  `yaml:"console" json:"console"`
	Color   string `yaml:"color" json:"color"` // "auto", "always", "never"
}

// ConsoleEnabled reports whether events are mirrored to stdout.
func (l LogConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

// === EVENT STORE ===

type StoreConfig struct {
	Type       string           `yaml:"type" json:"type"` // "none", "sqlite", "postgres"
	QueueSize  int              `yaml:"queue_size" json:"queue_size"`
	SQLite     SQLiteConfig     `yaml:"sqlite" json:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql" json:"postgresql"`
}

type SQLiteConfig struct {
	Path        string `yaml:"path" json:"path"`
	JournalMode string `yaml:"journal_mode" json:"journal_mode"`
	Synchronous string `yaml:"synchronous" json:"synchronous"`
}

type PostgreSQLConfig struct {
	Host           string `yaml:"host" json:"host"`
	Port           int    `yaml:"port" json:"port"`
	Username       string `yaml:"username" json:"username"`
	Password       string `yaml:"password" json:"password"`
	Database       string `yaml:"database" json:"database"`
	SSLMode        string `yaml:"ssl_mode" json:"ssl_mode"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
}

// === STATUS API ===

type APIConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// === WEBHOOKS ===

type WebhooksConfig struct {
	Enabled           bool     `yaml:"enabled" json:"enabled"`
	Endpoints         []string `yaml:"endpoints" json:"endpoints"`
	AuthType          string   `yaml:"auth_type" json:"auth_type"` // "", "bearer", "apikey", "basic"
	AuthValue         string   `yaml:"auth_value" json:"auth_value"`
	Events            []string `yaml:"events" json:"events"`
	TimeoutSeconds    int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	RetryCount        int      `yaml:"retry_count" json:"retry_count"`
	RetryDelaySeconds int      `yaml:"retry_delay_seconds" json:"retry_delay_seconds"`
}

// === MAIN CONFIG STRUCTURE ===

type Config struct {
	BindAddress string          `yaml:"bind_address" json:"bind_address"`
	Stagger     *time.Duration  `yaml:"stagger" json:"stagger"`
	ReadChunk   int             `yaml:"read_chunk" json:"read_chunk"`
	Log         LogConfig       `yaml:"log" json:"log"`
	Store       StoreConfig     `yaml:"store" json:"store"`
	API         APIConfig       `yaml:"api" json:"api"`
	Webhooks    WebhooksConfig  `yaml:"webhooks" json:"webhooks"`
	Services    []ServiceConfig `yaml:"services" json:"services"`

	// Source is the file the config was read from, or "" for defaults.
	Source string `yaml:"-" json:"-"`
}

// StaggerDelay is the cosmetic pause between listener starts.
func (c *Config) StaggerDelay() time.Duration {
	if c.Stagger == nil {
		return DefaultStagger
	}
	return *c.Stagger
}

const (
	DefaultBindAddress = "0.0.0.0"
	DefaultStagger     = 500 * time.Millisecond
	DefaultReadChunk   = 1024
	DefaultLogFile     = "honeypot.log"
	DefaultQueueSize   = 1024
)

// === LOADER FUNCTIONS ===

// Load reads the config at configPath, or from the first common location
// that exists when configPath is empty. With no file at all the defaults
// are returned.
func Load(configPath string) (*Config, error) {
	var data []byte
	var source string

	if configPath != "" {
		d, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		data, source = d, configPath
	} else {
		locations := []string{
			"./config/logweaver.yaml",
			"./config/logweaver.yml",
			"./config/logweaver.json",
			"/etc/logweaver/config.yaml",
			os.Getenv("LOGWEAVER_CONFIG"),
		}

		for _, loc := range locations {
			if loc == "" {
				continue
			}
			if d, err := os.ReadFile(loc); err == nil {
				data, source = d, loc
				break
			}
		}
	}

	if data == nil {
		return getDefaults(), nil
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("error parsing config %s: %w", source, err)
	}
	cfg.Source = source
	return cfg, nil
}

// Parse decodes YAML (or JSON) config bytes and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	expandEnvVars(&cfg)
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variables
func expandEnvVars(cfg *Config) {
	cfg.Log.File = os.ExpandEnv(cfg.Log.File)
	cfg.Store.SQLite.Path = os.ExpandEnv(cfg.Store.SQLite.Path)
	cfg.Store.PostgreSQL.Password = os.ExpandEnv(cfg.Store.PostgreSQL.Password)
	cfg.Webhooks.AuthValue = os.ExpandEnv(cfg.Webhooks.AuthValue)
	for i, ep := range cfg.Webhooks.Endpoints {
		cfg.Webhooks.Endpoints[i] = os.ExpandEnv(ep)
	}
}

func getDefaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.BindAddress == "" {
		cfg.BindAddress = DefaultBindAddress
	}
	if cfg.ReadChunk <= 0 {
		cfg.ReadChunk = DefaultReadChunk
	}

	// Log defaults
	if cfg.Log.File == "" {
		cfg.Log.File = DefaultLogFile
	}
	if cfg.Log.Color == "" {
		cfg.Log.Color = "auto"
	}

	// Store defaults
	if cfg.Store.Type == "" {
		cfg.Store.Type = "none"
	}
	if cfg.Store.QueueSize <= 0 {
		cfg.Store.QueueSize = DefaultQueueSize
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = "./data/logweaver.db"
	}
	if cfg.Store.SQLite.JournalMode == "" {
		cfg.Store.SQLite.JournalMode = "WAL"
	}
	if cfg.Store.SQLite.Synchronous == "" {
		cfg.Store.SQLite.Synchronous = "NORMAL"
	}
	if cfg.Store.PostgreSQL.Host == "" {
		cfg.Store.PostgreSQL.Host = "localhost"
	}
	if cfg.Store.PostgreSQL.Port == 0 {
		cfg.Store.PostgreSQL.Port = 5432
	}
	if cfg.Store.PostgreSQL.Database == "" {
		cfg.Store.PostgreSQL.Database = "logweaver"
	}
	if cfg.Store.PostgreSQL.SSLMode == "" {
		cfg.Store.PostgreSQL.SSLMode = "disable"
	}
	if cfg.Store.PostgreSQL.MaxConnections == 0 {
		cfg.Store.PostgreSQL.MaxConnections = 10
	}

	// API defaults
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = "127.0.0.1:9090"
	}

	// Webhook defaults
	if len(cfg.Webhooks.Events) == 0 {
		cfg.Webhooks.Events = []string{"NEW_CONNECTION"}
	}
	if cfg.Webhooks.TimeoutSeconds == 0 {
		cfg.Webhooks.TimeoutSeconds = 10
	}
	if cfg.Webhooks.RetryCount == 0 {
		cfg.Webhooks.RetryCount = 3
	}
	if cfg.Webhooks.RetryDelaySeconds == 0 {
		cfg.Webhooks.RetryDelaySeconds = 2
	}
}

// Validate checks the parts of the config that do not depend on the
// service table; services are validated when profiles are built.
func (c *Config) Validate() error {
	if c.ReadChunk <= 0 {
		return fmt.Errorf("read_chunk must be positive, got %d", c.ReadChunk)
	}
	if c.StaggerDelay() < 0 {
		return fmt.Errorf("stagger must not be negative, got %s", c.StaggerDelay())
	}
	switch c.Store.Type {
	case "none", "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported store type: %s", c.Store.Type)
	}
	switch c.Log.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("unsupported log color mode: %s", c.Log.Color)
	}
	if c.Webhooks.Enabled && len(c.Webhooks.Endpoints) == 0 {
		return fmt.Errorf("webhooks enabled without endpoints")
	}
	return nil
}
