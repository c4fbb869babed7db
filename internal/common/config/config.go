// Package config provides configuration management for caephub.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for caephub.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	MCP          MCPConfig          `mapstructure:"mcp"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Hub          HubConfig          `mapstructure:"hub"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Policy       PolicyConfig       `mapstructure:"policy"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
// Driver selects the backend: "sqlite3" (default, single writer + reader pool)
// or "pgx" for PostgreSQL.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite database file
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
	// ReaderConns sizes the SQLite read-only pool; <= 0 uses the db default.
	ReaderConns int `mapstructure:"readerConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// MCPConfig holds the embedded MCP tool server configuration.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// HubConfig holds the message/blob/idempotency limits of the coordination core.
type HubConfig struct {
	MaxMessageContentChars  int  `mapstructure:"maxMessageContentChars"`
	MaxMessageMetadataChars int  `mapstructure:"maxMessageMetadataChars"`
	MaxProtocolBlobChars    int  `mapstructure:"maxProtocolBlobChars"`
	DisallowFullInPolling   bool `mapstructure:"disallowFullInPolling"`
	IdempotencyRetention    int  `mapstructure:"idempotencyRetention"` // in seconds
}

// CoordinationConfig holds claim scheduling and backoff configuration.
type CoordinationConfig struct {
	DoneConfidenceFloor float64 `mapstructure:"doneConfidenceFloor"`
	DefaultLeaseSec     int     `mapstructure:"defaultLeaseSec"`
	MaxLeaseSec         int     `mapstructure:"maxLeaseSec"`
	BackoffMinMs        int     `mapstructure:"backoffMinMs"`
	BackoffMaxMs        int     `mapstructure:"backoffMaxMs"`
	JanitorIntervalSec  int     `mapstructure:"janitorIntervalSec"` // 0 disables the sweep
}

// PolicyConfig holds governance advisory configuration.
type PolicyConfig struct {
	KeywordsFile string `mapstructure:"keywordsFile"` // optional YAML list of orchestration keywords
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// IdempotencyRetentionDuration returns the idempotency retention window.
func (h *HubConfig) IdempotencyRetentionDuration() time.Duration {
	return time.Duration(h.IdempotencyRetention) * time.Second
}

// JanitorInterval returns the janitor sweep interval; zero disables it.
func (c *CoordinationConfig) JanitorInterval() time.Duration {
	return time.Duration(c.JanitorIntervalSec) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CAEPHUB_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - sqlite is the unified-deployment default
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "caephub.db")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "caephub")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "caephub")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)
	v.SetDefault("database.readerConns", 4)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "caephub-cluster")
	v.SetDefault("nats.clientId", "caephub-client")
	v.SetDefault("nats.maxReconnects", 10)

	// MCP tool server defaults
	v.SetDefault("mcp.enabled", true)
	v.SetDefault("mcp.port", 9090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Hub limits
	v.SetDefault("hub.maxMessageContentChars", 1024)
	v.SetDefault("hub.maxMessageMetadataChars", 1024)
	v.SetDefault("hub.maxProtocolBlobChars", 32768)
	v.SetDefault("hub.disallowFullInPolling", true)
	v.SetDefault("hub.idempotencyRetention", 86400)

	// Coordination defaults
	v.SetDefault("coordination.doneConfidenceFloor", 0.9)
	v.SetDefault("coordination.defaultLeaseSec", 300)
	v.SetDefault("coordination.maxLeaseSec", 3600)
	v.SetDefault("coordination.backoffMinMs", 200)
	v.SetDefault("coordination.backoffMaxMs", 12000)
	v.SetDefault("coordination.janitorIntervalSec", 60)

	// Policy defaults
	v.SetDefault("policy.keywordsFile", "")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CAEPHUB_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/caephub/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("CAEPHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the flat, unprefixed env names that agents and
	// deploy scripts set directly. AutomaticEnv does not handle camelCase to
	// SNAKE_CASE conversion, so each camelCase key is bound by hand.
	_ = v.BindEnv("hub.maxMessageContentChars", "MAX_MESSAGE_CONTENT_CHARS", "CAEPHUB_HUB_MAX_MESSAGE_CONTENT_CHARS")
	_ = v.BindEnv("hub.maxMessageMetadataChars", "MAX_MESSAGE_METADATA_CHARS", "CAEPHUB_HUB_MAX_MESSAGE_METADATA_CHARS")
	_ = v.BindEnv("hub.maxProtocolBlobChars", "MAX_PROTOCOL_BLOB_CHARS", "CAEPHUB_HUB_MAX_PROTOCOL_BLOB_CHARS")
	_ = v.BindEnv("hub.disallowFullInPolling", "DISALLOW_FULL_IN_POLLING", "CAEPHUB_HUB_DISALLOW_FULL_IN_POLLING")
	_ = v.BindEnv("hub.idempotencyRetention", "IDEMPOTENCY_RETENTION", "CAEPHUB_HUB_IDEMPOTENCY_RETENTION")
	_ = v.BindEnv("coordination.doneConfidenceFloor", "DONE_CONFIDENCE_FLOOR", "CAEPHUB_COORDINATION_DONE_CONFIDENCE_FLOOR")
	_ = v.BindEnv("database.driver", "CAEPHUB_DATABASE_DRIVER")
	_ = v.BindEnv("database.path", "CAEPHUB_DATABASE_PATH")
	_ = v.BindEnv("policy.keywordsFile", "CAEPHUB_POLICY_KEYWORDS_FILE")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/caephub/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite3":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite3 driver")
		}
	case "pgx":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the pgx driver")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the pgx driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the pgx driver")
		}
	default:
		errs = append(errs, "database.driver must be sqlite3 or pgx")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Hub.MaxMessageContentChars <= 0 {
		errs = append(errs, "hub.maxMessageContentChars must be positive")
	}
	if cfg.Hub.MaxMessageMetadataChars <= 0 {
		errs = append(errs, "hub.maxMessageMetadataChars must be positive")
	}
	if cfg.Hub.MaxProtocolBlobChars <= 0 {
		errs = append(errs, "hub.maxProtocolBlobChars must be positive")
	}
	if cfg.Coordination.DoneConfidenceFloor < 0 || cfg.Coordination.DoneConfidenceFloor > 1 {
		errs = append(errs, "coordination.doneConfidenceFloor must be within [0, 1]")
	}
	if cfg.Coordination.DefaultLeaseSec <= 0 {
		errs = append(errs, "coordination.defaultLeaseSec must be positive")
	}
	if cfg.Coordination.MaxLeaseSec < cfg.Coordination.DefaultLeaseSec {
		errs = append(errs, "coordination.maxLeaseSec must be >= coordination.defaultLeaseSec")
	}
	if cfg.Coordination.BackoffMinMs <= 0 || cfg.Coordination.BackoffMaxMs < cfg.Coordination.BackoffMinMs {
		errs = append(errs, "coordination backoff bounds must satisfy 0 < min <= max")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
