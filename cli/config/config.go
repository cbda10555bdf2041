// Package config provides configuration management for the stoat CLI.
//
// Values come from three layers, later ones winning: DefaultConfig, the
// stoat.yaml file, and STOAT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name
const ConfigFileName = "stoat.yaml"

// Supported backend drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported snapshot state codecs.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Config represents the stoat CLI configuration
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	Backend BackendConfig `yaml:"backend"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	SNS     SNSConfig     `yaml:"sns"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// BackendConfig selects and connects the persistence backend
type BackendConfig struct {
	// Driver is memory, sqlite or postgres
	Driver string `yaml:"driver" env:"STOAT_BACKEND"`

	// DSN is a file path for sqlite and a connection string for postgres.
	// Environment references such as ${DATABASE_URL} are expanded.
	DSN string `yaml:"dsn,omitempty" env:"STOAT_DSN"`

	// Schema is the postgres schema
	Schema string `yaml:"schema" env:"STOAT_SCHEMA"`
}

// StoreConfig tunes the event store and command handler
type StoreConfig struct {
	SnapshotInterval int64  `yaml:"snapshot_interval" env:"STOAT_SNAPSHOT_INTERVAL"`
	RecentBufferSize int    `yaml:"recent_buffer_size" env:"STOAT_RECENT_BUFFER_SIZE"`
	StateCodec       string `yaml:"state_codec" env:"STOAT_STATE_CODEC"`
}

// RedisConfig enables the shared snapshot cache when Addr is set
type RedisConfig struct {
	Addr      string        `yaml:"addr,omitempty" env:"STOAT_REDIS_ADDR"`
	TTL       time.Duration `yaml:"ttl" env:"STOAT_REDIS_TTL"`
	KeyPrefix string        `yaml:"key_prefix" env:"STOAT_REDIS_KEY_PREFIX"`
}

// KafkaConfig enables the Kafka publisher when Brokers is non-empty
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty" env:"STOAT_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"STOAT_KAFKA_TOPIC"`
}

// SNSConfig enables the SNS publisher when TopicARN is set
type SNSConfig struct {
	TopicARN string `yaml:"topic_arn,omitempty" env:"STOAT_SNS_TOPIC_ARN"`
	Region   string `yaml:"region,omitempty" env:"STOAT_SNS_REGION"`
	Endpoint string `yaml:"endpoint,omitempty" env:"STOAT_SNS_ENDPOINT"`
	FIFO     bool   `yaml:"fifo" env:"STOAT_SNS_FIFO"`
}

// LoggingConfig configures logrus
type LoggingConfig struct {
	Level  string `yaml:"level" env:"STOAT_LOG_LEVEL"`
	Format string `yaml:"format" env:"STOAT_LOG_FORMAT"`
}

// TracingConfig toggles the stdout span exporter
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" env:"STOAT_TRACING"`
	ServiceName string `yaml:"service_name" env:"STOAT_SERVICE_NAME"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Backend: BackendConfig{
			Driver: DriverSQLite,
			DSN:    "stoat.db",
			Schema: "stoat",
		},
		Store: StoreConfig{
			SnapshotInterval: 0,
			RecentBufferSize: 1000,
			StateCodec:       CodecJSON,
		},
		Redis: RedisConfig{
			TTL:       time.Hour,
			KeyPrefix: "stoat:snapshot:",
		},
		Kafka: KafkaConfig{
			Topic: "stoat.events",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			ServiceName: "stoat",
		},
	}
}

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile loads configuration from a specific file path. Keys missing from
// the file keep their defaults; environment variables are applied last.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns the defaults overlaid with environment variables.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields whose STOAT_* variable is set.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	return c.SaveFile(filepath.Join(dir, ConfigFileName))
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// ResolvedDSN returns the DSN with environment references expanded.
func (c *Config) ResolvedDSN() string {
	return os.ExpandEnv(c.Backend.DSN)
}

// Validate validates the configuration
func (c *Config) Validate() []string {
	var errors []string

	switch c.Backend.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.ResolvedDSN()) == "" {
			errors = append(errors, fmt.Sprintf("backend.dsn is required for %s driver", c.Backend.Driver))
		}
	case "":
		errors = append(errors, "backend.driver is required")
	default:
		errors = append(errors, "backend.driver must be 'memory', 'sqlite' or 'postgres'")
	}

	if c.Backend.Driver == DriverPostgres && c.Backend.Schema == "" {
		errors = append(errors, "backend.schema is required for postgres driver")
	}

	if c.Store.SnapshotInterval < 0 {
		errors = append(errors, "store.snapshot_interval must not be negative")
	}
	if c.Store.RecentBufferSize < 0 {
		errors = append(errors, "store.recent_buffer_size must not be negative")
	}
	if c.Store.StateCodec != CodecJSON && c.Store.StateCodec != CodecMsgpack {
		errors = append(errors, "store.state_codec must be 'json' or 'msgpack'")
	}

	if c.Redis.TTL < 0 {
		errors = append(errors, "redis.ttl must not be negative")
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errors = append(errors, "kafka.topic is required when brokers are set")
	}

	if c.SNS.FIFO && !strings.HasSuffix(c.SNS.TopicARN, ".fifo") {
		errors = append(errors, "sns.topic_arn must be a .fifo topic when sns.fifo is set")
	}

	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		errors = append(errors, fmt.Sprintf("logging.level: %v", err))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errors = append(errors, "logging.format must be 'text' or 'json'")
	}

	return errors
}

// GenerateYAML generates YAML content with comments
func GenerateYAML(cfg *Config) string {
	return `# Stoat Configuration File
# Every key can be overridden with a STOAT_* environment variable.

version: "` + cfg.Version + `"

backend:
  # Driver: memory, sqlite or postgres
  driver: "` + cfg.Backend.Driver + `"

  # File path (sqlite) or connection URL (postgres)
  dsn: "` + cfg.Backend.DSN + `"

  # Database schema (postgres only)
  schema: "` + cfg.Backend.Schema + `"

store:
  # Snapshot every N versions from the command handler (0 disables)
  snapshot_interval: ` + fmt.Sprint(cfg.Store.SnapshotInterval) + `
  recent_buffer_size: ` + fmt.Sprint(cfg.Store.RecentBufferSize) + `
  # Snapshot state encoding: json or msgpack
  state_codec: "` + cfg.Store.StateCodec + `"

# Shared snapshot cache, enabled when addr is set
redis:
  addr: "` + cfg.Redis.Addr + `"
  ttl: "` + cfg.Redis.TTL.String() + `"
  key_prefix: "` + cfg.Redis.KeyPrefix + `"

# Event fan-out, enabled when brokers are listed
kafka:
  brokers: []
  topic: "` + cfg.Kafka.Topic + `"

# Event fan-out, enabled when topic_arn is set
sns:
  topic_arn: "` + cfg.SNS.TopicARN + `"
  region: "` + cfg.SNS.Region + `"
  fifo: ` + fmt.Sprint(cfg.SNS.FIFO) + `

logging:
  # debug, info, warn or error
  level: "` + cfg.Logging.Level + `"
  # text or json
  format: "` + cfg.Logging.Format + `"

# Print spans to stderr
tracing:
  enabled: ` + fmt.Sprint(cfg.Tracing.Enabled) + `
  service_name: "` + cfg.Tracing.ServiceName + `"
`
}
