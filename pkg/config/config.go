// Package config loads and validates the matcher service configuration from
// YAML files with LF_* environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	// RateLimit is the number of API requests a client may make per
	// RateLimitWindow. Zero disables limiting.
	RateLimit       int           `yaml:"rateLimit"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow"`
}

// PostgresConfig holds PostgreSQL connection parameters for the item store.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	QueryTimeout    time.Duration `yaml:"queryTimeout"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ItemEvents  string `yaml:"itemEvents"`
	MatchAlerts string `yaml:"matchAlerts"`
}

// RedisConfig holds Redis connection and match-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
	// KeyPrefix namespaces every key the matcher writes.
	KeyPrefix string `yaml:"keyPrefix"`
}

// MatcherConfig tunes the matching engine. Threshold is inclusive: a candidate
// scoring exactly Threshold is returned.
type MatcherConfig struct {
	Threshold       float64 `yaml:"threshold"`
	DefaultLimit    int     `yaml:"defaultLimit"`
	MaxLimit        int     `yaml:"maxLimit"`
	NotifyThreshold float64 `yaml:"notifyThreshold"`
	IncludeName     bool    `yaml:"includeName"`
	IncludePlace    bool    `yaml:"includePlace"`
	AlertBuffer     int     `yaml:"alertBuffer"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config populated with local development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			RateLimit:       120,
			RateLimitWindow: time.Minute,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "lostfound",
			User:            "lostfound",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			QueryTimeout:    5 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:       true,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "lostfound-matcher",
			Topics: KafkaTopics{
				ItemEvents:  "item-events",
				MatchAlerts: "match-alerts",
			},
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize:  10,
			CacheTTL:  5 * time.Minute,
			KeyPrefix: "lostfound:",
		},
		Matcher: DefaultMatcherConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// DefaultMatcherConfig returns the engine defaults: threshold 0.15, five
// results per query and a notification threshold of 0.5.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		Threshold:       0.15,
		DefaultLimit:    5,
		MaxLimit:        50,
		NotifyThreshold: 0.5,
		IncludeName:     true,
		IncludePlace:    true,
		AlertBuffer:     1000,
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	if err := c.Matcher.Validate(); err != nil {
		errs = append(errs, err)
	}
	check(c.Server.Port > 0, "server.port must be positive, got %d", c.Server.Port)
	check(c.Server.RateLimit >= 0, "server.rateLimit must not be negative, got %d", c.Server.RateLimit)
	check(c.Server.RateLimit == 0 || c.Server.RateLimitWindow > 0, "server.rateLimitWindow must be positive when rateLimit is set")
	if c.Kafka.Enabled {
		check(len(c.Kafka.Brokers) > 0, "kafka.brokers must not be empty when kafka is enabled")
		check(c.Kafka.Topics.ItemEvents != "" && c.Kafka.Topics.MatchAlerts != "", "kafka.topics.itemEvents and matchAlerts are required")
	}
	if c.Redis.Enabled {
		check(c.Redis.Addr != "", "redis.addr is required when redis is enabled")
		check(c.Redis.CacheTTL > 0, "redis.cacheTTL must be positive, got %v", c.Redis.CacheTTL)
	}
	if c.Metrics.Enabled {
		check(c.Metrics.Port != c.Server.Port, "metrics.port must differ from server.port (%d)", c.Server.Port)
	}
	return errors.Join(errs...)
}

// inUnitRange reports whether v lies in [0,1]. NaN does not.
func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

// Validate checks score thresholds and result limits.
func (m MatcherConfig) Validate() error {
	if !inUnitRange(m.Threshold) {
		return fmt.Errorf("matcher.threshold must be within [0,1], got %v", m.Threshold)
	}
	if !inUnitRange(m.NotifyThreshold) {
		return fmt.Errorf("matcher.notifyThreshold must be within [0,1], got %v", m.NotifyThreshold)
	}
	if m.DefaultLimit <= 0 {
		return fmt.Errorf("matcher.defaultLimit must be positive, got %d", m.DefaultLimit)
	}
	if m.MaxLimit < m.DefaultLimit {
		return fmt.Errorf("matcher.maxLimit (%d) must be >= defaultLimit (%d)", m.MaxLimit, m.DefaultLimit)
	}
	return nil
}

// envOverrides maps LF_* variables onto config fields. Each setter rejects
// values it cannot parse.
var envOverrides = []struct {
	name string
	set  func(cfg *Config, v string) error
}{
	{"LF_SERVER_PORT", func(c *Config, v string) error { return setInt(&c.Server.Port, v) }},
	{"LF_SERVER_ALLOWED_ORIGINS", func(c *Config, v string) error { c.Server.AllowedOrigins = splitList(v); return nil }},
	{"LF_SERVER_RATE_LIMIT", func(c *Config, v string) error { return setInt(&c.Server.RateLimit, v) }},
	{"LF_POSTGRES_HOST", func(c *Config, v string) error { c.Postgres.Host = v; return nil }},
	{"LF_POSTGRES_PORT", func(c *Config, v string) error { return setInt(&c.Postgres.Port, v) }},
	{"LF_POSTGRES_DATABASE", func(c *Config, v string) error { c.Postgres.Database = v; return nil }},
	{"LF_POSTGRES_USER", func(c *Config, v string) error { c.Postgres.User = v; return nil }},
	{"LF_POSTGRES_PASSWORD", func(c *Config, v string) error { c.Postgres.Password = v; return nil }},
	{"LF_POSTGRES_SSLMODE", func(c *Config, v string) error { c.Postgres.SSLMode = v; return nil }},
	{"LF_KAFKA_ENABLED", func(c *Config, v string) error { return setBool(&c.Kafka.Enabled, v) }},
	{"LF_KAFKA_BROKERS", func(c *Config, v string) error { c.Kafka.Brokers = splitList(v); return nil }},
	{"LF_REDIS_ENABLED", func(c *Config, v string) error { return setBool(&c.Redis.Enabled, v) }},
	{"LF_REDIS_ADDR", func(c *Config, v string) error { c.Redis.Addr = v; return nil }},
	{"LF_REDIS_PASSWORD", func(c *Config, v string) error { c.Redis.Password = v; return nil }},
	{"LF_REDIS_CACHE_TTL", func(c *Config, v string) error { return setDuration(&c.Redis.CacheTTL, v) }},
	{"LF_MATCHER_THRESHOLD", func(c *Config, v string) error { return setFloat(&c.Matcher.Threshold, v) }},
	{"LF_MATCHER_NOTIFY_THRESHOLD", func(c *Config, v string) error { return setFloat(&c.Matcher.NotifyThreshold, v) }},
	{"LF_MATCHER_DEFAULT_LIMIT", func(c *Config, v string) error { return setInt(&c.Matcher.DefaultLimit, v) }},
	{"LF_MATCHER_MAX_LIMIT", func(c *Config, v string) error { return setInt(&c.Matcher.MaxLimit, v) }},
	{"LF_LOGGING_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LF_LOGGING_FORMAT", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
	{"LF_METRICS_ENABLED", func(c *Config, v string) error { return setBool(&c.Metrics.Enabled, v) }},
	{"LF_METRICS_PORT", func(c *Config, v string) error { return setInt(&c.Metrics.Port, v) }},
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", o.name, v, err))
		}
	}
	return errors.Join(errs...)
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
