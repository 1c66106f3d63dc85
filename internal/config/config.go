package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Capture   CaptureConfig   `yaml:"capture"`
	Sanitizer SanitizerConfig `yaml:"sanitizer"`
	AllowList []string        `yaml:"allow_list"`
}

type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Storage backends.
const (
	BackendBadger   = "badger"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type StorageConfig struct {
	Backend string       `yaml:"backend"`
	Badger  BadgerConfig `yaml:"badger"`
}

type BadgerConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type KafkaConfig struct {
	Brokers []string          `yaml:"brokers"`
	Topics  map[string]string `yaml:"topics"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
}

// CaptureConfig holds the numeric policy of the capture store.
type CaptureConfig struct {
	MaxEvents              int           `yaml:"max_events"`
	ActionsPerError        int           `yaml:"actions_per_error"`
	ActionBufferSize       int           `yaml:"action_buffer_size"`
	DedupeWindow           time.Duration `yaml:"dedupe_window"`
	Retention              time.Duration `yaml:"retention"`
	SweepInterval          time.Duration `yaml:"sweep_interval"`
	RecordFallbackFailures bool          `yaml:"record_fallback_failures"`
	SnapshotMaxContexts    int           `yaml:"snapshot_max_contexts"`
}

type SanitizerConfig struct {
	MaxFieldCount     int `yaml:"max_field_count"`
	MaxValueLength    int `yaml:"max_value_length"`
	MaxBodyParseChars int `yaml:"max_body_parse_chars"`
}

// DefaultAllowList is used until the allow-list is first written.
var DefaultAllowList = []string{
	"localhost",
	"127.0.0.1",
	"*.example.com",
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8787
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendBadger
	}
	if c.Storage.Badger.Path == "" {
		c.Storage.Badger.Path = "data/faultline"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "faultline:"
	}
	if c.Postgres.Table == "" {
		c.Postgres.Table = "faultline_kv"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 200
	}

	// Capture policy
	if c.Capture.MaxEvents == 0 {
		c.Capture.MaxEvents = 200
	}
	if c.Capture.ActionsPerError == 0 {
		c.Capture.ActionsPerError = 5
	}
	if c.Capture.ActionBufferSize == 0 {
		c.Capture.ActionBufferSize = 10
	}
	if c.Capture.DedupeWindow == 0 {
		c.Capture.DedupeWindow = 2 * time.Second
	}
	if c.Capture.Retention == 0 {
		c.Capture.Retention = 5 * time.Minute
	}
	if c.Capture.SweepInterval == 0 {
		c.Capture.SweepInterval = 30 * time.Second
	}
	if c.Capture.SnapshotMaxContexts == 0 {
		c.Capture.SnapshotMaxContexts = 50
	}

	if c.Sanitizer.MaxFieldCount == 0 {
		c.Sanitizer.MaxFieldCount = 20
	}
	if c.Sanitizer.MaxValueLength == 0 {
		c.Sanitizer.MaxValueLength = 200
	}
	if c.Sanitizer.MaxBodyParseChars == 0 {
		c.Sanitizer.MaxBodyParseChars = 5000
	}

	if len(c.AllowList) == 0 {
		c.AllowList = append([]string(nil), DefaultAllowList...)
	}
}
