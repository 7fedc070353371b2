// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Source    SourceConfig    `yaml:"source"`
	Documents DocumentsConfig `yaml:"documents"`
	Feed      FeedConfig      `yaml:"feed"`
	Warm      WarmConfig      `yaml:"warm"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// StoreConfig selects where the candidate queue is persisted.
type StoreConfig struct {
	Driver        string `yaml:"driver"` // sqlite, postgres, redis, nats, memory
	Path          string `yaml:"path"`   // sqlite file
	DSN           string `yaml:"dsn"`    // postgres connection string
	RedisAddr     string `yaml:"redis_addr"`
	RedisPass     string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPoolSize int    `yaml:"redis_pool_size"` // 0 uses the client default
	NatsURL       string `yaml:"nats_url"`
	Bucket        string `yaml:"bucket"`
	Namespace     string `yaml:"namespace"`
}

// SourceConfig selects where candidate IDs come from.
type SourceConfig struct {
	Kind         string            `yaml:"kind"` // search, feed
	URL          string            `yaml:"url"`
	APIKey       string            `yaml:"api_key"`
	APIKeyHeader string            `yaml:"api_key_header"`
	Filters      map[string]string `yaml:"filters"`
	Timeout      time.Duration     `yaml:"timeout"`
}

// DocumentsConfig selects the document store.
type DocumentsConfig struct {
	Kind        string `yaml:"kind"` // mongo, sql
	URI         string `yaml:"uri"`
	Database    string `yaml:"database"`
	Collection  string `yaml:"collection"`
	MaxPoolSize uint64 `yaml:"max_pool_size"` // 0 uses the driver default
	MaxRetry    int    `yaml:"max_retry"`     // connect attempts
}

type FeedConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	RefillLimit int           `yaml:"refill_limit"`
	StaleAfter  time.Duration `yaml:"stale_after"`
	Timezone    string        `yaml:"timezone"`
	PreviewSize int           `yaml:"preview_size"`
}

// WarmConfig schedules background queue refills. An empty schedule disables it.
type WarmConfig struct {
	Schedule string `yaml:"schedule"`
}

// Default returns the configuration used when no file or env overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:    LogConfig{Level: "info"},
		Store: StoreConfig{
			Driver:    "sqlite",
			Path:      "listfeed.db",
			Bucket:    "listfeed",
			Namespace: "home",
		},
		Source: SourceConfig{
			Kind:         "search",
			APIKeyHeader: "X-API-Key",
			Timeout:      30 * time.Second,
		},
		Documents: DocumentsConfig{
			Kind:       "sql",
			Database:   "listfeed",
			Collection: "lists",
			MaxRetry:   3,
		},
		Feed: FeedConfig{
			BatchSize:   6,
			RefillLimit: 100,
			StaleAfter:  3 * time.Hour,
			Timezone:    "UTC",
			PreviewSize: 3,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("LISTFEED_ADDR", c.Server.Addr)
	c.Log.Level = getEnv("LISTFEED_LOG_LEVEL", c.Log.Level)
	c.Log.JSON = getEnvBool("LISTFEED_LOG_JSON", c.Log.JSON)

	c.Store.Driver = getEnv("LISTFEED_STORE_DRIVER", c.Store.Driver)
	c.Store.Path = getEnv("LISTFEED_STORE_PATH", c.Store.Path)
	c.Store.DSN = getEnv("LISTFEED_STORE_DSN", c.Store.DSN)
	c.Store.RedisAddr = getEnv("LISTFEED_REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPass = getEnv("LISTFEED_REDIS_PASSWORD", c.Store.RedisPass)
	c.Store.RedisPoolSize = getEnvInt("LISTFEED_REDIS_POOL_SIZE", c.Store.RedisPoolSize)
	c.Store.NatsURL = getEnv("NATS_URL", c.Store.NatsURL)
	c.Store.Namespace = getEnv("LISTFEED_NAMESPACE", c.Store.Namespace)

	c.Source.Kind = getEnv("LISTFEED_SOURCE_KIND", c.Source.Kind)
	c.Source.URL = getEnv("LISTFEED_SOURCE_URL", c.Source.URL)
	c.Source.APIKey = getEnv("LISTFEED_SOURCE_API_KEY", c.Source.APIKey)

	c.Documents.Kind = getEnv("LISTFEED_DOCUMENTS_KIND", c.Documents.Kind)
	c.Documents.URI = getEnv("LISTFEED_MONGO_URI", c.Documents.URI)

	c.Feed.BatchSize = getEnvInt("LISTFEED_BATCH_SIZE", c.Feed.BatchSize)
	c.Feed.RefillLimit = getEnvInt("LISTFEED_REFILL_LIMIT", c.Feed.RefillLimit)
	c.Feed.StaleAfter = getEnvDuration("LISTFEED_STALE_AFTER", c.Feed.StaleAfter)
	c.Feed.Timezone = getEnv("LISTFEED_TIMEZONE", c.Feed.Timezone)

	c.Warm.Schedule = getEnv("LISTFEED_WARM_SCHEDULE", c.Warm.Schedule)
}

// Validate checks the choices that would otherwise fail at startup.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite", "postgres", "redis", "nats", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn: required for postgres"))
	}
	if c.Store.Driver == "redis" && c.Store.RedisAddr == "" {
		errs = append(errs, errors.New("store.redis_addr: required for redis"))
	}
	if c.Store.Driver == "nats" && c.Store.NatsURL == "" {
		errs = append(errs, errors.New("store.nats_url: required for nats"))
	}
	switch c.Source.Kind {
	case "search", "feed":
	default:
		errs = append(errs, fmt.Errorf("source.kind: unknown kind %q", c.Source.Kind))
	}
	if c.Source.URL == "" {
		errs = append(errs, errors.New("source.url: required"))
	}
	switch c.Documents.Kind {
	case "mongo":
		if c.Documents.URI == "" {
			errs = append(errs, errors.New("documents.uri: required for mongo"))
		}
	case "sql":
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			errs = append(errs, errors.New("documents.kind: sql needs store.driver sqlite or postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("documents.kind: unknown kind %q", c.Documents.Kind))
	}
	if c.Store.RedisPoolSize < 0 {
		errs = append(errs, errors.New("store.redis_pool_size: must not be negative"))
	}
	if c.Documents.MaxRetry < 0 {
		errs = append(errs, errors.New("documents.max_retry: must not be negative"))
	}
	if c.Feed.BatchSize <= 0 {
		errs = append(errs, errors.New("feed.batch_size: must be positive"))
	}
	if c.Feed.StaleAfter <= 0 {
		errs = append(errs, errors.New("feed.stale_after: must be positive"))
	}
	if _, err := time.LoadLocation(c.Feed.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("feed.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the time zone refill timestamps are written in.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Feed.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
