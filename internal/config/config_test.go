package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 6, cfg.Feed.BatchSize)
	assert.Equal(t, 3*time.Hour, cfg.Feed.StaleAfter)
	assert.Equal(t, "home", cfg.Store.Namespace)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listfeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: memory
source:
  kind: feed
  url: https://lists.example.com/top.rss
documents:
  kind: mongo
  uri: mongodb://localhost:27017
  max_pool_size: 20
  max_retry: 5
feed:
  stale_after: 90m
  timezone: Asia/Seoul
warm:
  schedule: "@every 30m"
`), 0o644))

	t.Setenv("LISTFEED_BATCH_SIZE", "8")
	t.Setenv("LISTFEED_LOG_JSON", "true")
	t.Setenv("LISTFEED_REDIS_POOL_SIZE", "16")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "feed", cfg.Source.Kind)
	assert.Equal(t, 90*time.Minute, cfg.Feed.StaleAfter)
	assert.Equal(t, 8, cfg.Feed.BatchSize)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, uint64(20), cfg.Documents.MaxPoolSize)
	assert.Equal(t, 5, cfg.Documents.MaxRetry)
	assert.Equal(t, 16, cfg.Store.RedisPoolSize)
	assert.Equal(t, "@every 30m", cfg.Warm.Schedule)
	assert.Equal(t, "Asia/Seoul", cfg.Location().String())
	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.Feed.RefillLimit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoad_BadEnvIgnored(t *testing.T) {
	t.Setenv("LISTFEED_SOURCE_URL", "https://search.example.com/query")
	t.Setenv("LISTFEED_BATCH_SIZE", "six")
	t.Setenv("LISTFEED_STALE_AFTER", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Feed.BatchSize)
	assert.Equal(t, 3*time.Hour, cfg.Feed.StaleAfter)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "etcd" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"redis without addr", func(c *Config) { c.Store.Driver = "redis" }, "store.redis_addr"},
		{"nats without url", func(c *Config) { c.Store.Driver = "nats" }, "store.nats_url"},
		{"no source url", func(c *Config) { c.Source.URL = "" }, "source.url"},
		{"unknown source", func(c *Config) { c.Source.Kind = "graphql" }, "source.kind"},
		{"mongo without uri", func(c *Config) { c.Documents.Kind = "mongo" }, "documents.uri"},
		{"sql docs on redis", func(c *Config) {
			c.Store.Driver = "redis"
			c.Store.RedisAddr = "localhost:6379"
		}, "documents.kind"},
		{"negative pool", func(c *Config) { c.Store.RedisPoolSize = -1 }, "store.redis_pool_size"},
		{"negative retry", func(c *Config) { c.Documents.MaxRetry = -2 }, "documents.max_retry"},
		{"zero batch", func(c *Config) { c.Feed.BatchSize = 0 }, "feed.batch_size"},
		{"bad timezone", func(c *Config) { c.Feed.Timezone = "Mars/Olympus" }, "feed.timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Source.URL = "https://search.example.com/query"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
