package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"DATABASE_URL": "postgres://progress@localhost:5432/progress",
	})
	require.NoError(t, err)

	assert.Equal(t, "habitquest-progression", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, time.UTC, cfg.App.Location())

	assert.Equal(t, StorePostgres, cfg.Engine.Store)
	assert.Equal(t, LockLocal, cfg.Engine.Lock)
	assert.Equal(t, 3, cfg.Engine.RetryAttempts)

	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.Equal(t, 10*time.Second, cfg.Database.QueryTimeout)

	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, "progression:events", cfg.Redis.EventsChannel)
	assert.Equal(t, "info", cfg.Observability.LogLevel)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Empty(t, cfg.HTTP.APIKeys)
	assert.Equal(t, int64(65536), cfg.HTTP.MaxBodyBytes)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"APP_ENV":               "staging",
		"APP_TIMEZONE":          "Asia/Almaty",
		"ENGINE_STORE":          "memory",
		"ENGINE_LOCK":           "redis",
		"ENGINE_RETRY_ATTEMPTS": "5",
		"REDIS_ENABLED":         "true",
		"REDIS_URL":             "redis://cache:6379/1",
		"REDIS_LOCK_TTL":        "3s",
		"LOG_LEVEL":             "debug",
		"LOG_FORMAT":            "text",
		"HTTP_PORT":             "9090",
		"HTTP_API_KEYS":         "k1,k2",
	})
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.App.Environment)
	assert.Equal(t, "Asia/Almaty", cfg.App.Location().String())
	assert.Equal(t, StoreMemory, cfg.Engine.Store)
	assert.Equal(t, LockRedis, cfg.Engine.Lock)
	assert.Equal(t, 5, cfg.Engine.RetryAttempts)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, 3*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, []string{"k1", "k2"}, cfg.HTTP.APIKeys)
}

func TestLoadFrom_ReportsEveryProblem(t *testing.T) {
	_, err := LoadFrom(map[string]string{
		"ENGINE_STORE":          "sqlite",
		"ENGINE_LOCK":           "redis",
		"ENGINE_RETRY_ATTEMPTS": "0",
		"LOG_LEVEL":             "verbose",
	})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "ENGINE_STORE")
	assert.Contains(t, msg, "REDIS_ENABLED")
	assert.Contains(t, msg, "ENGINE_RETRY_ATTEMPTS")
	assert.Contains(t, msg, "LOG_LEVEL")
}

func TestLoadFrom_Rejects(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"postgres without url", map[string]string{}},
		{"memory store in production", map[string]string{"ENGINE_STORE": "memory", "APP_ENV": "production"}},
		{"unknown timezone", map[string]string{"ENGINE_STORE": "memory", "APP_TIMEZONE": "Mars/Olympus"}},
		{"bad duration", map[string]string{"ENGINE_STORE": "memory", "REDIS_LOCK_TTL": "soon"}},
		{"port out of range", map[string]string{"ENGINE_STORE": "memory", "HTTP_PORT": "70000"}},
		{"negative rate limit", map[string]string{"ENGINE_STORE": "memory", "HTTP_RATE_LIMIT": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.vars)
			assert.Error(t, err)
		})
	}
}
