package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "SERVICE_ID", "APP_VERSION", "BUILD_DATE", "GIT_COMMIT",
	"COUNTER_BACKEND", "DATA_FILE", "REDIS_ENABLED", "REDIS_HOST", "REDIS_PORT",
	"REDIS_CONNECT_TIMEOUT", "CACHE_KEY", "PROBE_TIMEOUT", "DEPENDENCY_TARGETS",
	"API_SERVICE_URL", "PROBE_BREAKER_THRESHOLD", "PROBE_BREAKER_DURATION",
	"API_KEY_FILE", "GRPC_PORT", "CONSUL_ADDRESS", "RABBITMQ_URL", "LOG_LEVEL",
}

// clearEnv blanks every variable Load reads; empty counts as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, warnings := Load()

	assert.Empty(t, warnings)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "redis:6379", cfg.RedisAddr())
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("SERVICE_ID", "web_app_02")
	t.Setenv("COUNTER_BACKEND", "SQLite")
	t.Setenv("DATA_FILE", "/tmp/counter.db")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("REDIS_HOST", "10.0.0.9")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_CONNECT_TIMEOUT", "3")
	t.Setenv("PROBE_TIMEOUT", "750ms")
	t.Setenv("DEPENDENCY_TARGETS", "db=tcp://postgres:5432")
	t.Setenv("API_SERVICE_URL", "http://api:5000")
	t.Setenv("PROBE_BREAKER_THRESHOLD", "3")
	t.Setenv("GRPC_PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, warnings := Load()
	require.Empty(t, warnings)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "web_app_02", cfg.ServiceID)
	assert.Equal(t, "sqlite", cfg.CounterBackend)
	assert.Equal(t, "/tmp/counter.db", cfg.DataFile)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, "10.0.0.9:6380", cfg.RedisAddr())
	assert.Equal(t, 3*time.Second, cfg.RedisConnectTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.ProbeTimeout)
	assert.Equal(t, "db=tcp://postgres:5432", cfg.DependencyTargets)
	assert.Equal(t, "http://api:5000", cfg.APIServiceURL)
	assert.Equal(t, 3, cfg.BreakerThreshold)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(t *testing.T, cfg Config)
	}{
		{"PORT", "http", func(t *testing.T, cfg Config) { assert.Equal(t, 5000, cfg.Port) }},
		{"PORT", "70000", func(t *testing.T, cfg Config) { assert.Equal(t, 5000, cfg.Port) }},
		{"REDIS_PORT", "-1", func(t *testing.T, cfg Config) { assert.Equal(t, 6379, cfg.RedisPort) }},
		{"REDIS_ENABLED", "maybe", func(t *testing.T, cfg Config) { assert.True(t, cfg.RedisEnabled) }},
		{"REDIS_HOST", "not a host!", func(t *testing.T, cfg Config) { assert.Equal(t, "redis", cfg.RedisHost) }},
		{"REDIS_CONNECT_TIMEOUT", "soon", func(t *testing.T, cfg Config) { assert.Equal(t, 5*time.Second, cfg.RedisConnectTimeout) }},
		{"PROBE_TIMEOUT", "-2s", func(t *testing.T, cfg Config) { assert.Equal(t, 2*time.Second, cfg.ProbeTimeout) }},
		{"COUNTER_BACKEND", "etcd", func(t *testing.T, cfg Config) { assert.Equal(t, "file", cfg.CounterBackend) }},
		{"PROBE_BREAKER_THRESHOLD", "-4", func(t *testing.T, cfg Config) { assert.Equal(t, 0, cfg.BreakerThreshold) }},
		{"RABBITMQ_URL", "not a url", func(t *testing.T, cfg Config) { assert.Empty(t, cfg.RabbitMQURL) }},
		{"LOG_LEVEL", "chatty", func(t *testing.T, cfg Config) { assert.Equal(t, "info", cfg.LogLevel) }},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, warnings := Load()
			require.Len(t, warnings, 1)
			assert.Contains(t, warnings[0], tt.key)
			tt.check(t, cfg)
		})
	}
}
