// Package config reads the process configuration from the environment.
// Missing or invalid values fall back to defaults; they never stop startup.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration.
type Config struct {
	Port      int
	ServiceID string

	AppVersion string
	BuildDate  string
	GitCommit  string

	CounterBackend string
	DataFile       string

	RedisEnabled        bool
	RedisHost           string
	RedisPort           int
	RedisConnectTimeout time.Duration
	CacheKey            string

	ProbeTimeout      time.Duration
	DependencyTargets string
	APIServiceURL     string
	BreakerThreshold  int
	BreakerDuration   time.Duration

	APIKeyFile string

	GRPCPort      int // 0 disables the gRPC health server
	ConsulAddress string
	RabbitMQURL   string
	LogLevel      string
}

// DefaultConfig returns the configuration used when the environment is empty.
func DefaultConfig() Config {
	return Config{
		Port:                5000,
		ServiceID:           "web_app_01",
		AppVersion:          "v1.0.0",
		BuildDate:           "unknown",
		GitCommit:           "unknown",
		CounterBackend:      "file",
		DataFile:            "/data/app_counter.txt",
		RedisEnabled:        true,
		RedisHost:           "redis",
		RedisPort:           6379,
		RedisConnectTimeout: 5 * time.Second,
		CacheKey:            "redis_hits",
		ProbeTimeout:        2 * time.Second,
		BreakerThreshold:    0,
		BreakerDuration:     30 * time.Second,
		APIKeyFile:          "/run/secrets/api_key_secret",
		LogLevel:            "info",
	}
}

// RedisAddr is host:port of the cache.
func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Load reads the environment. The returned warnings describe every value
// that was rejected and replaced by its default.
func Load() (Config, []string) {
	v := viper.New()
	v.AutomaticEnv()
	return load(v)
}

func load(v *viper.Viper) (Config, []string) {
	d := DefaultConfig()
	l := &loader{v: v, validate: validator.New()}

	cfg := Config{
		Port:      l.integer("PORT", d.Port, "min=1,max=65535"),
		ServiceID: l.str("SERVICE_ID", d.ServiceID, "printascii,max=128"),

		AppVersion: l.str("APP_VERSION", d.AppVersion, ""),
		BuildDate:  l.str("BUILD_DATE", d.BuildDate, ""),
		GitCommit:  l.str("GIT_COMMIT", d.GitCommit, ""),

		CounterBackend: l.enum("COUNTER_BACKEND", d.CounterBackend, "file", "bolt", "sqlite"),
		DataFile:       l.str("DATA_FILE", d.DataFile, ""),

		RedisEnabled:        l.boolean("REDIS_ENABLED", d.RedisEnabled),
		RedisHost:           l.str("REDIS_HOST", d.RedisHost, "hostname_rfc1123|ip"),
		RedisPort:           l.integer("REDIS_PORT", d.RedisPort, "min=1,max=65535"),
		RedisConnectTimeout: l.duration("REDIS_CONNECT_TIMEOUT", d.RedisConnectTimeout),
		CacheKey:            l.str("CACHE_KEY", d.CacheKey, ""),

		ProbeTimeout:      l.duration("PROBE_TIMEOUT", d.ProbeTimeout),
		DependencyTargets: l.str("DEPENDENCY_TARGETS", d.DependencyTargets, ""),
		APIServiceURL:     l.str("API_SERVICE_URL", d.APIServiceURL, ""),
		BreakerThreshold:  l.integer("PROBE_BREAKER_THRESHOLD", d.BreakerThreshold, "min=0"),
		BreakerDuration:   l.duration("PROBE_BREAKER_DURATION", d.BreakerDuration),

		APIKeyFile: l.str("API_KEY_FILE", d.APIKeyFile, ""),

		GRPCPort:      l.integer("GRPC_PORT", d.GRPCPort, "min=1,max=65535"),
		ConsulAddress: l.str("CONSUL_ADDRESS", d.ConsulAddress, ""),
		RabbitMQURL:   l.str("RABBITMQ_URL", d.RabbitMQURL, "url"),
		LogLevel:      l.enum("LOG_LEVEL", d.LogLevel, "debug", "info", "warn", "error"),
	}

	return cfg, l.warnings
}

type loader struct {
	v        *viper.Viper
	validate *validator.Validate
	warnings []string
}

func (l *loader) reject(key, raw string, def any, reason string) {
	l.warnings = append(l.warnings, fmt.Sprintf("%s=%q %s, using default %v", key, raw, reason, def))
}

func (l *loader) raw(key string) string {
	return strings.TrimSpace(l.v.GetString(key))
}

func (l *loader) str(key, def, tag string) string {
	raw := l.raw(key)
	if raw == "" {
		return def
	}
	if tag != "" {
		if err := l.validate.Var(raw, tag); err != nil {
			l.reject(key, raw, def, "is invalid")
			return def
		}
	}
	return raw
}

// enum matches case-insensitively and returns the lower-cased value.
func (l *loader) enum(key, def string, allowed ...string) string {
	raw := l.raw(key)
	if raw == "" {
		return def
	}
	val := strings.ToLower(raw)
	if err := l.validate.Var(val, "oneof="+strings.Join(allowed, " ")); err != nil {
		l.reject(key, raw, def, "is not one of "+strings.Join(allowed, ", "))
		return def
	}
	return val
}

func (l *loader) integer(key string, def int, tag string) int {
	raw := l.raw(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		l.reject(key, raw, def, "is not an integer")
		return def
	}
	if tag != "" {
		if err := l.validate.Var(n, tag); err != nil {
			l.reject(key, raw, def, "is out of range")
			return def
		}
	}
	return n
}

func (l *loader) boolean(key string, def bool) bool {
	raw := l.raw(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		l.reject(key, raw, def, "is not a boolean")
		return def
	}
	return b
}

// duration accepts a Go duration ("1500ms") or a bare number of seconds ("5").
func (l *loader) duration(key string, def time.Duration) time.Duration {
	raw := l.raw(key)
	if raw == "" {
		return def
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			l.reject(key, raw, def, "is not a duration")
			return def
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		l.reject(key, raw, def, "must be positive")
		return def
	}
	return d
}
