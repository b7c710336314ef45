// Package server exposes the counter and composite health over HTTP and gRPC.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/toska-mesh/hitcounter/internal/cache"
	"github.com/toska-mesh/hitcounter/internal/durable"
	"github.com/toska-mesh/hitcounter/internal/healthcheck"
	"github.com/toska-mesh/hitcounter/internal/metrics"
	"github.com/toska-mesh/hitcounter/internal/types"
)

// CacheCounter is the remote counter as seen by the handlers.
type CacheCounter interface {
	TryIncrement(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
	State() cache.State
}

// DependencyProber probes the configured dependencies.
type DependencyProber interface {
	ProbeAll(ctx context.Context, targets []healthcheck.Target) []healthcheck.Result
}

// HealthReporter receives every computed composite status (Consul TTL).
type HealthReporter interface {
	UpdateHealth(ctx context.Context, serviceID string, status types.HealthStatus, output string) error
}

// EventPublisher receives health transition events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Config is the per-process information the handlers report.
type Config struct {
	ServiceID  string
	CacheKey   string
	APIKeyFile string
	Targets    []healthcheck.Target

	Version   string
	BuildDate string
	GitCommit string

	// CheckTimeout bounds each local store and cache check.
	CheckTimeout time.Duration

	// SideEffectTimeout bounds the asynchronous work after a health check.
	SideEffectTimeout time.Duration
}

// Deps are the collaborators the server is built from. Reporter and
// Publisher may be nil.
type Deps struct {
	Store     durable.Store
	Cache     CacheCounter
	Prober    DependencyProber
	Metrics   *metrics.Metrics
	Reporter  HealthReporter
	Publisher EventPublisher
}

// Server holds the handlers' shared state.
type Server struct {
	config  Config
	deps    Deps
	tracker *healthcheck.Tracker
	logger  *slog.Logger

	inflight sync.WaitGroup
}

// New creates a Server.
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = healthcheck.DefaultConfig().Timeout
	}
	if config.SideEffectTimeout <= 0 {
		config.SideEffectTimeout = 5 * time.Second
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Server{
		config:  config,
		deps:    deps,
		tracker: healthcheck.NewTracker(),
		logger:  logger,
	}
}

// Handler returns the HTTP routes wrapped in logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIncrement)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())

	var handler http.Handler = mux
	handler = Recover(s.logger, handler)
	handler = RequestLogging(s.logger, s.deps.Metrics, handler)
	return handler
}

// Wait blocks until all in-flight health side effects have finished.
func (s *Server) Wait() {
	s.inflight.Wait()
}
