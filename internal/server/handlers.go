package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/toska-mesh/hitcounter/internal/cache"
	"github.com/toska-mesh/hitcounter/internal/healthcheck"
	"github.com/toska-mesh/hitcounter/internal/messaging"
	"github.com/toska-mesh/hitcounter/internal/types"
)

const greeting = "Hello from the Web App!"

type durableCounterBody struct {
	Value              int64  `json:"value"`
	Path               string `json:"path"`
	PersistenceWarning string `json:"persistence_warning,omitempty"`
}

type cacheCounterBody struct {
	Available bool   `json:"available"`
	Value     *int64 `json:"value"`
	Error     string `json:"error,omitempty"`
}

type incrementResponse struct {
	Message        string             `json:"message"`
	Service        string             `json:"service"`
	DurableCounter durableCounterBody `json:"durable_counter"`
	CacheCounter   cacheCounterBody   `json:"cache_counter"`
	APIKeySource   string             `json:"api_key_source"`
}

type healthResponse struct {
	healthcheck.Report
	APIKeyFile string `json:"api_key_file"`
}

type versionResponse struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GitCommit string `json:"git_commit"`
	Service   string `json:"service"`
}

// handleIncrement bumps both counters and always answers 200. Each counter's
// outcome is reported on its own; a failure of one never hides the other.
func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res := s.deps.Store.Increment(ctx)
	durableBody := durableCounterBody{Value: res.Value, Path: s.deps.Store.Location()}
	if res.Warning != nil {
		durableBody.PersistenceWarning = res.Warning.Error()
		s.deps.Metrics.DurableIncrements.WithLabelValues("warning").Inc()
	} else {
		s.deps.Metrics.DurableIncrements.WithLabelValues("ok").Inc()
	}

	var cacheBody cacheCounterBody
	v, err := s.deps.Cache.TryIncrement(ctx, s.config.CacheKey)
	if err != nil {
		cacheBody.Error = err.Error()
		s.deps.Metrics.CacheIncrements.WithLabelValues(cacheOutcome(err)).Inc()
		if !errors.Is(err, cache.ErrNotConnected) {
			s.logger.Warn("cache increment failed", "key", s.config.CacheKey, "error", err)
		}
	} else {
		cacheBody.Available = true
		cacheBody.Value = &v
		s.deps.Metrics.CacheIncrements.WithLabelValues("ok").Inc()
	}

	writeJSON(w, http.StatusOK, incrementResponse{
		Message:        greeting,
		Service:        s.config.ServiceID,
		DurableCounter: durableBody,
		CacheCounter:   cacheBody,
		APIKeySource:   s.apiKeySource(),
	})
}

// handleHealth reports the composite status: 200 when Healthy, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.Health(r.Context())

	apiKey := "missing"
	if _, err := os.Stat(s.config.APIKeyFile); err == nil {
		apiKey = "found"
	}

	writeJSON(w, report.HTTPStatus(), healthResponse{Report: report, APIKeyFile: apiKey})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{
		Version:   s.config.Version,
		BuildDate: s.config.BuildDate,
		GitCommit: s.config.GitCommit,
		Service:   s.config.ServiceID,
	})
}

// Health computes the composite report and schedules its side effects. It
// never panics: an unexpected failure yields a Degraded report.
func (s *Server) Health(ctx context.Context) (report healthcheck.Report) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("health check panicked", "panic", rec)
			report = healthcheck.Compose(s.config.ServiceID, []healthcheck.Result{{
				Target:  "health_check",
				Status:  types.HealthDegraded,
				Message: fmt.Sprintf("internal error: %v", rec),
			}}, nil)
		}
	}()

	resources := []healthcheck.Result{
		s.bounded(ctx, s.checkStore),
		s.bounded(ctx, s.checkCache),
	}
	deps := s.deps.Prober.ProbeAll(ctx, s.config.Targets)

	report = healthcheck.Compose(s.config.ServiceID, resources, deps)
	s.afterHealth(ctx, report)
	return report
}

// bounded runs one local check under CheckTimeout.
func (s *Server) bounded(ctx context.Context, check func(context.Context) healthcheck.Result) healthcheck.Result {
	ctx, cancel := context.WithTimeout(ctx, s.config.CheckTimeout)
	defer cancel()
	return check(ctx)
}

func (s *Server) checkStore(ctx context.Context) healthcheck.Result {
	res := healthcheck.Result{Target: healthcheck.ResourceDurableStore, Status: types.HealthHealthy}
	if err := s.deps.Store.Check(ctx); err != nil {
		res.Status = types.HealthDegraded
		res.Message = err.Error()
	}
	return res
}

func (s *Server) checkCache(ctx context.Context) healthcheck.Result {
	res := healthcheck.Result{Target: healthcheck.ResourceCache}

	switch s.deps.Cache.State() {
	case cache.StateDisabled:
		res.Status = types.HealthUnconfigured
		res.Message = "cache disabled"
	case cache.StateDisconnected:
		res.Status = types.HealthUnreachable
		res.Message = "not connected"
	default:
		if err := s.deps.Cache.Ping(ctx); err != nil {
			res.Status = types.HealthUnreachable
			res.Message = err.Error()
		} else {
			res.Status = types.HealthHealthy
		}
	}
	return res
}

// afterHealth records metrics, publishes transitions and updates the
// registry check without holding up the response.
func (s *Server) afterHealth(ctx context.Context, report healthcheck.Report) {
	s.deps.Metrics.ObserveReport(report)
	changes := s.tracker.Changes(report)

	if s.deps.Reporter == nil && (s.deps.Publisher == nil || len(changes) == 0) {
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.SideEffectTimeout)
		defer cancel()

		if s.deps.Publisher != nil {
			for _, c := range changes {
				if err := s.deps.Publisher.Publish(ctx, s.transitionEvent(c)); err != nil {
					s.logger.Warn("failed to publish health event", "key", c.Key, "error", err)
				}
			}
		}

		if s.deps.Reporter != nil {
			if err := s.deps.Reporter.UpdateHealth(ctx, s.config.ServiceID, report.Status, summary(report)); err != nil {
				s.logger.Warn("failed to update registry health", "error", err)
			}
		}
	}()
}

func (s *Server) transitionEvent(c healthcheck.Transition) any {
	now := time.Now().UTC()
	if !c.Dependency {
		return messaging.HealthChangedEvent{
			EventID:        messaging.NewEventID(),
			Timestamp:      now,
			ServiceID:      s.config.ServiceID,
			PreviousStatus: c.Previous.String(),
			CurrentStatus:  c.Current.String(),
		}
	}
	return messaging.DependencyHealthChangedEvent{
		EventID:        messaging.NewEventID(),
		Timestamp:      now,
		ServiceID:      s.config.ServiceID,
		Dependency:     c.Key,
		PreviousStatus: c.Previous.String(),
		CurrentStatus:  c.Current.String(),
		Message:        c.Message,
	}
}

// apiKeySource reports where the API key would come from without exposing it.
func (s *Server) apiKeySource() string {
	raw, err := os.ReadFile(s.config.APIKeyFile)
	switch {
	case err == nil && strings.TrimSpace(string(raw)) != "":
		return "file"
	case err == nil, errors.Is(err, os.ErrNotExist):
		return "default"
	default:
		s.logger.Error("failed to read api key file", "path", s.config.APIKeyFile, "error", err)
		return "error"
	}
}

func summary(r healthcheck.Report) string {
	var failing []string
	for _, res := range append(append([]healthcheck.Result{}, r.Resources...), r.Dependencies...) {
		if res.Status != types.HealthHealthy && res.Status != types.HealthUnconfigured {
			failing = append(failing, fmt.Sprintf("%s: %s", res.Target, res.Status))
		}
	}
	if len(failing) == 0 {
		return r.Status.String()
	}
	return r.Status.String() + " (" + strings.Join(failing, "; ") + ")"
}

func cacheOutcome(err error) string {
	switch {
	case errors.Is(err, cache.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, cache.ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, cache.ErrCommandFailed):
		return "command_failed"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
