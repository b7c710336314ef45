// Package metrics holds the Prometheus collectors for the counter and health
// paths on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toska-mesh/hitcounter/internal/healthcheck"
	"github.com/toska-mesh/hitcounter/internal/types"
)

const namespace = "hitcounter"

// Metrics is a set of collectors registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	DurableIncrements *prometheus.CounterVec
	CacheIncrements   *prometheus.CounterVec
	HealthStatus      prometheus.Gauge
	DependencyStatus  *prometheus.GaugeVec
	ProbeDuration     *prometheus.HistogramVec
	RequestDuration   *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DurableIncrements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "durable_increments_total",
			Help:      "Durable counter increments by outcome (ok, warning).",
		}, []string{"result"}),
		CacheIncrements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_increments_total",
			Help:      "Cache counter increments by outcome.",
		}, []string{"result"}),
		HealthStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "healthy",
			Help:      "1 when the last composite health check was Healthy, 0 otherwise.",
		}),
		DependencyStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_healthy",
			Help:      "1 when the dependency was Healthy at the last check, 0 otherwise.",
		}, []string{"target"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Dependency probe latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target", "probe"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.DurableIncrements,
		m.CacheIncrements,
		m.HealthStatus,
		m.DependencyStatus,
		m.ProbeDuration,
		m.RequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveReport records a composite health report.
func (m *Metrics) ObserveReport(r healthcheck.Report) {
	m.HealthStatus.Set(boolGauge(r.Status == types.HealthHealthy))
	for _, d := range r.Dependencies {
		m.DependencyStatus.WithLabelValues(d.Target).Set(boolGauge(d.Status == types.HealthHealthy))
		if d.ProbeType != "" {
			m.ProbeDuration.WithLabelValues(d.Target, d.ProbeType).Observe(d.Latency.Seconds())
		}
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
