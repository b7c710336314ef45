// Package healthcheck probes dependent services and folds their results
// together with local resource checks into one composite health report.
package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/toska-mesh/hitcounter/internal/types"
)

// Result is the outcome of one check. Dependencies carry URL, probe type and
// latency; local resources carry only a name, status and message.
type Result struct {
	Target    string
	URL       string
	Status    types.HealthStatus
	Message   string
	ProbeType string
	Latency   time.Duration
}

func (r Result) MarshalJSON() ([]byte, error) {
	type wire struct {
		Target    string             `json:"target"`
		URL       string             `json:"url,omitempty"`
		Status    types.HealthStatus `json:"status"`
		Message   string             `json:"message,omitempty"`
		ProbeType string             `json:"probe,omitempty"`
		LatencyMS *int64             `json:"latency_ms,omitempty"`
	}
	w := wire{
		Target:    r.Target,
		URL:       r.URL,
		Status:    r.Status,
		Message:   r.Message,
		ProbeType: r.ProbeType,
	}
	if r.ProbeType != "" {
		ms := r.Latency.Milliseconds()
		w.LatencyMS = &ms
	}
	return json.Marshal(w)
}

// Resolver looks up a healthy instance of a service and returns its base URL
// (scheme://host:port). The Consul registry implements it.
type Resolver interface {
	ResolveService(ctx context.Context, name string) (string, error)
}

// Prober runs dependency probes. It is safe for concurrent use.
type Prober struct {
	config   Config
	client   *http.Client
	resolver Resolver
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewProber creates a Prober. resolver may be nil, in which case consul://
// targets report Unreachable.
func NewProber(config Config, resolver Resolver, logger *slog.Logger) *Prober {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Prober{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		resolver: resolver,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// ProbeAll probes every target concurrently and returns the results in the
// order of targets. A slow or failing target never affects the others.
func (p *Prober) ProbeAll(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))

	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			results[i] = p.Probe(ctx, t)
		}(i, t)
	}
	wg.Wait()

	return results
}

// Probe checks a single target within the configured timeout.
func (p *Prober) Probe(ctx context.Context, t Target) Result {
	res := Result{Target: t.Name, URL: t.URL, ProbeType: t.ProbeType()}

	breaker := p.breaker(t)
	if breaker != nil && !breaker.Allow() {
		res.Status = types.HealthUnreachable
		res.Message = "circuit open"
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	switch res.ProbeType {
	case ProbeHTTP:
		res.Status, res.Message = p.httpProbe(ctx, t.URL)
	case ProbeTCP:
		res.Status, res.Message = p.tcpProbe(ctx, t.URL)
	case ProbeGRPC:
		res.Status, res.Message = p.grpcProbe(ctx, t.URL)
	case ProbeConsul:
		res.Status, res.Message = p.consulProbe(ctx, t.URL)
	default:
		res.Status, res.Message = types.HealthUnreachable, "unsupported target"
	}
	res.Latency = time.Since(start)

	if breaker != nil {
		breaker.Record(res.Status == types.HealthHealthy)
	}

	if res.Status != types.HealthHealthy {
		p.logger.Warn("dependency probe failed",
			"target", t.Name,
			"url", t.URL,
			"status", res.Status.String(),
			"message", res.Message,
		)
	}
	return res
}

func (p *Prober) httpProbe(ctx context.Context, target string) (types.HealthStatus, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return types.HealthUnreachable, fmt.Sprintf("request error: %v", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return types.HealthUnreachable, transportMessage(ctx, err, p.config.Timeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return types.HealthHealthy, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return types.HealthDegraded, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

func (p *Prober) tcpProbe(ctx context.Context, target string) (types.HealthStatus, string) {
	u, err := url.Parse(target)
	if err != nil {
		return types.HealthUnreachable, fmt.Sprintf("invalid address: %v", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return types.HealthUnreachable, transportMessage(ctx, err, p.config.Timeout)
	}
	conn.Close()

	return types.HealthHealthy, "TCP connection successful"
}

func (p *Prober) grpcProbe(ctx context.Context, target string) (types.HealthStatus, string) {
	u, err := url.Parse(target)
	if err != nil {
		return types.HealthUnreachable, fmt.Sprintf("invalid address: %v", err)
	}

	conn, err := grpc.NewClient(u.Host, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return types.HealthUnreachable, fmt.Sprintf("grpc client: %v", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: strings.TrimPrefix(u.Path, "/"),
	})
	if err != nil {
		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
			return types.HealthUnreachable, transportMessage(ctx, err, p.config.Timeout)
		default:
			return types.HealthDegraded, fmt.Sprintf("grpc %s", status.Code(err))
		}
	}

	if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
		return types.HealthHealthy, resp.GetStatus().String()
	}
	return types.HealthDegraded, resp.GetStatus().String()
}

func (p *Prober) consulProbe(ctx context.Context, target string) (types.HealthStatus, string) {
	if p.resolver == nil {
		return types.HealthUnreachable, "service registry not configured"
	}

	u, err := url.Parse(target)
	if err != nil {
		return types.HealthUnreachable, fmt.Sprintf("invalid address: %v", err)
	}

	base, err := p.resolver.ResolveService(ctx, u.Host)
	if err != nil {
		return types.HealthUnreachable, fmt.Sprintf("resolve %s: %v", u.Host, err)
	}

	path := u.Path
	if path == "" {
		path = DefaultHealthPath
	}
	return p.httpProbe(ctx, strings.TrimSuffix(base, "/")+path)
}

func (p *Prober) breaker(t Target) *Breaker {
	if p.config.BreakerThreshold <= 0 {
		return nil
	}

	key := t.Name + "|" + t.URL

	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.breakers[key]; ok {
		return b
	}
	b := NewBreaker(p.config.BreakerThreshold, p.config.BreakerDuration)
	p.breakers[key] = b
	return b
}

func transportMessage(ctx context.Context, err error, timeout time.Duration) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("timed out after %s", timeout)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Sprintf("timed out after %s", timeout)
	}
	return fmt.Sprintf("probe failed: %v", err)
}
