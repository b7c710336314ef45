// Package consul registers this service with a Consul agent, keeps its TTL
// check in step with the composite health, and resolves consul:// dependency
// targets to a healthy instance.
package consul

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/toska-mesh/hitcounter/internal/types"
)

// ErrNoHealthyInstance is returned by ResolveService when nothing passes.
var ErrNoHealthyInstance = errors.New("no healthy instance")

// Registration describes this process to Consul.
type Registration struct {
	ServiceName string
	ServiceID   string
	Address     string
	Port        int
	Metadata    map[string]string
	TTL         time.Duration
}

// Registry is a thin wrapper over the Consul agent and health endpoints.
type Registry struct {
	client *api.Client
	logger *slog.Logger

	mu   sync.Mutex
	next map[string]int // round-robin cursor per resolved service
}

// NewRegistry creates a Registry for the agent at addr. An empty addr uses the
// Consul client defaults (CONSUL_HTTP_ADDR or 127.0.0.1:8500).
func NewRegistry(addr string, logger *slog.Logger) (*Registry, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}

	return &Registry{client: client, logger: logger, next: make(map[string]int)}, nil
}

func checkID(serviceID string) string {
	return "service:" + serviceID
}

// Register registers the service with a TTL check. The check starts in the
// warning state until the first health computation reports in.
func (r *Registry) Register(ctx context.Context, reg Registration) error {
	ttl := reg.TTL
	if ttl < 10*time.Second {
		ttl = 10 * time.Second
	}

	svc := &api.AgentServiceRegistration{
		ID:      reg.ServiceID,
		Name:    reg.ServiceName,
		Address: reg.Address,
		Port:    reg.Port,
		Meta:    reg.Metadata,
		Check: &api.AgentServiceCheck{
			CheckID:                        checkID(reg.ServiceID),
			Name:                           reg.ServiceName + " composite health",
			TTL:                            ttl.String(),
			Status:                         api.HealthWarning,
			DeregisterCriticalServiceAfter: (5 * time.Minute).String(),
		},
	}

	opts := api.ServiceRegisterOpts{}.WithContext(ctx)
	if err := r.client.Agent().ServiceRegisterOpts(svc, opts); err != nil {
		return fmt.Errorf("consul register: %w", err)
	}

	r.logger.Info("registered service", "service_id", reg.ServiceID, "service_name", reg.ServiceName, "ttl", ttl)
	return nil
}

// Deregister removes the service from the local agent.
func (r *Registry) Deregister(ctx context.Context, serviceID string) error {
	q := (&api.QueryOptions{}).WithContext(ctx)
	if err := r.client.Agent().ServiceDeregisterOpts(serviceID, q); err != nil {
		return fmt.Errorf("consul deregister: %w", err)
	}

	r.logger.Info("deregistered service", "service_id", serviceID)
	return nil
}

// UpdateHealth pushes a composite status into the service's TTL check.
func (r *Registry) UpdateHealth(ctx context.Context, serviceID string, status types.HealthStatus, output string) error {
	q := (&api.QueryOptions{}).WithContext(ctx)
	if err := r.client.Agent().UpdateTTLOpts(checkID(serviceID), output, ttlStatus(status), q); err != nil {
		return fmt.Errorf("consul update ttl: %w", err)
	}
	return nil
}

// ResolveService returns scheme://address:port of an instance of name whose
// checks all pass. Successive calls rotate through the passing instances.
func (r *Registry) ResolveService(ctx context.Context, name string) (string, error) {
	q := (&api.QueryOptions{}).WithContext(ctx)
	entries, _, err := r.client.Health().Service(name, "", false, q)
	if err != nil {
		return "", fmt.Errorf("consul health service %s: %w", name, err)
	}

	var candidates []string
	for _, e := range entries {
		if e.Service == nil || mapHealthStatus(e.Checks) != types.HealthHealthy {
			continue
		}

		host := e.Service.Address
		if host == "" && e.Node != nil {
			host = e.Node.Address
		}
		if host == "" {
			continue
		}

		scheme := "http"
		if s := e.Service.Meta["scheme"]; s != "" {
			scheme = s
		}
		candidates = append(candidates, scheme+"://"+net.JoinHostPort(host, strconv.Itoa(e.Service.Port)))
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("%s: %w", name, ErrNoHealthyInstance)
	}

	r.mu.Lock()
	i := r.next[name] % len(candidates)
	r.next[name] = i + 1
	r.mu.Unlock()

	return candidates[i], nil
}

func ttlStatus(status types.HealthStatus) string {
	switch status {
	case types.HealthHealthy:
		return api.HealthPassing
	case types.HealthUnreachable:
		return api.HealthCritical
	default:
		return api.HealthWarning
	}
}

func mapHealthStatus(checks api.HealthChecks) types.HealthStatus {
	if len(checks) == 0 {
		return types.HealthUnconfigured
	}

	degraded := false
	for _, c := range checks {
		switch c.Status {
		case api.HealthCritical, api.HealthMaint:
			return types.HealthUnreachable
		case api.HealthWarning:
			degraded = true
		case api.HealthPassing:
		default:
			degraded = true
		}
	}

	if degraded {
		return types.HealthDegraded
	}
	return types.HealthHealthy
}
