package consul

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hashicorp/consul/api"

	"github.com/toska-mesh/hitcounter/internal/types"
)

func TestMapHealthStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks api.HealthChecks
		want   types.HealthStatus
	}{
		{
			name:   "no checks is unconfigured",
			checks: nil,
			want:   types.HealthUnconfigured,
		},
		{
			name:   "all passing is healthy",
			checks: api.HealthChecks{{Status: "passing"}, {Status: "passing"}},
			want:   types.HealthHealthy,
		},
		{
			name:   "critical is unreachable",
			checks: api.HealthChecks{{Status: "passing"}, {Status: "critical"}},
			want:   types.HealthUnreachable,
		},
		{
			name:   "maintenance is unreachable",
			checks: api.HealthChecks{{Status: "maintenance"}},
			want:   types.HealthUnreachable,
		},
		{
			name:   "warning is degraded",
			checks: api.HealthChecks{{Status: "passing"}, {Status: "warning"}},
			want:   types.HealthDegraded,
		},
		{
			name:   "critical wins over warning",
			checks: api.HealthChecks{{Status: "warning"}, {Status: "critical"}},
			want:   types.HealthUnreachable,
		},
		{
			name:   "unrecognised status is degraded",
			checks: api.HealthChecks{{Status: "something_else"}},
			want:   types.HealthDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapHealthStatus(tt.checks); got != tt.want {
				t.Errorf("mapHealthStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTTLStatus(t *testing.T) {
	tests := []struct {
		status types.HealthStatus
		want   string
	}{
		{types.HealthHealthy, api.HealthPassing},
		{types.HealthDegraded, api.HealthWarning},
		{types.HealthUnreachable, api.HealthCritical},
		{types.HealthUnconfigured, api.HealthWarning},
	}

	for _, tt := range tests {
		if got := ttlStatus(tt.status); got != tt.want {
			t.Errorf("ttlStatus(%v) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

// fakeAgent serves the handful of Consul HTTP endpoints the registry calls.
type fakeAgent struct {
	mu       sync.Mutex
	requests []string
	ttl      map[string]string
	entries  []*api.ServiceEntry
}

func (f *fakeAgent) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("PUT /v1/agent/service/register", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
	})
	mux.HandleFunc("PUT /v1/agent/service/deregister/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
	})
	mux.HandleFunc("PUT /v1/agent/check/update/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body struct{ Status, Output string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.ttl[r.PathValue("id")] = body.Status
		f.mu.Unlock()
	})
	mux.HandleFunc("GET /v1/health/service/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("X-Consul-Index", "1")
		w.Header().Set("X-Consul-LastContact", "0")
		w.Header().Set("X-Consul-KnownLeader", "true")
		w.Header().Set("Content-Type", "application/json")

		var out []*api.ServiceEntry
		for _, e := range f.entries {
			if e.Service.Service == r.PathValue("name") {
				out = append(out, e)
			}
		}
		if out == nil {
			out = []*api.ServiceEntry{}
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	return mux
}

func (f *fakeAgent) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
}

func newTestRegistry(t *testing.T, f *fakeAgent) *Registry {
	t.Helper()
	if f.ttl == nil {
		f.ttl = make(map[string]string)
	}
	ts := httptest.NewServer(f.handler())
	t.Cleanup(ts.Close)

	reg, err := NewRegistry(ts.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestRegistry_RegisterUpdateDeregister(t *testing.T) {
	f := &fakeAgent{}
	reg := newTestRegistry(t, f)
	ctx := context.Background()

	if err := reg.Register(ctx, Registration{ServiceName: "hitcounter", ServiceID: "web_app_01", Port: 5000}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.UpdateHealth(ctx, "web_app_01", types.HealthUnreachable, "dependency down"); err != nil {
		t.Fatalf("UpdateHealth: %v", err)
	}
	if err := reg.Deregister(ctx, "web_app_01"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	want := []string{
		"PUT /v1/agent/service/register",
		"PUT /v1/agent/check/update/service:web_app_01",
		"PUT /v1/agent/service/deregister/web_app_01",
	}
	if len(f.requests) != len(want) {
		t.Fatalf("requests = %v, want %v", f.requests, want)
	}
	for i := range want {
		if f.requests[i] != want[i] {
			t.Errorf("request[%d] = %q, want %q", i, f.requests[i], want[i])
		}
	}
	if got := f.ttl["service:web_app_01"]; got != api.HealthCritical {
		t.Errorf("ttl status = %q, want %q", got, api.HealthCritical)
	}
}

func TestRegistry_ResolveService(t *testing.T) {
	f := &fakeAgent{entries: []*api.ServiceEntry{
		{
			Node:    &api.Node{Node: "n1", Address: "10.0.0.1"},
			Service: &api.AgentService{ID: "api-1", Service: "api", Address: "10.0.0.5", Port: 8080},
			Checks:  api.HealthChecks{{Status: api.HealthCritical}},
		},
		{
			Node:    &api.Node{Node: "n2", Address: "10.0.0.2"},
			Service: &api.AgentService{ID: "api-2", Service: "api", Port: 9090},
			Checks:  api.HealthChecks{{Status: api.HealthPassing}},
		},
	}}
	reg := newTestRegistry(t, f)

	got, err := reg.ResolveService(context.Background(), "api")
	if err != nil {
		t.Fatalf("ResolveService: %v", err)
	}
	if got != "http://10.0.0.2:9090" {
		t.Fatalf("ResolveService = %q, want node address fallback http://10.0.0.2:9090", got)
	}

	_, err = reg.ResolveService(context.Background(), "billing")
	if !errors.Is(err, ErrNoHealthyInstance) {
		t.Fatalf("expected ErrNoHealthyInstance, got %v", err)
	}
}

func TestRegistry_ResolveServiceRotates(t *testing.T) {
	f := &fakeAgent{entries: []*api.ServiceEntry{
		{
			Node:    &api.Node{Node: "n1", Address: "10.0.0.1"},
			Service: &api.AgentService{ID: "api-1", Service: "api", Address: "10.0.0.5", Port: 8080},
			Checks:  api.HealthChecks{{Status: api.HealthPassing}},
		},
		{
			Node:    &api.Node{Node: "n2", Address: "10.0.0.2"},
			Service: &api.AgentService{ID: "api-2", Service: "api", Address: "10.0.0.6", Port: 8443, Meta: map[string]string{"scheme": "https"}},
			Checks:  api.HealthChecks{{Status: api.HealthPassing}},
		},
	}}
	reg := newTestRegistry(t, f)

	want := []string{"http://10.0.0.5:8080", "https://10.0.0.6:8443", "http://10.0.0.5:8080"}
	for i, w := range want {
		got, err := reg.ResolveService(context.Background(), "api")
		if err != nil {
			t.Fatalf("ResolveService #%d: %v", i, err)
		}
		if got != w {
			t.Errorf("ResolveService #%d = %q, want %q", i, got, w)
		}
	}
}
