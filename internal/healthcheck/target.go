package healthcheck

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Probe types, also reported in each result.
const (
	ProbeHTTP   = "http"
	ProbeTCP    = "tcp"
	ProbeGRPC   = "grpc"
	ProbeConsul = "consul"
)

// DefaultHealthPath is appended to http(s) targets that carry no path.
const DefaultHealthPath = "/health"

// APIServiceName is the target name given to API_SERVICE_URL.
const APIServiceName = "api_service"

var validate = validator.New()

// Target is one configured dependency.
type Target struct {
	Name string
	URL  string
}

// ProbeType derives the probe kind from the URL scheme.
func (t Target) ProbeType() string {
	u, err := url.Parse(t.URL)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return ProbeHTTP
	case "tcp":
		return ProbeTCP
	case "grpc":
		return ProbeGRPC
	case "consul":
		return ProbeConsul
	default:
		return ""
	}
}

// ParseTarget parses a single "name=url" or bare "url" entry. A bare URL is
// named after its host and port. Plain http(s) URLs without a path get DefaultHealthPath.
func ParseTarget(entry string) (Target, error) {
	entry = strings.TrimSpace(entry)
	name, raw := "", entry

	if eq := strings.Index(entry, "="); eq > 0 {
		if sep := strings.Index(entry, "://"); sep < 0 || eq < sep {
			name = strings.TrimSpace(entry[:eq])
			raw = strings.TrimSpace(entry[eq+1:])
		}
	}

	if err := validate.Var(raw, "required,url"); err != nil {
		return Target{}, fmt.Errorf("invalid dependency url %q: %w", raw, err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parse dependency url %q: %w", raw, err)
	}
	if u.Host == "" {
		return Target{}, fmt.Errorf("dependency url %q has no host", raw)
	}

	t := Target{Name: name, URL: raw}
	switch t.ProbeType() {
	case "":
		return Target{}, fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	case ProbeHTTP:
		if u.Path == "" {
			u.Path = DefaultHealthPath
			t.URL = u.String()
		}
	case ProbeTCP, ProbeGRPC:
		if u.Port() == "" {
			return Target{}, fmt.Errorf("dependency url %q needs a port", raw)
		}
	}

	if t.Name == "" {
		t.Name = u.Host
	}
	return t, nil
}

// ParseTargets parses a comma separated DEPENDENCY_TARGETS list, plus the
// optional API service URL which is appended as APIServiceName. Invalid
// entries are logged and dropped. A repeated name gets a numeric suffix so
// every target reports under its own name. The result keeps configuration order.
func ParseTargets(list, apiServiceURL string, logger *slog.Logger) []Target {
	targets := make([]Target, 0)
	taken := make(map[string]bool)

	entries := strings.Split(list, ",")
	if apiServiceURL != "" {
		entries = append(entries, APIServiceName+"="+apiServiceURL)
	}

	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		t, err := ParseTarget(entry)
		if err != nil {
			logger.Warn("dropping dependency target", "entry", entry, "error", err)
			continue
		}
		if taken[t.Name] {
			name := uniqueName(t.Name, taken)
			logger.Warn("renaming duplicate dependency target", "name", t.Name, "renamed", name, "url", t.URL)
			t.Name = name
		}
		taken[t.Name] = true
		targets = append(targets, t)
	}
	return targets
}

func uniqueName(name string, taken map[string]bool) string {
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !taken[candidate] {
			return candidate
		}
	}
}
