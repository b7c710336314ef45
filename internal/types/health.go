// Package types defines shared domain types used across internal packages.
package types

import "fmt"

// HealthStatus represents the health state of a local resource, a dependency,
// or the service as a whole.
type HealthStatus int

const (
	HealthUnconfigured HealthStatus = iota // resource intentionally absent
	HealthHealthy
	HealthDegraded
	HealthUnreachable
)

func (s HealthStatus) String() string {
	switch s {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnreachable:
		return "Unreachable"
	default:
		return "Unconfigured"
	}
}

// OK reports whether the status counts as passing for a local resource.
// An unconfigured resource is absent on purpose and does not degrade the service.
func (s HealthStatus) OK() bool {
	return s == HealthHealthy || s == HealthUnconfigured
}

// MarshalText renders the status by name so JSON bodies read "Healthy" rather than 1.
func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name produced by MarshalText.
func (s *HealthStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Healthy":
		*s = HealthHealthy
	case "Degraded":
		*s = HealthDegraded
	case "Unreachable":
		*s = HealthUnreachable
	case "Unconfigured":
		*s = HealthUnconfigured
	default:
		return fmt.Errorf("unknown health status %q", string(b))
	}
	return nil
}
