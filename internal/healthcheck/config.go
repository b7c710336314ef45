package healthcheck

import "time"

// Config controls how dependency probes are bounded and whether a per-target
// circuit breaker short-circuits repeatedly failing targets.
type Config struct {
	Timeout          time.Duration
	BreakerThreshold int // 0 disables the breaker
	BreakerDuration  time.Duration
}

// DefaultConfig returns the probe defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout:          2 * time.Second,
		BreakerThreshold: 0,
		BreakerDuration:  30 * time.Second,
	}
}
