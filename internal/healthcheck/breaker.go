package healthcheck

import (
	"sync"
	"time"
)

// BreakerState is the position of a probe breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker stops probing a target after threshold consecutive non-healthy
// probes. Once cooldown has elapsed a single trial probe is let through; its
// outcome either closes the breaker or re-opens it for another cooldown.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	trialOut  bool
	now       func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a probe may run now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()

	switch b.state {
	case BreakerOpen:
		return false
	case BreakerHalfOpen:
		if b.trialOut {
			return false
		}
		b.trialOut = true
		return true
	default:
		return true
	}
}

// Record feeds a probe outcome back into the breaker.
func (b *Breaker) Record(healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialOut = false

	if healthy {
		b.failures = 0
		b.state = BreakerClosed
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current state, applying any cooldown expiry first.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()
	return b.state
}

// advance moves an open breaker to half-open once the cooldown has passed.
// Callers hold b.mu.
func (b *Breaker) advance() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = BreakerHalfOpen
		b.trialOut = false
	}
}
