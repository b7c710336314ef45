package healthcheck

import (
	"sync"

	"github.com/toska-mesh/hitcounter/internal/types"
)

// Transition is a status change observed for one key. Dependency is false
// for the composite service status.
type Transition struct {
	Key        string
	Dependency bool
	Previous   types.HealthStatus
	Current    types.HealthStatus
	Message    string
}

type trackerKey struct {
	dependency bool
	name       string
}

// Tracker remembers the last status seen per key. The first observation of a
// key only records it; later observations report a Transition when the
// status differs. Service and dependency names never share a key.
type Tracker struct {
	mu   sync.Mutex
	last map[trackerKey]types.HealthStatus
}

func NewTracker() *Tracker {
	return &Tracker{last: make(map[trackerKey]types.HealthStatus)}
}

func (t *Tracker) observe(k trackerKey, status types.HealthStatus, message string) (Transition, bool) {
	prev, seen := t.last[k]
	t.last[k] = status
	if !seen || prev == status {
		return Transition{}, false
	}
	return Transition{Key: k.name, Dependency: k.dependency, Previous: prev, Current: status, Message: message}, true
}

// Changes observes the composite status and each dependency and returns
// every transition, composite first.
func (t *Tracker) Changes(r Report) []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Transition
	if tr, ok := t.observe(trackerKey{name: r.Service}, r.Status, ""); ok {
		out = append(out, tr)
	}
	for _, d := range r.Dependencies {
		if tr, ok := t.observe(trackerKey{dependency: true, name: d.Target}, d.Status, d.Message); ok {
			out = append(out, tr)
		}
	}
	return out
}
