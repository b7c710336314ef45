package healthcheck

import (
	"net/http"
	"time"

	"github.com/toska-mesh/hitcounter/internal/types"
)

// Local resource names, in report order.
const (
	ResourceDurableStore = "durable_store"
	ResourceCache        = "cache"
)

// Report is the composite health of this service.
type Report struct {
	Service      string             `json:"service"`
	Status       types.HealthStatus `json:"status"`
	CheckedAt    time.Time          `json:"checked_at"`
	Resources    []Result           `json:"resources"`
	Dependencies []Result           `json:"dependencies"`
}

// Compose folds local resource checks and dependency results into a report.
// The service is Healthy only when every resource is Healthy or Unconfigured
// and every dependency is Healthy. Anything else is Degraded.
func Compose(service string, resources, dependencies []Result) Report {
	if resources == nil {
		resources = []Result{}
	}
	if dependencies == nil {
		dependencies = []Result{}
	}

	status := types.HealthHealthy
	for _, r := range resources {
		if !r.Status.OK() {
			status = types.HealthDegraded
		}
	}
	for _, d := range dependencies {
		if d.Status != types.HealthHealthy {
			status = types.HealthDegraded
		}
	}

	return Report{
		Service:      service,
		Status:       status,
		CheckedAt:    time.Now().UTC(),
		Resources:    resources,
		Dependencies: dependencies,
	}
}

// HTTPStatus is 200 for a Healthy report and 503 otherwise.
func (r Report) HTTPStatus() int {
	if r.Status == types.HealthHealthy {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
