// Package messaging publishes health transition events to RabbitMQ.
package messaging

import "time"

// HealthChangedEvent is published when the composite status of this service changes.
type HealthChangedEvent struct {
	EventID        string    `json:"eventId"`
	Timestamp      time.Time `json:"timestamp"`
	ServiceID      string    `json:"serviceId"`
	PreviousStatus string    `json:"previousStatus"`
	CurrentStatus  string    `json:"currentStatus"`
}

// DependencyHealthChangedEvent is published when a probed dependency changes status.
type DependencyHealthChangedEvent struct {
	EventID        string    `json:"eventId"`
	Timestamp      time.Time `json:"timestamp"`
	ServiceID      string    `json:"serviceId"`
	Dependency     string    `json:"dependency"`
	PreviousStatus string    `json:"previousStatus"`
	CurrentStatus  string    `json:"currentStatus"`
	Message        string    `json:"message,omitempty"`
}
