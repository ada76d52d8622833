package types

import "time"

// HealthState is the last probed state of a backend.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// ServiceRoute maps a backend microservice to the resource type it owns.
// Routes are loaded from static configuration; only the health fields change
// at runtime, updated by the gateway's periodic probes.
type ServiceRoute struct {
	Name         string      `json:"name"`
	BaseURL      string      `json:"base_url"`
	ResourceType string      `json:"resource_type"`
	Health       HealthState `json:"health"`
	LastProbe    time.Time   `json:"last_probe,omitzero"`
}
