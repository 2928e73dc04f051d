package domain

import "time"

// CircuitState mirrors sony/gobreaker's three states without importing the
// gobreaker package into domain.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerStats summarizes one named remote dependency's breaker.
// No handler populates it; HealthResponse does not include breaker stats.
type CircuitBreakerStats struct {
	Name        string       `json:"name"`
	State       CircuitState `json:"state"`
	Requests    uint32       `json:"requests"`
	Failures    uint32       `json:"failures"`
	LastChanged time.Time    `json:"last_changed"`
}

// WarmupComponent describes one collaborator by name and initialization
// outcome. POST /warmup does not use it: WarmupResponse reports each
// component as a plain name-to-status string map.
type WarmupComponent struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ready", "error"
	Message string `json:"message,omitempty"`
}
