package health

import "time"

// Status classifies a probe outcome or an aggregate window.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Result is the outcome of a single bounded-time check. Immutable once
// produced.
type Result struct {
	Timestamp      time.Time              `json:"timestamp"`
	Service        string                 `json:"service"`
	Endpoint       string                 `json:"endpoint"`
	Status         Status                 `json:"status"`
	ResponseTimeMs int64                  `json:"response_time_ms"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}
