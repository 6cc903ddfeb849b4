package dr

import (
	"errors"
	"time"

	"github.com/oakmere/drguard/internal/health"
)

// RegionUnknown marks the active region as inconsistent. Entered only
// when a failover's rollback itself fails; requires operator
// intervention to leave.
const RegionUnknown = "unknown"

// FailoverType distinguishes operator-triggered from threshold-triggered
// failovers.
type FailoverType string

const (
	FailoverAutomatic FailoverType = "automatic"
	FailoverManual    FailoverType = "manual"
)

// FailoverStatus is the lifecycle state of a failover attempt. The
// transitions are strictly initiated -> in_progress -> one of
// completed, failed, rolled_back.
type FailoverStatus string

const (
	FailoverInitiated  FailoverStatus = "initiated"
	FailoverInProgress FailoverStatus = "in_progress"
	FailoverCompleted  FailoverStatus = "completed"
	FailoverFailed     FailoverStatus = "failed"
	FailoverRolledBack FailoverStatus = "rolled_back"
)

// FailoverEvent records one failover attempt. Callers always receive a
// snapshot copy; the live value is mutated only inside a single
// InitiateFailover call.
type FailoverEvent struct {
	EventID          string         `json:"event_id"`
	Timestamp        time.Time      `json:"timestamp"`
	Type             FailoverType   `json:"type"`
	Reason           string         `json:"reason"`
	FromRegion       string         `json:"from_region"`
	ToRegion         string         `json:"to_region"`
	Status           FailoverStatus `json:"status"`
	Duration         time.Duration  `json:"duration,omitempty"`
	AffectedServices []string       `json:"affected_services"`
	ErrorMessage     string         `json:"error_message,omitempty"`
}

// snapshot returns a copy safe to hand to concurrent readers.
func (e FailoverEvent) snapshot() FailoverEvent {
	out := e
	out.AffectedServices = make([]string, len(e.AffectedServices))
	copy(out.AffectedServices, e.AffectedServices)
	return out
}

// StatusSnapshot is the externally visible orchestrator state.
type StatusSnapshot struct {
	CurrentRegion        string         `json:"current_region"`
	IsFailoverInProgress bool           `json:"is_failover_in_progress"`
	ConsecutiveFailures  int            `json:"consecutive_failures"`
	LastHealthCheck      time.Time      `json:"last_health_check"`
	HealthStatus         health.Status  `json:"health_status"`
	LastFailover         *FailoverEvent `json:"last_failover,omitempty"`
}

// Sentinel errors for control-flow failures.
var (
	// ErrFailoverInProgress rejects a second concurrent failover
	// attempt. Callers treat it as retry-later, not a system fault.
	ErrFailoverInProgress = errors.New("dr: failover already in progress")

	// ErrRegionUnhealthy is returned when region verification finds
	// unhealthy services.
	ErrRegionUnhealthy = errors.New("dr: region verification failed")

	// ErrUnknownStepType rejects a recovery step the executor has no
	// handler for.
	ErrUnknownStepType = errors.New("dr: unknown recovery step type")

	// ErrRollbackFailed marks the escalated case where a failed
	// failover could not be rolled back.
	ErrRollbackFailed = errors.New("dr: rollback failed")
)
