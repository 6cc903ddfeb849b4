package dr

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oakmere/drguard/internal/alerting"
	"github.com/oakmere/drguard/internal/events"
)

// failoverStep is one ordered sub-step of a failover transition, paired
// with the action that undoes it.
type failoverStep struct {
	name     string
	run      func(ctx context.Context) error
	rollback func(ctx context.Context) error
}

// InitiateFailover executes a full failover transition to the opposite
// region. Exactly one attempt may be in flight; a concurrent caller
// receives ErrFailoverInProgress and the running attempt is unaffected.
//
// On any sub-step or verification failure the completed sub-steps are
// rolled back in reverse order and the original error is returned. The
// failover_failed signal is always emitted before the error reaches the
// caller.
func (o *Orchestrator) InitiateFailover(ctx context.Context, reason string, manual bool) (FailoverEvent, error) {
	// Single-flight guard: check-and-set under the lock.
	o.mu.Lock()
	if o.failoverInProgress {
		o.mu.Unlock()
		return FailoverEvent{}, ErrFailoverInProgress
	}
	o.failoverInProgress = true
	from := o.currentRegion
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.failoverInProgress = false
		o.mu.Unlock()
	}()

	target := o.targetRegion(from)

	failoverType := FailoverAutomatic
	if manual {
		failoverType = FailoverManual
	}

	event := FailoverEvent{
		EventID:          uuid.NewString(),
		Timestamp:        time.Now(),
		Type:             failoverType,
		Reason:           reason,
		FromRegion:       from,
		ToRegion:         target,
		Status:           FailoverInitiated,
		AffectedServices: o.affectedServices(target),
	}
	o.recordFailoverEvent(event)

	o.logger.Info("failover initiated",
		zap.String("event_id", event.EventID),
		zap.String("type", string(failoverType)),
		zap.String("from", from),
		zap.String("to", target),
		zap.String("reason", reason))

	_ = o.bus.Publish(ctx, events.Event{
		ID:      event.EventID,
		Type:    events.FailoverStarted,
		Region:  from,
		Message: reason,
		Details: map[string]interface{}{"to_region": target, "failover_type": string(failoverType)},
	})

	// Fire-and-forget: a failed alert must never abort a failover.
	alerting.Dispatch(o.alerter, o.logger, alerting.Alert{
		Severity: alerting.SeverityCritical,
		Title:    "failover initiated",
		Message:  reason,
		Region:   from,
		Details:  map[string]interface{}{"to_region": target},
	})

	event.Status = FailoverInProgress
	o.recordFailoverEvent(event)

	steps := o.failoverSteps(from, target)
	completed, err := o.executeFailoverSteps(ctx, steps)

	if err == nil {
		o.setRegion(target)
		// The transition only counts if the target actually serves.
		if verr := o.verifyRegion(ctx, target); verr != nil {
			o.setRegion(from)
			err = fmt.Errorf("post-transition verification: %w", verr)
		}
	}

	if err != nil {
		return o.failFailover(ctx, event, completed, err)
	}

	event.Status = FailoverCompleted
	event.Duration = time.Since(event.Timestamp)
	o.recordFailoverEvent(event)
	o.history.ResetFailures()

	if o.metrics != nil {
		o.metrics.ObserveFailover(string(failoverType), string(FailoverCompleted), event.Duration.Seconds())
		o.metrics.SetActiveRegion(target, o.cfg.PrimaryRegion, o.cfg.SecondaryRegion)
	}

	o.logger.Info("failover completed",
		zap.String("event_id", event.EventID),
		zap.String("region", target),
		zap.Duration("duration", event.Duration))

	_ = o.bus.Publish(ctx, events.Event{
		ID:      event.EventID,
		Type:    events.FailoverCompleted,
		Region:  target,
		Message: fmt.Sprintf("active region is now %s", target),
		Details: map[string]interface{}{"duration_ms": event.Duration.Milliseconds()},
	})

	return event.snapshot(), nil
}

// failoverSteps builds the ordered transition plan from one region to
// another.
func (o *Orchestrator) failoverSteps(from, target string) []failoverStep {
	return []failoverStep{
		{
			name:     "stop traffic admission",
			run:      func(ctx context.Context) error { return o.driver.StopTraffic(ctx, from) },
			rollback: func(ctx context.Context) error { return o.driver.ResumeTraffic(ctx, from) },
		},
		{
			name: "confirm data-consistency checkpoint",
			run:  func(ctx context.Context) error { return o.driver.ConfirmCheckpoint(ctx, from) },
			// A checkpoint confirmation has nothing to undo.
			rollback: nil,
		},
		{
			name:     "start target services",
			run:      func(ctx context.Context) error { return o.driver.StartServices(ctx, target) },
			rollback: func(ctx context.Context) error { return o.driver.StopServices(ctx, target) },
		},
		{
			name:     "update traffic routing",
			run:      func(ctx context.Context) error { return o.driver.UpdateRouting(ctx, from, target) },
			rollback: func(ctx context.Context) error { return o.driver.RevertRouting(ctx, from, target) },
		},
	}
}

// executeFailoverSteps runs sub-steps sequentially, stopping at the
// first failure. It returns the steps that completed so they can be
// rolled back.
func (o *Orchestrator) executeFailoverSteps(ctx context.Context, steps []failoverStep) ([]failoverStep, error) {
	completed := make([]failoverStep, 0, len(steps))
	for _, step := range steps {
		o.logger.Info("failover sub-step", zap.String("step", step.name))
		if err := step.run(ctx); err != nil {
			return completed, fmt.Errorf("failover step %q: %w", step.name, err)
		}
		completed = append(completed, step)
	}
	return completed, nil
}

// failFailover finalizes a failed attempt: rollback, event state,
// signal emission, metrics. The original error is always the one
// returned.
func (o *Orchestrator) failFailover(ctx context.Context, event FailoverEvent, completed []failoverStep, cause error) (FailoverEvent, error) {
	event.Status = FailoverFailed
	event.ErrorMessage = cause.Error()
	event.Duration = time.Since(event.Timestamp)
	o.recordFailoverEvent(event)

	o.logger.Error("failover failed",
		zap.String("event_id", event.EventID),
		zap.String("from", event.FromRegion),
		zap.String("to", event.ToRegion),
		zap.Error(cause))

	if rbErr := o.rollbackFailoverSteps(ctx, completed); rbErr != nil {
		// The worst case: the system cannot self-heal. The region is
		// marked inconsistent and the operator is paged; the original
		// error still propagates.
		o.setRegion(RegionUnknown)
		o.logger.Error("failover rollback failed, region state inconsistent",
			zap.String("event_id", event.EventID),
			zap.NamedError("rollback_error", rbErr),
			zap.NamedError("original_error", cause))
		alerting.Dispatch(o.alerter, o.logger, alerting.Alert{
			Severity: alerting.SeverityCritical,
			Title:    "failover rollback failed",
			Message:  fmt.Sprintf("manual intervention required: %v (original failure: %v)", rbErr, cause),
			Region:   RegionUnknown,
		})
	} else {
		event.Status = FailoverRolledBack
		o.recordFailoverEvent(event)
	}

	if o.metrics != nil {
		o.metrics.ObserveFailover(string(event.Type), string(event.Status), event.Duration.Seconds())
	}

	// Emitted before the error propagates, unconditionally.
	_ = o.bus.Publish(ctx, events.Event{
		ID:      event.EventID,
		Type:    events.FailoverFailed,
		Region:  event.FromRegion,
		Message: cause.Error(),
		Details: map[string]interface{}{"status": string(event.Status)},
	})

	return event.snapshot(), cause
}

// rollbackFailoverSteps undoes completed sub-steps in reverse order.
func (o *Orchestrator) rollbackFailoverSteps(ctx context.Context, completed []failoverStep) error {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.rollback == nil {
			continue
		}
		o.logger.Info("rolling back failover sub-step", zap.String("step", step.name))
		if err := step.rollback(ctx); err != nil {
			return fmt.Errorf("%w: step %q: %v", ErrRollbackFailed, step.name, err)
		}
	}
	return nil
}

func (o *Orchestrator) setRegion(region string) {
	o.mu.Lock()
	o.currentRegion = region
	o.mu.Unlock()
}

func (o *Orchestrator) recordFailoverEvent(event FailoverEvent) {
	snap := event.snapshot()
	o.mu.Lock()
	o.lastFailover = &snap
	o.mu.Unlock()
}

func (o *Orchestrator) affectedServices(region string) []string {
	endpoints := o.cfg.EndpointsFor(region)
	out := make([]string, 0, len(endpoints)+1)
	for _, ep := range endpoints {
		out = append(out, ep.Service)
	}
	out = append(out, "database")
	return out
}
