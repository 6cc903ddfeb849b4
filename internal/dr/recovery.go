package dr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oakmere/drguard/internal/alerting"
	"github.com/oakmere/drguard/internal/backup"
	"github.com/oakmere/drguard/internal/events"
)

// StepType selects the handler a recovery step dispatches to.
type StepType string

const (
	StepDatabase      StepType = "database"
	StepService       StepType = "service"
	StepConfiguration StepType = "configuration"
	StepValidation    StepType = "validation"
	StepNotification  StepType = "notification"
)

// Well-known step IDs in the standard plan.
const (
	stepRestoreDatabase  = "restore-database"
	stepRestoreDocuments = "restore-documents"
	stepStartServices    = "start-services"
	stepValidateRecovery = "validate-recovery"
)

// RecoveryStep is one unit of a recovery plan. A step must not start
// until every step named in Dependencies has completed.
type RecoveryStep struct {
	StepID       string        `json:"step_id"`
	Name         string        `json:"name"`
	Type         StepType      `json:"type"`
	Timeout      time.Duration `json:"timeout"`
	RetryCount   int           `json:"retry_count"`
	Dependencies []string      `json:"dependencies,omitempty"`
}

// RecoveryPlan is an ordered, dependency-aware sequence of steps built
// fresh for each disaster-recovery invocation and discarded afterwards.
type RecoveryPlan struct {
	PlanID            string         `json:"plan_id"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	Steps             []RecoveryStep `json:"steps"`
	RollbackSteps     []RecoveryStep `json:"rollback_steps,omitempty"`
	EstimatedDuration time.Duration  `json:"estimated_duration"`
}

// BuildRecoveryPlan constructs the standard four-step plan for a
// point-in-time restore. The documents step no-ops when the options do
// not ask for document restoration; configuration restore rides along
// the database restore, matching the backup engine's option flags.
func (o *Orchestrator) BuildRecoveryPlan(opts backup.RestoreOptions) (*RecoveryPlan, error) {
	if opts.BackupID == "" {
		return nil, errors.New("dr: recovery requires a backup id")
	}

	steps := []RecoveryStep{
		{
			StepID:     stepRestoreDatabase,
			Name:       "Restore database from backup",
			Type:       StepDatabase,
			Timeout:    30 * time.Minute,
			RetryCount: 2,
		},
		{
			StepID:       stepRestoreDocuments,
			Name:         "Restore document storage",
			Type:         StepService,
			Timeout:      30 * time.Minute,
			RetryCount:   2,
			Dependencies: []string{stepRestoreDatabase},
		},
		{
			StepID:       stepStartServices,
			Name:         "Start application services",
			Type:         StepService,
			Timeout:      10 * time.Minute,
			RetryCount:   3,
			Dependencies: []string{stepRestoreDatabase, stepRestoreDocuments},
		},
		{
			StepID:       stepValidateRecovery,
			Name:         "Validate recovered system health",
			Type:         StepValidation,
			Timeout:      5 * time.Minute,
			RetryCount:   1,
			Dependencies: []string{stepStartServices},
		},
	}

	var estimated time.Duration
	for _, s := range steps {
		estimated += s.Timeout
	}

	return &RecoveryPlan{
		PlanID:            uuid.NewString(),
		Name:              fmt.Sprintf("recover from backup %s", opts.BackupID),
		Description:       "full-system point-in-time recovery",
		Steps:             steps,
		EstimatedDuration: estimated,
	}, nil
}

// PerformDisasterRecovery builds and executes a recovery plan. Any
// step failure aborts the operation, emits recovery_failed and
// propagates the error; success emits recovery_completed.
func (o *Orchestrator) PerformDisasterRecovery(ctx context.Context, opts backup.RestoreOptions) error {
	plan, err := o.BuildRecoveryPlan(opts)
	if err != nil {
		return err
	}

	o.logger.Info("disaster recovery started",
		zap.String("plan_id", plan.PlanID),
		zap.String("backup_id", opts.BackupID),
		zap.Bool("dry_run", opts.DryRun))

	if err := o.ExecuteRecoveryPlan(ctx, plan, opts); err != nil {
		if o.metrics != nil {
			o.metrics.ObserveRecovery("failed")
		}
		_ = o.bus.Publish(ctx, events.Event{
			ID:      plan.PlanID,
			Type:    events.RecoveryFailed,
			Region:  o.CurrentRegion(),
			Message: err.Error(),
		})
		alerting.Dispatch(o.alerter, o.logger, alerting.Alert{
			Severity: alerting.SeverityCritical,
			Title:    "disaster recovery failed",
			Message:  err.Error(),
			Region:   o.CurrentRegion(),
		})
		return err
	}

	if o.metrics != nil {
		o.metrics.ObserveRecovery("completed")
	}
	_ = o.bus.Publish(ctx, events.Event{
		ID:      plan.PlanID,
		Type:    events.RecoveryCompleted,
		Region:  o.CurrentRegion(),
		Message: fmt.Sprintf("recovered from backup %s", opts.BackupID),
	})

	o.logger.Info("disaster recovery completed", zap.String("plan_id", plan.PlanID))
	return nil
}

// ExecuteRecoveryPlan runs a plan's steps in dependency order, failing
// fast the moment any step exhausts its retry budget.
func (o *Orchestrator) ExecuteRecoveryPlan(ctx context.Context, plan *RecoveryPlan, opts backup.RestoreOptions) error {
	ordered, err := topologicalSort(plan.Steps)
	if err != nil {
		return fmt.Errorf("recovery plan %s: %w", plan.PlanID, err)
	}

	for _, step := range ordered {
		if err := o.executeStepWithRetry(ctx, step, opts); err != nil {
			return fmt.Errorf("recovery step %q (%s): %w", step.Name, step.StepID, err)
		}
	}
	return nil
}

// executeStepWithRetry runs one step under its timeout, retrying up to
// its budget. RetryCount is the total number of attempts (minimum one).
func (o *Orchestrator) executeStepWithRetry(ctx context.Context, step RecoveryStep, opts backup.RestoreOptions) error {
	attempts := step.RetryCount
	if attempts <= 0 {
		attempts = 1
	}
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		err := o.executeStep(stepCtx, step, opts)
		cancel()

		if err == nil {
			o.logger.Info("recovery step completed",
				zap.String("step", step.StepID),
				zap.Int("attempt", attempt))
			return nil
		}
		if errors.Is(err, ErrUnknownStepType) {
			return err // misconfiguration, retrying cannot help
		}

		lastErr = err
		o.logger.Warn("recovery step attempt failed",
			zap.String("step", step.StepID),
			zap.String("region", o.CurrentRegion()),
			zap.Int("attempt", attempt),
			zap.Int("attempts_allowed", attempts),
			zap.Error(err))
	}
	return lastErr
}

// executeStep dispatches a step to its type-specific handler.
func (o *Orchestrator) executeStep(ctx context.Context, step RecoveryStep, opts backup.RestoreOptions) error {
	switch step.Type {
	case StepDatabase:
		return o.backup.RestoreFromBackup(ctx, backup.RestoreOptions{
			BackupID:             opts.BackupID,
			RestoreConfiguration: opts.RestoreConfiguration,
			DryRun:               opts.DryRun,
		})

	case StepService:
		return o.executeServiceStep(ctx, step, opts)

	case StepConfiguration:
		return o.backup.RestoreFromBackup(ctx, backup.RestoreOptions{
			BackupID:             opts.BackupID,
			RestoreConfiguration: true,
			DryRun:               opts.DryRun,
		})

	case StepValidation:
		return o.verifyRegion(ctx, o.CurrentRegion())

	case StepNotification:
		alerting.Dispatch(o.alerter, o.logger, alerting.Alert{
			Severity: alerting.SeverityInfo,
			Title:    step.Name,
			Region:   o.CurrentRegion(),
		})
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownStepType, step.Type)
	}
}

func (o *Orchestrator) executeServiceStep(ctx context.Context, step RecoveryStep, opts backup.RestoreOptions) error {
	switch step.StepID {
	case stepRestoreDocuments:
		if !opts.RestoreDocuments {
			o.logger.Info("document restore not requested, skipping",
				zap.String("step", step.StepID))
			return nil
		}
		return o.backup.RestoreFromBackup(ctx, backup.RestoreOptions{
			BackupID:         opts.BackupID,
			RestoreDocuments: true,
			DryRun:           opts.DryRun,
		})
	default:
		return o.driver.StartServices(ctx, o.CurrentRegion())
	}
}

// topologicalSort orders steps so every step follows its dependencies.
// Unknown dependencies and cycles are configuration errors.
func topologicalSort(steps []RecoveryStep) ([]RecoveryStep, error) {
	byID := make(map[string]RecoveryStep, len(steps))
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))

	for _, s := range steps {
		if _, dup := byID[s.StepID]; dup {
			return nil, fmt.Errorf("duplicate step id %q", s.StepID)
		}
		byID[s.StepID] = s
		indegree[s.StepID] = 0
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("step %q depends on unknown step %q", s.StepID, dep)
			}
			indegree[s.StepID]++
			dependents[dep] = append(dependents[dep], s.StepID)
		}
	}

	// Kahn's algorithm, preserving declaration order among ready steps.
	var queue []string
	for _, s := range steps {
		if indegree[s.StepID] == 0 {
			queue = append(queue, s.StepID)
		}
	}

	ordered := make([]RecoveryStep, 0, len(steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])

		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(ordered) != len(steps) {
		return nil, errors.New("dependency cycle in recovery plan")
	}
	return ordered, nil
}
