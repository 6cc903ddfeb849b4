package dr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmere/drguard/internal/backup"
	"github.com/oakmere/drguard/internal/events"
)

func TestBuildRecoveryPlan(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("standard four-step plan", func(t *testing.T) {
		plan, err := env.orch.BuildRecoveryPlan(backup.RestoreOptions{BackupID: "b1"})
		require.NoError(t, err)

		require.Len(t, plan.Steps, 4)
		assert.NotEmpty(t, plan.PlanID)
		assert.Equal(t, StepDatabase, plan.Steps[0].Type)
		assert.Empty(t, plan.Steps[0].Dependencies)
		assert.Equal(t, StepService, plan.Steps[1].Type)
		assert.Equal(t, []string{"restore-database"}, plan.Steps[1].Dependencies)
		assert.Equal(t, StepService, plan.Steps[2].Type)
		assert.Equal(t, []string{"restore-database", "restore-documents"}, plan.Steps[2].Dependencies)
		assert.Equal(t, StepValidation, plan.Steps[3].Type)
		assert.Equal(t, []string{"start-services"}, plan.Steps[3].Dependencies)

		var sum time.Duration
		for _, s := range plan.Steps {
			sum += s.Timeout
		}
		assert.Equal(t, sum, plan.EstimatedDuration)
	})

	t.Run("requires backup id", func(t *testing.T) {
		_, err := env.orch.BuildRecoveryPlan(backup.RestoreOptions{})
		assert.Error(t, err)
	})
}

func TestTopologicalSort(t *testing.T) {
	step := func(id string, deps ...string) RecoveryStep {
		return RecoveryStep{StepID: id, Name: id, Type: StepNotification, Dependencies: deps}
	}

	t.Run("orders dependencies first", func(t *testing.T) {
		// Declared intentionally out of order.
		ordered, err := topologicalSort([]RecoveryStep{
			step("c", "b"),
			step("a"),
			step("b", "a"),
		})
		require.NoError(t, err)

		pos := map[string]int{}
		for i, s := range ordered {
			pos[s.StepID] = i
		}
		assert.Less(t, pos["a"], pos["b"])
		assert.Less(t, pos["b"], pos["c"])
	})

	t.Run("detects cycles", func(t *testing.T) {
		_, err := topologicalSort([]RecoveryStep{
			step("a", "b"),
			step("b", "a"),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})

	t.Run("rejects unknown dependency", func(t *testing.T) {
		_, err := topologicalSort([]RecoveryStep{step("a", "ghost")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown step")
	})

	t.Run("rejects duplicate ids", func(t *testing.T) {
		_, err := topologicalSort([]RecoveryStep{step("a"), step("a")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})
}

func TestPerformDisasterRecovery_Success(t *testing.T) {
	env := newTestEnv(t, nil)

	opts := backup.RestoreOptions{
		BackupID:             "b1",
		RestoreDocuments:     true,
		RestoreConfiguration: true,
	}
	require.NoError(t, env.orch.PerformDisasterRecovery(context.Background(), opts))

	// Database restore first (carrying the configuration flag), then
	// the document restore.
	restores := env.backup.restoreCalls()
	require.Len(t, restores, 2)
	assert.Equal(t, "b1", restores[0].BackupID)
	assert.True(t, restores[0].RestoreConfiguration)
	assert.False(t, restores[0].RestoreDocuments)
	assert.True(t, restores[1].RestoreDocuments)

	// Services were started in the active region.
	assert.Contains(t, env.driver.callList(), "StartServices:primary")

	waitFor(t, func() bool { return env.sink.has(events.RecoveryCompleted) }, "recovery_completed signal")
	assert.False(t, env.sink.has(events.RecoveryFailed))
}

func TestPerformDisasterRecovery_DatabaseStepFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backup.restoreErr = errors.New("backup archive corrupt")

	err := env.orch.PerformDisasterRecovery(context.Background(), backup.RestoreOptions{BackupID: "b1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup archive corrupt")
	assert.Contains(t, err.Error(), "restore-database")

	waitFor(t, func() bool { return env.sink.has(events.RecoveryFailed) }, "recovery_failed signal")
	// recovery_completed must never fire for this call.
	assert.False(t, env.sink.has(events.RecoveryCompleted))

	// Fail fast: dependent steps never ran.
	assert.NotContains(t, env.driver.callList(), "StartServices:primary")
}

func TestPerformDisasterRecovery_SkipsDocumentsWhenNotRequested(t *testing.T) {
	env := newTestEnv(t, nil)

	require.NoError(t, env.orch.PerformDisasterRecovery(context.Background(),
		backup.RestoreOptions{BackupID: "b1"}))

	restores := env.backup.restoreCalls()
	require.Len(t, restores, 1)
	assert.False(t, restores[0].RestoreDocuments)
}

func TestPerformDisasterRecovery_ValidationFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.primaryHealthy.Store(false)

	err := env.orch.PerformDisasterRecovery(context.Background(), backup.RestoreOptions{BackupID: "b1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegionUnhealthy)
	assert.Contains(t, err.Error(), "validate-recovery")

	waitFor(t, func() bool { return env.sink.has(events.RecoveryFailed) }, "recovery_failed signal")
}

func TestExecuteRecoveryPlan_Retries(t *testing.T) {
	t.Run("retries until budget allows success", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.backup.failFirst = 1 // first database attempt fails

		err := env.orch.PerformDisasterRecovery(context.Background(), backup.RestoreOptions{BackupID: "b1"})
		require.NoError(t, err)
		// One failed attempt plus the successful one.
		assert.GreaterOrEqual(t, len(env.backup.restoreCalls()), 2)
	})

	t.Run("exhausted budget fails fast", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.backup.failFirst = 10 // more failures than any budget

		err := env.orch.PerformDisasterRecovery(context.Background(), backup.RestoreOptions{BackupID: "b1"})
		require.Error(t, err)
		// The database step allows two attempts, no more.
		assert.Len(t, env.backup.restoreCalls(), 2)
	})
}

func TestExecuteRecoveryPlan_UnknownStepType(t *testing.T) {
	env := newTestEnv(t, nil)

	plan := &RecoveryPlan{
		PlanID: "p1",
		Steps: []RecoveryStep{
			{StepID: "weird", Name: "weird", Type: StepType("teleport"), RetryCount: 3},
		},
	}

	err := env.orch.ExecuteRecoveryPlan(context.Background(), plan, backup.RestoreOptions{BackupID: "b1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownStepType)
	// Misconfiguration is not retried.
	assert.Empty(t, env.backup.restoreCalls())
}

func TestExecuteRecoveryPlan_ConfigurationAndNotificationSteps(t *testing.T) {
	env := newTestEnv(t, nil)

	plan := &RecoveryPlan{
		PlanID: "p1",
		Steps: []RecoveryStep{
			{StepID: "cfg", Name: "restore configuration", Type: StepConfiguration, Timeout: time.Minute},
			{StepID: "notify", Name: "recovery finished", Type: StepNotification, Dependencies: []string{"cfg"}},
		},
	}

	require.NoError(t, env.orch.ExecuteRecoveryPlan(context.Background(), plan,
		backup.RestoreOptions{BackupID: "b1"}))

	restores := env.backup.restoreCalls()
	require.Len(t, restores, 1)
	assert.True(t, restores[0].RestoreConfiguration)

	waitFor(t, func() bool {
		for _, title := range env.alerter.titles() {
			if title == "recovery finished" {
				return true
			}
		}
		return false
	}, "notification step alert")
}

func TestPerformDisasterRecovery_DryRunReachesBackupSubsystem(t *testing.T) {
	env := newTestEnv(t, nil)

	require.NoError(t, env.orch.PerformDisasterRecovery(context.Background(),
		backup.RestoreOptions{BackupID: "b1", RestoreDocuments: true, DryRun: true}))

	for _, r := range env.backup.restoreCalls() {
		assert.True(t, r.DryRun)
	}
}
