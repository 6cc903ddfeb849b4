package dr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmere/drguard/internal/events"
)

func TestInitiateFailover_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	event, err := env.orch.InitiateFailover(ctx, "manual test", true)
	require.NoError(t, err)

	assert.Equal(t, FailoverCompleted, event.Status)
	assert.Equal(t, FailoverManual, event.Type)
	assert.Equal(t, "primary", event.FromRegion)
	assert.Equal(t, "secondary", event.ToRegion)
	assert.NotEmpty(t, event.EventID)
	assert.Greater(t, event.Duration, time.Duration(0))
	assert.Contains(t, event.AffectedServices, "api")
	assert.Contains(t, event.AffectedServices, "database")

	// Region flipped exactly once; guard released.
	assert.Equal(t, "secondary", env.orch.CurrentRegion())
	assert.False(t, env.orch.IsFailoverInProgress())

	// Sub-steps ran in order.
	assert.Equal(t, []string{
		"StopTraffic:primary",
		"ConfirmCheckpoint:primary",
		"StartServices:secondary",
		"UpdateRouting:primary->secondary",
	}, env.driver.callList())

	waitFor(t, func() bool {
		return env.sink.has(events.FailoverStarted) && env.sink.has(events.FailoverCompleted)
	}, "failover lifecycle signals")
	assert.False(t, env.sink.has(events.FailoverFailed))
}

func TestInitiateFailover_ResetsConsecutiveFailures(t *testing.T) {
	env := newTestEnv(t, nil)

	env.orch.history.RecordFailure()
	env.orch.history.RecordFailure()
	require.Equal(t, 2, env.orch.history.ConsecutiveFailures())

	_, err := env.orch.InitiateFailover(context.Background(), "test", true)
	require.NoError(t, err)
	assert.Equal(t, 0, env.orch.history.ConsecutiveFailures())
}

func TestInitiateFailover_SingleFlight(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// First call blocks inside a sub-step.
	release := make(chan struct{})
	env.driver.mu.Lock()
	env.driver.blockOn["StartServices:secondary"] = release
	env.driver.mu.Unlock()

	type outcome struct {
		event FailoverEvent
		err   error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		ev, err := env.orch.InitiateFailover(ctx, "first", true)
		firstDone <- outcome{ev, err}
	}()

	waitFor(t, env.orch.IsFailoverInProgress, "first failover to take the guard")

	// Second concurrent call is rejected and mutates nothing.
	regionBefore := env.orch.CurrentRegion()
	_, err := env.orch.InitiateFailover(ctx, "second", true)
	require.ErrorIs(t, err, ErrFailoverInProgress)
	assert.Equal(t, regionBefore, env.orch.CurrentRegion())
	assert.True(t, env.orch.IsFailoverInProgress())

	// First call completes normally once unblocked.
	close(release)
	first := <-firstDone
	require.NoError(t, first.err)
	assert.Equal(t, FailoverCompleted, first.event.Status)
	assert.Equal(t, "secondary", env.orch.CurrentRegion())
	assert.False(t, env.orch.IsFailoverInProgress())
}

func TestInitiateFailover_SubStepFailureRollsBack(t *testing.T) {
	env := newTestEnv(t, nil)

	env.driver.failOn["UpdateRouting:primary->secondary"] = errors.New("route table locked")

	event, err := env.orch.InitiateFailover(context.Background(), "test", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route table locked")

	// Pre-attempt region preserved, guard released.
	assert.Equal(t, "primary", env.orch.CurrentRegion())
	assert.False(t, env.orch.IsFailoverInProgress())

	assert.Equal(t, FailoverRolledBack, event.Status)
	assert.Contains(t, event.ErrorMessage, "route table locked")

	// Completed sub-steps rolled back in reverse order (checkpoint has
	// no rollback action).
	assert.Equal(t, []string{
		"StopTraffic:primary",
		"ConfirmCheckpoint:primary",
		"StartServices:secondary",
		"UpdateRouting:primary->secondary",
		"StopServices:secondary",
		"ResumeTraffic:primary",
	}, env.driver.callList())

	waitFor(t, func() bool { return env.sink.has(events.FailoverFailed) }, "failover_failed signal")
	assert.False(t, env.sink.has(events.FailoverCompleted))
}

func TestInitiateFailover_FirstStepFailure(t *testing.T) {
	env := newTestEnv(t, nil)

	env.driver.failOn["StopTraffic:primary"] = errors.New("lb unreachable")

	event, err := env.orch.InitiateFailover(context.Background(), "test", false)
	require.Error(t, err)

	// Nothing completed, so nothing to roll back; the attempt still
	// ends rolled_back with the original region intact.
	assert.Equal(t, FailoverRolledBack, event.Status)
	assert.Equal(t, FailoverAutomatic, event.Type)
	assert.Equal(t, "primary", env.orch.CurrentRegion())
	assert.Equal(t, []string{"StopTraffic:primary"}, env.driver.callList())
}

func TestInitiateFailover_VerificationFailure(t *testing.T) {
	env := newTestEnv(t, nil)

	// Sub-steps succeed but the target region does not serve.
	env.secondaryHealthy.Store(false)

	event, err := env.orch.InitiateFailover(context.Background(), "test", true)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRegionUnhealthy)
	assert.Contains(t, err.Error(), "post-transition verification")

	assert.Equal(t, "primary", env.orch.CurrentRegion())
	assert.Equal(t, FailoverRolledBack, event.Status)
	waitFor(t, func() bool { return env.sink.has(events.FailoverFailed) }, "failover_failed signal")
}

func TestInitiateFailover_RollbackFailureMarksRegionUnknown(t *testing.T) {
	env := newTestEnv(t, nil)

	env.driver.failOn["UpdateRouting:primary->secondary"] = errors.New("route table locked")
	env.driver.failOn["ResumeTraffic:primary"] = errors.New("lb rejected resume")

	event, err := env.orch.InitiateFailover(context.Background(), "test", true)

	// The original error is the one surfaced, not the rollback error.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route table locked")
	assert.NotContains(t, err.Error(), "lb rejected resume")

	// A failed rollback leaves the region marked inconsistent.
	assert.Equal(t, RegionUnknown, env.orch.CurrentRegion())
	assert.Equal(t, FailoverFailed, event.Status)
	assert.False(t, env.orch.IsFailoverInProgress())

	waitFor(t, func() bool {
		for _, title := range env.alerter.titles() {
			if title == "failover rollback failed" {
				return true
			}
		}
		return false
	}, "rollback escalation alert")
}

func TestInitiateFailover_FromSecondaryTargetsPrimary(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.orch.InitiateFailover(ctx, "to secondary", true)
	require.NoError(t, err)
	require.Equal(t, "secondary", env.orch.CurrentRegion())

	event, err := env.orch.InitiateFailover(ctx, "fail back", true)
	require.NoError(t, err)
	assert.Equal(t, "secondary", event.FromRegion)
	assert.Equal(t, "primary", event.ToRegion)
	assert.Equal(t, "primary", env.orch.CurrentRegion())
}

func TestGetStatus_ExposesLastFailover(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.orch.InitiateFailover(context.Background(), "status test", true)
	require.NoError(t, err)

	status := env.orch.GetStatus()
	require.NotNil(t, status.LastFailover)
	assert.Equal(t, FailoverCompleted, status.LastFailover.Status)
	assert.Equal(t, "status test", status.LastFailover.Reason)
	assert.Equal(t, "secondary", status.CurrentRegion)
}
