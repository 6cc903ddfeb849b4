package dr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oakmere/drguard/internal/alerting"
	"github.com/oakmere/drguard/internal/backup"
	"github.com/oakmere/drguard/internal/config"
	"github.com/oakmere/drguard/internal/events"
	"github.com/oakmere/drguard/internal/health"
	"github.com/oakmere/drguard/internal/metrics"
)

// Orchestrator is the single logical disaster-recovery instance. It is
// constructed once at process startup and passed by handle to every
// caller; there is no package-level state.
type Orchestrator struct {
	cfg     config.DRConfig
	prober  *health.Prober
	history *health.History
	driver  FailoverDriver
	backup  backup.Subsystem
	alerter alerting.Alerter
	bus     events.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	// mu guards currentRegion, failoverInProgress and lastFailover.
	// Never held across a probe, sub-step or any other suspension
	// point.
	mu                 sync.Mutex
	currentRegion      string
	failoverInProgress bool
	lastFailover       *FailoverEvent

	lifecycleMu sync.Mutex
	started     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New wires an orchestrator. All collaborators are required except
// metrics, which may be nil to disable instrumentation.
func New(
	cfg config.DRConfig,
	prober *health.Prober,
	driver FailoverDriver,
	backupSys backup.Subsystem,
	alerter alerting.Alerter,
	bus events.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if prober == nil {
		return nil, errors.New("dr: prober required")
	}
	if driver == nil {
		return nil, errors.New("dr: failover driver required")
	}
	if backupSys == nil {
		return nil, errors.New("dr: backup subsystem required")
	}
	if alerter == nil {
		return nil, errors.New("dr: alerter required")
	}
	if bus == nil {
		return nil, errors.New("dr: event bus required")
	}

	return &Orchestrator{
		cfg:           cfg,
		prober:        prober,
		history:       health.NewHistory(health.DefaultCapacity),
		driver:        driver,
		backup:        backupSys,
		alerter:       alerter,
		bus:           bus,
		metrics:       m,
		logger:        logger,
		currentRegion: cfg.PrimaryRegion,
	}, nil
}

// Initialize prepares the backup subsystem, verifies that the active
// region is currently healthy and starts the monitoring loop. Refusing
// to start against an unhealthy primary is deliberate: monitoring would
// otherwise silently begin in a failure state.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.backup.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize backup subsystem: %w", err)
	}

	if err := o.verifyRegion(ctx, o.CurrentRegion()); err != nil {
		return fmt.Errorf("active region unhealthy at startup: %w", err)
	}

	o.lifecycleMu.Lock()
	if !o.started {
		o.started = true
		o.stopCh = make(chan struct{})
		o.wg.Add(1)
		go o.monitorLoop()
	}
	o.lifecycleMu.Unlock()

	if o.metrics != nil {
		o.metrics.SetActiveRegion(o.CurrentRegion(), o.cfg.PrimaryRegion, o.cfg.SecondaryRegion)
	}

	_ = o.bus.Publish(ctx, events.Event{
		Type:    events.Initialized,
		Region:  o.CurrentRegion(),
		Message: "disaster-recovery orchestrator initialized",
	})

	o.logger.Info("orchestrator initialized",
		zap.String("region", o.CurrentRegion()),
		zap.Duration("interval", o.cfg.HealthCheckInterval),
		zap.Int("failure_threshold", o.cfg.FailureThreshold),
		zap.Bool("auto_failover", o.cfg.AutoFailover))
	return nil
}

// Cleanup stops the monitoring loop and releases the backup subsystem.
// Idempotent; in-flight ticks are allowed to complete.
func (o *Orchestrator) Cleanup() error {
	o.lifecycleMu.Lock()
	if o.started {
		o.started = false
		close(o.stopCh)
	}
	o.lifecycleMu.Unlock()

	o.wg.Wait()
	return o.backup.Cleanup()
}

func (o *Orchestrator) monitorLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.tick(context.Background())
		}
	}
}

// tick runs one monitoring round. It never lets a failure kill the
// loop: an unexpected error or panic degrades into a defensive failure
// increment and the loop continues on the next scheduled tick.
func (o *Orchestrator) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("health check tick panicked", zap.Any("panic", r))
			o.history.RecordFailure()
		}
	}()

	results := o.runHealthRound(ctx)
	o.evaluateAutoFailover(ctx)

	_ = o.bus.Publish(ctx, events.Event{
		Type:   events.HealthCheckCompleted,
		Region: o.CurrentRegion(),
		Details: map[string]interface{}{
			"results":              results,
			"consecutive_failures": o.history.ConsecutiveFailures(),
		},
	})
}

// runHealthRound probes the active region and records the results.
func (o *Orchestrator) runHealthRound(ctx context.Context) []health.Result {
	region := o.CurrentRegion()
	results := o.prober.CheckRound(ctx, region, o.cfg.EndpointsFor(region))
	o.history.RecordRound(results)

	if o.metrics != nil {
		statuses := make(map[string]string, len(results))
		for _, r := range results {
			statuses[r.Service] = string(r.Status)
		}
		o.metrics.ObserveRound(statuses, o.history.ConsecutiveFailures())
	}

	return results
}

func (o *Orchestrator) evaluateAutoFailover(ctx context.Context) {
	if !o.cfg.AutoFailover {
		return
	}
	failures := o.history.ConsecutiveFailures()
	if failures < o.cfg.FailureThreshold {
		return
	}
	// A doomed call during an in-flight failover would only produce an
	// expected conflict error; skip it outright.
	if o.IsFailoverInProgress() {
		return
	}

	reason := fmt.Sprintf("%d consecutive failed health checks (threshold %d)",
		failures, o.cfg.FailureThreshold)

	if o.cfg.ManualApprovalRequired {
		o.logger.Warn("failover threshold reached but manual approval is required",
			zap.String("reason", reason))
		alerting.Dispatch(o.alerter, o.logger, alerting.Alert{
			Severity: alerting.SeverityCritical,
			Title:    "failover approval required",
			Message:  reason,
			Region:   o.CurrentRegion(),
		})
		return
	}

	if _, err := o.InitiateFailover(ctx, reason, false); err != nil {
		// A conflict from tick overlap is expected and swallowed;
		// anything else is a real failover failure worth logging.
		if !errors.Is(err, ErrFailoverInProgress) {
			o.logger.Error("automatic failover failed", zap.Error(err))
		}
	}
}

// PerformHealthCheck runs one on-demand health round outside the timer
// and returns its results.
func (o *Orchestrator) PerformHealthCheck(ctx context.Context) []health.Result {
	return o.runHealthRound(ctx)
}

// GetStatus reports the orchestrator's externally visible state. The
// health classification is recomputed from the history window on every
// call.
func (o *Orchestrator) GetStatus() StatusSnapshot {
	o.mu.Lock()
	region := o.currentRegion
	inProgress := o.failoverInProgress
	var last *FailoverEvent
	if o.lastFailover != nil {
		ev := o.lastFailover.snapshot()
		last = &ev
	}
	o.mu.Unlock()

	return StatusSnapshot{
		CurrentRegion:        region,
		IsFailoverInProgress: inProgress,
		ConsecutiveFailures:  o.history.ConsecutiveFailures(),
		LastHealthCheck:      o.history.LastCheck(),
		HealthStatus:         o.history.Evaluate(),
		LastFailover:         last,
	}
}

// GetHealthHistory returns up to limit recent probe results, oldest
// first.
func (o *Orchestrator) GetHealthHistory(limit int) []health.Result {
	return o.history.Recent(limit)
}

// CurrentRegion returns the active region.
func (o *Orchestrator) CurrentRegion() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentRegion
}

// IsFailoverInProgress reports whether a failover attempt is in flight.
func (o *Orchestrator) IsFailoverInProgress() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failoverInProgress
}

// verifyRegion runs a full health round against a region and fails if
// any probe comes back unhealthy.
func (o *Orchestrator) verifyRegion(ctx context.Context, region string) error {
	results := o.prober.CheckRound(ctx, region, o.cfg.EndpointsFor(region))

	var failing []string
	for _, r := range results {
		if r.Status == health.StatusUnhealthy {
			failing = append(failing, fmt.Sprintf("%s (%s)", r.Service, r.ErrorMessage))
		}
	}
	if len(failing) > 0 {
		return fmt.Errorf("%w: region %s: %s", ErrRegionUnhealthy, region, strings.Join(failing, "; "))
	}
	return nil
}

// targetRegion picks the failover destination for a source region. An
// unknown/inconsistent source falls back to the primary.
func (o *Orchestrator) targetRegion(from string) string {
	if from == o.cfg.PrimaryRegion {
		return o.cfg.SecondaryRegion
	}
	return o.cfg.PrimaryRegion
}
