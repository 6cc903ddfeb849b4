package dr

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oakmere/drguard/internal/health"
)

// RehearsalStep is the timed outcome of one dry-run check.
type RehearsalStep struct {
	Step     string        `json:"step"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RehearsalReport summarizes a failover rehearsal.
type RehearsalReport struct {
	Success  bool            `json:"success"`
	Duration time.Duration   `json:"duration"`
	Steps    []RehearsalStep `json:"steps"`
}

// TestFailover rehearses the checks a real failover performs without
// mutating any state: no region flip, no single-flight guard. It is
// safe to call at any time, including while a real failover is in
// flight, because every check is read-only.
func (o *Orchestrator) TestFailover(ctx context.Context) RehearsalReport {
	start := time.Now()
	secondary := o.cfg.SecondaryRegion

	report := RehearsalReport{Success: true}

	checks := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"secondary region reachability", func(ctx context.Context) error {
			return o.verifyRegion(ctx, secondary)
		}},
		{"database failover simulation", func(ctx context.Context) error {
			result := o.prober.CheckDatabase(ctx, secondary)
			if result.Status != health.StatusHealthy {
				return fmt.Errorf("secondary database unhealthy: %s", result.ErrorMessage)
			}
			return nil
		}},
		{"service endpoint simulation", func(ctx context.Context) error {
			for _, ep := range o.cfg.EndpointsFor(secondary) {
				result := o.prober.CheckEndpoint(ctx, ep)
				if result.Status != health.StatusHealthy {
					return fmt.Errorf("endpoint %s unhealthy: %s", ep.Service, result.ErrorMessage)
				}
			}
			return nil
		}},
	}

	for _, check := range checks {
		stepStart := time.Now()
		err := check.run(ctx)

		step := RehearsalStep{
			Step:     check.name,
			Success:  err == nil,
			Duration: time.Since(stepStart),
		}
		if err != nil {
			step.Error = err.Error()
			report.Success = false
		}
		report.Steps = append(report.Steps, step)
	}

	report.Duration = time.Since(start)

	o.logger.Info("failover rehearsal finished",
		zap.Bool("success", report.Success),
		zap.Duration("duration", report.Duration),
		zap.Int("steps", len(report.Steps)))

	return report
}
