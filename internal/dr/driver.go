package dr

import (
	"context"

	"go.uber.org/zap"
)

// FailoverDriver performs the side-effecting failover sub-steps: traffic
// admission, data-consistency checkpointing, service lifecycle and
// routing. The DNS/load-balancer mechanics behind these calls live
// outside this module.
type FailoverDriver interface {
	StopTraffic(ctx context.Context, region string) error
	ResumeTraffic(ctx context.Context, region string) error

	ConfirmCheckpoint(ctx context.Context, region string) error

	StartServices(ctx context.Context, region string) error
	StopServices(ctx context.Context, region string) error

	UpdateRouting(ctx context.Context, from, to string) error
	RevertRouting(ctx context.Context, from, to string) error
}

// LoggingDriver is a FailoverDriver that only records the actions it is
// asked to take. Used in deployments where the traffic layer is driven
// out-of-band and during local development.
type LoggingDriver struct {
	logger *zap.Logger
}

func NewLoggingDriver(logger *zap.Logger) *LoggingDriver {
	return &LoggingDriver{logger: logger}
}

func (d *LoggingDriver) StopTraffic(_ context.Context, region string) error {
	d.logger.Info("stop traffic admission", zap.String("region", region))
	return nil
}

func (d *LoggingDriver) ResumeTraffic(_ context.Context, region string) error {
	d.logger.Info("resume traffic admission", zap.String("region", region))
	return nil
}

func (d *LoggingDriver) ConfirmCheckpoint(_ context.Context, region string) error {
	d.logger.Info("confirm data-consistency checkpoint", zap.String("region", region))
	return nil
}

func (d *LoggingDriver) StartServices(_ context.Context, region string) error {
	d.logger.Info("start services", zap.String("region", region))
	return nil
}

func (d *LoggingDriver) StopServices(_ context.Context, region string) error {
	d.logger.Info("stop services", zap.String("region", region))
	return nil
}

func (d *LoggingDriver) UpdateRouting(_ context.Context, from, to string) error {
	d.logger.Info("update traffic routing", zap.String("from", from), zap.String("to", to))
	return nil
}

func (d *LoggingDriver) RevertRouting(_ context.Context, from, to string) error {
	d.logger.Info("revert traffic routing", zap.String("from", from), zap.String("to", to))
	return nil
}
