package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oakmere/drguard/internal/config"
)

// DatabasePinger executes a trivial round-trip against a region's
// database.
type DatabasePinger interface {
	Ping(ctx context.Context, region string) error
}

// Prober performs single bounded-time checks. It never retries; retry
// policy belongs to the monitoring loop via the next tick.
type Prober struct {
	client  *http.Client
	db      DatabasePinger
	timeout time.Duration
	logger  *zap.Logger
}

// NewProber creates a prober with the given per-check timeout.
func NewProber(db DatabasePinger, timeout time.Duration, logger *zap.Logger) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		db:      db,
		timeout: timeout,
		logger:  logger,
	}
}

// CheckEndpoint probes one service endpoint. Timeouts and connection
// errors are data, not errors: they come back as an unhealthy Result.
func (p *Prober) CheckEndpoint(ctx context.Context, ep config.ServiceEndpoint) Result {
	start := time.Now()
	result := Result{
		Timestamp: start,
		Service:   ep.Service,
		Endpoint:  ep.URL,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.ErrorMessage = err.Error()
		return result
	}

	resp, err := p.client.Do(req)
	result.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Status = StatusUnhealthy
		result.ErrorMessage = err.Error()
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Status = StatusUnhealthy
		result.ErrorMessage = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}

	result.Status = StatusHealthy
	return result
}

// CheckDatabase probes the given region's database with a round-trip
// ping.
func (p *Prober) CheckDatabase(ctx context.Context, region string) Result {
	start := time.Now()
	result := Result{
		Timestamp: start,
		Service:   "database",
		Endpoint:  region,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.db.Ping(ctx, region)
	result.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Status = StatusUnhealthy
		result.ErrorMessage = err.Error()
		return result
	}

	result.Status = StatusHealthy
	return result
}

// CheckRound probes every endpoint plus the active region's database.
// Probes run concurrently; the round completes before results are
// returned, in a stable order (endpoints in config order, database
// last).
func (p *Prober) CheckRound(ctx context.Context, region string, endpoints []config.ServiceEndpoint) []Result {
	results := make([]Result, len(endpoints)+1)

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		i, ep := i, ep
		g.Go(func() error {
			results[i] = p.CheckEndpoint(gctx, ep)
			return nil
		})
	}
	g.Go(func() error {
		results[len(endpoints)] = p.CheckDatabase(gctx, region)
		return nil
	})
	_ = g.Wait() // probes report failure as data, never as an error

	if p.logger != nil {
		unhealthy := 0
		for _, r := range results {
			if r.Status == StatusUnhealthy {
				unhealthy++
			}
		}
		p.logger.Debug("health round complete",
			zap.String("region", region),
			zap.Int("checks", len(results)),
			zap.Int("unhealthy", unhealthy))
	}

	return results
}
