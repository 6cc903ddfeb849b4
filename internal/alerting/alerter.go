package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Severities
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is one operator notification.
type Alert struct {
	Severity  string                 `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Region    string                 `json:"region,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Alerter delivers an alert to some destination. Delivery failures are
// the caller's to log; they must never block orchestration.
type Alerter interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// LogAlerter writes alerts to the structured log. The fallback
// destination when no webhook is configured.
type LogAlerter struct {
	logger *zap.Logger
}

func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) SendAlert(_ context.Context, alert Alert) error {
	a.logger.Warn("alert",
		zap.String("severity", alert.Severity),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.String("region", alert.Region))
	return nil
}

// WebhookAlerter POSTs alerts as JSON to a configured destination.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

func NewWebhookAlerter(url string, timeout time.Duration) *WebhookAlerter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *WebhookAlerter) SendAlert(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}

// ThrottledAlerter rate-limits a wrapped alerter so a flapping region
// cannot flood the destination. Critical alerts bypass the limiter.
type ThrottledAlerter struct {
	next    Alerter
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewThrottledAlerter allows one alert per minInterval with the given
// burst allowance.
func NewThrottledAlerter(next Alerter, minInterval time.Duration, burst int, logger *zap.Logger) *ThrottledAlerter {
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledAlerter{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(minInterval), burst),
		logger:  logger,
	}
}

func (a *ThrottledAlerter) SendAlert(ctx context.Context, alert Alert) error {
	if alert.Severity != SeverityCritical && !a.limiter.Allow() {
		a.logger.Debug("alert suppressed by throttle",
			zap.String("title", alert.Title),
			zap.String("severity", alert.Severity))
		return nil
	}
	return a.next.SendAlert(ctx, alert)
}

// MultiAlerter fans an alert out to several destinations. Delivery is
// attempted everywhere; the first error is returned.
type MultiAlerter struct {
	alerters []Alerter
}

func NewMultiAlerter(alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{alerters: alerters}
}

func (a *MultiAlerter) SendAlert(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, dest := range a.alerters {
		if err := dest.SendAlert(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Dispatch sends an alert in the background, logging delivery failures.
// The fire-and-forget entry point orchestration uses.
func Dispatch(alerter Alerter, logger *zap.Logger, alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := alerter.SendAlert(ctx, alert); err != nil {
			logger.Error("alert delivery failed",
				zap.String("title", alert.Title),
				zap.Error(err))
		}
	}()
}
