package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the orchestrator.
type Metrics struct {
	HealthChecks        *prometheus.CounterVec
	ConsecutiveFailures prometheus.Gauge
	Failovers           *prometheus.CounterVec
	FailoverDuration    prometheus.Histogram
	Recoveries          *prometheus.CounterVec
	ActiveRegion        *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		HealthChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drguard_health_checks_total",
				Help: "Health probe results by service and status",
			},
			[]string{"service", "status"},
		),
		ConsecutiveFailures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "drguard_consecutive_failures",
				Help: "Consecutive unhealthy health-check rounds",
			},
		),
		Failovers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drguard_failovers_total",
				Help: "Failover attempts by type and outcome",
			},
			[]string{"type", "status"},
		),
		FailoverDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "drguard_failover_duration_seconds",
				Help:    "Wall-clock duration of failover attempts",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
		Recoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drguard_recoveries_total",
				Help: "Disaster-recovery executions by outcome",
			},
			[]string{"status"},
		),
		ActiveRegion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drguard_active_region",
				Help: "1 for the currently active region, 0 otherwise",
			},
			[]string{"region"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HealthChecks,
		m.ConsecutiveFailures,
		m.Failovers,
		m.FailoverDuration,
		m.Recoveries,
		m.ActiveRegion,
	)

	return m
}

// ObserveRound records one health round's probe results.
func (m *Metrics) ObserveRound(statuses map[string]string, consecutiveFailures int) {
	for service, status := range statuses {
		m.HealthChecks.WithLabelValues(service, status).Inc()
	}
	m.ConsecutiveFailures.Set(float64(consecutiveFailures))
}

// ObserveFailover records a finished failover attempt.
func (m *Metrics) ObserveFailover(failoverType, status string, seconds float64) {
	m.Failovers.WithLabelValues(failoverType, status).Inc()
	m.FailoverDuration.Observe(seconds)
}

// ObserveRecovery records a finished disaster-recovery run.
func (m *Metrics) ObserveRecovery(status string) {
	m.Recoveries.WithLabelValues(status).Inc()
}

// SetActiveRegion flips the active-region gauge.
func (m *Metrics) SetActiveRegion(active string, regions ...string) {
	for _, region := range regions {
		v := 0.0
		if region == active {
			v = 1.0
		}
		m.ActiveRegion.WithLabelValues(region).Set(v)
	}
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
