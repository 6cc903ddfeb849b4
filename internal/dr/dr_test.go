package dr

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oakmere/drguard/internal/alerting"
	"github.com/oakmere/drguard/internal/backup"
	"github.com/oakmere/drguard/internal/config"
	"github.com/oakmere/drguard/internal/events"
	"github.com/oakmere/drguard/internal/health"
	"github.com/oakmere/drguard/internal/metrics"
)

// fakeDriver records sub-step invocations and can be scripted to fail
// or block on specific calls.
type fakeDriver struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
	// blockOn, when set for a call name, makes that call wait until
	// the channel is closed.
	blockOn map[string]chan struct{}
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		failOn:  make(map[string]error),
		blockOn: make(map[string]chan struct{}),
	}
}

func (d *fakeDriver) record(call string) error {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	block := d.blockOn[call]
	err := d.failOn[call]
	d.mu.Unlock()

	if block != nil {
		<-block
	}
	return err
}

func (d *fakeDriver) callList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *fakeDriver) StopTraffic(_ context.Context, region string) error {
	return d.record("StopTraffic:" + region)
}
func (d *fakeDriver) ResumeTraffic(_ context.Context, region string) error {
	return d.record("ResumeTraffic:" + region)
}
func (d *fakeDriver) ConfirmCheckpoint(_ context.Context, region string) error {
	return d.record("ConfirmCheckpoint:" + region)
}
func (d *fakeDriver) StartServices(_ context.Context, region string) error {
	return d.record("StartServices:" + region)
}
func (d *fakeDriver) StopServices(_ context.Context, region string) error {
	return d.record("StopServices:" + region)
}
func (d *fakeDriver) UpdateRouting(_ context.Context, from, to string) error {
	return d.record(fmt.Sprintf("UpdateRouting:%s->%s", from, to))
}
func (d *fakeDriver) RevertRouting(_ context.Context, from, to string) error {
	return d.record(fmt.Sprintf("RevertRouting:%s->%s", from, to))
}

// fakeBackup implements backup.Subsystem with scriptable failures.
type fakeBackup struct {
	mu          sync.Mutex
	initialized int
	cleaned     int
	restores    []backup.RestoreOptions
	failFirst   int
	restoreErr  error
	initErr     error
}

func (b *fakeBackup) Initialize(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initErr != nil {
		return b.initErr
	}
	b.initialized++
	return nil
}

func (b *fakeBackup) Cleanup() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleaned++
	return nil
}

func (b *fakeBackup) RestoreFromBackup(_ context.Context, opts backup.RestoreOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restores = append(b.restores, opts)
	if b.failFirst > 0 {
		b.failFirst--
		return fmt.Errorf("transient restore failure")
	}
	return b.restoreErr
}

func (b *fakeBackup) restoreCalls() []backup.RestoreOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]backup.RestoreOptions, len(b.restores))
	copy(out, b.restores)
	return out
}

// recordingAlerter counts alerts without delivering them anywhere.
type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (a *recordingAlerter) SendAlert(_ context.Context, alert alerting.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *recordingAlerter) titles() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.alerts))
	for i, al := range a.alerts {
		out[i] = al.Title
	}
	return out
}

// regionPinger flips database health per region.
type regionPinger struct {
	unhealthy sync.Map // region -> bool
}

func (p *regionPinger) setUnhealthy(region string, bad bool) {
	p.unhealthy.Store(region, bad)
}

func (p *regionPinger) Ping(_ context.Context, region string) error {
	if bad, ok := p.unhealthy.Load(region); ok && bad.(bool) {
		return fmt.Errorf("ping %s: connection refused", region)
	}
	return nil
}

// eventSink collects published lifecycle events.
type eventSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *eventSink) handle(_ context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *eventSink) types() []events.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func (s *eventSink) has(t events.EventType) bool {
	for _, got := range s.types() {
		if got == t {
			return true
		}
	}
	return false
}

// testEnv wires an orchestrator against controllable fakes and two
// httptest-backed regions.
type testEnv struct {
	orch    *Orchestrator
	driver  *fakeDriver
	backup  *fakeBackup
	alerter *recordingAlerter
	pinger  *regionPinger
	sink    *eventSink
	bus     *events.SimpleBus

	primaryHealthy   atomic.Bool
	secondaryHealthy atomic.Bool
}

func newTestEnv(t *testing.T, mutate func(*config.DRConfig)) *testEnv {
	t.Helper()

	env := &testEnv{
		driver:  newFakeDriver(),
		backup:  &fakeBackup{},
		alerter: &recordingAlerter{},
		pinger:  &regionPinger{},
		sink:    &eventSink{},
		bus:     events.NewSimpleBus(),
	}
	env.primaryHealthy.Store(true)
	env.secondaryHealthy.Store(true)

	primarySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if env.primaryHealthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(primarySrv.Close)
	secondarySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if env.secondaryHealthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(secondarySrv.Close)

	cfg := config.DRConfig{
		PrimaryRegion:       "primary",
		SecondaryRegion:     "secondary",
		HealthCheckInterval: time.Hour, // ticks driven manually in tests
		HealthCheckTimeout:  time.Second,
		FailureThreshold:    3,
		AutoFailover:        true,
		PrimaryEndpoints:    []config.ServiceEndpoint{{Service: "api", URL: primarySrv.URL}},
		SecondaryEndpoints:  []config.ServiceEndpoint{{Service: "api", URL: secondarySrv.URL}},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	require.NoError(t, env.bus.Subscribe("*", env.sink.handle))

	prober := health.NewProber(env.pinger, cfg.HealthCheckTimeout, zap.NewNop())
	orch, err := New(cfg, prober, env.driver, env.backup, env.alerter, env.bus, metrics.New(), zap.NewNop())
	require.NoError(t, err)
	env.orch = orch

	return env
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", msg)
}
