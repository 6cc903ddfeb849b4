package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/oakmere/drguard/internal/backup"
	"github.com/oakmere/drguard/internal/config"
	"github.com/oakmere/drguard/internal/dr"
	"github.com/oakmere/drguard/internal/events"
	"github.com/oakmere/drguard/internal/health"
)

// Orchestrator is the slice of the disaster-recovery engine the HTTP
// layer needs.
type Orchestrator interface {
	GetStatus() dr.StatusSnapshot
	GetHealthHistory(limit int) []health.Result
	PerformHealthCheck(ctx context.Context) []health.Result
	InitiateFailover(ctx context.Context, reason string, manual bool) (dr.FailoverEvent, error)
	PerformDisasterRecovery(ctx context.Context, opts backup.RestoreOptions) error
	TestFailover(ctx context.Context) dr.RehearsalReport
}

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	orch       Orchestrator
	bus        events.Bus
	metrics    http.Handler

	requestCount int64
	errorCount   int64
	startTime    time.Time
}

// NewServer wires the control-plane HTTP server. metricsHandler may be
// nil when instrumentation is disabled.
func NewServer(cfg *config.Config, logger *zap.Logger, orch Orchestrator, bus events.Bus, metricsHandler http.Handler) *Server {
	s := &Server{
		config:    cfg,
		logger:    logger,
		router:    mux.NewRouter(),
		orch:      orch,
		bus:       bus,
		metrics:   metricsHandler,
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/health/history", s.handleHealthHistory).Methods("GET")
	s.router.HandleFunc("/health/check", s.handleHealthCheck).Methods("POST")

	s.router.HandleFunc("/api/v1/failover", s.handleFailover).Methods("POST")
	s.router.HandleFunc("/api/v1/failover/test", s.handleFailoverTest).Methods("POST")
	s.router.HandleFunc("/api/v1/recovery", s.handleRecovery).Methods("POST")
	s.router.HandleFunc("/api/v1/events", s.handleEvents).Methods("GET")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}

	s.router.Use(s.loggingMiddleware)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requestCount, 1)
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("starting control-plane server", zap.Int("port", s.config.Server.Port))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	atomic.AddInt64(&s.errorCount, 1)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
