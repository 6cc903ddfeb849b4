package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oakmere/drguard/internal/config"
)

// Subsystem is the contract the orchestrator holds against the backup
// engine. The engine itself (dump, compress, checksum, upload) lives
// elsewhere; only restoration is driven from here.
type Subsystem interface {
	Initialize(ctx context.Context) error
	Cleanup() error
	RestoreFromBackup(ctx context.Context, opts RestoreOptions) error
}

// RestoreOptions selects what a restore covers.
type RestoreOptions struct {
	BackupID             string `json:"backup_id"`
	RestoreDocuments     bool   `json:"restore_documents"`
	RestoreConfiguration bool   `json:"restore_configuration"`
	DryRun               bool   `json:"dry_run"`
}

// JobStatus represents restore job state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job tracks one restore execution.
type Job struct {
	ID          string     `json:"id"`
	BackupID    string     `json:"backup_id"`
	Status      JobStatus  `json:"status"`
	DryRun      bool       `json:"dry_run"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RestoreFunc performs the physical restore. Injected so the engine
// stays replaceable (and mockable).
type RestoreFunc func(ctx context.Context, opts RestoreOptions) error

// Manager implements Subsystem with in-memory job tracking around an
// injected restore hook.
type Manager struct {
	cfg     config.BackupConfig
	restore RestoreFunc
	logger  *zap.Logger

	mu          sync.RWMutex
	jobs        map[string]*Job
	initialized bool
}

// NewManager creates a backup manager. restore may be nil, in which case
// every non-dry-run restore fails with a configuration error.
func NewManager(cfg config.BackupConfig, restore RestoreFunc, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		restore: restore,
		logger:  logger,
		jobs:    make(map[string]*Job),
	}
}

// Initialize prepares the subsystem. Idempotent.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	m.initialized = true
	m.logger.Info("backup subsystem initialized",
		zap.String("bucket", m.cfg.BucketURL),
		zap.Int("retention_days", m.cfg.RetentionDays))
	return nil
}

// Cleanup releases subsystem resources. Idempotent.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}
	m.initialized = false
	m.logger.Info("backup subsystem cleaned up")
	return nil
}

// RestoreFromBackup runs a tracked restore. Dry runs record a job but
// never touch the engine.
func (m *Manager) RestoreFromBackup(ctx context.Context, opts RestoreOptions) error {
	if opts.BackupID == "" {
		return errors.New("backup: backup id required")
	}

	job := &Job{
		ID:        uuid.NewString(),
		BackupID:  opts.BackupID,
		Status:    JobRunning,
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
	}
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return errors.New("backup: subsystem not initialized")
	}
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.logger.Info("restore started",
		zap.String("job_id", job.ID),
		zap.String("backup_id", opts.BackupID),
		zap.Bool("dry_run", opts.DryRun))

	err := m.runRestore(ctx, opts)

	m.mu.Lock()
	now := time.Now()
	job.CompletedAt = &now
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
	} else {
		job.Status = JobCompleted
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("restore failed",
			zap.String("job_id", job.ID),
			zap.String("backup_id", opts.BackupID),
			zap.Error(err))
		return fmt.Errorf("restore backup %s: %w", opts.BackupID, err)
	}

	m.logger.Info("restore completed", zap.String("job_id", job.ID))
	return nil
}

func (m *Manager) runRestore(ctx context.Context, opts RestoreOptions) error {
	if opts.DryRun {
		return nil
	}
	if m.restore == nil {
		return errors.New("no restore engine configured")
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	return m.restore(ctx, opts)
}

// Job returns a copy of a tracked job.
func (m *Manager) Job(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Jobs returns copies of all tracked jobs.
func (m *Manager) Jobs() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, *job)
	}
	return out
}
