package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fanvault/internal/models"
	"fanvault/internal/observability"
	"fanvault/internal/repository"
	"fanvault/internal/storage"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRetentionDays       = 7
	DefaultMaxRetainedRejected = 100
	MinRetentionDays           = 1
	MaxRetentionDays           = 365
	MinMaxRetainedRejected     = 10
	MaxMaxRetainedRejected     = 10000
	DefaultRetentionSchedule   = "0 2 * * *"

	retentionLockTTL = 10 * time.Minute
)

// ErrCleanupBusy is returned when another process holds the cleanup lock.
var ErrCleanupBusy = errors.New("retention cleanup already running")

// RetentionConfig bounds how long and how many rejected submissions are kept.
type RetentionConfig struct {
	RetentionDays       int `json:"retention_days"`
	MaxRetainedRejected int `json:"max_retained_rejected"`
}

// RetentionConfigUpdate is a partial update; nil fields are left unchanged.
type RetentionConfigUpdate struct {
	RetentionDays       *int `json:"retention_days"`
	MaxRetainedRejected *int `json:"max_retained_rejected"`
}

// RetentionSettings is the process-wide retention config. It is not
// persisted; a restart returns to the configured defaults.
type RetentionSettings struct {
	mu  sync.RWMutex
	cfg RetentionConfig
}

// NewRetentionSettings validates initial, substituting defaults for zero fields.
func NewRetentionSettings(initial RetentionConfig) (*RetentionSettings, error) {
	if initial.RetentionDays == 0 {
		initial.RetentionDays = DefaultRetentionDays
	}
	if initial.MaxRetainedRejected == 0 {
		initial.MaxRetainedRejected = DefaultMaxRetainedRejected
	}
	if err := validateRetentionConfig(initial); err != nil {
		return nil, err
	}
	return &RetentionSettings{cfg: initial}, nil
}

func (r *RetentionSettings) Get() RetentionConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Update applies every provided field or none of them.
func (r *RetentionSettings) Update(u RetentionConfigUpdate) (RetentionConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cfg
	if u.RetentionDays != nil {
		next.RetentionDays = *u.RetentionDays
	}
	if u.MaxRetainedRejected != nil {
		next.MaxRetainedRejected = *u.MaxRetainedRejected
	}
	if err := validateRetentionConfig(next); err != nil {
		return r.cfg, err
	}
	r.cfg = next
	return next, nil
}

func validateRetentionConfig(c RetentionConfig) error {
	if c.RetentionDays < MinRetentionDays || c.RetentionDays > MaxRetentionDays {
		return models.NewRetentionConfigError(fmt.Sprintf("retention_days must be between %d and %d", MinRetentionDays, MaxRetentionDays))
	}
	if c.MaxRetainedRejected < MinMaxRetainedRejected || c.MaxRetainedRejected > MaxMaxRetainedRejected {
		return models.NewRetentionConfigError(fmt.Sprintf("max_retained_rejected must be between %d and %d", MinMaxRetainedRejected, MaxMaxRetainedRejected))
	}
	return nil
}

// CleanupReport summarizes one cleanup run.
type CleanupReport struct {
	AgeDeleted   int       `json:"age_deleted"`
	CountDeleted int       `json:"count_deleted"`
	FileErrors   int       `json:"file_errors"`
	Failed       int       `json:"failed"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// TotalDeleted is the number of rows removed by both rules.
func (r CleanupReport) TotalDeleted() int { return r.AgeDeleted + r.CountDeleted }

// CleanupResult is the manual trigger outcome. It never carries a Go error
// so callers can render it directly.
type CleanupResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Error   string         `json:"error,omitempty"`
	Report  *CleanupReport `json:"report,omitempty"`
}

// RetentionStats is computed live against the current config.
type RetentionStats struct {
	TotalRejected       int64 `json:"total_rejected"`
	AgedOutCount        int64 `json:"aged_out_count"`
	ExcessCount         int64 `json:"excess_count"`
	RetentionDays       int   `json:"retention_days"`
	MaxRetainedRejected int   `json:"max_retained_rejected"`
	NextCleanupNeeded   bool  `json:"next_cleanup_needed"`
}

// Locker is a cross-process mutual exclusion primitive. TryLock reports
// false when the lock is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context, ttl time.Duration) (unlock func(), ok bool, err error)
}

// RetentionService deletes rejected submissions by age and by count.
type RetentionService struct {
	repo     repository.SubmissionRepository
	staging  *storage.StagingStore
	settings *RetentionSettings
	locker   Locker
	opts     options

	group singleflight.Group

	schedMu sync.Mutex
	cron    *cron.Cron
}

func NewRetentionService(repo repository.SubmissionRepository, staging *storage.StagingStore, settings *RetentionSettings, locker Locker, opts ...Option) *RetentionService {
	return &RetentionService{
		repo:     repo,
		staging:  staging,
		settings: settings,
		locker:   locker,
		opts:     buildOptions(opts),
	}
}

func (s *RetentionService) GetConfig() RetentionConfig { return s.settings.Get() }

func (s *RetentionService) UpdateConfig(u RetentionConfigUpdate) (RetentionConfig, error) {
	cfg, err := s.settings.Update(u)
	if err != nil {
		return cfg, err
	}
	slog.Info("retention config updated", "retention_days", cfg.RetentionDays, "max_retained_rejected", cfg.MaxRetainedRejected)
	return cfg, nil
}

// RunCleanup runs the age rule and then the count rule. Concurrent callers
// in this process share one run; a run in another process yields
// ErrCleanupBusy.
func (s *RetentionService) RunCleanup(ctx context.Context) (CleanupReport, error) {
	return s.runCleanup(ctx, "api")
}

func (s *RetentionService) runCleanup(ctx context.Context, trigger string) (CleanupReport, error) {
	v, err, _ := s.group.Do("cleanup", func() (interface{}, error) {
		return s.lockedCleanup(ctx)
	})

	outcome := "success"
	switch {
	case errors.Is(err, ErrCleanupBusy):
		outcome = "busy"
	case err != nil:
		outcome = "error"
	}
	observability.RetentionRuns.WithLabelValues(trigger, outcome).Inc()

	if err != nil {
		return CleanupReport{}, err
	}
	return v.(CleanupReport), nil
}

func (s *RetentionService) lockedCleanup(ctx context.Context) (CleanupReport, error) {
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, retentionLockTTL)
		if err != nil {
			// Fail open: singleflight still serializes runs in this process.
			slog.WarnContext(ctx, "retention lock unavailable, continuing without it", "err", err)
		} else if !ok {
			return CleanupReport{}, ErrCleanupBusy
		} else {
			defer unlock()
		}
	}

	span, ctx := observability.NewSpan(ctx, "retention.cleanup")
	defer span.End()

	cfg := s.settings.Get()
	report := CleanupReport{StartedAt: s.opts.clock.Now()}

	cutoff := report.StartedAt.Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)
	aged, err := s.repo.ListRejectedBefore(ctx, cutoff)
	if err != nil {
		span.SetError(err)
		return report, fmt.Errorf("select aged rejected submissions: %w", err)
	}
	report.AgeDeleted = s.deleteBatch(ctx, aged, "age", &report)

	total, err := s.repo.CountRejected(ctx)
	if err != nil {
		span.SetError(err)
		return report, fmt.Errorf("count rejected submissions: %w", err)
	}
	if excess := total - int64(cfg.MaxRetainedRejected); excess > 0 {
		oldest, err := s.repo.ListOldestRejected(ctx, int(excess))
		if err != nil {
			span.SetError(err)
			return report, fmt.Errorf("select excess rejected submissions: %w", err)
		}
		report.CountDeleted = s.deleteBatch(ctx, oldest, "count", &report)
	}

	report.FinishedAt = s.opts.clock.Now()
	slog.InfoContext(ctx, "retention cleanup finished",
		"age_deleted", report.AgeDeleted,
		"count_deleted", report.CountDeleted,
		"file_errors", report.FileErrors,
		"failed", report.Failed,
		"retention_days", cfg.RetentionDays,
		"max_retained_rejected", cfg.MaxRetainedRejected,
	)
	return report, nil
}

// deleteBatch removes each submission's row and then its staged file. The
// row delete only matches rejected rows, and the file goes only when it did.
// Failures are counted and logged per item and never stop the batch.
func (s *RetentionService) deleteBatch(ctx context.Context, subs []models.PendingSubmission, rule string, report *CleanupReport) int {
	deleted := 0
	for i := range subs {
		sub := &subs[i]

		ok, err := s.repo.DeleteRejected(ctx, sub.ID)
		if err != nil {
			report.Failed++
			observability.RetentionItemFailures.WithLabelValues("row").Inc()
			slog.ErrorContext(ctx, "retention failed to delete submission", "submission_id", sub.ID, "rule", rule, "err", err)
			continue
		}
		if !ok {
			slog.DebugContext(ctx, "retention skipped submission no longer rejected", "submission_id", sub.ID, "rule", rule)
			continue
		}
		deleted++

		if sub.StagedPath != "" {
			if err := s.staging.Delete(sub.StagedPath); err != nil {
				report.FileErrors++
				observability.RetentionItemFailures.WithLabelValues("file").Inc()
				slog.WarnContext(ctx, "retention failed to delete staged file", "submission_id", sub.ID, "staged_path", sub.StagedPath, "rule", rule, "err", err)
			}
		}
	}
	observability.RetentionDeleted.WithLabelValues(rule).Add(float64(deleted))
	return deleted
}

// ManualCleanup runs a cleanup and reports the outcome as a value.
func (s *RetentionService) ManualCleanup(ctx context.Context) CleanupResult {
	report, err := s.runCleanup(ctx, "manual")
	if err != nil {
		msg := "Cleanup failed"
		if errors.Is(err, ErrCleanupBusy) {
			msg = "Cleanup is already running"
		}
		return CleanupResult{Success: false, Message: msg, Error: err.Error()}
	}
	return CleanupResult{
		Success: true,
		Message: fmt.Sprintf("Cleanup completed: %d deleted by age, %d deleted by count", report.AgeDeleted, report.CountDeleted),
		Report:  &report,
	}
}

func (s *RetentionService) GetStats(ctx context.Context) (RetentionStats, error) {
	cfg := s.settings.Get()

	total, err := s.repo.CountRejected(ctx)
	if err != nil {
		return RetentionStats{}, models.NewInternalError(fmt.Errorf("count rejected: %w", err))
	}
	cutoff := s.opts.clock.Now().Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)
	aged, err := s.repo.CountRejectedBefore(ctx, cutoff)
	if err != nil {
		return RetentionStats{}, models.NewInternalError(fmt.Errorf("count aged rejected: %w", err))
	}

	excess := total - int64(cfg.MaxRetainedRejected)
	if excess < 0 {
		excess = 0
	}
	return RetentionStats{
		TotalRejected:       total,
		AgedOutCount:        aged,
		ExcessCount:         excess,
		RetentionDays:       cfg.RetentionDays,
		MaxRetainedRejected: cfg.MaxRetainedRejected,
		NextCleanupNeeded:   aged > 0 || excess > 0,
	}, nil
}

// StartScheduler runs the cleanup on spec (standard 5-field cron syntax).
func (s *RetentionService) StartScheduler(spec string) error {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if s.cron != nil {
		return nil
	}
	if spec == "" {
		spec = DefaultRetentionSchedule
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.runCleanup(context.Background(), "scheduled"); err != nil {
			slog.Error("scheduled retention cleanup failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	slog.Info("retention scheduler started", "schedule", spec)
	return nil
}

// StopScheduler stops scheduling and waits for a running job or ctx.
func (s *RetentionService) StopScheduler(ctx context.Context) error {
	s.schedMu.Lock()
	c := s.cron
	s.cron = nil
	s.schedMu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
