package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fanvault/internal/cache"
	"fanvault/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

func intPtr(v int) *int { return &v }

func TestCleanupAgeBoundary(t *testing.T) {
	h := newHarness(t)
	old := h.seedRejected(t, testNow.Add(-8*day))
	fresh := h.seedRejected(t, testNow.Add(-6*day))
	pending := h.submitJPEG(t, models.CategoryFanart)

	report, err := h.retention.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.AgeDeleted)
	assert.Equal(t, 0, report.CountDeleted)
	assert.Zero(t, report.FileErrors)
	assert.Zero(t, report.Failed)

	_, err = h.repo.GetByID(context.Background(), old.ID)
	assert.Error(t, err)
	assert.False(t, h.staging.Exists(old.StagedPath))

	kept, err := h.repo.GetByID(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusRejected, kept.Status)
	assert.True(t, h.staging.Exists(fresh.StagedPath))

	// Pending work is never touched by retention.
	assert.True(t, h.staging.Exists(pending.StagedPath))
	assert.Equal(t, models.StatusCounts{Pending: 1, Rejected: 1, Total: 2}, h.counts(t))
}

func TestCleanupLeavesOldPendingAndApproved(t *testing.T) {
	h := newHarness(t)
	_, err := h.retention.UpdateConfig(RetentionConfigUpdate{MaxRetainedRejected: intPtr(MinMaxRetainedRejected)})
	require.NoError(t, err)
	ctx := context.Background()
	old := testNow.Add(-30 * day)

	pending := h.submitJPEG(t, models.CategoryFanart)
	require.NoError(t, h.db.Model(pending).Update("created_at", old).Error)

	approved := h.submitJPEG(t, models.CategoryAnime)
	_, err = h.review.Approve(ctx, approved.ID, 7, DecisionParams{})
	require.NoError(t, err)
	require.NoError(t, h.db.Model(&models.PendingSubmission{}).Where("id = ?", approved.ID).Update("created_at", old).Error)

	// Young pending rows push the non-rejected total past the retained limit.
	for i := 0; i < MinMaxRetainedRejected+2; i++ {
		h.submitJPEG(t, models.CategoryWallpaper)
	}
	oldRejected := h.seedRejected(t, old)

	report, err := h.retention.RunCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AgeDeleted)
	assert.Zero(t, report.CountDeleted)

	_, err = h.repo.GetByID(ctx, oldRejected.ID)
	assert.Error(t, err)

	stillPending, err := h.repo.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusPending, stillPending.Status)
	assert.True(t, h.staging.Exists(pending.StagedPath), "pending bytes must survive retention")

	stillApproved, err := h.repo.GetByID(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusApproved, stillApproved.Status)
	asset, err := h.assets.GetBySubmissionID(ctx, approved.ID)
	require.NoError(t, err)
	_, _, err = h.store.Get(asset.DurableKey)
	assert.NoError(t, err)

	assert.Equal(t, models.StatusCounts{Pending: int64(MinMaxRetainedRejected + 3), Approved: 1, Total: int64(MinMaxRetainedRejected + 4)}, h.counts(t))
}

func TestDeleteBatchKeepsFileWhenRowIsNoLongerRejected(t *testing.T) {
	h := newHarness(t)
	pending := h.submitJPEG(t, models.CategoryFanart)

	// A stale selection that still lists a row which is now pending.
	var report CleanupReport
	deleted := h.retention.deleteBatch(context.Background(), []models.PendingSubmission{*pending}, "age", &report)
	assert.Zero(t, deleted)
	assert.Zero(t, report.FileErrors)
	assert.Zero(t, report.Failed)
	assert.True(t, h.staging.Exists(pending.StagedPath))

	_, err := h.repo.GetByID(context.Background(), pending.ID)
	assert.NoError(t, err)
}

func TestCleanupCountBoundary(t *testing.T) {
	h := newHarness(t)
	_, err := h.retention.UpdateConfig(RetentionConfigUpdate{RetentionDays: intPtr(365)})
	require.NoError(t, err)

	var oldest *models.PendingSubmission
	for i := 0; i < DefaultMaxRetainedRejected+1; i++ {
		sub := h.seedRejected(t, testNow.Add(-time.Duration(DefaultMaxRetainedRejected+1-i)*time.Minute))
		if i == 0 {
			oldest = sub
		}
	}

	report, err := h.retention.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.AgeDeleted)
	assert.Equal(t, 1, report.CountDeleted)

	_, err = h.repo.GetByID(context.Background(), oldest.ID)
	assert.Error(t, err, "the oldest rejected submission is the one removed")
	assert.False(t, h.staging.Exists(oldest.StagedPath))
	assert.Equal(t, int64(DefaultMaxRetainedRejected), h.counts(t).Rejected)

	report, err = h.retention.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.TotalDeleted())
}

func TestCleanupAgeThenCount(t *testing.T) {
	h := newHarness(t)
	_, err := h.retention.UpdateConfig(RetentionConfigUpdate{MaxRetainedRejected: intPtr(MinMaxRetainedRejected)})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.seedRejected(t, testNow.Add(-10*day-time.Duration(i)*time.Hour))
	}
	for i := 0; i < MinMaxRetainedRejected+2; i++ {
		h.seedRejected(t, testNow.Add(-time.Duration(i+1)*time.Hour))
	}

	report, err := h.retention.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.AgeDeleted)
	assert.Equal(t, 2, report.CountDeleted)
	assert.Equal(t, 5, report.TotalDeleted())
	assert.Equal(t, int64(MinMaxRetainedRejected), h.counts(t).Rejected)
	assert.Equal(t, testNow, report.StartedAt)
}

func TestCleanupIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seedRejected(t, testNow.Add(-30*day))

	first, err := h.retention.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalDeleted())

	second, err := h.retention.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.TotalDeleted())
	assert.Zero(t, second.FileErrors)
}

func TestCleanupFileErrorStillDeletesRow(t *testing.T) {
	h := newHarness(t)
	bad := h.seedRejected(t, testNow.Add(-9*day))
	require.NoError(t, h.db.Model(bad).Update("staged_path", "../outside.png").Error)
	missing := h.seedRejected(t, testNow.Add(-9*day))
	require.NoError(t, h.staging.Delete(missing.StagedPath))
	good := h.seedRejected(t, testNow.Add(-9*day))

	report, err := h.retention.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.AgeDeleted)
	assert.Equal(t, 1, report.FileErrors, "an already missing file is not an error")
	assert.Zero(t, report.Failed)

	for _, id := range []uint{bad.ID, missing.ID, good.ID} {
		_, err := h.repo.GetByID(context.Background(), id)
		assert.Error(t, err)
	}
}

func TestRetentionConfigUpdate(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, RetentionConfig{RetentionDays: 7, MaxRetainedRejected: 100}, h.retention.GetConfig())

	cfg, err := h.retention.UpdateConfig(RetentionConfigUpdate{RetentionDays: intPtr(30)})
	require.NoError(t, err)
	assert.Equal(t, RetentionConfig{RetentionDays: 30, MaxRetainedRejected: 100}, cfg)

	tests := []struct {
		name   string
		update RetentionConfigUpdate
	}{
		{"days too large", RetentionConfigUpdate{RetentionDays: intPtr(400)}},
		{"days zero", RetentionConfigUpdate{RetentionDays: intPtr(0)}},
		{"max too small", RetentionConfigUpdate{MaxRetainedRejected: intPtr(9)}},
		{"max too large", RetentionConfigUpdate{MaxRetainedRejected: intPtr(10001)}},
		{"valid days with invalid max", RetentionConfigUpdate{RetentionDays: intPtr(14), MaxRetainedRejected: intPtr(5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.retention.UpdateConfig(tt.update)
			require.Error(t, err)
			assert.True(t, models.IsRetentionConfig(err))
			assert.Equal(t, RetentionConfig{RetentionDays: 30, MaxRetainedRejected: 100}, h.retention.GetConfig())
		})
	}

	cfg, err = h.retention.UpdateConfig(RetentionConfigUpdate{RetentionDays: intPtr(365), MaxRetainedRejected: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, RetentionConfig{RetentionDays: 365, MaxRetainedRejected: 10}, cfg)
}

func TestNewRetentionSettingsValidates(t *testing.T) {
	_, err := NewRetentionSettings(RetentionConfig{RetentionDays: 500})
	assert.True(t, models.IsRetentionConfig(err))

	s, err := NewRetentionSettings(RetentionConfig{MaxRetainedRejected: 50})
	require.NoError(t, err)
	assert.Equal(t, RetentionConfig{RetentionDays: DefaultRetentionDays, MaxRetainedRejected: 50}, s.Get())
}

func TestRetentionStats(t *testing.T) {
	h := newHarness(t)
	_, err := h.retention.UpdateConfig(RetentionConfigUpdate{MaxRetainedRejected: intPtr(10)})
	require.NoError(t, err)

	stats, err := h.retention.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RetentionStats{RetentionDays: 7, MaxRetainedRejected: 10}, stats)

	for i := 0; i < 2; i++ {
		h.seedRejected(t, testNow.Add(-8*day))
	}
	for i := 0; i < 10; i++ {
		h.seedRejected(t, testNow.Add(-time.Hour))
	}

	stats, err = h.retention.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.TotalRejected)
	assert.Equal(t, int64(2), stats.AgedOutCount)
	assert.Equal(t, int64(2), stats.ExcessCount)
	assert.True(t, stats.NextCleanupNeeded)

	_, err = h.retention.RunCleanup(context.Background())
	require.NoError(t, err)
	stats, err = h.retention.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.TotalRejected)
	assert.False(t, stats.NextCleanupNeeded)
}

type stubLocker struct {
	ok    bool
	err   error
	calls atomic.Int32
	gate  chan struct{}
	held  chan struct{}
}

func (l *stubLocker) TryLock(_ context.Context, _ time.Duration) (func(), bool, error) {
	l.calls.Add(1)
	if l.held != nil {
		l.held <- struct{}{}
	}
	if l.gate != nil {
		<-l.gate
	}
	return func() {}, l.ok, l.err
}

func TestManualCleanup(t *testing.T) {
	h := newHarness(t)
	h.seedRejected(t, testNow.Add(-8*day))

	res := h.retention.ManualCleanup(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, "Cleanup completed: 1 deleted by age, 0 deleted by count", res.Message)
	require.NotNil(t, res.Report)
	assert.Empty(t, res.Error)
}

func TestManualCleanupWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	h.seedRejected(t, testNow.Add(-8*day))
	svc := NewRetentionService(h.repo, h.staging, h.settings, &stubLocker{ok: false}, WithClock(h.clock))

	res := svc.ManualCleanup(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, "Cleanup is already running", res.Message)
	assert.Nil(t, res.Report)
	assert.Equal(t, int64(1), h.counts(t).Rejected)

	_, err := svc.RunCleanup(context.Background())
	assert.ErrorIs(t, err, ErrCleanupBusy)
}

func TestCleanupFailsOpenWhenLockErrors(t *testing.T) {
	h := newHarness(t)
	h.seedRejected(t, testNow.Add(-8*day))
	svc := NewRetentionService(h.repo, h.staging, h.settings, &stubLocker{err: errors.New("redis down")}, WithClock(h.clock))

	report, err := svc.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.AgeDeleted)
}

func TestConcurrentCleanupsShareOneRun(t *testing.T) {
	h := newHarness(t)
	h.seedRejected(t, testNow.Add(-8*day))
	locker := &stubLocker{ok: true, gate: make(chan struct{}), held: make(chan struct{}, 1)}
	svc := NewRetentionService(h.repo, h.staging, h.settings, locker, WithClock(h.clock))

	var wg sync.WaitGroup
	reports := make([]CleanupReport, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0], errs[0] = svc.RunCleanup(context.Background())
	}()
	<-locker.held

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1], errs[1] = svc.RunCleanup(context.Background())
	}()
	time.Sleep(100 * time.Millisecond)
	close(locker.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), locker.calls.Load())
	assert.Equal(t, 1, reports[0].AgeDeleted)
	assert.Equal(t, reports[0], reports[1])
}

func TestCleanupWithRedisLock(t *testing.T) {
	h := newHarness(t)
	h.seedRejected(t, testNow.Add(-8*day))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()
	svc := NewRetentionService(h.repo, h.staging, h.settings, cache.NewRedisLock(rdb, cache.RetentionLockKey), WithClock(h.clock))

	require.NoError(t, mr.Set(cache.RetentionLockKey, "other-instance"))
	_, err := svc.RunCleanup(context.Background())
	assert.ErrorIs(t, err, ErrCleanupBusy)

	mr.Del(cache.RetentionLockKey)
	report, err := svc.RunCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.AgeDeleted)
	assert.False(t, mr.Exists(cache.RetentionLockKey), "lock is released after the run")
}

func TestRetentionScheduler(t *testing.T) {
	h := newHarness(t)
	h.seedRejected(t, testNow.Add(-8*day))

	require.Error(t, h.retention.StartScheduler("not a schedule"))

	require.NoError(t, h.retention.StartScheduler("@every 1s"))
	require.NoError(t, h.retention.StartScheduler("@every 1s"), "starting twice is a no-op")

	assert.Eventually(t, func() bool {
		n, err := h.repo.CountRejected(context.Background())
		return err == nil && n == 0
	}, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.retention.StopScheduler(ctx))
	require.NoError(t, h.retention.StopScheduler(ctx))
}
