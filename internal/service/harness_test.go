package service

import (
	"context"
	"fmt"
	"image/color"
	"testing"
	"time"

	"fanvault/internal/config"
	"fanvault/internal/models"
	"fanvault/internal/repository"
	"fanvault/internal/storage"
	"fanvault/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	db        *gorm.DB
	repo      repository.SubmissionRepository
	assets    repository.AssetRepository
	staging   *storage.StagingStore
	store     *storage.MemoryStore
	notifier  *testutil.RecordingNotifier
	clock     *testutil.StubClock
	settings  *RetentionSettings
	intake    *IntakeService
	review    *ReviewService
	retention *RetentionService
	query     *QueryService
	seq       int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	staging, err := storage.NewStagingStore(t.TempDir(), "/api/admin/staging")
	require.NoError(t, err)

	h := &harness{
		db:       db,
		repo:     repository.NewSubmissionRepository(db),
		assets:   repository.NewAssetRepository(db),
		staging:  staging,
		store:    storage.NewMemoryStore("https://cdn.test"),
		notifier: &testutil.RecordingNotifier{},
		clock:    testutil.NewStubClock(testNow),
	}
	h.settings, err = NewRetentionSettings(RetentionConfig{})
	require.NoError(t, err)

	opts := []Option{WithClock(h.clock), WithTokenGenerator(&testutil.SequenceTokens{})}
	h.intake = NewIntakeService(h.repo, staging, &config.Config{MaxUploadSizeMB: 1}, opts...)
	h.review = NewReviewService(h.repo, staging, h.store, h.notifier, time.Second, opts...)
	h.retention = NewRetentionService(h.repo, staging, h.settings, nil, opts...)
	h.query = NewQueryService(h.repo)
	return h
}

// submitJPEG stages a valid JPEG through intake.
func (h *harness) submitJPEG(t *testing.T, category models.Category) *models.PendingSubmission {
	t.Helper()
	sub, err := h.intake.Submit(context.Background(), SubmitInput{
		SubmitterID: 42,
		Title:       "Sunset",
		Category:    string(category),
		Filename:    "sunset.jpg",
		ContentType: "image/jpeg",
		Content:     testutil.TinyJPEG(t, 8, 8, color.RGBA{R: 200, G: 80, B: 20, A: 255}),
	})
	require.NoError(t, err)
	return sub
}

// seedRejected inserts a rejected row with a staged file, created at createdAt.
func (h *harness) seedRejected(t *testing.T, createdAt time.Time) *models.PendingSubmission {
	t.Helper()
	h.seq++
	name := storage.StagedName(createdAt, fmt.Sprintf("seed%d", h.seq), "old.png")
	rel, err := h.staging.Write(string(models.CategoryFanart), name, []byte("png"))
	require.NoError(t, err)

	reviewer := uint(7)
	sub := &models.PendingSubmission{
		Title:            "old",
		Category:         models.CategoryFanart,
		OriginalFilename: "old.png",
		FileSizeBytes:    3,
		MimeType:         "image/png",
		StagedPath:       rel,
		PublicURL:        h.staging.PreviewURL(rel),
		Status:           models.SubmissionStatusRejected,
		RejectReason:     "nope",
		SubmitterID:      42,
		ReviewerID:       &reviewer,
		ReviewedAt:       &createdAt,
		CreatedAt:        createdAt,
	}
	require.NoError(t, h.db.Create(sub).Error)
	return sub
}

// waitForNotifications waits for the background notifier to record n calls.
func (h *harness) waitForNotifications(t *testing.T, n int) []testutil.Notification {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.notifier.Calls()) >= n }, 2*time.Second, 5*time.Millisecond)
	calls := h.notifier.Calls()
	require.Len(t, calls, n)
	return calls
}

func (h *harness) counts(t *testing.T) models.StatusCounts {
	t.Helper()
	c, err := h.query.CountByStatus(context.Background())
	require.NoError(t, err)
	return c
}
