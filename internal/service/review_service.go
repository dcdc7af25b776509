package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"fanvault/internal/models"
	"fanvault/internal/observability"
	"fanvault/internal/repository"
	"fanvault/internal/storage"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const (
	DefaultRejectReason       = "Content does not meet community guidelines"
	DefaultObjectStoreTimeout = 30 * time.Second
	notifyTimeout             = 5 * time.Second
	maxRejectReasonLength     = 1000
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// DecisionParams carries the optional inputs of a decision. Title,
// Description and Category override the submission on approve; Reason is
// used on reject.
type DecisionParams struct {
	Title       *string
	Description *string
	Category    *string
	Reason      string
}

// DecisionResult is the submission after the transition, plus the asset
// created by an approval.
type DecisionResult struct {
	Submission *models.PendingSubmission `json:"submission"`
	Asset      *models.Asset             `json:"asset,omitempty"`
}

// Notifier delivers moderation outcomes to the submitter.
type Notifier interface {
	NotifyApproved(ctx context.Context, sub *models.PendingSubmission) error
	NotifyRejected(ctx context.Context, sub *models.PendingSubmission, reason string) error
}

// ReviewService moves pending submissions to approved or rejected. The
// pending check is a conditional update, so concurrent decisions on one
// submission produce exactly one winner.
type ReviewService struct {
	repo          repository.SubmissionRepository
	staging       *storage.StagingStore
	store         storage.ObjectStore
	notifier      Notifier
	uploadTimeout time.Duration
	opts          options
}

func NewReviewService(
	repo repository.SubmissionRepository,
	staging *storage.StagingStore,
	store storage.ObjectStore,
	notifier Notifier,
	uploadTimeout time.Duration,
	opts ...Option,
) *ReviewService {
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultObjectStoreTimeout
	}
	return &ReviewService{
		repo:          repo,
		staging:       staging,
		store:         store,
		notifier:      notifier,
		uploadTimeout: uploadTimeout,
		opts:          buildOptions(opts),
	}
}

func (s *ReviewService) Approve(ctx context.Context, id, reviewerID uint, params DecisionParams) (*DecisionResult, error) {
	return s.Decide(ctx, id, reviewerID, DecisionApprove, params)
}

func (s *ReviewService) Reject(ctx context.Context, id, reviewerID uint, reason string) (*DecisionResult, error) {
	return s.Decide(ctx, id, reviewerID, DecisionReject, DecisionParams{Reason: reason})
}

// Decide applies decision to submission id on behalf of reviewerID.
func (s *ReviewService) Decide(ctx context.Context, id, reviewerID uint, decision Decision, params DecisionParams) (result *DecisionResult, err error) {
	span, ctx := observability.NewSpan(ctx, "review.decide",
		attribute.Int64("submission.id", int64(id)),
		attribute.String("review.decision", string(decision)),
	)
	defer func() {
		label := string(decision)
		if decision != DecisionApprove && decision != DecisionReject {
			label = "unknown"
		}
		observability.ModerationDecisions.WithLabelValues(label, decisionOutcome(err)).Inc()
		span.SetError(err)
		span.End()
	}()

	if reviewerID == 0 {
		return nil, models.NewValidationError("Invalid reviewer")
	}

	switch decision {
	case DecisionApprove:
		return s.approve(ctx, id, reviewerID, params)
	case DecisionReject:
		return s.reject(ctx, id, reviewerID, params.Reason)
	default:
		return nil, models.NewValidationError(fmt.Sprintf("Unknown decision %q", decision))
	}
}

func (s *ReviewService) approve(ctx context.Context, id, reviewerID uint, params DecisionParams) (*DecisionResult, error) {
	overrides, err := parseOverrides(params)
	if err != nil {
		return nil, err
	}

	sub, err := s.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := s.staging.Read(sub.StagedPath)
	if err != nil {
		if errors.Is(err, storage.ErrStagedFileMissing) || errors.Is(err, storage.ErrInvalidStagedPath) {
			return nil, s.missingStagedFile(ctx, id, err)
		}
		return nil, models.NewInternalError(fmt.Errorf("read staged file: %w", err))
	}

	final := *sub
	if overrides.Title != nil {
		final.Title = *overrides.Title
	}
	if overrides.Description != nil {
		final.Description = *overrides.Description
	}
	if overrides.Category != nil {
		final.Category = *overrides.Category
	}

	now := s.opts.clock.Now()
	key := path.Join(string(final.Category), storage.StagedName(now, s.opts.tokens.New(), sub.OriginalFilename))

	url, err := s.putDurable(ctx, key, sub.MimeType, data)
	if err != nil {
		slog.WarnContext(ctx, "durable upload failed, submission stays pending", "submission_id", id, "key", key, "err", err)
		return nil, models.NewStorageUnavailableError(err)
	}

	asset := &models.Asset{
		Title:       final.Title,
		Description: final.Description,
		Category:    final.Category,
		DurableURL:  url,
		DurableKey:  key,
		MimeType:    sub.MimeType,
		SizeBytes:   int64(len(data)),
	}
	if err := s.repo.ApproveWithAsset(ctx, id, reviewerID, now, overrides, asset); err != nil {
		s.discardDurable(ctx, key)
		if errors.Is(err, repository.ErrNotPending) {
			return nil, models.NewConflictError(fmt.Sprintf("Submission %d was decided concurrently", id))
		}
		return nil, models.NewInternalError(fmt.Errorf("record approval: %w", err))
	}

	if err := s.staging.Delete(sub.StagedPath); err != nil {
		slog.WarnContext(ctx, "failed to delete staged file after approval", "submission_id", id, "staged_path", sub.StagedPath, "err", err)
	}

	final.Status = models.SubmissionStatusApproved
	final.StagedPath = ""
	final.PublicURL = url
	final.ReviewerID = &reviewerID
	final.ReviewedAt = &now

	notice := final
	s.notify(ctx, func(nctx context.Context) error { return s.notifier.NotifyApproved(nctx, &notice) })

	slog.InfoContext(ctx, "submission approved", "submission_id", id, "asset_id", asset.ID, "key", key, "reviewer_id", reviewerID)
	return &DecisionResult{Submission: &final, Asset: asset}, nil
}

func (s *ReviewService) reject(ctx context.Context, id, reviewerID uint, reason string) (*DecisionResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRejectReason
	}
	if len([]rune(reason)) > maxRejectReasonLength {
		return nil, models.NewValidationError(fmt.Sprintf("Reason too long (max %d characters)", maxRejectReasonLength))
	}

	sub, err := s.loadPending(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.opts.clock.Now()
	if err := s.repo.MarkRejected(ctx, id, reviewerID, reason, now); err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			return nil, models.NewConflictError(fmt.Sprintf("Submission %d was decided concurrently", id))
		}
		return nil, models.NewInternalError(fmt.Errorf("record rejection: %w", err))
	}

	// Durable keys always carry a fresh token, so nothing is expected under
	// the staged key. The delete is a no-op safety net.
	if s.store != nil && s.store.IsConfigured() && sub.StagedPath != "" {
		if err := s.store.Delete(ctx, sub.StagedPath); err != nil {
			slog.DebugContext(ctx, "durable mirror delete failed on reject", "submission_id", id, "key", sub.StagedPath, "err", err)
		}
	}

	sub.Status = models.SubmissionStatusRejected
	sub.RejectReason = reason
	sub.ReviewerID = &reviewerID
	sub.ReviewedAt = &now

	notice := *sub
	s.notify(ctx, func(nctx context.Context) error { return s.notifier.NotifyRejected(nctx, &notice, reason) })

	slog.InfoContext(ctx, "submission rejected", "submission_id", id, "reviewer_id", reviewerID)
	return &DecisionResult{Submission: sub}, nil
}

func (s *ReviewService) loadPending(ctx context.Context, id uint) (*models.PendingSubmission, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Submission", id)
		}
		return nil, models.NewInternalError(fmt.Errorf("load submission: %w", err))
	}
	if sub.Status != models.SubmissionStatusPending {
		return nil, models.NewConflictError(fmt.Sprintf("Submission %d is already %s", id, sub.Status))
	}
	return sub, nil
}

// missingStagedFile distinguishes real corruption from a concurrent decision
// that already consumed the staged file.
func (s *ReviewService) missingStagedFile(ctx context.Context, id uint, cause error) error {
	current, err := s.repo.GetByID(ctx, id)
	if err == nil && current.Status != models.SubmissionStatusPending {
		return models.NewConflictError(fmt.Sprintf("Submission %d is already %s", id, current.Status))
	}
	if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError("Submission", id)
	}
	slog.ErrorContext(ctx, "staged file missing for pending submission", "submission_id", id, "err", cause)
	return models.NewStagingCorruptionError(id, cause)
}

func (s *ReviewService) putDurable(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if s.store == nil || !s.store.IsConfigured() {
		return "", storage.ErrNotConfigured
	}

	putCtx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()
	putCtx, span := observability.TraceObjectStore(putCtx, "put", key)
	defer span.End()

	start := time.Now()
	url, err := s.store.Put(putCtx, key, contentType, data)
	if err == nil && putCtx.Err() != nil {
		err = putCtx.Err()
	}
	observability.ObserveObjectStore("put", start, err)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return url, nil
}

// discardDurable removes an object uploaded by an approval that then lost the
// race or failed to commit.
func (s *ReviewService) discardDurable(ctx context.Context, key string) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.uploadTimeout)
	defer cancel()

	start := time.Now()
	err := s.store.Delete(delCtx, key)
	observability.ObserveObjectStore("delete", start, err)
	if err != nil {
		slog.ErrorContext(ctx, "failed to remove orphaned durable object", "key", key, "err", err)
	}
}

// notify publishes in the background; the decision is already committed
// and never waits on the notifier.
func (s *ReviewService) notify(ctx context.Context, send func(context.Context) error) {
	if s.notifier == nil {
		return
	}
	nctx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(nctx, "moderation notification panicked", "panic", r)
			}
		}()
		tctx, cancel := context.WithTimeout(nctx, notifyTimeout)
		defer cancel()
		if err := send(tctx); err != nil {
			slog.WarnContext(nctx, "moderation notification failed", "err", err)
		}
	}()
}

func parseOverrides(params DecisionParams) (repository.ApprovalOverrides, error) {
	var o repository.ApprovalOverrides
	if params.Title != nil {
		title := strings.TrimSpace(*params.Title)
		if title != "" {
			if len([]rune(title)) > maxTitleLength {
				return o, models.NewValidationError(fmt.Sprintf("Title too long (max %d characters)", maxTitleLength))
			}
			o.Title = &title
		}
	}
	if params.Description != nil {
		desc := strings.TrimSpace(*params.Description)
		if len([]rune(desc)) > maxDescriptionLength {
			return o, models.NewValidationError(fmt.Sprintf("Description too long (max %d characters)", maxDescriptionLength))
		}
		o.Description = &desc
	}
	if params.Category != nil && strings.TrimSpace(*params.Category) != "" {
		c, ok := models.ParseCategory(*params.Category)
		if !ok {
			return o, models.NewValidationError(fmt.Sprintf("Invalid category %q", *params.Category))
		}
		o.Category = &c
	}
	return o, nil
}

func decisionOutcome(err error) string {
	if err == nil {
		return "success"
	}
	switch models.ErrorCode(err) {
	case models.CodeValidation:
		return "invalid"
	case models.CodeNotFound:
		return "not_found"
	case models.CodeConflict:
		return "conflict"
	case models.CodeStagingCorruption:
		return "staging_corruption"
	case models.CodeStorageUnavailable:
		return "storage_unavailable"
	default:
		return "error"
	}
}
