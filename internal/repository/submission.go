package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fanvault/internal/models"

	"gorm.io/gorm"
)

// ErrNotPending is returned by the conditional state transitions when the row
// left the pending state before the update ran (or does not exist).
var ErrNotPending = errors.New("submission is not pending")

// SubmissionFilter narrows List. Zero values match everything.
type SubmissionFilter struct {
	Status   models.SubmissionStatus
	Category models.Category
}

// ApprovalOverrides are reviewer edits applied while approving.
type ApprovalOverrides struct {
	Title       *string
	Description *string
	Category    *models.Category
}

// SubmissionRepository defines storage operations for moderation submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, sub *models.PendingSubmission) error
	GetByID(ctx context.Context, id uint) (*models.PendingSubmission, error)
	List(ctx context.Context, filter SubmissionFilter, limit, offset int) ([]models.PendingSubmission, int64, error)
	MarkRejected(ctx context.Context, id, reviewerID uint, reason string, at time.Time) error
	ApproveWithAsset(ctx context.Context, id, reviewerID uint, at time.Time, overrides ApprovalOverrides, asset *models.Asset) error
	CountByStatus(ctx context.Context) (models.StatusCounts, error)
	CountRejected(ctx context.Context) (int64, error)
	CountRejectedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListRejectedBefore(ctx context.Context, cutoff time.Time) ([]models.PendingSubmission, error)
	ListOldestRejected(ctx context.Context, n int) ([]models.PendingSubmission, error)
	DeleteRejected(ctx context.Context, id uint) (bool, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository returns a GORM-backed SubmissionRepository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Create(ctx context.Context, sub *models.PendingSubmission) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (*models.PendingSubmission, error) {
	var sub models.PendingSubmission
	if err := r.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter, limit, offset int) ([]models.PendingSubmission, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.PendingSubmission{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var subs []models.PendingSubmission
	err := q.Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&subs).Error
	if err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}

func (r *submissionRepository) MarkRejected(ctx context.Context, id, reviewerID uint, reason string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.PendingSubmission{}).
		Where("id = ? AND status = ?", id, models.SubmissionStatusPending).
		Updates(map[string]interface{}{
			"status":        models.SubmissionStatusRejected,
			"reject_reason": reason,
			"reviewer_id":   reviewerID,
			"reviewed_at":   at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

func (r *submissionRepository) ApproveWithAsset(ctx context.Context, id, reviewerID uint, at time.Time, overrides ApprovalOverrides, asset *models.Asset) error {
	if asset == nil {
		return fmt.Errorf("asset is nil")
	}

	updates := map[string]interface{}{
		"status":      models.SubmissionStatusApproved,
		"reviewer_id": reviewerID,
		"reviewed_at": at,
		"public_url":  asset.DurableURL,
		"staged_path": "",
	}
	if overrides.Title != nil {
		updates["title"] = *overrides.Title
	}
	if overrides.Description != nil {
		updates["description"] = *overrides.Description
	}
	if overrides.Category != nil {
		updates["category"] = *overrides.Category
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PendingSubmission{}).
			Where("id = ? AND status = ?", id, models.SubmissionStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotPending
		}
		asset.SourceSubmissionID = id
		return tx.Create(asset).Error
	})
}

func (r *submissionRepository) CountByStatus(ctx context.Context) (models.StatusCounts, error) {
	var rows []struct {
		Status models.SubmissionStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.PendingSubmission{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return models.StatusCounts{}, err
	}

	var counts models.StatusCounts
	for _, row := range rows {
		switch row.Status {
		case models.SubmissionStatusPending:
			counts.Pending = row.Count
		case models.SubmissionStatusApproved:
			counts.Approved = row.Count
		case models.SubmissionStatusRejected:
			counts.Rejected = row.Count
		}
		counts.Total += row.Count
	}
	return counts, nil
}

func (r *submissionRepository) CountRejected(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.PendingSubmission{}).
		Where("status = ?", models.SubmissionStatusRejected).
		Count(&n).Error
	return n, err
}

func (r *submissionRepository) CountRejectedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.PendingSubmission{}).
		Where("status = ? AND created_at < ?", models.SubmissionStatusRejected, cutoff).
		Count(&n).Error
	return n, err
}

func (r *submissionRepository) ListRejectedBefore(ctx context.Context, cutoff time.Time) ([]models.PendingSubmission, error) {
	var subs []models.PendingSubmission
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.SubmissionStatusRejected, cutoff).
		Order("created_at ASC, id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *submissionRepository) ListOldestRejected(ctx context.Context, n int) ([]models.PendingSubmission, error) {
	if n <= 0 {
		return nil, nil
	}
	var subs []models.PendingSubmission
	err := r.db.WithContext(ctx).
		Where("status = ?", models.SubmissionStatusRejected).
		Order("created_at ASC, id ASC").
		Limit(n).
		Find(&subs).Error
	return subs, err
}

// DeleteRejected removes the row only while it is still rejected. It reports
// false without error when nothing matched.
func (r *submissionRepository) DeleteRejected(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, models.SubmissionStatusRejected).
		Delete(&models.PendingSubmission{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
