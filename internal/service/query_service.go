package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"fanvault/internal/models"
	"fanvault/internal/repository"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// SubmissionPage is one page of a status-filtered submission listing.
type SubmissionPage struct {
	Items []models.PendingSubmission `json:"items"`
	Total int64                      `json:"total"`
	Page  int                        `json:"page"`
	Limit int                        `json:"limit"`
}

// QueryService provides the read side used by the review queue.
type QueryService struct {
	repo repository.SubmissionRepository
}

func NewQueryService(repo repository.SubmissionRepository) *QueryService {
	return &QueryService{repo: repo}
}

// CountByStatus returns live per-status totals.
func (s *QueryService) CountByStatus(ctx context.Context) (models.StatusCounts, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return models.StatusCounts{}, models.NewInternalError(fmt.Errorf("count submissions: %w", err))
	}
	return counts, nil
}

// GetPending lists submissions in status, newest first. page starts at 1; a
// limit of 0 means DefaultPageLimit and anything above MaxPageLimit is capped.
func (s *QueryService) GetPending(ctx context.Context, status string, page, limit int, category string) (*SubmissionPage, error) {
	st := models.SubmissionStatusPending
	if status != "" {
		parsed, ok := models.ParseSubmissionStatus(status)
		if !ok {
			return nil, models.NewValidationError(fmt.Sprintf("Invalid status %q", status))
		}
		st = parsed
	}

	var cat models.Category
	if category != "" {
		parsed, ok := models.ParseCategory(category)
		if !ok {
			return nil, models.NewValidationError(fmt.Sprintf("Invalid category %q", category))
		}
		cat = parsed
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	// Keep the offset inside a 32-bit signed range for every driver.
	if page > math.MaxInt32/limit {
		return nil, models.NewValidationError(fmt.Sprintf("Page too large (max %d at limit %d)", math.MaxInt32/limit, limit))
	}

	items, total, err := s.repo.List(ctx, repository.SubmissionFilter{Status: st, Category: cat}, limit, (page-1)*limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list submissions", "status", st, "category", cat, "err", err)
		return nil, models.NewInternalError(fmt.Errorf("list submissions: %w", err))
	}
	if items == nil {
		items = []models.PendingSubmission{}
	}
	return &SubmissionPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}
