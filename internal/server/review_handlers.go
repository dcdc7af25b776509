package server

import (
	"errors"

	"fanvault/internal/models"
	"fanvault/internal/service"
	"fanvault/internal/storage"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"
)

// SubmissionListResponse is one page of submissions for the review queue.
type SubmissionListResponse struct {
	Items []SubmissionResponse `json:"items"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// ApproveRequest carries optional overrides applied when publishing.
type ApproveRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

// ListSubmissions handles GET /api/admin/submissions
func (s *Server) ListSubmissions(c *fiber.Ctx) error {
	page, err := s.queryService.GetPending(
		c.UserContext(),
		c.Query("status"),
		c.QueryInt("page", 1),
		c.QueryInt("limit", service.DefaultPageLimit),
		c.Query("category"),
	)
	if err != nil {
		return respondServiceError(c, err)
	}

	items := make([]SubmissionResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, s.toSubmissionResponse(&page.Items[i]))
	}
	return c.JSON(SubmissionListResponse{
		Items: items,
		Total: page.Total,
		Page:  page.Page,
		Limit: page.Limit,
	})
}

// GetSubmissionCounts handles GET /api/admin/submissions/counts
func (s *Server) GetSubmissionCounts(c *fiber.Ctx) error {
	counts, err := s.queryService.CountByStatus(c.UserContext())
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(counts)
}

// ApproveSubmission handles POST /api/admin/submissions/:id/approve
func (s *Server) ApproveSubmission(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	reviewerID, err := actorID(c)
	if err != nil {
		return nil
	}

	var req ApproveRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
		}
	}

	result, err := s.reviewService.Approve(c.UserContext(), id, reviewerID, service.DecisionParams{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"submission": s.toSubmissionResponse(result.Submission),
		"asset":      result.Asset,
	})
}

// RejectSubmission handles POST /api/admin/submissions/:id/reject
func (s *Server) RejectSubmission(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	reviewerID, err := actorID(c)
	if err != nil {
		return nil
	}

	var req RejectRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
		}
	}

	result, err := s.reviewService.Reject(c.UserContext(), id, reviewerID, req.Reason)
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"submission": s.toSubmissionResponse(result.Submission),
	})
}

// ServeStagedFile streams a staged upload to a reviewer for preview.
func (s *Server) ServeStagedFile(c *fiber.Ctx) error {
	rel := c.Params("*")
	data, err := s.staging.Read(rel)
	if err != nil {
		if errors.Is(err, storage.ErrStagedFileMissing) || errors.Is(err, storage.ErrInvalidStagedPath) {
			return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("Staged file", rel))
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}

	c.Set(fiber.HeaderContentType, mimetype.Detect(data).String())
	c.Set(fiber.HeaderCacheControl, "private, no-store")
	return c.Send(data)
}
