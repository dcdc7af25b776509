package server

import (
	"io"

	"fanvault/internal/models"
	"fanvault/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SubmissionResponse is a submission as shown to API clients. PreviewURL
// points at the reviewer-only staged copy while one exists.
type SubmissionResponse struct {
	models.PendingSubmission
	PreviewURL string `json:"preview_url,omitempty"`
}

func (s *Server) toSubmissionResponse(sub *models.PendingSubmission) SubmissionResponse {
	resp := SubmissionResponse{PendingSubmission: *sub}
	if sub.StagedPath != "" {
		resp.PreviewURL = s.staging.PreviewURL(sub.StagedPath)
	}
	return resp
}

// CreateSubmission handles POST /api/submissions
func (s *Server) CreateSubmission(c *fiber.Ctx) error {
	userID, err := actorID(c)
	if err != nil {
		return nil
	}

	file, err := c.FormFile("file")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("No file uploaded"))
	}

	src, err := file.Open()
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(src)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Unable to read uploaded file"))
	}

	sub, err := s.intakeService.Submit(c.UserContext(), service.SubmitInput{
		SubmitterID: userID,
		Title:       c.FormValue("title"),
		Description: c.FormValue("description"),
		Category:    c.FormValue("category"),
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(s.toSubmissionResponse(sub))
}
