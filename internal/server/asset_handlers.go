package server

import (
	"log/slog"

	"fanvault/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ListAssets handles GET /api/assets
func (s *Server) ListAssets(c *fiber.Ctx) error {
	var category models.Category
	if raw := c.Query("category"); raw != "" {
		parsed, ok := models.ParseCategory(raw)
		if !ok {
			return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid category"))
		}
		category = parsed
	}

	page := parsePagination(c, 20)
	assets, err := s.assetRepo.List(c.UserContext(), category, page.Limit, page.Offset)
	if err != nil {
		slog.ErrorContext(c.UserContext(), "failed to list assets", "err", err)
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	if assets == nil {
		assets = []models.Asset{}
	}

	return c.JSON(fiber.Map{
		"items":  assets,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}
