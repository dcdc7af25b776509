package server

import (
	"fanvault/internal/models"
	"fanvault/internal/service"

	"github.com/gofiber/fiber/v2"
)

// TriggerCleanup handles POST /api/admin/retention/cleanup
func (s *Server) TriggerCleanup(c *fiber.Ctx) error {
	result := s.retentionService.ManualCleanup(c.UserContext())
	if result.Success {
		return c.JSON(result)
	}
	status := fiber.StatusInternalServerError
	if result.Error == service.ErrCleanupBusy.Error() {
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(result)
}

// GetRetentionConfig handles GET /api/admin/retention/config
func (s *Server) GetRetentionConfig(c *fiber.Ctx) error {
	return c.JSON(s.retentionService.GetConfig())
}

// UpdateRetentionConfig handles PUT /api/admin/retention/config. Omitted
// fields keep their current value.
func (s *Server) UpdateRetentionConfig(c *fiber.Ctx) error {
	var req service.RetentionConfigUpdate
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}

	updated, err := s.retentionService.UpdateConfig(req)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(updated)
}

// GetRetentionStats handles GET /api/admin/retention/stats
func (s *Server) GetRetentionStats(c *fiber.Ctx) error {
	stats, err := s.retentionService.GetStats(c.UserContext())
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(stats)
}
