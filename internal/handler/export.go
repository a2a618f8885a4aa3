package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lazywriting/api/internal/middleware"
	"github.com/lazywriting/api/internal/service"
	"github.com/lazywriting/api/pkg/response"
)

type ExportHandler struct {
	service *service.ExportService
}

func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Export handles POST /api/articles/:id/export
func (h *ExportHandler) Export(c *fiber.Ctx) error {
	result, err := h.service.Export(c.UserContext(), middleware.GetPrincipal(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}
