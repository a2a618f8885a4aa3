package handler

import (
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/lazywriting/api/internal/service"
	"github.com/lazywriting/api/pkg/response"
)

// respondError maps service errors onto the JSON error envelope
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrArticleNotFound):
		return response.NotFound(c, "Article not found")
	case errors.Is(err, service.ErrForbidden):
		return response.Forbidden(c, "Article belongs to another user")
	case errors.Is(err, service.ErrQuotaExceeded):
		return response.QuotaExceeded(c, service.UserMessage(err, "Article allowance exhausted"))
	case errors.Is(err, service.ErrMissingPrerequisite):
		return response.MissingPrerequisite(c, service.UserMessage(err, "Earlier stage has no content yet"))
	case errors.Is(err, service.ErrUnknownProvider), errors.Is(err, service.ErrInvalidCommand):
		return response.ValidationError(c, service.UserMessage(err, "Invalid command"), nil)
	case errors.Is(err, service.ErrStorageNotConfigured):
		return response.StorageNotConfigured(c)
	}
	return response.ServiceError(c, "Internal error")
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}
