package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/tokenops/custody-engine/internal/domain"
	"go.uber.org/zap"
)

// ErrorHandler maps domain sentinel errors onto HTTP statuses. Anything
// unmapped is a 500 with the detail kept out of the response body.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := err.Error()

		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &fiberErr):
			code = fiberErr.Code
		case errors.Is(err, domain.ErrValidation):
			code = fiber.StatusBadRequest
		case errors.Is(err, domain.ErrNotFound):
			code = fiber.StatusNotFound
		case errors.Is(err, domain.ErrConflict):
			code = fiber.StatusConflict
		case errors.Is(err, domain.ErrDependency):
			code = fiber.StatusBadGateway
		case errors.Is(err, domain.ErrDecryption):
			message = "internal error"
		default:
			message = "internal error"
		}

		logger.Error("request error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
