package transport

import (
	"errors"

	"github.com/edurelay/notify-engine/internal/domain"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrorHandler is the app-wide fiber error handler. Handlers normally map
// domain sentinels themselves; the mapping here is the safety net for errors
// that reach fiber unwrapped, so a raw ErrNotFound never turns into a 500.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := statusFor(err)

		log := logger.Error
		if code < fiber.StatusInternalServerError {
			log = logger.Warn
		}
		log("request error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

func statusFor(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}

	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNoRecipients):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
