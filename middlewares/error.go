package middlewares

import (
	"errors"

	"brokerage-backend/idempotency"
	"brokerage-backend/keys"
	"brokerage-backend/logger"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrorHandler centralizes error responses: domain errors map to stable
// codes, everything else stays sanitized (no stack traces to callers).
func ErrorHandler(c *fiber.Ctx, err error) error {
	// 1) Domain errors (stable error codes)
	switch {
	case errors.Is(err, keys.ErrNoActiveKey):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"code": "no_active_key", "message": "no active signing key; rotation required",
		})
	case errors.Is(err, keys.ErrRotationInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"code": "rotation_in_progress", "message": "a key rotation is already running, retry later",
		})
	case errors.Is(err, keys.ErrInvalidSignature):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"code": "invalid_signature", "message": "token failed verification against all valid keys",
		})
	case errors.Is(err, keys.ErrKeyNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"code": "key_not_found", "message": "no such key",
		})
	case errors.Is(err, keys.ErrKeyIsActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"code": "key_is_active", "message": "rotate before revoking the active key",
		})
	case errors.Is(err, idempotency.ErrOperationInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"code": "operation_in_progress", "message": "a request with this Idempotency-Key is already running",
		})
	case errors.Is(err, idempotency.ErrInvalidStateTransition):
		// Integration bug, not caller error. Log loudly.
		logger.L().Error("idempotency state transition violation", zap.Error(err), zap.String("path", c.Path()))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code": "invalid_state_transition", "message": "internal idempotency error",
		})
	}

	// 2) Fiber errors (use their status code + message)
	if fe, ok := err.(*fiber.Error); ok {
		return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
	}

	// 3) Validation errors (422 + per-field info)
	if ve, ok := err.(validator.ValidationErrors); ok {
		out := make(map[string]string, len(ve))
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"message": "validation failed",
			"errors":  out,
		})
	}

	// 4) Unknown errors (500)
	logger.L().Error("internal error", zap.Error(err), zap.String("path", c.Path()))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": "internal server error",
	})
}
