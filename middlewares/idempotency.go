package middlewares

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// HeaderIdempotencyKey is the request header callers use to scope "the same
// logical request" for deduplication. It passes through unmodified.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

// IdempotencyKey validates the Idempotency-Key header on mutating methods and
// stashes it in Locals for handlers that execute through the idempotent
// executor. A missing header is fine: those requests run without dedup.
func IdempotencyKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		method := strings.ToUpper(c.Method())
		if method != fiber.MethodPost && method != fiber.MethodPut && method != fiber.MethodPatch && method != fiber.MethodDelete {
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(HeaderIdempotencyKey))
		if len(key) > maxIdempotencyKeyLen {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Idempotency-Key too long"})
		}

		c.Locals("idempotencyKey", key)
		return c.Next()
	}
}

// IdempotencyKeyFrom returns the validated key for this request, or "" when
// the caller didn't send one.
func IdempotencyKeyFrom(c *fiber.Ctx) string {
	key, _ := c.Locals("idempotencyKey").(string)
	return key
}
