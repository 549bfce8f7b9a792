package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/congo-pay/wallet-engine/internal/httpx"
)

// RequestID ensures each request has a stable request identifier for tracing and logging.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(httpx.LocalRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(httpx.LocalRequestID, reqID)
		c.Locals(httpx.LocalRequestID, reqID)

		return c.Next()
	}
}
