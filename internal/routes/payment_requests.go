package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-engine/internal/paymentrequest"
)

// RegisterPaymentRequestRoutes wires payment request endpoints. Creation is
// rate limited per requester.
func RegisterPaymentRequestRoutes(r fiber.Router, h *paymentrequest.Handler, idempotency, rateLimiter fiber.Handler) {
	group := r.Group("/payment-requests", idempotency)
	group.Post("", rateLimiter, h.Create)
	group.Get("/incoming", h.Incoming)
	group.Get("/outgoing", h.Outgoing)
	group.Get("/:id", h.Get)
	group.Post("/:id/respond", h.Respond)
}
