package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-engine/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, idempotency fiber.Handler) {
	group := r.Group("/payments", idempotency)
	group.Post("/transfer", h.Transfer)
	group.Post("/mobile", h.Mobile)
	group.Post("/qr", h.QR)
}
