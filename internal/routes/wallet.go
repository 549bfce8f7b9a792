package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-engine/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallet", h.Get)
	r.Get("/wallet/statement", h.Statement)
}
