package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-engine/internal/admin"
	"github.com/congo-pay/wallet-engine/internal/wallet"
)

// RegisterAdminRoutes wires operator endpoints. r must already carry the
// admin key guard.
func RegisterAdminRoutes(r fiber.Router, h *admin.Handler, wallets *wallet.Handler) {
	r.Post("/wallets", wallets.Open)
	r.Post("/accounts", h.OpenAccount)
	r.Post("/accounts/:id/adjust", h.Adjust)
	r.Post("/accounts/:id/freeze", h.Freeze)
	r.Post("/accounts/:id/unfreeze", h.Unfreeze)
	r.Get("/accounts/:id/reconcile", h.Reconcile)
	r.Post("/bulk/credit", h.BulkCredit)
	r.Post("/bulk/freeze", h.BulkFreeze)
	r.Post("/bulk/unfreeze", h.BulkUnfreeze)
}
