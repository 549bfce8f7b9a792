package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-engine/internal/httpx"
)

// AccountHeader carries the caller's account id. The identity gateway in
// front of the engine authenticates the user and sets it.
const AccountHeader = "X-Account-ID"

// Account requires the trusted account header and stores it in the request
// locals.
func Account() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(AccountHeader))
		if id == "" {
			return httpx.NewError(http.StatusUnauthorized, "Unauthenticated", "missing "+AccountHeader+" header")
		}
		c.Locals(httpx.LocalAccountID, id)
		return c.Next()
	}
}
