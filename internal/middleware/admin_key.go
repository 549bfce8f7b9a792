package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/wallet-engine/internal/httpx"
)

// AdminKeyHeader carries the operator key.
const AdminKeyHeader = "X-Admin-Key"

// AdminKey guards operator routes by comparing the presented key with a
// bcrypt hash. An empty hash disables the admin surface entirely.
func AdminKey(hash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if hash == "" {
			return httpx.NewError(http.StatusForbidden, "AdminDisabled", "admin access is not configured")
		}
		key := c.Get(AdminKeyHeader)
		if key == "" {
			return httpx.NewError(http.StatusUnauthorized, "Unauthenticated", "missing "+AdminKeyHeader+" header")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			return httpx.NewError(http.StatusForbidden, "Forbidden", "invalid admin key")
		}
		return c.Next()
	}
}
