package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-engine/internal/httpx"
	"github.com/congo-pay/wallet-engine/internal/metrics"
)

// Metrics records request counts and latency per route pattern.
func Metrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		if route == "" {
			route = "unmatched"
		}
		status := c.Response().StatusCode()
		if err != nil {
			status = httpx.StatusOf(err)
		}
		m.HTTPRequest(c.Method(), route, strconv.Itoa(status), time.Since(start))
		return err
	}
}
