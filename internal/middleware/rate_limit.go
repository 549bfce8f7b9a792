package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet-engine/internal/httpx"
)

// RateLimit allows maxPerWindow requests per account in each fixed window,
// counted in Redis. Without Redis, or when Redis fails, requests pass.
func RateLimit(cache *redis.Client, name string, maxPerWindow int, window time.Duration) fiber.Handler {
	if maxPerWindow <= 0 {
		maxPerWindow = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		subject := httpx.AccountID(c)
		if subject == "" {
			subject = c.IP()
		}
		key := "rl:" + name + ":" + subject
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, window)
		}
		if cnt > int64(maxPerWindow) {
			if ttl, err := cache.TTL(c.UserContext(), key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())+1))
			}
			return httpx.NewError(http.StatusTooManyRequests, "RateLimited", "too many requests, try again later")
		}
		return c.Next()
	}
}
