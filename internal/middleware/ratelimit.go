package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"dhoka/internal/cache"
	"dhoka/internal/models"
	"dhoka/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// RateLimit returns a Fiber middleware enforcing limit requests per window
// for the named resource. It keys by authenticated subject when present,
// otherwise by remote IP. policy decides what happens when Redis is
// unreachable.
func RateLimit(store *cache.Store, resource string, limit int, window time.Duration, policy cache.FailPolicy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var id string
		if uid, ok := c.Locals("userID").(string); ok && uid != "" {
			id = "user:" + uid
		} else {
			id = "ip:" + c.IP()
		}

		allowed, err := store.Allow(c.UserContext(), resource, id, limit, window)
		if err != nil {
			if policy == cache.FailClosed {
				observability.GlobalLogger.WarnContext(c.UserContext(), "rate limit unavailable, refusing request",
					slog.String("resource", resource), slog.String("error", err.Error()))
				return models.RespondWithError(c, 0,
					models.NewServiceUnavailableError("Rate limit unavailable", err))
			}
			return c.Next()
		}

		if !allowed {
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", int(window.Seconds())))
			return models.RespondWithError(c, 0, &models.AppError{
				Kind:    models.KindRateLimited,
				Code:    models.CodeRateLimited,
				Message: "Rate limit exceeded",
			})
		}
		return c.Next()
	}
}
