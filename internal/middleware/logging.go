package middleware

import (
	"log/slog"
	"strings"
	"time"

	"dhoka/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// ContextMiddleware puts the request ID and authenticated moderator into the
// request context, where the context-aware logger picks them up.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			ctx = observability.WithRequestID(ctx, rid)
		}
		if uid, ok := c.Locals("userID").(string); ok && uid != "" {
			ctx = observability.WithUserID(ctx, uid)
		}
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// StructuredLogger logs one line per request. Probe and scrape endpoints are
// logged at debug level. Query strings are never logged since search terms
// may contain phone numbers.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		attrs := []slog.Attr{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.IP()),
		}
		if route := c.Route(); route != nil && route.Path != "" {
			attrs = append(attrs, slog.String("route", route.Path))
		}
		if id := c.Params("id"); id != "" {
			attrs = append(attrs, slog.String("post_id", id))
		}

		level := slog.LevelInfo
		msg := "request processed"
		switch {
		case err != nil:
			level, msg = slog.LevelError, "request failed"
			attrs = append(attrs, slog.String("error", err.Error()))
		case status >= fiber.StatusInternalServerError:
			level = slog.LevelWarn
		case strings.HasPrefix(c.Path(), "/health") || c.Path() == "/metrics":
			level = slog.LevelDebug
		}
		observability.GlobalLogger.LogAttrs(c.UserContext(), level, msg, attrs...)
		return err
	}
}
