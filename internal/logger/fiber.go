package logger

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// FiberMiddleware logs every request through slog: method, path, status,
// client IP and latency.
func FiberMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			"method", c.Method(),
			"path", c.OriginalURL(),
			"status", c.Response().StatusCode(),
			"ip", c.IP(),
			"latency_ms", float64(time.Since(start).Microseconds()) / 1000.0,
		}
		if err != nil {
			slog.Error("http request", append(attrs, "err", err.Error())...)
			return err
		}
		slog.Info("http request", attrs...)
		return nil
	}
}
