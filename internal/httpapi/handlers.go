// Package httpapi is the HTTP/JSON surface over the alias store and
// allocator. It only translates requests and errors; all invariants live in
// the layers below.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/shortkit/shortkit/internal"
	"github.com/shortkit/shortkit/internal/alias"
	"github.com/shortkit/shortkit/internal/events"
	"github.com/shortkit/shortkit/internal/store"
)

// RedirectCache is the optional redis front for redirect lookups.
type RedirectCache interface {
	GetURL(ctx context.Context, code string) (string, bool, error)
	SetURL(ctx context.Context, code, originalURL string) error
	Invalidate(ctx context.Context, code string) error
	Purge(ctx context.Context) error
}

const notFoundPage = `<html>
<head><title>URL Not Found</title></head>
<body style="font-family: Arial; text-align: center; margin-top: 100px;">
    <h1>Short URL Not Found</h1>
    <p>The requested short URL does not exist or has been removed.</p>
    <a href="/">Go back to homepage</a>
</body>
</html>`

// Handlers carries the dependencies of the HTTP layer. Cache may be nil.
type Handlers struct {
	Store  store.Store
	Alloc  *alias.Allocator
	Cache  RedirectCache
	Events events.Publisher
	Domain string
}

// Register wires all routes. The catch-all redirect route goes last so it
// cannot shadow /health or /api.
func (h *Handlers) Register(app *fiber.App) {
	app.Get("/health", h.Health)

	api := app.Group("/api")
	api.Post("/shorten", h.Shorten)
	api.Get("/stats", h.Stats)
	api.Get("/stats/:short_code", h.CodeStats)
	api.Get("/recent", h.Recent)
	api.Delete("/clear", h.Clear)

	app.Get("/:short_code", h.Redirect)
}

type shortenRequest struct {
	URL        string `json:"url"`
	CustomCode string `json:"custom_code"`
}

func (h *Handlers) Shorten(c *fiber.Ctx) error {
	var req shortenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON body"})
	}

	mapping, err := h.Alloc.Allocate(c.Context(), strings.TrimSpace(req.URL), strings.TrimSpace(req.CustomCode))
	if err != nil {
		switch {
		case errors.Is(err, internal.ErrInvalidURL),
			errors.Is(err, internal.ErrInvalidCodeFormat),
			errors.Is(err, internal.ErrCodeTaken):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, internal.ErrAllocationExhausted):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Unable to generate unique short code. Please try again."})
		default:
			slog.Error("Error creating mapping", "err", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
		}
	}

	return c.JSON(fiber.Map{
		"short_url":    h.shortURL(mapping.ShortCode),
		"short_code":   mapping.ShortCode,
		"original_url": mapping.OriginalURL,
		"success":      true,
	})
}

func (h *Handlers) Redirect(c *fiber.Ctx) error {
	code := c.Params("short_code")
	if !alias.ValidCode(code) {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid short code format")
	}
	ctx := c.Context()
	userAgent := c.Get("User-Agent")

	if h.Cache != nil {
		originalURL, hit, err := h.Cache.GetURL(ctx, code)
		if err != nil {
			slog.Warn("Error reading redirect cache", "short_code", code, "err", err)
		} else if hit {
			// The store still owns the click, so a stale hit surfaces as
			// not-found here and the entry is dropped.
			if err := h.Store.RecordClick(ctx, code); err != nil {
				if errors.Is(err, internal.ErrNotFound) {
					if derr := h.Cache.Invalidate(ctx, code); derr != nil {
						slog.Warn("Error invalidating stale cache entry", "short_code", code, "err", derr)
					}
					return h.renderNotFound(c)
				}
				slog.Error("Error recording click", "short_code", code, "err", err)
				return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
			}
			h.publishClick(code, userAgent)
			return c.Redirect(originalURL, fiber.StatusFound)
		}
	}

	mapping, err := h.Alloc.Resolve(ctx, code)
	if err != nil {
		if errors.Is(err, internal.ErrNotFound) {
			return h.renderNotFound(c)
		}
		slog.Error("Error resolving short code", "short_code", code, "err", err)
		return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
	}

	if h.Cache != nil {
		if err := h.Cache.SetURL(ctx, code, mapping.OriginalURL); err != nil {
			slog.Warn("Error caching redirect", "short_code", code, "err", err)
		}
	}
	h.publishClick(code, userAgent)

	return c.Redirect(mapping.OriginalURL, fiber.StatusFound)
}

func (h *Handlers) Stats(c *fiber.Ctx) error {
	stats, err := h.Store.AggregateStats(c.Context())
	if err != nil {
		slog.Error("Error reading aggregate stats", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.JSON(stats)
}

func (h *Handlers) CodeStats(c *fiber.Ctx) error {
	code := c.Params("short_code")
	ctx := c.Context()

	mapping, err := h.Store.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, internal.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Short URL not found"})
		}
		slog.Error("Error reading mapping stats", "short_code", code, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	breakdown, err := h.Store.CodeBreakdown(ctx, code)
	if err != nil {
		slog.Error("Error reading analytics breakdown", "short_code", code, "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}

	return c.JSON(fiber.Map{
		"short_code":   mapping.ShortCode,
		"short_url":    h.shortURL(mapping.ShortCode),
		"original_url": mapping.OriginalURL,
		"clicks":       mapping.Clicks,
		"created_at":   mapping.CreatedAt,
		"agents":       breakdown,
	})
}

type recentItem struct {
	ShortCode   string    `json:"short_code"`
	ShortURL    string    `json:"short_url"`
	OriginalURL string    `json:"original_url"`
	Clicks      int64     `json:"clicks"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *Handlers) Recent(c *fiber.Ctx) error {
	mappings, err := h.Store.RecentMappings(c.Context(), 0)
	if err != nil {
		slog.Error("Error listing recent mappings", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}

	items := make([]recentItem, 0, len(mappings))
	for _, m := range mappings {
		items = append(items, recentItem{
			ShortCode:   m.ShortCode,
			ShortURL:    h.shortURL(m.ShortCode),
			OriginalURL: m.OriginalURL,
			Clicks:      m.Clicks,
			CreatedAt:   m.CreatedAt,
		})
	}
	return c.JSON(items)
}

func (h *Handlers) Clear(c *fiber.Ctx) error {
	ctx := c.Context()
	if err := h.Store.ClearAll(ctx); err != nil {
		slog.Error("Error clearing data", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
	if h.Cache != nil {
		if err := h.Cache.Purge(ctx); err != nil {
			slog.Warn("Error purging redirect cache", "err", err)
		}
	}
	return c.JSON(fiber.Map{"message": "All data cleared successfully"})
}

func (h *Handlers) Health(c *fiber.Ctx) error {
	if err := h.Store.Ping(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":    "unhealthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"database":  "disconnected",
		})
	}
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"database":  "connected",
	})
}

func (h *Handlers) renderNotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).Type("html").SendString(notFoundPage)
}

// publishClick queues the event off the request path. Redirect latency never
// waits on the broker.
func (h *Handlers) publishClick(code, userAgent string) {
	if userAgent == "" {
		userAgent = "Unknown"
	}
	event := internal.ClickEvent{
		ShortCode: code,
		Timestamp: time.Now(),
		UserAgent: userAgent,
	}
	go h.Events.PublishClick(context.Background(), event)
}

func (h *Handlers) shortURL(code string) string {
	return strings.TrimRight(h.Domain, "/") + "/" + code
}
