package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lazywriting/api/internal/config"
	"github.com/lazywriting/api/internal/middleware"
)

// Routes groups everything mounted under /api and /ws
type Routes struct {
	Articles    *ArticleHandler
	Export      *ExportHandler
	Streams     *StreamHandler
	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	RateLimit   config.RateLimitConfig
}

// Mount registers the article command surface and the event feed on app
func (r *Routes) Mount(app *fiber.App) {
	api := app.Group("/api", r.Auth.Authenticate())

	commands := r.RateLimiter.CommandLimit(r.RateLimit.CommandsPerMin)

	articles := api.Group("/articles")
	articles.Post("/", r.RateLimiter.StartLimit(r.RateLimit.StartPerHour), r.Articles.Start)
	articles.Get("/:id", r.Articles.Get)
	articles.Post("/:id/brainstorms/:provider", commands, r.Articles.RegenerateBrainstorm)
	articles.Post("/:id/drafts", commands, r.Articles.GenerateAllDrafts)
	articles.Post("/:id/drafts/:provider", commands, r.Articles.RegenerateDraft)
	articles.Post("/:id/fusion", commands, r.Articles.Fusion)
	articles.Put("/:id/selection", r.Articles.Select)
	articles.Put("/:id/content", r.Articles.UpdateContent)
	articles.Post("/:id/export", r.RateLimiter.ExportLimit(r.RateLimit.ExportPerHour), r.Export.Export)

	app.Use("/ws", r.Streams.Upgrade)
	app.Get("/ws/streams", r.Streams.Streams())
}
