package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/learnhub/messaging-service/internal/api/http/handlers"
	"github.com/learnhub/messaging-service/internal/auth"
	"github.com/learnhub/messaging-service/internal/domain"
	"github.com/learnhub/messaging-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Threads        *handlers.ThreadsHandler
	Messages       *handlers.MessagesHandler
	Watch          *handlers.WatchHandler
	AuthMiddleware *auth.AuthMiddleware
	RateLimiter    *UserRateLimiter
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	participant := auth.RequireRole(domain.RoleTeacher, domain.RoleStudent)

	threads := app.Group("/threads", cfg.AuthMiddleware.Handle, participant)
	threads.Post("/", cfg.Threads.StartThread)
	threads.Get("/", cfg.Threads.ListThreads)
	threads.Get("/:id", cfg.Threads.GetThread)
	threads.Post("/:id/read", cfg.Threads.MarkRead)
	threads.Get("/:id/messages", cfg.Messages.ListMessages)
	threads.Post("/:id/messages", cfg.RateLimiter.Handler(), cfg.Messages.AppendMessage)

	ws := app.Group("/ws", handlers.UpgradeRequired, cfg.AuthMiddleware.Handle, participant)
	ws.Get("/inbox", websocket.New(cfg.Watch.Inbox))
	ws.Get("/threads/:id/messages", cfg.Watch.AuthorizeThread, websocket.New(cfg.Watch.Messages))
}
