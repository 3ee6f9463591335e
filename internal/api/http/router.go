package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-realtime/internal/api/http/handlers"
	"github.com/spec-kit/ticket-realtime/internal/api/ws"
	"github.com/spec-kit/ticket-realtime/internal/auth"
	"github.com/spec-kit/ticket-realtime/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	AdminTickets   *handlers.AdminTicketsHandler
	Socket         *ws.Handler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP and socket routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics.Handler())
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireUser())
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/messages", cfg.Tickets.PostMessage)

	admin := app.Group("/admin/tickets", cfg.AuthMiddleware.Handle, auth.RequireAdmin())
	admin.Get("/", cfg.AdminTickets.ListTickets)
	admin.Get("/:id", cfg.AdminTickets.GetTicket)
	admin.Post("/:id/messages", cfg.AdminTickets.PostMessage)
	admin.Post("/:id/notes", cfg.AdminTickets.AddNote)
	admin.Post("/:id/assign", cfg.AdminTickets.Assign)
	admin.Patch("/:id/status", cfg.AdminTickets.UpdateStatus)
	admin.Patch("/:id/priority", cfg.AdminTickets.UpdatePriority)

	if cfg.Socket != nil {
		app.Get("/ws", cfg.AuthMiddleware.HandleSocket, cfg.Socket.Upgrade, cfg.Socket.Endpoint())
	}
}
