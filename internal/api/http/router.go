package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	Triage         *handlers.TriageHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/register", cfg.Users.Register)
	app.Post("/auth/login", cfg.Users.Login)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/audit", cfg.Tickets.GetTicketAudit)

	triage := app.Group("/triage/tickets", cfg.AuthMiddleware.Handle)
	triage.Post("/:id/approve", auth.RequireApprover(), cfg.Triage.Approve)
	triage.Post("/:id/reject", auth.RequireApprover(), cfg.Triage.Reject)
	triage.Patch("/:id/status", auth.RequireTriage(), cfg.Triage.UpdateStatus)
	triage.Post("/:id/remark", auth.RequireTriage(), cfg.Triage.AddRemark)
}
