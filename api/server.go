/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. CORS:          Cross-origin requests for frontend clients
  2. RequestLogger: Structured JSON request logging (httplog/slog)
  3. RequestID:     Unique ID per request for tracing
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. Heartbeat:     /health liveness probe

ROUTE GROUPS:
  /api/approvals           Book approved leave requests
  /api/accruals            Credit accrual periods
  /api/employees/*         Employee registry, balances, ledger
  /api/rules/*             Accrual rule management
  /api/admin/*             Adjustments, carry-forward, expiry, deactivation

SECURITY NOTE:
  No authentication middleware. This service is expected to sit behind an
  internal gateway that handles authn/authz.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Route("/api", func(r chi.Router) {
		// Ledger operations
		r.Post("/approvals", h.HandleApproval)
		r.Post("/accruals", h.HandleAccrual)

		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/balances", h.GetBalances)
			r.Get("/{id}/transactions", h.GetTransactions)
		})

		// Rule routes
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Put("/", h.PutRule)
			r.Get("/{leaveType}", h.GetRule)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.HandleAdjustment)
			r.Post("/carry-forward", h.HandleCarryForward)
			r.Post("/expire", h.HandleExpire)
			r.Post("/balances/deactivate", h.HandleDeactivate)
		})
	})

	return r
}
