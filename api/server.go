/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the desktop shell

ROUTE GROUPS:
  /api/auth/*             Credential verification
  /api/master-password/*  App-level secret setup and unlock
  /api/users/*            Staff account management (admin)
  /api/customers/*        Borrower registration and views
  /api/loans/*            Loan booking, views, field overrides
  /api/payments/*         Installment settlement
  /api/archive            Soft-delete for customers and loans
  /api/audit-logs/*       Audit trail and chain verification
  /api/settings           Branch configuration
  /api/dashboard/*        Aggregate stats

SECURITY NOTE:
  The acting staff member is taken from the X-Actor-ID header set by the
  local shell. The server binds to localhost; there is no network auth
  beyond the master password unlock.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Auth routes
		r.Post("/auth/login", h.Login)

		// Master password routes
		r.Route("/master-password", func(r chi.Router) {
			r.Get("/status", h.MasterPasswordStatus)
			r.Post("/setup", h.SetupMasterPassword)
			r.Post("/verify", h.VerifyMasterPassword)
		})

		// User management routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Put("/{id}/toggle-active", h.ToggleUserActive)
		})

		// Customer routes
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
		})

		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Post("/", h.CreateLoan)
			r.Post("/override-field", h.OverrideLoanField)
			r.Get("/{id}", h.GetLoan)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/mark-paid", h.MarkPaymentPaid)
			r.Post("/unmark-paid", h.UnmarkPaymentPaid)
		})

		// Archive route
		r.Post("/archive", h.ArchiveEntity)

		// Audit log routes
		r.Route("/audit-logs", func(r chi.Router) {
			r.Get("/", h.ListAuditLogs)
			r.Get("/verify-integrity", h.VerifyAuditIntegrity)
		})

		// Settings routes
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		// Dashboard routes
		r.Get("/dashboard/stats", h.Dashboard)
	})

	return r
}
