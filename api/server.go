/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in 5xx logs
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the desk frontend

ROUTE GROUPS:
  /api/students/*     Directory + per-student views
  /api/workshops      Directory
  /api/cohorts        Directory
  /api/enrollments/*  Enrollment charges
  /api/classes/*      Class charges and sessions
  /api/charges/*      Charge administration
  /api/payments/*     Capture and reversal
  /api/settings/*     Prices

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. allowedOrigins
// lists the CORS origins of the frontend.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/students", func(r chi.Router) {
			r.Post("/", h.CreateStudent)
			r.Get("/{id}/pending-charges", h.ListPendingCharges)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/payments", h.ListPayments)
			r.Get("/{id}/enrollments", h.ListEnrollments)
			r.Get("/{id}/verify", h.VerifyStudent)
		})

		r.Post("/workshops", h.CreateWorkshop)
		r.Post("/cohorts", h.CreateCohort)

		r.Route("/enrollments", func(r chi.Router) {
			r.Post("/", h.Enroll)
			r.Get("/{id}", h.GetEnrollment)
			r.Post("/{id}/cancel", h.CancelEnrollment)
		})

		r.Route("/classes", func(r chi.Router) {
			r.Post("/", h.RegisterClass)
			r.Post("/{id}/cancel", h.CancelClass)
		})

		r.Post("/charges/{id}/void", h.VoidCharge)

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CapturePayment)
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/void", h.VoidPayment)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/prices", h.GetPrices)
			r.Put("/prices", h.UpdatePrices)
		})
	})

	return r
}
