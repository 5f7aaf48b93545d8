/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RequestLogger:  zerolog line per request (logging package)
  3. Recoverer:      Panic recovery (500 instead of crash)
  4. CORS:           Cross-origin requests from the two portals
  5. Session:        X-Actor-ID / X-Actor-Role into the request context

ROUTE GROUPS:
  /api/admin/*       Admin portal. No default role; staff headers required.
  /api/eservice/*    Account holder portal. Role defaults to account_holder.
  /api/scenarios/*   Demo data (dev only)
  /api/health        Liveness

SECURITY NOTE:
  No authentication. The session headers are trusted as sent.

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
	"github.com/tranminhhien3124027717/agile-moe/education"
	"github.com/tranminhhien3124027717/agile-moe/logging"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		// Admin portal
		r.Route("/admin", func(r chi.Router) {
			r.Use(withSession(""))

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", h.ListAccounts)
				r.Post("/", h.CreateAccount)
				r.Get("/{id}", h.GetAccount)
				r.Patch("/{id}", h.UpdateAccount)
				r.Post("/{id}/close", h.CloseAccount)
				r.Get("/{id}/charges", h.GetAccountCharges)
				r.Get("/{id}/transactions", h.GetTransactions)
				r.Get("/{id}/statement", h.GetStatement)
			})
			r.Get("/nric/{nric}", h.LookupNRIC)

			r.Route("/courses", func(r chi.Router) {
				r.Get("/", h.ListCourses)
				r.Post("/", h.CreateCourse)
				r.Get("/{id}", h.GetCourse)
				r.Put("/{id}/status", h.SetCourseStatus)
				r.Get("/{id}/enrollments", h.GetCourseEnrollments)
			})

			r.Route("/enrollments", func(r chi.Router) {
				r.Post("/", h.Enroll)
				r.Delete("/{id}", h.Unenroll)
			})

			r.Route("/charges", func(r chi.Router) {
				r.Get("/", h.ListCharges)
				r.Post("/sweep-overdue", h.SweepOverdue)
				r.Post("/{id}/pay", h.PayCharge)
			})

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", h.ListRules)
				r.Post("/", h.CreateRule)
				r.Post("/import", h.ImportRules)
				r.Post("/preview", h.PreviewRule)
				r.Get("/{id}", h.GetRule)
				r.Put("/{id}", h.UpdateRule)
				r.Delete("/{id}", h.DeleteRule)
				r.Get("/{id}/eligible", h.GetRuleEligible)
			})

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", h.ListSchedules)
				r.Post("/batch", h.ScheduleBatch)
				r.Post("/individual", h.ScheduleIndividual)
				r.Get("/{id}", h.GetSchedule)
				r.Post("/{id}/execute", h.ExecuteSchedule)
				r.Post("/{id}/cancel", h.CancelSchedule)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/runs", h.ListJobRuns)
				r.Post("/{job}/run", h.RunJob)
			})
		})

		// E-service portal
		r.Route("/eservice", func(r chi.Router) {
			r.Use(withSession(education.RoleAccountHolder))

			r.Get("/me", h.GetDashboard)
			r.Patch("/me", h.UpdateProfile)
			r.Get("/me/enrollments", h.GetMyEnrollments)
			r.Get("/me/charges", h.GetMyCharges)
			r.Get("/me/transactions", h.GetMyTransactions)
			r.Get("/me/statement", h.GetMyStatement)
			r.Post("/me/charges/{id}/pay", h.PayCharge)
			r.Post("/me/pay-all", h.PayAll)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
