/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the shop dashboard

ROUTE GROUPS:
  /api/obligations/*    Obligation lookup and manual settlement
  /api/shops/*          Shop-scoped listings, repayments, audits
  /api/users/*          Balance computation and drift correction
  /api/drift/*          Drift scans
  /api/scenarios/*      Demo data (stores implementing Seeder only)
  /metrics              Prometheus exposition
  /health               Liveness

SECURITY NOTE:
  No authentication middleware. Deploy behind the marketplace gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/serve.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/obligations", func(r chi.Router) {
			r.Post("/", h.CreateObligation)
			r.Get("/{id}", h.GetObligation)
			r.Post("/{id}/settle", h.SettleObligation)
		})

		r.Route("/shops/{shopID}", func(r chi.Router) {
			r.Get("/obligations", h.ListObligations)
			r.Get("/audit", h.AuditShop)
			r.Get("/users/{userID}/obligations", h.ListPendingObligations)
			r.Get("/users/{userID}/pending-total", h.GetPendingTotal)
			r.Post("/users/{userID}/repayments", h.ApplyRepayment)
			r.Get("/farmers/{userID}/net-payable", h.GetNetPayable)
		})

		r.Route("/users/{id}/balance", func(r chi.Router) {
			r.Get("/", h.GetComputedBalance)
			r.Get("/breakdown", h.GetBreakdown)
			r.Get("/validate", h.ValidateBalance)
			r.Post("/fix", h.FixBalance)
			r.Get("/corrections", h.ListCorrections)
		})

		r.Route("/drift", func(r chi.Router) {
			r.Get("/", h.ListDriftedUsers)
			r.Post("/scan", h.TriggerDriftScan)
			r.Get("/runs", h.ListScanRuns)
		})

		r.Get("/payments/{id}/reconcile", h.ReconcilePayment)
		r.Get("/transactions/{id}/reconcile", h.ReconcileTransaction)

		if h.Seeder != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
