/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog request logging (logging.Middleware)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for admin frontends

ROUTE GROUPS:
  /health               Liveness and storage ping
  /api/stock/*          Availability and transaction locations
  /api/levels/*         Checkpoints
  /api/movements/*      Movement operations
  /api/transactions/*   History and raw writes
  /api/locations/*      Location administration
  /api/services         Registered backends
  /api/admin/*          Catch-up and retention
  /api/scenarios/*      Demo data (only with Handler.Reset)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/warp/stock-engine/logging"
)

// NewRouter creates a new router with all routes configured. An empty
// origins list allows any origin without credentials.
func NewRouter(h *Handler, origins []string, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)

	corsOpts := cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
	}
	if len(origins) > 0 {
		corsOpts.AllowedOrigins = origins
		corsOpts.AllowCredentials = true
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/health", h.HealthCheck)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Stock level routes
		r.Route("/stock/{type}/{id}", func(r chi.Router) {
			r.Get("/", h.GetStockLevel)
			r.Get("/transaction-location", h.GetTransactionLocation)
		})
		r.Get("/levels/{location}/{entity}", h.GetLevel)

		// Movement routes
		r.Route("/movements", func(r chi.Router) {
			r.Post("/receive", h.Receive)
			r.Post("/sell", h.Sell)
			r.Post("/return", h.Return)
			r.Post("/move", h.Move)
			r.Post("/adjust", h.Adjust)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.CreateTransaction)
			r.Post("/movement", h.CreateMovementLegs)
			r.Get("/{id}", h.GetTransaction)
		})

		// Location routes
		r.Route("/locations", func(r chi.Router) {
			r.Get("/", h.ListLocations)
			r.Post("/", h.CreateLocation)
			r.Get("/{id}", h.GetLocation)
			r.Put("/{id}", h.UpdateLocation)
		})

		r.Get("/services", h.ListServices)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/catch-up", h.CatchUpStale)
			r.Post("/levels/{location}/{entity}/catch-up", h.CatchUpLevel)
			r.Post("/prune", h.Prune)
		})

		// Scenario routes (development only)
		if h.Reset != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
