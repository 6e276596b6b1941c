/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address behind proxies
  3. StripSlashes:  "/debts/7/close/" and "/debts/7/close" are the same route
  4. Logger:        One slog line per request (requestLogger)
  5. Metrics:       Latency histogram by route pattern (instrument)
  6. Recoverer:     Panic recovery (500 instead of crash)
  7. CORS:          Cross-origin requests for the web client

ROUTE GROUPS:
  /api/v1/management/*      Ledger, dashboard, stats (bearer token)
  /api/v1/notifications/*   Inbox, devices, calendar events (bearer token)
  /ws/notifications         WebSocket, token in ?token=
  /healthz                  Store ping
  /metrics                  Prometheus exposition

SEE ALSO:
  - handlers.go, notifications.go: Handler implementations
  - middleware.go: Auth and logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StripSlashes)
	r.Use(requestLogger(h.logger))
	if h.metrics != nil {
		r.Use(instrument(h.metrics))
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{CacheHeader},
		AllowCredentials: true,
	}))

	// Operational routes
	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}
	if h.realtime != nil {
		r.Handle("/ws/notifications", h.realtime)
	}

	// Ledger routes
	r.Route("/api/v1/management", func(r chi.Router) {
		r.Use(RequireAuth(h.jwt))

		r.Get("/dashboard", h.GetDashboard)

		r.Route("/stats", func(r chi.Router) {
			r.Get("/summary", h.GetSummary)
			r.Get("/categories", h.GetCategoryStats)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Put("/{id}", h.UpdateAccount)
			r.Delete("/{id}", h.DeleteAccount)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
			r.Get("/{id}", h.GetCategory)
			r.Put("/{id}", h.UpdateCategory)
			r.Delete("/{id}", h.DeleteCategory)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.CreateTransaction)
			r.Get("/{id}", h.GetTransaction)
			r.Put("/{id}", h.UpdateTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		r.Route("/debts", func(r chi.Router) {
			r.Get("/", h.ListDebts)
			r.Post("/", h.CreateDebt)
			r.Get("/{id}", h.GetDebt)
			r.Put("/{id}", h.UpdateDebt)
			r.Delete("/{id}", h.DeleteDebt)
			r.Post("/{id}/close", h.CloseDebt)
		})
	})

	// Notification routes
	r.Route("/api/v1/notifications", func(r chi.Router) {
		r.Use(RequireAuth(h.jwt))

		r.Get("/", h.ListNotifications)
		r.Post("/{id}/read", h.MarkNotificationRead)
		r.Post("/read-all", h.MarkAllNotificationsRead)
		r.Post("/devices", h.RegisterDevice)
		r.Post("/test", h.SendTestNotification)

		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Post("/", h.CreateEvent)
			r.Get("/{id}", h.GetEvent)
			r.Put("/{id}", h.UpdateEvent)
			r.Delete("/{id}", h.DeleteEvent)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", nil)
	})

	return r
}
