package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/leadmap-mailflow/internal/pkg/httputil"
)

// Handlers holds the services behind every route.
type Handlers struct {
	deps Deps
}

// SetupRoutes configures all API routes
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := h.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	r.Get("/health", h.deps.Health.HandleHealth)
	r.Get("/health/live", h.deps.Health.HandleLiveness)
	r.Get("/health/ready", h.deps.Health.HandleReadiness)

	r.Route("/api", func(r chi.Router) {
		r.With(h.deps.CronAuth.Require).Get("/cron/symphony-scheduler", h.HandleCronScheduler)

		// Signed links are the credential for unsubscribes.
		r.Post("/emails/unsubscribe", h.HandleUnsubscribe)

		r.Group(func(r chi.Router) {
			r.Use(h.deps.AdminAuth.Require)

			r.Route("/symphony", func(r chi.Router) {
				r.Get("/failed", h.HandleFailedMessages)
				r.Post("/messages", h.HandleScheduleMessage)
				r.Get("/messages/{id}", h.HandleGetMessage)
				r.Delete("/messages/{id}", h.HandleCancelMessage)
			})

			r.Post("/emails/inbound", h.HandleInbound)

			r.Route("/lists", func(r chi.Router) {
				r.Get("/", h.HandleLists)
				r.Post("/", h.HandleCreateList)
				r.Get("/{id}", h.HandleGetList)
				r.Post("/{id}/subscribers", h.HandleAddSubscriber)
			})
			r.Get("/unsubscribes", h.HandleUnsubscribes)
			r.Get("/suppression/stats", h.HandleSuppressionStats)

			r.Route("/webhooks", func(r chi.Router) {
				r.Get("/", h.HandleListWebhooks)
				r.Post("/", h.HandleCreateWebhook)
				r.Get("/event-types", h.HandleWebhookEventTypes)
				r.Patch("/{id}", h.HandleUpdateWebhook)
				r.Delete("/{id}", h.HandleDeleteWebhook)
				r.Get("/{id}/attempts", h.HandleWebhookAttempts)
			})

			r.Route("/backups", func(r chi.Router) {
				r.Post("/", h.HandleCreateBackup)
				r.Post("/import", h.HandleImportBackup)
				r.Get("/{id}", h.HandleGetBackup)
				r.Delete("/{id}", h.HandleDeleteBackup)
				r.Get("/{id}/export", h.HandleExportBackup)
				r.Post("/{id}/restore", h.HandleRestoreBackup)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "route not found")
	})

	return r
}
