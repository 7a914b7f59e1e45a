package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/leadmap-mailflow/internal/auth"
	"github.com/ignite/leadmap-mailflow/internal/backup"
	"github.com/ignite/leadmap-mailflow/internal/events"
	"github.com/ignite/leadmap-mailflow/internal/inbound"
	"github.com/ignite/leadmap-mailflow/internal/scheduler"
	"github.com/ignite/leadmap-mailflow/internal/service/suppression"
)

// DefaultCronBudget bounds one cron-triggered scheduler run.
const DefaultCronBudget = 60 * time.Second

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Scheduler   *scheduler.Scheduler
	Suppression *suppression.Service
	Inbound     *inbound.Processor
	Webhooks    *events.WebhookRegistry
	Attempts    events.AttemptRecorder
	Backups     *backup.Service
	CronAuth    *auth.SecretAuth
	AdminAuth   *auth.SecretAuth
	Health      *HealthChecker

	BatchSize        int
	CronBudget       time.Duration
	DefaultTransport string
	PublicURL        string
	AllowedOrigins   []string
}

// Server represents the API server
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer builds the router over deps.
func NewServer(deps Deps) *Server {
	if deps.BatchSize <= 0 {
		deps.BatchSize = scheduler.DefaultBatchSize
	}
	if deps.CronBudget <= 0 {
		deps.CronBudget = DefaultCronBudget
	}
	if deps.CronAuth == nil {
		deps.CronAuth = auth.NewCronAuth("")
	}
	if deps.AdminAuth == nil {
		deps.AdminAuth = auth.NewAdminAuth("")
	}
	if deps.Health == nil {
		deps.Health = NewHealthChecker(nil, nil, nil, "")
	}
	return &Server{handler: SetupRoutes(&Handlers{deps: deps})}
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// The cron endpoint may run for its full budget.
		WriteTimeout: DefaultCronBudget + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
