package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/sessionsync/pkg/events"
	"github.com/cuemby/sessionsync/pkg/log"
	"github.com/cuemby/sessionsync/pkg/metrics"
	"github.com/cuemby/sessionsync/pkg/provisioner"
	"github.com/cuemby/sessionsync/pkg/reconciler"
	"github.com/cuemby/sessionsync/pkg/storage"
	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/rs/zerolog"
)

const (
	defaultMaxBodyBytes = 1 << 20
	defaultMaxSkew      = 5 * time.Minute
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// CycleRunner triggers and previews reconciliation cycles
type CycleRunner interface {
	RunCycle(ctx context.Context) (*types.ReconciliationSummary, error)
	Plan(ctx context.Context) (*reconciler.Plan, bool, error)
}

// InstanceManager creates, retries and deletes tenant sessions
type InstanceManager interface {
	CreateInstance(ctx context.Context, req provisioner.CreateRequest) (*types.CreationResult, error)
	RetryRemote(ctx context.Context, recordID string) (*types.CreationResult, error)
	DeleteInstance(ctx context.Context, recordID string) error
}

// StatusApplier applies a status report pushed by the session host
type StatusApplier interface {
	ApplyRemote(ctx context.Context, remote types.RemoteSession) (*types.SessionRecord, bool, error)
}

// Config holds API server settings
type Config struct {
	// Token is the bearer token required on /v1 routes. Empty disables auth.
	Token string

	// WebhookSecret enables HMAC verification of session host webhooks.
	// When empty the webhook route falls back to bearer auth.
	WebhookSecret string
	MaxSkew       time.Duration
	MaxBodyBytes  int64
}

// Deps are the components the server exposes
type Deps struct {
	Store      storage.Store
	Reconciler CycleRunner
	Instances  InstanceManager
	Status     StatusApplier
	Health     *metrics.HealthChecker
	Broker     *events.Broker
}

// Server is the sessionsync HTTP API
type Server struct {
	store      storage.Store
	reconciler CycleRunner
	instances  InstanceManager
	status     StatusApplier
	health     *metrics.HealthChecker
	broker     *events.Broker
	schemas    *schemas
	cfg        Config
	mux        *http.ServeMux
	server     *http.Server
	logger     zerolog.Logger
	now        func() time.Time
}

// NewServer builds the API server. Store, Reconciler, Instances and Status
// are required.
func NewServer(deps Deps, cfg Config) (*Server, error) {
	switch {
	case deps.Store == nil:
		return nil, &types.ConfigurationError{Field: "api.store", Reason: "record store is required"}
	case deps.Reconciler == nil:
		return nil, &types.ConfigurationError{Field: "api.reconciler", Reason: "reconciler is required"}
	case deps.Instances == nil:
		return nil, &types.ConfigurationError{Field: "api.instances", Reason: "provisioner is required"}
	case deps.Status == nil:
		return nil, &types.ConfigurationError{Field: "api.status", Reason: "status synchronizer is required"}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = defaultMaxSkew
	}

	compiled, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	health := deps.Health
	if health == nil {
		health = metrics.NewHealthChecker("", metrics.ComponentStore)
	}

	s := &Server{
		store:      deps.Store,
		reconciler: deps.Reconciler,
		instances:  deps.Instances,
		status:     deps.Status,
		health:     health,
		broker:     deps.Broker,
		schemas:    compiled,
		cfg:        cfg,
		mux:        http.NewServeMux(),
		logger:     log.WithComponent("api"),
		now:        time.Now,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.health.HealthHandler())
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.Handle("POST /v1/reconcile", s.authorized(s.handleReconcile))
	s.mux.Handle("GET /v1/reconcile/plan", s.authorized(s.handlePlan))
	s.mux.Handle("GET /v1/reconcile/history", s.authorized(s.handleHistory))

	s.mux.Handle("GET /v1/instances", s.authorized(s.handleListInstances))
	s.mux.Handle("POST /v1/instances", s.authorized(s.handleCreateInstance))
	s.mux.Handle("GET /v1/instances/{id}", s.authorized(s.handleGetInstance))
	s.mux.Handle("DELETE /v1/instances/{id}", s.authorized(s.handleDeleteInstance))
	s.mux.Handle("POST /v1/instances/{id}/retry", s.authorized(s.handleRetryInstance))

	s.mux.Handle("POST /v1/contacts", s.authorized(s.handleCreateContact))

	s.mux.HandleFunc("POST /v1/webhooks/session-host", s.handleSessionHostWebhook)
}

// Handler returns the instrumented root handler
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

// Start serves the API on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
