package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bioplatform/access-gateway/pkg/config"
	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/monitoring"

	"github.com/bioplatform/access-gateway/internal/audit"
	"github.com/bioplatform/access-gateway/internal/credstore"
	"github.com/bioplatform/access-gateway/internal/rbac"
	"github.com/bioplatform/access-gateway/internal/session"
	"github.com/bioplatform/access-gateway/internal/token"
)

// Service is the HTTP surface of the access gateway: authentication
// endpoints, the audited proxy and the audit query API.
type Service struct {
	cfg      *config.Config
	logger   *logger.Logger
	router   *mux.Router
	server   *http.Server
	creds    *credstore.Store
	tokens   *token.Service
	sessions *session.Registry
	authz    *rbac.Engine
	audit    *audit.Log
	throttle Throttle
	routes   *RouteTable
	prober   *Prober
	client   *http.Client
}

// Deps bundles the collaborators the service is wired from.
type Deps struct {
	Creds    *credstore.Store
	Tokens   *token.Service
	Sessions *session.Registry
	Authz    *rbac.Engine
	Audit    *audit.Log
	Throttle Throttle
}

// NewService creates the gateway HTTP service.
func NewService(cfg *config.Config, deps Deps, log *logger.Logger) *Service {
	routes := NewRouteTable(cfg.Backends)

	s := &Service{
		cfg:      cfg,
		logger:   log,
		router:   mux.NewRouter(),
		creds:    deps.Creds,
		tokens:   deps.Tokens,
		sessions: deps.Sessions,
		authz:    deps.Authz,
		audit:    deps.Audit,
		throttle: deps.Throttle,
		routes:   routes,
		prober:   NewProber(routes, time.Duration(cfg.Proxy.ProbeIntervalSecs)*time.Second, log),
		// Per-attempt deadlines come from the request context; the client
		// itself must not cut a retried call short.
		client: &http.Client{Timeout: 0},
	}

	s.setupRoutes()
	s.sessions.OnAnomaly(s.onSessionAnomaly)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}
	return s
}

// setupRoutes wires all endpoints and middleware.
func (s *Service) setupRoutes() {
	s.router.Use(s.securityHeadersMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", monitoring.Handler()).Methods(http.MethodGet)

	auth := s.router.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	auth.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)

	authSelf := s.router.PathPrefix("/auth").Subrouter()
	authSelf.Use(s.authMiddleware)
	authSelf.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	authSelf.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	authSelf.HandleFunc("/mfa/enroll", s.handleEnrollMFA).Methods(http.MethodPost)

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.Use(s.authMiddleware)
	admin.HandleFunc("/users/{id}/assignments", s.handleAssignPatients).Methods(http.MethodPut)
	admin.HandleFunc("/users/{id}", s.handleDeactivateUser).Methods(http.MethodDelete)

	auditAPI := s.router.PathPrefix("/audit").Subrouter()
	auditAPI.Use(s.authMiddleware)
	auditAPI.HandleFunc("/patient/{id}", s.handleAuditByPatient).Methods(http.MethodGet)
	auditAPI.HandleFunc("/statistics", s.handleAuditStatistics).Methods(http.MethodGet)

	proxy := s.router.PathPrefix("/api/services/").Subrouter()
	proxy.Use(s.authMiddleware)
	proxy.PathPrefix("/").HandlerFunc(s.handleProxy)
}

// Start begins serving and launches the background health prober.
func (s *Service) Start(ctx context.Context) error {
	s.prober.Start(ctx)

	s.logger.WithFields(map[string]interface{}{
		"address":  s.server.Addr,
		"backends": len(s.cfg.Backends),
	}).Info("Access gateway listening")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down access gateway...")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Service) Router() http.Handler {
	return s.router
}

// handleHealth reports gateway liveness and probed backend state.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"backends": s.routes.All(),
	})
}

// onSessionAnomaly records suspicious concurrent sessions in the audit
// trail.
func (s *Service) onSessionAnomaly(ctx context.Context, userID string, origins []string) {
	detail := fmt.Sprintf("distinct origins: %d", len(origins))
	if err := s.audit.RecordSecurity(ctx, userID, "suspicious_concurrent_sessions", detail); err != nil {
		s.logger.WithError(err).Error("Failed to record session anomaly")
	}
}
