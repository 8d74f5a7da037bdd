package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/infrastructure/config"
	"github.com/adminsuite/governance-backend/internal/infrastructure/telemetry"
	"github.com/adminsuite/governance-backend/internal/service"
)

const (
	requestTimeout = 30 * time.Second

	defaultRateLimitRPS   = 50
	defaultRateLimitBurst = 100
)

const auditStreamPath = "/api/v1/audit/stream"

// ServerDeps carries everything the HTTP edge needs. Core, Tokens and
// Logger are required; Stream and Health are optional.
type ServerDeps struct {
	Core   *service.Core
	Tokens TokenValidator
	Stream AuditStream
	Health *HealthService
	Logger *zap.Logger
}

// Server is the HTTP edge. It owns the listener and the middleware
// chain; all domain behavior lives in the service core it is handed.
type Server struct {
	config     *config.Config
	handler    http.Handler
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(cfg *config.Config, deps ServerDeps) (*Server, error) {
	if deps.Core == nil {
		return nil, errors.New("rest: server requires a service core")
	}
	if deps.Tokens == nil {
		return nil, errors.New("rest: server requires a token validator")
	}
	if deps.Logger == nil {
		return nil, errors.New("rest: server requires a logger")
	}
	if deps.Health == nil {
		deps.Health = NewHealthService("governance-api", cfg.Version)
	}

	h := NewHandler(deps.Core, deps.Logger)
	h.stream = deps.Stream

	mux := setupRoutes(h, deps.Health)

	// The stream path escapes the request timeout so live connections
	// are not cut down 30 seconds in.
	middlewares := []Middleware{
		requestIDMiddleware,
		tracingMiddleware(telemetry.Tracer("governance-api")),
		loggingMiddleware(deps.Logger),
		recoveryMiddleware(deps.Logger),
		securityHeadersMiddleware,
		conditionalMiddleware(
			timeoutMiddleware(requestTimeout),
			func(r *http.Request) bool { return r.URL.Path != auditStreamPath },
		),
		authMiddleware(deps.Tokens),
		rateLimitMiddleware(newKeyedLimiter(defaultRateLimitRPS, defaultRateLimitBurst)),
	}
	handler := chain(mux, middlewares...)

	server := &Server{
		config:  cfg,
		handler: handler,
		logger:  deps.Logger.With(zap.String("component", "server")),
	}
	server.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return server, nil
}

func setupRoutes(h *Handler, health *HealthService) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Liveness())
	mux.HandleFunc("GET /readyz", health.Readiness())

	v1 := http.NewServeMux()

	// Consent registry
	v1.HandleFunc("POST /consents", h.handleRecordConsent)
	v1.HandleFunc("GET /consents/{subjectID}/{purpose}", h.handleCheckConsent)
	v1.HandleFunc("GET /consents/{subjectID}/{purpose}/history", h.handleConsentHistory)

	// Protected records
	v1.HandleFunc("POST /records", h.handleStoreRecord)
	v1.HandleFunc("POST /records/reveal", h.handleRevealField)
	v1.HandleFunc("GET /records/{subjectID}/{category}", h.handleGetRecord)
	v1.HandleFunc("POST /records/{subjectID}/{category}/fields", h.handleProtectField)

	// Erasure and export
	v1.HandleFunc("POST /privacy/deletions", h.handleRequestDeletion)
	v1.HandleFunc("GET /privacy/deletions/{id}", h.handleGetDeletion)
	v1.HandleFunc("POST /privacy/exports", h.handleRequestExport)
	v1.HandleFunc("GET /privacy/exports/{id}", h.handleGetExport)
	v1.HandleFunc("GET /privacy/exports/{id}/download", h.handleDownloadExport)
	v1.HandleFunc("GET /privacy/obligations", h.handleListObligations)
	v1.HandleFunc("POST /privacy/obligations/{id}/verify", h.handleVerifyObligation)

	// Field keys
	v1.HandleFunc("POST /crypto/keys/rotate", h.handleRotateKey)
	v1.HandleFunc("POST /crypto/keys/{keyID}/retire", h.handleRetireKey)

	// Payments
	v1.HandleFunc("POST /payments/instruments", h.handleTokenize)
	v1.HandleFunc("GET /payments/instruments/{token}", h.handleGetInstrument)
	v1.HandleFunc("DELETE /payments/instruments/{token}", h.handleRevokeInstrument)
	v1.HandleFunc("GET /payments/subjects/{subjectID}/instruments", h.handleListInstruments)
	v1.HandleFunc("GET /payments/subjects/{subjectID}/transactions", h.handleListTransactions)
	v1.HandleFunc("POST /payments/charges", h.handleCharge)
	v1.HandleFunc("POST /payments/refunds", h.handleRefund)
	v1.HandleFunc("POST /payments/epochs/advance", h.handleAdvanceTokenEpoch)

	// Audit log
	v1.HandleFunc("GET /audit/entries", h.handleQueryAudit)
	v1.HandleFunc("POST /audit/verify", h.handleVerifyChain)
	v1.HandleFunc("GET /audit/stream", h.handleAuditStream)

	// Retention
	v1.HandleFunc("GET /retention/policies", h.handlePolicySummary)
	v1.HandleFunc("PUT /retention/policies/{category}", h.handleSetRetentionPolicy)
	v1.HandleFunc("DELETE /retention/policies/{category}", h.handleDeleteRetentionPolicy)
	v1.HandleFunc("POST /retention/sweep", h.handleTriggerSweep)
	v1.HandleFunc("GET /retention/sweep/last", h.handleLastSweep)

	// Compliance
	v1.HandleFunc("GET /compliance/report", h.handleComplianceReport)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", v1))
	return mux
}

// Handler exposes the fully wired chain, for tests that drive the API
// without a listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until the context ends or the listener fails, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting http server",
		zap.String("addr", s.httpServer.Addr),
		zap.String("environment", s.config.Environment))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops accepting connections and drains in-flight requests
// within the configured grace period.
func (s *Server) Shutdown() error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
