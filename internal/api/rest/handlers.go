// Package rest is the HTTP edge of the governance engine. Handlers
// decode and hand off to the service core; every authorization
// decision, and the audit entry it may produce, happens below this
// layer. The edge authenticates, the engine authorizes.
package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/service"
)

// AuditStream attaches an authorized subscriber to the live entry
// feed. Implemented by the websocket hub.
type AuditStream interface {
	Serve(w http.ResponseWriter, r *http.Request, principal access.Principal)
}

// Handler carries the service core into the route handlers.
type Handler struct {
	core   *service.Core
	stream AuditStream
	logger *zap.Logger
}

func NewHandler(core *service.Core, logger *zap.Logger) *Handler {
	return &Handler{
		core:   core,
		logger: logger.With(zap.String("component", "rest")),
	}
}

func parseUUIDPath(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_ID", name+" must be a UUID")
	}
	return id, nil
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.NewValidationError("INVALID_TIME", name+" must be RFC 3339")
	}
	return t, nil
}

func parseIntParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError("INVALID_NUMBER", name+" must be an integer")
	}
	return n, nil
}
