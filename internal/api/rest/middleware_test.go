package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adminsuite/governance-backend/internal/domain/access"
)

func TestAuthRequired(t *testing.T) {
	server, tokens := newTestServer(t)
	handler := server.Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/v1/retention/policies", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rr))
	assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "Bearer")

	rr = doJSON(t, handler, http.MethodGet, "/api/v1/retention/policies", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	// A token signed with another secret is rejected even when well
	// formed.
	foreign := bearer(t, tokens, "officer-1", access.RoleComplianceOfficer)
	tampered := foreign[:len(foreign)-2] + "xx"
	rr = doJSON(t, handler, http.MethodGet, "/api/v1/retention/policies", tampered, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHealthEndpointsArePublic(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rr := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/health+json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"pass"`)

	rr = doJSON(t, handler, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestReadinessFailsWithBrokenDependency(t *testing.T) {
	health := NewHealthService("governance-api", "test")
	health.Register(CheckerFunc("postgres", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))

	rr := httptest.NewRecorder()
	health.Readiness()(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"fail"`)
	assert.Contains(t, rr.Body.String(), "connection refused")
}

func TestRequestIDPropagation(t *testing.T) {
	server, tokens := newTestServer(t)
	handler := server.Handler()
	officer := bearer(t, tokens, "officer-1", access.RoleComplianceOfficer)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/retention/policies", nil)
	req.Header.Set("Authorization", "Bearer "+officer)
	req.Header.Set("X-Request-ID", "req-abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "req-abc-123", rr.Header().Get("X-Request-ID"))

	// Without a caller-set ID the edge mints one.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/retention/policies", nil)
	req.Header.Set("Authorization", "Bearer "+officer)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestErrorEnvelopeCarriesRequestID(t *testing.T) {
	server, tokens := newTestServer(t)
	handler := server.Handler()
	subject := subjectBearer(t, tokens, "user-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/entries", nil)
	req.Header.Set("Authorization", "Bearer "+subject)
	req.Header.Set("X-Request-ID", "req-denied-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
	var body errorBody
	decodeBody(t, rr, &body)
	assert.Equal(t, "req-denied-1", body.Error.RequestID)
}

func TestMalformedBody(t *testing.T) {
	server, tokens := newTestServer(t)
	handler := server.Handler()
	officer := bearer(t, tokens, "officer-1", access.RoleComplianceOfficer)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/consents",
		strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+officer)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_BODY", errorCode(t, rr))

	// An empty body is a named client error, not a decode panic.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/consents", nil)
	req.Header.Set("Authorization", "Bearer "+officer)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	// Trailing garbage after the object is rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/consents",
		strings.NewReader(`{"subject_id":"u"}{"again":true}`))
	req.Header.Set("Authorization", "Bearer "+officer)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvalidPathParameters(t *testing.T) {
	server, tokens := newTestServer(t)
	handler := server.Handler()
	officer := bearer(t, tokens, "officer-1", access.RoleComplianceOfficer)

	rr := doJSON(t, handler, http.MethodGet, "/api/v1/privacy/deletions/not-a-uuid", officer, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_ID", errorCode(t, rr))

	rr = doJSON(t, handler, http.MethodGet, "/api/v1/audit/entries?since=yesterday", officer, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_TIME", errorCode(t, rr))

	rr = doJSON(t, handler, http.MethodGet, "/api/v1/audit/entries?limit=lots", officer, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_NUMBER", errorCode(t, rr))
}

func TestSecurityHeaders(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rr := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestRateLimiting(t *testing.T) {
	limiter := newKeyedLimiter(1, 2)

	assert.True(t, limiter.allow("10.0.0.1"))
	assert.True(t, limiter.allow("10.0.0.1"))
	assert.False(t, limiter.allow("10.0.0.1"), "burst exhausted")

	// Another key has its own budget.
	assert.True(t, limiter.allow("10.0.0.2"))
}

func TestAuditStreamGate(t *testing.T) {
	server, tokens := newTestServer(t)
	handler := server.Handler()

	// Subjects are denied before any upgrade is attempted.
	subject := subjectBearer(t, tokens, "user-1")
	rr := doJSON(t, handler, http.MethodGet, "/api/v1/audit/stream", subject, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	// Without a hub wired the stream does not exist.
	officer := bearer(t, tokens, "officer-1", access.RoleComplianceOfficer)
	rr = doJSON(t, handler, http.MethodGet, "/api/v1/audit/stream", officer, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}
