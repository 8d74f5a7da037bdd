package rest

import (
	"net/http"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/infrastructure/auth"
)

// TokenValidator verifies a bearer token and reconstructs its
// principal. Satisfied by auth.TokenService.
type TokenValidator interface {
	Validate(token string) (access.Principal, error)
}

// authMiddleware authenticates every request outside the public set.
// It only establishes identity; authorization happens inside the
// engine where each denial is audited.
func authMiddleware(tokens TokenValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthorized(w, r, "authorization required")
				return
			}

			token, err := auth.ExtractBearer(header)
			if err != nil {
				writeUnauthorized(w, r, "invalid authorization header")
				return
			}

			principal, err := tokens.Validate(token)
			if err != nil {
				writeUnauthorized(w, r, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
		})
	}
}

func isPublicEndpoint(path string) bool {
	switch path {
	case "/healthz", "/readyz":
		return true
	}
	return false
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="governance"`)
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{
		Code:      "UNAUTHORIZED",
		Message:   message,
		RequestID: requestIDFrom(r.Context()),
	}})
}

/// requirePrincipal recovers the identity placed by the auth middleware.
// Handlers never act without one even if a route is wired outside the
// auth chain by mistake.
func (h *Handler) requirePrincipal(w http.ResponseWriter, r *http.Request) (access.Principal, bool) {
	principal, ok := principalFrom(r.Context())
	if !ok {
		writeUnauthorized(w, r, "authorization required")
		return access.Principal{}, false
	}
	return principal, true
}
