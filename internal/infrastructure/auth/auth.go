// Package auth turns bearer tokens into authenticated principals. The
// HTTP edge hands over an HS256 JWT; this package verifies it and
// reconstructs the access.Principal the services act under. Sessions
// and passwords live outside this system, so the token is the whole
// story: no revocation lookups, no user store.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/adminsuite/governance-backend/internal/domain/access"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/infrastructure/config"
)

const issuer = "governance-api"

// minSecretLen matches the HS256 hash width; shorter keys weaken the MAC.
const minSecretLen = 32

// Claims carries the principal inside the signed token. The registered
// subject holds the principal's ID; role and the optional data-subject
// binding travel as private claims.
type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	SubjectID string `json:"subject_id,omitempty"`
}

// TokenService signs and verifies bearer tokens with a shared secret.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService builds a token service from the security config.
func NewTokenService(cfg config.SecurityConfig) (*TokenService, error) {
	if len(cfg.JWTSecret) < minSecretLen {
		return nil, errors.NewValidationError("WEAK_SECRET",
			fmt.Sprintf("jwt secret must be at least %d bytes", minSecretLen))
	}

	expiry := cfg.TokenExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	return &TokenService{
		secret: []byte(cfg.JWTSecret),
		expiry: expiry,
	}, nil
}

// Issue signs a token for the principal.
func (s *TokenService) Issue(principal access.Principal) (string, error) {
	if strings.TrimSpace(principal.ID) == "" {
		return "", errors.NewValidationError("INVALID_PRINCIPAL", "principal ID is required")
	}
	if err := access.ValidateRole(principal.Role); err != nil {
		return "", err
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   principal.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Role:      string(principal.Role),
		SubjectID: principal.SubjectID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.NewInternalError("failed to sign token").WithCause(err)
	}
	return signed, nil
}

// Validate verifies a token and reconstructs its principal. Every
// failure comes back unauthorized without detail; callers never learn
// which check tripped.
func (s *TokenService) Validate(tokenString string) (access.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return access.Principal{}, errors.NewUnauthorizedError("invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return access.Principal{}, errors.NewUnauthorizedError("invalid token claims")
	}

	role, err := access.ParseRole(claims.Role)
	if err != nil {
		return access.Principal{}, errors.NewUnauthorizedError("unknown role claim")
	}

	principal, err := access.NewPrincipal(claims.Subject, role)
	if err != nil {
		return access.Principal{}, errors.NewUnauthorizedError("invalid subject claim")
	}
	principal.SubjectID = claims.SubjectID

	return principal, nil
}

// ExtractBearer pulls the token out of an Authorization header value.
func ExtractBearer(header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.NewUnauthorizedError("invalid authorization header format")
	}
	return parts[1], nil
}
