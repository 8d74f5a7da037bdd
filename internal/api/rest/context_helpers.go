package rest

import (
	"context"

	"github.com/adminsuite/governance-backend/internal/domain/access"
)

type contextKey string

const (
	contextKeyPrincipal contextKey = "principal"
	contextKeyRequestID contextKey = "request_id"
)

// principalFrom returns the authenticated principal placed in the
// context by the auth middleware. The second return is false on
// unauthenticated paths.
func principalFrom(ctx context.Context) (access.Principal, bool) {
	p, ok := ctx.Value(contextKeyPrincipal).(access.Principal)
	return p, ok
}

func withPrincipal(ctx context.Context, p access.Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}
