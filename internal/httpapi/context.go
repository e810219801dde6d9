package httpapi

import (
	"context"

	"spineauth.org/internal/identity"
	"spineauth.org/internal/token"
)

// Identity is the per-request security context assembled by the guard from
// verified claims plus the directory lookup. It lives for the duration of the
// request only.
type Identity struct {
	User   identity.User
	Claims *token.Claims
	// Legacy marks requests admitted through the legacy verification
	// fallback; their audience/scope/risk claims were not validated.
	Legacy bool
}

type identityContextKey struct{}

// ContextWithIdentity attaches the security context to the request context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext extracts the security context set by the guard.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}
