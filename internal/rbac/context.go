package rbac

import (
	"context"

	"github.com/smarterp/smarterp/internal/auth/token"
)

type principalContextKey struct{}

type principal struct {
	identity Identity
	claims   *token.Claims
}

// ContextWithIdentity stores the authenticated identity and its claims in context.
func ContextWithIdentity(ctx context.Context, id Identity, claims *token.Claims) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal{identity: id, claims: claims})
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	p, ok := ctx.Value(principalContextKey{}).(principal)
	if !ok {
		return Identity{}, false
	}
	return p.identity, true
}

// ClaimsFromContext returns the verified claims the identity was built from.
func ClaimsFromContext(ctx context.Context) *token.Claims {
	p, _ := ctx.Value(principalContextKey{}).(principal)
	return p.claims
}
