package auth

import (
	"context"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"

	"github.com/goliatone/go-wallet-auth/middleware/jwtware"
)

var identityCtxKey = &contextKey{"identity"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithContext sets the Identity in the given context
func WithContext(r context.Context, identity *Identity) context.Context {
	return context.WithValue(r, identityCtxKey, identity)
}

// FromContext finds the identity from the context.
func FromContext(ctx context.Context) (*Identity, bool) {
	raw, ok := ctx.Value(identityCtxKey).(*Identity)
	return raw, ok
}

// WithClaimsContext sets the session claims in the given context
func WithClaimsContext(r context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the session claims from the standard context
func GetClaims(ctx context.Context) (*SessionClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*SessionClaims)
	return raw, ok && raw != nil
}

// GetRouterClaims extracts the session claims stored by the JWT middleware
func GetRouterClaims(ctx router.Context, key string) (*SessionClaims, bool) {
	if key == "" {
		key = "user" // Default key used by JWT middleware
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(*SessionClaims)
	return claims, ok && claims != nil
}

// IdentityIDFromRouter returns the authenticated identity id, or uuid.Nil
func IdentityIDFromRouter(ctx router.Context, key string) uuid.UUID {
	claims, ok := GetRouterClaims(ctx, key)
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(claims.Subject())
	if err != nil {
		return uuid.Nil
	}
	return id
}

// enrichContext is the jwtware context enricher for session claims
func enrichContext(c context.Context, claims jwtware.AuthClaims) context.Context {
	if sc, ok := claims.(*SessionClaims); ok {
		return WithClaimsContext(c, sc)
	}
	return c
}
