package models

import "context"

// Identity is the authenticated caller, resolved once by the auth
// middleware and carried on the request context.
type Identity struct {
	UserID int64
	Role   Role
	Scope  TenantScope
}

type identityCtxKey struct{}

// WithIdentity attaches an identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFrom extracts the caller identity from the context.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}
