package gate

import (
	"context"

	"github.com/vitrine-auto/inventory-web/internal/authsvc"
)

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id authsvc.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext returns the identity the gatekeeper resolved for the
// request, or the anonymous identity.
func IdentityFromContext(ctx context.Context) authsvc.Identity {
	id, _ := ctx.Value(contextKey{}).(authsvc.Identity)
	return id
}
