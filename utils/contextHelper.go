package utils

import (
	"context"

	"github.com/mmdatafocus/routesync_backend/appctx"
)

// Identity is what a verified bearer token says about the caller.
type Identity struct {
	UserId   int
	Username string
	Role     string
	// RouteNumber is 0 for tokens that are not bound to a route.
	RouteNumber int
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	if id.RouteNumber < 0 {
		id.RouteNumber = 0
	}
	return appctx.Set(ctx, appctx.ContextKeyIdentity, id)
}

// IdentityFromContext returns the caller, or false for anonymous requests.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := appctx.Get[Identity](ctx, appctx.ContextKeyIdentity)
	if !ok || id.Username == "" {
		return Identity{}, false
	}
	return id, true
}

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.Get[string](ctx, appctx.ContextKeyToken)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyToken, token)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.Get[string](ctx, appctx.ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyCorrelationId, correlationId)
}
