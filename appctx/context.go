// Package appctx holds the request-scoped context keys shared by config, utils
// and the HTTP layer. It imports nothing from the module so every package can use it.
package appctx

import "context"

type ContextKey string

func (c ContextKey) String() string { return "routesync:" + string(c) }

const (
	ContextKeyToken         ContextKey = "token"
	ContextKeyIdentity      ContextKey = "identity"
	ContextKeyCorrelationId ContextKey = "correlation_id"

	// ContextKeyLiveStoreWrite marks a context allowed to mutate live-store tables.
	// Only the apply paths (validation gate, apply executor, restore) set it.
	ContextKeyLiveStoreWrite ContextKey = "live_store_write"
)

// Get returns the value stored under key when it has type T.
func Get[T any](ctx context.Context, key ContextKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
