package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/routesync_backend/appctx"
	"gorm.io/gorm"
)

// ErrLiveStoreWriteDenied is returned when a write to a live-store table is attempted
// from a context that was not opened by an apply path.
var ErrLiveStoreWriteDenied = errors.New("live store write denied outside apply path")

// liveStoreTables are mutated only by the validation gate and the apply executor.
var liveStoreTables = map[string]struct{}{
	"customers":      {},
	"customer_items": {},
	"routes":         {},
	"items":          {},
}

// LiveStoreGuardPlugin rejects Create/Update/Delete on live-store tables unless the
// statement context carries the live-store write flag.
//
// NOTE:
// - Raw/Exec SQL is not inspected.
// - Staging and preview paths never set the flag, so a bug there fails loudly instead of writing.
type LiveStoreGuardPlugin struct{}

func NewLiveStoreGuardPlugin() *LiveStoreGuardPlugin { return &LiveStoreGuardPlugin{} }

func (p *LiveStoreGuardPlugin) Name() string { return "live_store_guard" }

func (p *LiveStoreGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().Before("gorm:create").Register("live_store_guard:create", liveStoreGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("live_store_guard:update", liveStoreGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("live_store_guard:delete", liveStoreGuardCallback); err != nil {
		return err
	}
	return nil
}

func liveStoreGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if _, guarded := liveStoreTables[db.Statement.Table]; !guarded {
		return
	}
	if LiveStoreWriteAllowed(db.Statement.Context) {
		return
	}
	_ = db.AddError(fmt.Errorf("%w: table %s", ErrLiveStoreWriteDenied, db.Statement.Table))
}

// WithLiveStoreWrite returns a context whose gorm statements may write live-store tables.
func WithLiveStoreWrite(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return appctx.Set(ctx, appctx.ContextKeyLiveStoreWrite, true)
}

func LiveStoreWriteAllowed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := appctx.Get[bool](ctx, appctx.ContextKeyLiveStoreWrite)
	return ok && v
}
