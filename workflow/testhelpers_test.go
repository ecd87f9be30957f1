package workflow

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/importer"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/utils"
)

var (
	testAdmin  = Actor{Username: "admin", Role: utils.RoleAdmin}
	testDriver = Actor{Username: "driver33", Role: utils.RoleDriver, RouteNumber: 33}
)

func intPtr(n int) *int { return &n }

func newTestStore(t *testing.T) *LiveStore {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "live.db")
	db, err := config.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrateAll(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := NewLiveStore(path, db, NewBackupManager(filepath.Join(dir, "backups"), nil), nil, nil)
	t.Cleanup(func() {
		if sqlDB, err := store.DB().DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store
}

func testCustomer(number int, name string, route int) models.Customer {
	c := models.Customer{
		CustomerNumber: number,
		AccountName:    name,
		Address:        strconv.Itoa(number) + " Main St",
		City:           "Sacramento",
		State:          "CA",
		ZipCode:        "95814",
		IsActive:       utils.NewTrue(),
	}
	if route > 0 {
		c.RouteNumber = intPtr(route)
	}
	return c
}

// testRecord is the export rendering of testCustomer.
func testRecord(number int, name string, route int) importer.SourceRecord {
	r := importer.SourceRecord{
		CustomerNumber: number,
		AccountName:    name,
		Address:        strconv.Itoa(number) + " Main St",
		City:           "Sacramento",
		State:          "CA",
		ZipCode:        "95814",
	}
	if route > 0 {
		r.RouteNumber = intPtr(route)
	}
	return r
}

func seedCustomers(t *testing.T, store *LiveStore, customers ...models.Customer) {
	t.Helper()
	ctx := config.WithLiveStoreWrite(context.Background())
	for i := range customers {
		if err := store.DB().WithContext(ctx).Create(&customers[i]).Error; err != nil {
			t.Fatalf("seed customer %d: %v", customers[i].CustomerNumber, err)
		}
	}
}

func loadCustomer(t *testing.T, store *LiveStore, number int) (models.Customer, bool) {
	t.Helper()
	var rows []models.Customer
	if err := store.DB().Where("customer_number = ?", number).Find(&rows).Error; err != nil {
		t.Fatalf("load customer %d: %v", number, err)
	}
	if len(rows) == 0 {
		return models.Customer{}, false
	}
	return rows[0], true
}

func countRows(t *testing.T, store *LiveStore, model any) int64 {
	t.Helper()
	var n int64
	if err := store.DB().Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

func listBackups(t *testing.T, store *LiveStore) []BackupInfo {
	t.Helper()
	backups, err := store.Backups.List()
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	return backups
}
