package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/importer"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/shopspring/decimal"
)

func TestStageCustomerShells_StagesMissingCustomers(t *testing.T) {
	store := newTestStore(t)
	seedCustomers(t, store, testCustomer(2, "Bravo", 33))
	svc := NewStagingService(store, nil, nil)

	source := []importer.SourceRecord{
		testRecord(1, "Alpha", 33),
		testRecord(2, "Bravo", 33),
		testRecord(3, "No Route", 0),
	}
	res, err := svc.StageCustomerShells(context.Background(), source, nil, "", testAdmin)
	if err != nil {
		t.Fatalf("StageCustomerShells: %v", err)
	}
	if res.BatchId == "" || res.Staged != 1 || res.Message != "Staged 1 addition changes for review" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].CustomerNumber != 3 {
		t.Fatalf("skipped = %+v", res.Skipped)
	}

	shell, err := res.Changes[0].Proposal()
	if err != nil {
		t.Fatalf("decode shell: %v", err)
	}
	c, err := models.DecodeSource[models.Customer](shell)
	if err != nil {
		t.Fatalf("decode customer: %v", err)
	}
	if c.CustomerNumber != 1 || c.ServiceFrequency != "Weekly" {
		t.Fatalf("unexpected shell %+v", c)
	}
	if res.Changes[0].RouteNumber != 33 || res.Changes[0].Validated {
		t.Fatalf("unexpected staged row %+v", res.Changes[0])
	}

	if _, ok := loadCustomer(t, store, 1); ok {
		t.Fatalf("staging wrote to the live store")
	}
	var events []models.ChangeEvent
	store.DB().Where("event_type = ?", models.ChangeEventChangesStaged).Find(&events)
	if len(events) != 1 || events[0].ReferenceKey != res.BatchId {
		t.Fatalf("unexpected staged events %+v", events)
	}
}

func TestStageRemovals_SkipsCustomersWithoutRoute(t *testing.T) {
	store := newTestStore(t)
	seedCustomers(t, store,
		testCustomer(1, "Alpha", 33),
		testCustomer(2, "Bravo", 33),
		testCustomer(3, "Drifter", 0),
	)
	svc := NewStagingService(store, nil, nil)

	res, err := svc.StageRemovals(context.Background(), []importer.SourceRecord{testRecord(1, "Alpha", 33)}, nil, "", testAdmin)
	if err != nil {
		t.Fatalf("StageRemovals: %v", err)
	}
	if res.Staged != 1 || res.Changes[0].CustomerNumber != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	p, err := res.Changes[0].Proposal()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Action != models.ChangeActionRemove || p.Reason != RemovalReason {
		t.Fatalf("unexpected removal %+v", p)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].CustomerNumber != 3 {
		t.Fatalf("skipped = %+v", res.Skipped)
	}
}

func TestStageRemovals_IgnoresExcludedRoutes(t *testing.T) {
	store := newTestStore(t)
	seedCustomers(t, store, testCustomer(1, "Alpha", 33), testCustomer(2, "Warehouse", 99))
	svc := NewStagingService(store, nil, []int{99})

	res, err := svc.StageRemovals(context.Background(), nil, nil, "", testAdmin)
	if err != nil {
		t.Fatalf("StageRemovals: %v", err)
	}
	if res.Staged != 1 || res.Changes[0].CustomerNumber != 1 {
		t.Fatalf("excluded route was staged: %+v", res.Changes)
	}
}

func TestStageUpdates_RestagingIsDeduplicated(t *testing.T) {
	store := newTestStore(t)
	seedCustomers(t, store, testCustomer(1, "Alpha", 33))
	svc := NewStagingService(store, nil, nil)
	rec := testRecord(1, "Alpha", 33)
	rec.City = "Davis"

	first, err := svc.StageUpdates(context.Background(), []importer.SourceRecord{rec}, nil, "", testAdmin)
	if err != nil || first.Staged != 1 {
		t.Fatalf("first stage = %+v, %v", first, err)
	}
	second, err := svc.StageUpdates(context.Background(), []importer.SourceRecord{rec}, nil, "", testAdmin)
	if err != nil {
		t.Fatalf("second stage: %v", err)
	}
	if second.Staged != 0 || len(second.Skipped) != 1 || second.Skipped[0].Reason != "already pending review" {
		t.Fatalf("re-stage was not deduplicated: %+v", second)
	}
	if n := countRows(t, store, &models.StagedChange{}); n != 1 {
		t.Fatalf("pending rows = %d, want 1", n)
	}
}

func TestStageInventoryPopulation_OnlyForShellsInBatch(t *testing.T) {
	store := newTestStore(t)
	svc := NewStagingService(store, nil, nil)

	shells, err := svc.StageCustomerShells(context.Background(), []importer.SourceRecord{testRecord(1, "Alpha", 33)}, nil, "batch-1", testAdmin)
	if err != nil || shells.Staged != 1 {
		t.Fatalf("stage shells = %+v, %v", shells, err)
	}

	rows := []importer.InventoryRow{
		{CustomerNumber: 1, ItemNumber: "MAT-3X5", Description: "Mat 3x5", Quantity: 2, UnitPrice: decimal.NewFromInt(3)},
		{CustomerNumber: 1, ItemNumber: "TWL-01", Description: "Towel", Quantity: 10, UnitPrice: decimal.NewFromInt(1)},
		{CustomerNumber: 7, ItemNumber: "MAT-3X5", Quantity: 1},
	}
	res, err := svc.StageInventoryPopulation(context.Background(), rows, nil, "batch-1", testAdmin)
	if err != nil {
		t.Fatalf("StageInventoryPopulation: %v", err)
	}
	if res.Staged != 2 || len(res.Skipped) != 1 || res.Skipped[0].CustomerNumber != 7 {
		t.Fatalf("unexpected result %+v", res)
	}
	inv, err := res.Changes[0].Inventory()
	if err != nil {
		t.Fatalf("decode inventory: %v", err)
	}
	if inv.ShellChangeId != shells.Changes[0].ID || inv.Item.ItemNumber != "MAT-3X5" || inv.Item.Quantity != 2 {
		t.Fatalf("unexpected inventory change %+v", inv)
	}

	if _, err := svc.StageInventoryPopulation(context.Background(), rows, nil, "", testAdmin); err == nil {
		t.Fatalf("expected error without a batch id")
	}
}

func TestGetPending_GroupsByBatch(t *testing.T) {
	store := newTestStore(t)
	seedCustomers(t, store, testCustomer(5, "Echo", 33))
	svc := NewStagingService(store, nil, nil)

	source := []importer.SourceRecord{testRecord(1, "Alpha", 33), testRecord(2, "Bravo", 34)}
	if _, err := svc.StageCustomerShells(context.Background(), source, nil, "batch-a", testAdmin); err != nil {
		t.Fatalf("stage shells: %v", err)
	}
	if _, err := svc.StageRemovals(context.Background(), source, nil, "batch-b", testAdmin); err != nil {
		t.Fatalf("stage removals: %v", err)
	}

	batches, err := svc.GetPending(context.Background(), 33, testDriver)
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %+v", batches)
	}
	if batches[0].BatchId != "batch-a" || batches[0].Counts["addition"] != 1 || len(batches[0].Changes) != 1 {
		t.Fatalf("unexpected first batch %+v", batches[0])
	}
	if batches[1].BatchId != "batch-b" || batches[1].Counts["removal"] != 1 {
		t.Fatalf("unexpected second batch %+v", batches[1])
	}
}

func TestStaging_DriverLimitedToOwnRoute(t *testing.T) {
	store := newTestStore(t)
	svc := NewStagingService(store, nil, nil)

	_, err := svc.GetPending(context.Background(), 34, testDriver)
	var authErr *utils.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}

	source := []importer.SourceRecord{testRecord(1, "Alpha", 33), testRecord(2, "Bravo", 34)}
	res, err := svc.StageCustomerShells(context.Background(), source, nil, "", testDriver)
	if err != nil {
		t.Fatalf("StageCustomerShells: %v", err)
	}
	if res.Staged != 1 || res.Changes[0].CustomerNumber != 1 {
		t.Fatalf("driver staged outside their route: %+v", res)
	}

	if _, err := svc.StageCustomerShells(context.Background(), source, nil, "", Actor{Username: "guest"}); !errors.As(err, &authErr) {
		t.Fatalf("caller without role: err = %v", err)
	}
	if _, err := svc.CompareRouteOptimization(context.Background(), source, testDriver); !errors.As(err, &authErr) {
		t.Fatalf("driver compare: err = %v", err)
	}
}

func TestLiveStoreGuard_BlocksWritesOutsideApply(t *testing.T) {
	store := newTestStore(t)
	c := testCustomer(1, "Alpha", 33)

	err := store.DB().WithContext(context.Background()).Create(&c).Error
	if !errors.Is(err, config.ErrLiveStoreWriteDenied) {
		t.Fatalf("err = %v, want ErrLiveStoreWriteDenied", err)
	}
	if _, ok := loadCustomer(t, store, 1); ok {
		t.Fatalf("guarded write reached the table")
	}
}
