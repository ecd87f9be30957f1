package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/utils"
	"gorm.io/gorm"
)

func TestBackupFileName(t *testing.T) {
	at := time.Date(2026, 10, 18, 12, 30, 45, 123000000, time.UTC)
	tests := []struct {
		reason string
		ext    string
		want   string
	}{
		{reason: "before_update_abc-123", ext: ".db", want: "backup_2026-10-18T12-30-45-123Z_before_update_abc-123.db"},
		{reason: "before update #7", ext: ".db", want: "backup_2026-10-18T12-30-45-123Z_before_update_7.db"},
		{reason: "../../etc/passwd", ext: ".db", want: "backup_2026-10-18T12-30-45-123Z_etc_passwd.db"},
		{reason: "", ext: "", want: "backup_2026-10-18T12-30-45-123Z_manual.db"},
	}
	safe := regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	for _, tt := range tests {
		got := BackupFileName(at, tt.reason, tt.ext)
		if got != tt.want {
			t.Fatalf("BackupFileName(%q) = %q, want %q", tt.reason, got, tt.want)
		}
		if !safe.MatchString(got) {
			t.Fatalf("name %q is not filesystem safe", got)
		}
		ts, _, ok := parseBackupName(got)
		if !ok || !ts.Equal(at) {
			t.Fatalf("parseBackupName(%q) = %v, %v", got, ts, ok)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestBackupManager_CreateListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "live.db")
	writeFile(t, src, "v1")

	m := NewBackupManager(filepath.Join(dir, "backups"), nil)
	clock := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	first, err := m.Create(context.Background(), nil, src, "first")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	writeFile(t, src, "v2-longer")
	clock = clock.Add(time.Minute)
	second, err := m.Create(context.Background(), nil, src, "second")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(first.Path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != second.Name || list[1].Name != first.Name {
		t.Fatalf("unexpected order %+v", list)
	}
	if list[0].Reason != "second" || list[0].SizeBytes != int64(len("v2-longer")) {
		t.Fatalf("unexpected info %+v", list[0])
	}
	data, err := os.ReadFile(first.Path)
	if err != nil || string(data) != "v1" {
		t.Fatalf("first backup content = %q, %v", data, err)
	}
}

func TestBackupManager_CreateSameInstantDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "live.db")
	writeFile(t, src, "data")
	m := NewBackupManager(filepath.Join(dir, "backups"), nil)
	fixed := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	a, err := m.Create(context.Background(), nil, src, "same")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := m.Create(context.Background(), nil, src, "same")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Name == b.Name {
		t.Fatalf("second backup reused name %s", a.Name)
	}
}

func TestBackupManager_ResolveRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	m := NewBackupManager(filepath.Join(dir, "backups"), nil)
	writeFile(t, filepath.Join(dir, "backup_outside.db"), "x")

	for _, name := range []string{"", "../backup_outside.db", "backup_missing.db", "/etc/passwd"} {
		_, err := m.Resolve(name)
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			t.Fatalf("Resolve(%q) err = %v, want not found", name, err)
		}
	}
}

func TestBackupManager_ResolveByFileName(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "live.db")
	writeFile(t, src, "data")
	m := NewBackupManager(filepath.Join(dir, "backups"), nil)
	m.now = func() time.Time { return time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC) }

	created, err := m.Create(context.Background(), nil, src, "manual")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tests := []struct {
		name    string
		wantErr bool
	}{
		{name: "backup_2026-10-01T08-00-00-000Z_manual.db"},
		{name: "backup_2026-10-01T08:00:00.000Z_manual.db", wantErr: true},
	}
	for _, tt := range tests {
		got, err := m.Resolve(tt.name)
		if tt.wantErr {
			if !errors.Is(err, utils.ErrorRecordNotFound) {
				t.Fatalf("Resolve(%q) err = %v, want not found", tt.name, err)
			}
			continue
		}
		if err != nil || got.Path != created.Path {
			t.Fatalf("Resolve(%q) = %+v, %v; want %s", tt.name, got, err, created.Path)
		}
	}
}

func TestBackupManager_Prune(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "live.db")
	writeFile(t, src, "data")
	m := NewBackupManager(filepath.Join(dir, "backups"), nil)
	clock := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	var created []BackupInfo
	for i := 0; i < 4; i++ {
		b, err := m.Create(context.Background(), nil, src, "n")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		mt := time.Now().Add(time.Duration(i-10) * time.Minute)
		if err := os.Chtimes(b.Path, mt, mt); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
		created = append(created, b)
		clock = clock.Add(time.Second)
	}

	removed, err := m.Prune(1)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 3 {
		t.Fatalf("removed %d backups, want 3", len(removed))
	}
	left, _ := m.List()
	if len(left) != 1 || left[0].Name != created[3].Name {
		t.Fatalf("kept %+v, want newest %s", left, created[3].Name)
	}
}

func TestLiveStore_CreateBackupCopiesDatabase(t *testing.T) {
	store := newTestStore(t)
	seedCustomers(t, store, testCustomer(1, "Alpha", 33))

	b, err := store.CreateBackup(context.Background(), "manual")
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	fi, err := os.Stat(b.Path)
	if err != nil || fi.Size() == 0 {
		t.Fatalf("backup file missing or empty: %v", err)
	}
}

func TestLiveStore_CreateBackupDuringConcurrentWrites(t *testing.T) {
	store := newTestStore(t)
	const perTx = 5

	ctx := context.Background()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	var writeErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			err := store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				for j := 0; j < perTx; j++ {
					if err := models.RecordChangeEvent(ctx, tx, models.ChangeEventChangesStaged, "batch", nil, "writer", map[string]int{"tx": i, "row": j}); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				writeErr = err
				return
			}
		}
	}()

	var backups []BackupInfo
	for i := 0; i < 6; i++ {
		b, err := store.CreateBackup(ctx, "concurrent")
		if err != nil {
			close(stop)
			wg.Wait()
			t.Fatalf("CreateBackup: %v", err)
		}
		backups = append(backups, b)
	}
	close(stop)
	wg.Wait()
	if writeErr != nil {
		t.Fatalf("writer: %v", writeErr)
	}

	for _, b := range backups {
		db, err := config.OpenSQLite(b.Path)
		if err != nil {
			t.Fatalf("open %s: %v", b.Name, err)
		}
		var check string
		if err := db.Raw("PRAGMA integrity_check").Scan(&check).Error; err != nil {
			t.Fatalf("integrity_check %s: %v", b.Name, err)
		}
		var n int64
		countErr := db.Model(&models.ChangeEvent{}).Count(&n).Error
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		if check != "ok" {
			t.Fatalf("backup %s integrity_check = %q", b.Name, check)
		}
		if countErr != nil {
			t.Fatalf("count events in %s: %v", b.Name, countErr)
		}
		if n%perTx != 0 {
			t.Fatalf("backup %s holds %d events, want a multiple of %d", b.Name, n, perTx)
		}
	}
}
