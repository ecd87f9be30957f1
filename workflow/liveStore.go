package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Opener opens the store file at path.
type Opener func(path string) (*gorm.DB, error)

// LiveStore is the SQLite file holding customers, routes and items, together with
// the backups taken of it. Staging and audit tables live in the same file.
type LiveStore struct {
	Path    string
	Backups *BackupManager
	Logger  *logrus.Logger

	open Opener
	mu   sync.RWMutex
	db   *gorm.DB
}

// NewLiveStore wraps an open handle. open is used to reopen the file after a restore;
// nil means config.OpenSQLite.
func NewLiveStore(path string, db *gorm.DB, backups *BackupManager, logger *logrus.Logger, open Opener) *LiveStore {
	if logger == nil {
		logger = config.GetLogger()
	}
	if open == nil {
		open = config.OpenSQLite
	}
	return &LiveStore{Path: path, db: db, Backups: backups, Logger: logger, open: open}
}

func (s *LiveStore) DB() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Lock takes the store lock. Every backup-then-mutate sequence runs under it.
func (s *LiveStore) Lock(ctx context.Context) (func(), error) {
	return AcquireStoreLock(ctx, s.Path, s.Logger)
}

// CreateBackup takes the store lock and snapshots the live file through the open handle.
func (s *LiveStore) CreateBackup(ctx context.Context, reason string) (BackupInfo, error) {
	release, err := s.Lock(ctx)
	if err != nil {
		return BackupInfo{}, err
	}
	defer release()
	return s.snapshot(ctx, reason)
}

// snapshot backs up the live store. The caller holds the store lock.
func (s *LiveStore) snapshot(ctx context.Context, reason string) (BackupInfo, error) {
	return s.Backups.Create(ctx, s.DB(), s.Path, reason)
}

// replaceFile closes the handle, copies src over the live file and reopens it.
// The caller holds the store lock.
func (s *LiveStore) replaceFile(src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if cerr := sqlDB.Close(); cerr != nil {
				return fmt.Errorf("close live store: %w", cerr)
			}
		}
		s.db = nil
	}

	_, copyErr := copyFile(src, s.Path)
	if err := os.Remove(s.Path + "-journal"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.Logger.WithField("field", "LiveStore.replaceFile").Warn("failed to remove stale journal: " + err.Error())
	}

	conn, err := s.open(s.Path)
	if err != nil {
		return fmt.Errorf("reopen live store: %w", err)
	}
	s.db = conn
	if copyErr != nil {
		return fmt.Errorf("copy backup over live store: %w", copyErr)
	}
	// Backups taken before a schema change may lack newer tables.
	return models.AutoMigrateAll(conn)
}
