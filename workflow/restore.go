package workflow

import (
	"context"
	"path/filepath"
	"time"

	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type RestoreResult struct {
	Success      bool       `json:"success"`
	RestoredFrom string     `json:"restored_from"`
	SafetyBackup string     `json:"safety_backup"`
	UpdateId     string     `json:"update_id,omitempty"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
	Message      string     `json:"message"`
}

// auditSnapshot holds the tables that must survive a restore: history and the
// outbox describe what happened to the file, so they are not rolled back with it.
type auditSnapshot struct {
	histories []models.UpdateHistory
	events    []models.ChangeEvent
}

func takeAuditSnapshot(ctx context.Context, db *gorm.DB) (auditSnapshot, error) {
	var snap auditSnapshot
	if err := db.WithContext(ctx).Order("id ASC").Find(&snap.histories).Error; err != nil {
		return snap, err
	}
	if err := db.WithContext(ctx).Order("id ASC").Find(&snap.events).Error; err != nil {
		return snap, err
	}
	return snap, nil
}

func (snap auditSnapshot) restoreInto(tx *gorm.DB) error {
	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.UpdateHistory{}).Error; err != nil {
		return err
	}
	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ChangeEvent{}).Error; err != nil {
		return err
	}
	if len(snap.histories) > 0 {
		if err := tx.CreateInBatches(snap.histories, 100).Error; err != nil {
			return err
		}
	}
	if len(snap.events) > 0 {
		if err := tx.CreateInBatches(snap.events, 100).Error; err != nil {
			return err
		}
	}
	return nil
}

type backupRestoredPayload struct {
	RestoredFrom string `json:"restored_from"`
	SafetyBackup string `json:"safety_backup"`
	UpdateId     string `json:"update_id,omitempty"`
}

// restoreTarget picks the backup to restore. It runs under the store lock.
type restoreTarget func(ctx context.Context, db *gorm.DB) (BackupInfo, error)

// RestoreFromBackup replaces the live store with a backup. The current file is
// backed up first; update history and change events are carried across.
func (s *DatabaseUpdateService) RestoreFromBackup(ctx context.Context, backupName string, actor Actor) (RestoreResult, error) {
	if err := requireAdmin(actor, "restore from backup"); err != nil {
		return RestoreResult{}, err
	}
	info, err := s.Store.Backups.Resolve(backupName)
	if err != nil {
		return RestoreResult{}, err
	}
	return s.restore(ctx, actor, "", func(context.Context, *gorm.DB) (BackupInfo, error) { return info, nil }, nil)
}

// RollbackUpdates restores the backup taken before updateId was applied and
// stamps the history row as rolled back.
func (s *DatabaseUpdateService) RollbackUpdates(ctx context.Context, updateId string, actor Actor) (RestoreResult, error) {
	if err := requireAdmin(actor, "roll back updates"); err != nil {
		return RestoreResult{}, err
	}

	// The history row is read under the lock so two rollbacks of one update cannot both pass.
	target := func(ctx context.Context, db *gorm.DB) (BackupInfo, error) {
		history, err := models.GetUpdateHistory(ctx, db, updateId)
		if err != nil {
			return BackupInfo{}, err
		}
		if history.RolledBackAt != nil {
			return BackupInfo{}, &utils.ValidationGateError{Reason: "update " + updateId + " was already rolled back"}
		}
		if history.BackupPath == "" {
			return BackupInfo{}, &utils.NotFoundError{Kind: "backup for update", Key: updateId}
		}
		return s.Store.Backups.Resolve(filepath.Base(history.BackupPath))
	}

	var stampedAt time.Time
	result, err := s.restore(ctx, actor, updateId, target, func(tx *gorm.DB, info BackupInfo) error {
		stampedAt = s.clock()
		by := actor.Name()
		res := tx.Model(&models.UpdateHistory{}).Where("update_id = ?", updateId).Updates(map[string]any{
			"rolled_back_at": stampedAt,
			"rolled_back_by": by,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &utils.NotFoundError{Kind: "update history", Key: updateId}
		}
		return models.RecordChangeEvent(ctx, tx, models.ChangeEventUpdateRolledBack, updateId, nil, by, backupRestoredPayload{
			RestoredFrom: info.Name,
			UpdateId:     updateId,
		})
	})
	if err != nil {
		return RestoreResult{}, err
	}
	result.RolledBackAt = &stampedAt
	result.Message = "Successfully rolled back update " + updateId
	return result, nil
}

func (s *DatabaseUpdateService) restore(ctx context.Context, actor Actor, updateId string, target restoreTarget, after func(tx *gorm.DB, info BackupInfo) error) (RestoreResult, error) {
	ctx, span := tracer.Start(ctx, "DatabaseUpdateService.restore")
	defer span.End()

	release, err := s.Store.Lock(ctx)
	if err != nil {
		return RestoreResult{}, err
	}
	defer release()

	info, err := target(ctx, s.Store.DB())
	if err != nil {
		return RestoreResult{}, err
	}
	span.SetAttributes(attribute.String("backup", info.Name))

	safety, err := s.Store.snapshot(ctx, "before_restore")
	if err != nil {
		config.LogError(s.Logger, "workflow", "restore", "safety backup", info.Name, err)
		return RestoreResult{}, err
	}

	snap, err := takeAuditSnapshot(ctx, s.Store.DB())
	if err != nil {
		return RestoreResult{}, err
	}

	if err := s.Store.replaceFile(info.Path); err != nil {
		span.RecordError(err)
		config.LogError(s.Logger, "workflow", "restore", "replace live store", info.Name, err)
		s.revertRestore(safety)
		return RestoreResult{}, err
	}

	err = s.Store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := snap.restoreInto(tx); err != nil {
			return err
		}
		if err := models.RecordChangeEvent(ctx, tx, models.ChangeEventBackupRestored, info.Name, nil, actor.Name(), backupRestoredPayload{
			RestoredFrom: info.Name,
			SafetyBackup: safety.Name,
			UpdateId:     updateId,
		}); err != nil {
			return err
		}
		if after != nil {
			return after(tx, info)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		config.LogError(s.Logger, "workflow", "restore", "carry audit tables", info.Name, err)
		s.revertRestore(safety)
		return RestoreResult{}, err
	}
	restoresTotal.Inc()

	s.Logger.WithFields(logrus.Fields{
		"field":         "restore",
		"restored_from": info.Name,
		"safety_backup": safety.Name,
		"update_id":     updateId,
		"actor":         actor.Name(),
	}).Info("live store restored from backup")

	return RestoreResult{
		Success:      true,
		RestoredFrom: info.Name,
		SafetyBackup: safety.Name,
		UpdateId:     updateId,
		Message:      "Database restored from " + info.Name,
	}, nil
}

// revertRestore puts the safety backup back after a failed restore so the live
// store and its audit tables are left as they were. The caller holds the store lock.
func (s *DatabaseUpdateService) revertRestore(safety BackupInfo) {
	if err := s.Store.replaceFile(safety.Path); err != nil {
		config.LogError(s.Logger, "workflow", "restore", "revert to safety backup", safety.Name, err)
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"field":         "restore",
		"safety_backup": safety.Name,
	}).Warn("restore failed; live store reverted to safety backup")
}
