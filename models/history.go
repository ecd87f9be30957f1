package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/routesync_backend/utils"
	"gorm.io/gorm"
)

// UpdateHistory records one completed apply and the backup taken right before it.
type UpdateHistory struct {
	ID             int        `gorm:"primary_key" json:"id"`
	UpdateId       string     `gorm:"size:64;uniqueIndex;not null" json:"update_id"`
	UpdateType     UpdateType `gorm:"size:20;not null" json:"update_type"`
	AppliedChanges int        `gorm:"not null;default:0" json:"applied_changes"`
	BackupPath     string     `gorm:"size:500;not null" json:"backup_path"`
	AdminUser      string     `gorm:"size:100" json:"admin_user"`
	CompletedAt    time.Time  `gorm:"index;not null" json:"completed_at"`
	RolledBackAt   *time.Time `json:"rolled_back_at"`
	RolledBackBy   *string    `gorm:"size:100" json:"rolled_back_by"`
}

const DefaultHistoryLimit = 50

// ListUpdateHistory returns the newest entries first.
func ListUpdateHistory(ctx context.Context, db *gorm.DB, limit int) ([]UpdateHistory, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var rows []UpdateHistory
	err := db.WithContext(ctx).Order("completed_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func GetUpdateHistory(ctx context.Context, db *gorm.DB, updateId string) (*UpdateHistory, error) {
	var h UpdateHistory
	err := db.WithContext(ctx).Where("update_id = ?", updateId).Take(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &utils.NotFoundError{Kind: "update history", Key: updateId}
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}
