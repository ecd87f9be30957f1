package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/routesync_backend/utils"
	"gorm.io/gorm"
)

// PendingUpdate is a previewed upload waiting to be applied. It replaces the
// process-lifetime preview map, so a restart does not lose in-flight previews.
type PendingUpdate struct {
	ID           int             `gorm:"primary_key" json:"id"`
	UpdateId     string          `gorm:"size:64;uniqueIndex;not null" json:"update_id"`
	UpdateType   UpdateType      `gorm:"size:20;not null" json:"update_type"`
	FileName     string          `gorm:"size:255" json:"file_name"`
	Changes      json.RawMessage `gorm:"type:text;not null" json:"changes"`
	RejectedRows json.RawMessage `gorm:"type:text" json:"rejected_rows"`
	TotalChanges int             `gorm:"not null;default:0" json:"total_changes"`
	CreatedBy    string          `gorm:"size:100" json:"created_by"`
	ExpiresAt    time.Time       `gorm:"index;not null" json:"expires_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (p PendingUpdate) Proposals() ([]ChangeProposal, error) {
	var out []ChangeProposal
	if len(p.Changes) == 0 {
		return out, nil
	}
	err := json.Unmarshal(p.Changes, &out)
	return out, err
}

// GetPendingUpdate loads a non-expired pending update.
func GetPendingUpdate(ctx context.Context, db *gorm.DB, updateId string, now time.Time) (*PendingUpdate, error) {
	var p PendingUpdate
	err := db.WithContext(ctx).Where("update_id = ? AND expires_at > ?", updateId, now).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &utils.NotFoundError{Kind: "pending update", Key: updateId, Message: "Update not found or expired"}
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteExpiredPendingUpdates removes previews whose TTL has passed.
func DeleteExpiredPendingUpdates(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&PendingUpdate{})
	return res.RowsAffected, res.Error
}
