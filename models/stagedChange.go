package models

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// StagedChange is a proposed live-store mutation held in pending_route_changes until a
// reviewer approves or rejects it. Only the validation gate moves it out of pending.
type StagedChange struct {
	ID             int              `gorm:"primary_key" json:"id"`
	ChangeType     StagedChangeType `gorm:"size:20;not null;index" json:"change_type"`
	RouteNumber    int              `gorm:"not null;index:idx_pending_route,priority:1" json:"route_number"`
	CustomerNumber int              `gorm:"index" json:"customer_number"`
	CustomerName   string           `gorm:"size:255" json:"customer_name"`
	ChangeData     json.RawMessage  `gorm:"type:text;not null" json:"change_data"`
	BatchId        string           `gorm:"size:64;not null;index" json:"batch_id"`
	Validated      bool             `gorm:"not null;default:false;index:idx_pending_route,priority:2" json:"validated"`
	ValidatedAt    *time.Time       `json:"validated_at"`
	ValidatedBy    *string          `gorm:"size:100" json:"validated_by"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (StagedChange) TableName() string {
	return "pending_route_changes"
}

// InventoryChange is the change_data payload of an inventory staged change.
type InventoryChange struct {
	CustomerNumber  int          `json:"customer_number"`
	CustomerName    string       `json:"customer_name"`
	Item            CustomerItem `json:"item"`
	DeliveryFreq    string       `json:"delivery_frequency,omitempty"`
	AverageDelivery string       `json:"average_delivery,omitempty"`
	ShellChangeId   int          `json:"shell_change_id"`
}

func (s StagedChange) Proposal() (ChangeProposal, error) {
	var p ChangeProposal
	err := json.Unmarshal(s.ChangeData, &p)
	return p, err
}

func (s StagedChange) Inventory() (InventoryChange, error) {
	var inv InventoryChange
	err := json.Unmarshal(s.ChangeData, &inv)
	return inv, err
}

// PendingBatch groups unvalidated staged rows of one batch for review.
type PendingBatch struct {
	BatchId   string         `json:"batch_id"`
	CreatedAt time.Time      `json:"created_at"`
	Counts    map[string]int `json:"counts"`
	Changes   []StagedChange `json:"changes"`
}

// ListPendingChanges returns unvalidated rows for a route ordered for grouping.
func ListPendingChanges(ctx context.Context, db *gorm.DB, routeNumber int) ([]StagedChange, error) {
	var rows []StagedChange
	err := db.WithContext(ctx).
		Where("route_number = ? AND validated = ?", routeNumber, false).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
