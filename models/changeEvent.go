package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/utils"
	"gorm.io/gorm"
)

// Outbox publish statuses for ChangeEvent.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// ChangeEvent is the transactional outbox row for live-store mutations.
// It is written in the same transaction as the mutation and published after commit by the dispatcher.
type ChangeEvent struct {
	ID            int             `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EventType     string          `gorm:"size:50;not null;index" json:"event_type"`
	ReferenceKey  string          `gorm:"size:100;index" json:"reference_key"`
	RouteNumber   *int            `json:"route_number"`
	Actor         string          `gorm:"size:100" json:"actor"`
	Payload       json.RawMessage `gorm:"type:text" json:"payload"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	// Publish metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecordChangeEvent appends an outbox row on tx. Call it inside the mutating transaction.
func RecordChangeEvent(ctx context.Context, tx *gorm.DB, eventType string, referenceKey string, routeNumber *int, actor string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	event := ChangeEvent{
		EventType:     eventType,
		ReferenceKey:  referenceKey,
		RouteNumber:   routeNumber,
		Actor:         actor,
		Payload:       raw,
		CorrelationId: cid,
		PublishStatus: OutboxPublishStatusPending,
	}
	return tx.WithContext(ctx).Create(&event).Error
}

func ConvertToPubSubMessage(record ChangeEvent) config.PubSubMessage {
	return config.PubSubMessage{
		ID:            record.ID,
		EventType:     record.EventType,
		ReferenceKey:  record.ReferenceKey,
		RouteNumber:   record.RouteNumber,
		Actor:         record.Actor,
		OccurredAt:    record.CreatedAt,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}
