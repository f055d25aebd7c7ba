package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OutboxEvent is written in the same transaction as the state change it
// announces and relayed to Pub/Sub afterwards. Payload holds the encoded
// outbox.Envelope.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:text;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at;index"`
}

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// OutboxDeadLetter is a parked copy of an outbox row the relay stopped
// retrying.
type OutboxDeadLetter struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventID       uuid.UUID                 `gorm:"column:event_id;type:uuid;not null;index"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:text;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	Reason        enums.DeadLetterReason    `gorm:"column:reason;type:text;not null"`
	Detail        *string                   `gorm:"column:detail"`
	Attempts      int                       `gorm:"column:attempts;not null;default:0"`
	ParkedAt      time.Time                 `gorm:"column:parked_at;not null"`
}

func (d *OutboxDeadLetter) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
