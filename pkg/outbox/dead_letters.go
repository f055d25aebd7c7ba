package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

const maxParkedErrorBytes = 1024

// DeadLetters keeps a copy of every outbox row the publisher gave up on, with
// the reason, so an operator can inspect or replay it.
type DeadLetters struct {
	db *gorm.DB
}

func NewDeadLetters(db *gorm.DB) *DeadLetters {
	return &DeadLetters{db: db}
}

// Park copies row into outbox_dead_letters through tx. The caller marks the source row
// terminal in the same transaction.
func (d *DeadLetters) Park(tx *gorm.DB, row models.OutboxEvent, reason enums.DeadLetterReason, cause error, at time.Time) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !reason.IsValid() {
		return errors.New("unknown dead-letter reason " + string(reason))
	}
	entry := models.OutboxDeadLetter{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		Reason:        reason,
		Attempts:      row.AttemptCount,
		ParkedAt:      at,
	}
	if cause != nil {
		msg := cause.Error()
		if len(msg) > maxParkedErrorBytes {
			msg = msg[:maxParkedErrorBytes-3] + "..."
		}
		entry.Detail = &msg
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns the parked copy of an outbox row, or nil.
func (d *DeadLetters) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDeadLetter, error) {
	var entry models.OutboxDeadLetter
	err := d.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
