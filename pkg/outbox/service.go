package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// DomainEvent is what services hand to Emit.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *Actor
	Data          any
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	switch {
	case !e.EventType.IsValid():
		return fmt.Errorf("unknown outbox event type %q", e.EventType)
	case !e.AggregateType.IsValid():
		return fmt.Errorf("unknown outbox aggregate type %q", e.AggregateType)
	case e.AggregateID == uuid.Nil:
		return errors.New("outbox event needs an aggregate id")
	case e.Data == nil:
		return errors.New("outbox event needs data")
	}
	return nil
}

// Service appends domain events to the outbox table.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: func() time.Time { return time.Now().UTC() }}
}

// Emit writes event through tx. The row becomes visible to the publisher only
// if tx commits, together with the state change that raised it.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := event.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	id := uuid.New()
	payload, err := json.Marshal(Envelope{
		Version:    SchemaVersion,
		EventID:    id.String(),
		OccurredAt: occurred.UTC(),
		Actor:      event.Actor,
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", event.EventType, err)
	}

	if err := s.repo.Insert(tx.WithContext(ctx), models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("insert %s outbox row: %w", event.EventType, err)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"event_id":   id.String(),
		"event_type": event.EventType,
		"order_id":   event.AggregateID.String(),
	}), "outbox event queued")
	return nil
}
