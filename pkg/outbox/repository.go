package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

// FetchUnpublishedForPublish claims the oldest publishable rows. On Postgres
// the rows stay locked until tx ends so parallel publishers skip them.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	query := tx.Where("published_at IS NULL")
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": time.Now().UTC(),
			"last_error":   nil,
		}).Error
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    err.Error(),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// MarkTerminalTx parks a row at the attempt ceiling so it is never fetched again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    err.Error(),
			"attempt_count": terminalAttempts,
		}).Error
}

// DeletePublishedBefore removes up to limit rows published before cutoff,
// plus rows that never published but were parked at minAttemptCount and are
// older than cutoff. Parked rows already have a dead-letter copy. A limit of
// zero or less deletes every match.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount, limit int) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	expired := tx.Model(&models.OutboxEvent{}).
		Select("id").
		Where("(published_at IS NOT NULL AND published_at < ?) OR (published_at IS NULL AND attempt_count >= ? AND created_at < ?)",
			cutoff, minAttemptCount, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		expired = expired.Limit(limit)
	}
	res := tx.WithContext(ctx).Where("id IN (?)", expired).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
