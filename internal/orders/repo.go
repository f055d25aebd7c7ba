package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Order, error)
	FindByIntentID(ctx context.Context, intentID string, forUpdate bool) (*models.Order, error)
	ListByOwner(ctx context.Context, owner cart.Identity, params pagination.Params) ([]models.Order, *string, error)
	SaveTransition(ctx context.Context, order *models.Order, from enums.OrderStatus, entry *models.OrderTrackingEntry) (bool, error)
	UpdatePayment(ctx context.Context, orderID uuid.UUID, payment models.OrderPayment) error
	FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order with its line items and tracking entries.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.Order, error) {
	var order models.Order
	err := r.detailQuery(ctx, forUpdate).Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIntentID(ctx context.Context, intentID string, forUpdate bool) (*models.Order, error) {
	var order models.Order
	err := r.detailQuery(ctx, forUpdate).Where("payment_intent_id = ?", intentID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) detailQuery(ctx context.Context, forUpdate bool) *gorm.DB {
	query := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("Tracking", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		})
	if forUpdate && r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

// ListByOwner pages an owner's orders newest first using a (created_at, id)
// cursor. The returned cursor is nil on the last page.
func (r *repository) ListByOwner(ctx context.Context, owner cart.Identity, params pagination.Params) ([]models.Order, *string, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).
		Preload("Items").
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(limit))
	if owner.UserID != nil {
		query = query.Where("user_id = ?", *owner.UserID)
	} else {
		query = query.Where("session_id = ?", owner.SessionID)
	}

	cursor, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	rows, next := pagination.Trim(rows, limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return rows, next, nil
}

// SaveTransition writes the new status and derived timestamps only if the row
// is still in status from, then appends the tracking entry. It reports false
// when another writer moved the order first.
func (r *repository) SaveTransition(ctx context.Context, order *models.Order, from enums.OrderStatus, entry *models.OrderTrackingEntry) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, from).
		Updates(map[string]any{
			"status":              order.Status,
			"confirmed_at":        order.ConfirmedAt,
			"shipped_at":          order.ShippedAt,
			"delivered_at":        order.DeliveredAt,
			"cancelled_at":        order.CancelledAt,
			"return_requested_at": order.ReturnRequestedAt,
			"return_reason":       order.ReturnReason,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repository) UpdatePayment(ctx context.Context, orderID uuid.UUID, payment models.OrderPayment) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"payment_intent_id":      payment.IntentID,
			"payment_status":         payment.Status,
			"payment_paid_cents":     payment.PaidCents,
			"payment_paid_at":        payment.PaidAt,
			"payment_refunded_cents": payment.RefundedCents,
			"payment_refunded_at":    payment.RefundedAt,
			"payment_last_refund_id": payment.LastRefundID,
			"payment_failure_reason": payment.FailureReason,
			"updated_at":             time.Now().UTC(),
		}).Error
}

// FindStalePending lists pending, unpaid orders created before cutoff.
func (r *repository) FindStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status = ? AND payment_status <> ? AND created_at < ?",
			enums.OrderStatusPending, enums.PaymentStatusCompleted, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Pluck("id", &ids).Error
	return ids, err
}
