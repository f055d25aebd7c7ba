package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Repository exposes persistence operations for carts and their lines.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByIdentity loads the cart with its lines in insertion order. It returns
// gorm.ErrRecordNotFound when the identity has no cart yet.
func (r *Repository) FindByIdentity(ctx context.Context, identity Identity, forUpdate bool) (*models.Cart, error) {
	query := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, added_at ASC")
		})
	if forUpdate && r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if identity.UserID != nil {
		query = query.Where("user_id = ?", *identity.UserID)
	} else {
		query = query.Where("session_id = ?", identity.SessionID)
	}

	var cart models.Cart
	if err := query.First(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindByID loads a cart with its lines in insertion order.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, added_at ASC")
		}).
		First(&cart, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// Create inserts a new empty cart.
func (r *Repository) Create(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).Create(cart).Error
}

// SaveTotals persists the derived totals and expiry.
func (r *Repository) SaveTotals(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", cart.ID).
		Updates(map[string]any{
			"subtotal_cents":   cart.SubtotalCents,
			"total_item_count": cart.TotalItemCount,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// CreateItem inserts a line.
func (r *Repository) CreateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// UpdateItemQuantity changes the quantity of a line owned by the cart.
func (r *Repository) UpdateItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		Update("quantity", qty)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteItem removes one line owned by the cart.
func (r *Repository) DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		Delete(&models.CartItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteItems removes every line of the cart.
func (r *Repository) DeleteItems(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&models.CartItem{}).Error
}

// Delete removes the cart and its lines.
func (r *Repository) Delete(ctx context.Context, cartID uuid.UUID) error {
	if err := r.DeleteItems(ctx, cartID); err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("id = ?", cartID).
		Delete(&models.Cart{}).Error
}

// DeleteExpiredAnonymous purges up to limit anonymous carts past their expiry.
func (r *Repository) DeleteExpiredAnonymous(ctx context.Context, now time.Time, limit int) (int64, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("session_id IS NOT NULL AND expires_at IS NOT NULL AND expires_at < ?", now).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := r.db.WithContext(ctx).Where("cart_id IN ?", ids).Delete(&models.CartItem{}).Error; err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Cart{})
	return res.RowsAffected, res.Error
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
