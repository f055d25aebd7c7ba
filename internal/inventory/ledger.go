package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

var (
	// ErrInsufficient means the conditional decrement matched no row with enough stock.
	ErrInsufficient = errors.New("insufficient inventory")
	// ErrUnknownItem means the product or variant row does not exist.
	ErrUnknownItem = errors.New("inventory item not found")
	ErrInvalidQty  = errors.New("quantity must be positive")
)

// Item addresses a stock counter: the variant's when VariantID is set,
// otherwise the product's.
type Item struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
}

func (i Item) String() string {
	if i.VariantID != nil {
		return fmt.Sprintf("%s/%s", i.ProductID, *i.VariantID)
	}
	return i.ProductID.String()
}

// Ledger owns every mutation of inventory counters. Each mutation is a single
// UPDATE statement; stock is never read and written back.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// WithTx binds the ledger to an open transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	if tx == nil {
		return l
	}
	return &Ledger{db: tx, now: l.now}
}

// Decrement subtracts qty only if the counter stays non-negative.
func (l *Ledger) Decrement(ctx context.Context, item Item, qty int) error {
	if qty <= 0 {
		return ErrInvalidQty
	}
	res := l.scope(ctx, item).
		Where("inventory >= ?", qty).
		Updates(map[string]any{
			"inventory":  gorm.Expr("inventory - ?", qty),
			"updated_at": l.now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("decrement inventory %s: %w", item, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := l.Available(ctx, item); err != nil {
		return err
	}
	return ErrInsufficient
}

// Increment adds qty back to the counter.
func (l *Ledger) Increment(ctx context.Context, item Item, qty int) error {
	if qty <= 0 {
		return ErrInvalidQty
	}
	res := l.scope(ctx, item).
		Updates(map[string]any{
			"inventory":  gorm.Expr("inventory + ?", qty),
			"updated_at": l.now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("increment inventory %s: %w", item, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUnknownItem
	}
	return nil
}

// Set overwrites the counter. Used for stock counts, never by checkout.
func (l *Ledger) Set(ctx context.Context, item Item, qty int) error {
	if qty < 0 {
		return ErrInvalidQty
	}
	res := l.scope(ctx, item).
		Updates(map[string]any{
			"inventory":  qty,
			"updated_at": l.now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("set inventory %s: %w", item, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUnknownItem
	}
	return nil
}

// Available returns the current counter value.
func (l *Ledger) Available(ctx context.Context, item Item) (int, error) {
	var qty int
	res := l.scope(ctx, item).Limit(1).Pluck("inventory", &qty)
	if res.Error != nil {
		return 0, fmt.Errorf("read inventory %s: %w", item, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, ErrUnknownItem
	}
	return qty, nil
}

func (l *Ledger) scope(ctx context.Context, item Item) *gorm.DB {
	if item.VariantID != nil {
		return l.db.WithContext(ctx).
			Model(&models.ProductVariant{}).
			Where("id = ? AND product_id = ?", *item.VariantID, item.ProductID)
	}
	return l.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", item.ProductID)
}
