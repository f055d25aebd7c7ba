package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindByIdentity(ctx context.Context, identity Identity, forUpdate bool) (*models.Cart, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) error
	SaveTotals(ctx context.Context, cart *models.Cart) error
	CreateItem(ctx context.Context, item *models.CartItem) error
	UpdateItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, qty int) error
	DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) error
	DeleteItems(ctx context.Context, cartID uuid.UUID) error
	Delete(ctx context.Context, cartID uuid.UUID) error
	DeleteExpiredAnonymous(ctx context.Context, now time.Time, limit int) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// catalogReader resolves current prices and availability for cart lines.
type catalogReader interface {
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error)
	WithTx(tx *gorm.DB) *catalog.Repository
}
