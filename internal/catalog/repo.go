package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Repository reads and seeds catalog rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a catalog repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a product together with its variants.
func (r *Repository) Create(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

// GetProduct loads a product with its variants.
func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Preload("Variants").
		First(&product, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return &product, nil
}

// GetProducts loads products keyed by id. Missing ids are absent from the map.
func (r *Repository) GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error) {
	out := make(map[uuid.UUID]*models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var products []models.Product
	if err := r.db.WithContext(ctx).
		Preload("Variants").
		Where("id IN ?", ids).
		Find(&products).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	for i := range products {
		out[products[i].ID] = &products[i]
	}
	return out, nil
}
