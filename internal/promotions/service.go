package promotions

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Repository reads promotion codes.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByCode matches case-insensitively; codes are stored upper-case.
func (r *Repository) FindByCode(ctx context.Context, code string) (*models.PromotionCode, error) {
	var promo models.PromotionCode
	if err := r.db.WithContext(ctx).Where("code = ?", normalize(code)).First(&promo).Error; err != nil {
		return nil, err
	}
	return &promo, nil
}

func (r *Repository) Create(ctx context.Context, promo *models.PromotionCode) error {
	promo.Code = normalize(promo.Code)
	return r.db.WithContext(ctx).Create(promo).Error
}

// Service computes discounts for checkout.
type Service struct {
	repo *Repository
	now  func() time.Time
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Discount returns the discount in cents for code against subtotalCents. An
// empty code is no discount. The result never exceeds the subtotal.
func (s *Service) Discount(ctx context.Context, subtotalCents int64, code string) (int64, error) {
	if normalize(code) == "" {
		return 0, nil
	}
	promo, err := s.repo.FindByCode(ctx, code)
	if db.IsNotFound(err) {
		return 0, invalidCode(code, "unknown promotion code")
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotion code")
	}
	if !promo.Active {
		return 0, invalidCode(code, "promotion code is not active")
	}
	if promo.ExpiresAt != nil && s.now().After(*promo.ExpiresAt) {
		return 0, invalidCode(code, "promotion code has expired")
	}
	if subtotalCents < promo.MinSubtotalCents {
		return 0, invalidCode(code, "order does not meet the promotion minimum").
			WithDetails(map[string]any{"code": promo.Code, "min_subtotal_cents": promo.MinSubtotalCents})
	}

	var discount int64
	switch promo.Kind {
	case enums.PromotionKindPercent:
		discount = decimal.NewFromInt(subtotalCents).Mul(promo.PercentOff).Round(0).IntPart()
	case enums.PromotionKindFixed:
		discount = promo.AmountOffCents
	default:
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "promotion code has unknown kind")
	}
	if discount > subtotalCents {
		discount = subtotalCents
	}
	if discount < 0 {
		discount = 0
	}
	return discount, nil
}

func invalidCode(code, message string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, message).
		WithDetails(map[string]any{"code": normalize(code)})
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
