package checkout

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/internal/checkout/reservation"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type productReader interface {
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Product, error)
}

// Issue is one cart line that cannot be purchased as it stands.
type Issue struct {
	ItemID    uuid.UUID  `json:"item_id"`
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Name      string     `json:"name,omitempty"`
	Requested int        `json:"requested"`
	Available *int       `json:"available,omitempty"`
	Reason    string     `json:"reason"`
}

// Result is the outcome of validating a cart against the current catalog.
// Lines is populated only when Valid and lines up index for index with the
// cart's items.
type Result struct {
	Valid  bool               `json:"valid"`
	Empty  bool               `json:"empty"`
	Issues []Issue            `json:"issues"`
	Lines  []reservation.Line `json:"-"`
}

// Err converts a failed result into the API error for it.
func (r *Result) Err() error {
	switch {
	case r == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "missing validation result")
	case r.Empty:
		return pkgerrors.New(pkgerrors.CodeCartEmpty, "cart is empty")
	case !r.Valid && r.onlyShortfalls():
		return pkgerrors.New(pkgerrors.CodeInsufficientInventory, "not enough stock for some cart items").
			WithDetails(map[string]any{"issues": r.Issues})
	case !r.Valid:
		return pkgerrors.New(pkgerrors.CodeValidation, "some cart items cannot be purchased").
			WithDetails(map[string]any{"issues": r.Issues})
	}
	return nil
}

// onlyShortfalls reports whether every issue is a stock shortfall on a line
// that is otherwise purchasable.
func (r *Result) onlyShortfalls() bool {
	if len(r.Issues) == 0 {
		return false
	}
	for _, issue := range r.Issues {
		if issue.Available == nil {
			return false
		}
	}
	return true
}

// Validator checks every cart line against fresh product rows. It never writes.
type Validator struct {
	products productReader
}

func NewValidator(products productReader) (*Validator, error) {
	if products == nil {
		return nil, fmt.Errorf("product reader required")
	}
	return &Validator{products: products}, nil
}

func (v *Validator) Validate(ctx context.Context, view *cart.View) (*Result, error) {
	if view.IsEmpty() {
		return &Result{Empty: true, Issues: []Issue{}}, nil
	}

	ids := make([]uuid.UUID, 0, len(view.Items))
	for _, item := range view.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := v.products.GetProducts(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart products")
	}

	result := &Result{Issues: []Issue{}}
	lines := make([]reservation.Line, 0, len(view.Items))
	for _, item := range view.Items {
		issue := Issue{
			ItemID:    item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			Requested: item.Quantity,
		}
		listing, ok := catalog.Resolve(products[item.ProductID], item.VariantID)
		switch {
		case !ok:
			issue.Reason = "product no longer exists"
		case !listing.Active || !listing.Visible:
			issue.Name = listing.Name
			issue.Reason = fmt.Sprintf("%s is no longer available", listing.Name)
		case !listing.Purchasable(item.Quantity):
			available := listing.Inventory
			issue.Name = listing.Name
			issue.Available = &available
			issue.Reason = fmt.Sprintf("only %d of %s left in stock", available, listing.Name)
		default:
			lines = append(lines, reservation.Line{
				ProductID:      item.ProductID,
				VariantID:      item.VariantID,
				Quantity:       item.Quantity,
				TrackInventory: listing.TrackInventory,
				AllowBackorder: listing.AllowBackorder,
			})
			continue
		}
		result.Issues = append(result.Issues, issue)
	}

	result.Valid = len(result.Issues) == 0
	if result.Valid {
		result.Lines = lines
	}
	return result, nil
}
