package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Service exposes cart operations. Every mutation recomputes the derived
// totals inside the same transaction as the item change.
type Service interface {
	Get(ctx context.Context, identity Identity) (*View, error)
	AddItem(ctx context.Context, identity Identity, input AddItemInput) (*View, error)
	UpdateItem(ctx context.Context, identity Identity, itemID uuid.UUID, quantity int) (*View, error)
	RemoveItem(ctx context.Context, identity Identity, itemID uuid.UUID) (*View, error)
	Clear(ctx context.Context, identity Identity) (*View, error)
	Merge(ctx context.Context, userID uuid.UUID, sessionID string) (*View, error)
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}

// AddItemInput describes one line to add. Quantity is summed into an
// existing line for the same product and variant.
type AddItemInput struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

type service struct {
	repo    CartRepository
	tx      txRunner
	catalog catalogReader
	anonTTL time.Duration
	now     func() time.Time
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo CartRepository, tx txRunner, catalog catalogReader, anonTTL time.Duration) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog reader required")
	}
	if anonTTL <= 0 {
		return nil, fmt.Errorf("anonymous cart ttl must be positive")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		catalog: catalog,
		anonTTL: anonTTL,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Get(ctx context.Context, identity Identity) (*View, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	var view *View
	err := s.withRetryOnCreate(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.loadOrCreate(ctx, repo, identity)
		if err != nil {
			return err
		}
		view, err = s.recompute(ctx, tx, repo, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *service) AddItem(ctx context.Context, identity Identity, input AddItemInput) (*View, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	if input.Quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	var view *View
	err := s.withRetryOnCreate(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.loadOrCreate(ctx, repo, identity)
		if err != nil {
			return err
		}

		existing := findLine(cart.Items, input.ProductID, input.VariantID)
		wanted := input.Quantity
		if existing != nil {
			wanted += existing.Quantity
		}
		if err := s.ensurePurchasable(ctx, tx, input.ProductID, input.VariantID, wanted); err != nil {
			return err
		}

		if existing != nil {
			if err := repo.UpdateItemQuantity(ctx, cart.ID, existing.ID, wanted); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
			}
		} else {
			item := &models.CartItem{
				CartID:    cart.ID,
				ProductID: input.ProductID,
				VariantID: input.VariantID,
				Quantity:  input.Quantity,
				Position:  nextPosition(cart.Items),
				AddedAt:   s.now(),
			}
			if err := repo.CreateItem(ctx, item); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart item")
			}
		}

		view, err = s.recompute(ctx, tx, repo, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// UpdateItem sets a line's quantity. A quantity of zero removes the line.
func (s *service) UpdateItem(ctx context.Context, identity Identity, itemID uuid.UUID, quantity int) (*View, error) {
	if quantity == 0 {
		return s.RemoveItem(ctx, identity, itemID)
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}

	var view *View
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.loadExisting(ctx, repo, identity)
		if err != nil {
			return err
		}
		line := lineByID(cart.Items, itemID)
		if line == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		if err := s.ensurePurchasable(ctx, tx, line.ProductID, line.VariantID, quantity); err != nil {
			return err
		}
		if err := repo.UpdateItemQuantity(ctx, cart.ID, itemID, quantity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
		}
		view, err = s.recompute(ctx, tx, repo, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *service) RemoveItem(ctx context.Context, identity Identity, itemID uuid.UUID) (*View, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	var view *View
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.loadExisting(ctx, repo, identity)
		if err != nil {
			return err
		}
		if err := repo.DeleteItem(ctx, cart.ID, itemID); err != nil {
			if isNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart item")
		}
		view, err = s.recompute(ctx, tx, repo, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Clear empties the cart. Clearing a cart that does not exist yet is a no-op
// that returns the lazily created empty cart.
func (s *service) Clear(ctx context.Context, identity Identity) (*View, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	var view *View
	err := s.withRetryOnCreate(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.loadOrCreate(ctx, repo, identity)
		if err != nil {
			return err
		}
		if err := repo.DeleteItems(ctx, cart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}
		view, err = s.recompute(ctx, tx, repo, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Merge folds the anonymous session cart into the user's cart and deletes the
// anonymous cart. Lines for the same product and variant sum their quantities.
func (s *service) Merge(ctx context.Context, userID uuid.UUID, sessionID string) (*View, error) {
	userIdentity := ForUser(userID)
	sessionIdentity := ForSession(sessionID)
	if err := userIdentity.Validate(); err != nil {
		return nil, err
	}
	if err := sessionIdentity.Validate(); err != nil {
		return nil, err
	}

	var view *View
	err := s.withRetryOnCreate(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		target, err := s.loadOrCreate(ctx, repo, userIdentity)
		if err != nil {
			return err
		}

		source, err := repo.FindByIdentity(ctx, sessionIdentity, true)
		switch {
		case isNotFound(err):
			source = nil
		case err != nil:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load session cart")
		}

		if source != nil && !s.expired(source) {
			position := nextPosition(target.Items)
			for _, line := range source.Items {
				existing := findLine(target.Items, line.ProductID, line.VariantID)
				if existing != nil {
					existing.Quantity += line.Quantity
					if err := repo.UpdateItemQuantity(ctx, target.ID, existing.ID, existing.Quantity); err != nil {
						return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merge cart item")
					}
					continue
				}
				item := models.CartItem{
					CartID:    target.ID,
					ProductID: line.ProductID,
					VariantID: line.VariantID,
					Quantity:  line.Quantity,
					Position:  position,
					AddedAt:   line.AddedAt,
				}
				position++
				if err := repo.CreateItem(ctx, &item); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merge cart item")
				}
				target.Items = append(target.Items, item)
			}
		}
		if source != nil {
			if err := repo.Delete(ctx, source.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete session cart")
			}
		}

		view, err = s.recompute(ctx, tx, repo, target.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// DeleteExpired purges anonymous carts whose TTL has elapsed.
func (s *service) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	var deleted int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := s.repo.WithTx(tx).DeleteExpiredAnonymous(ctx, now, limit)
		deleted = n
		return err
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete expired carts")
	}
	return deleted, nil
}

// withRetryOnCreate reruns fn once when a concurrent request created the same
// identity's cart between our lookup and insert.
func (s *service) withRetryOnCreate(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.tx.WithTx(ctx, fn)
	if err != nil && db.IsUniqueViolation(err, "") {
		err = s.tx.WithTx(ctx, fn)
	}
	return err
}

func (s *service) loadOrCreate(ctx context.Context, repo CartRepository, identity Identity) (*models.Cart, error) {
	cart, err := repo.FindByIdentity(ctx, identity, true)
	switch {
	case err == nil && !s.expired(cart):
		return cart, nil
	case err == nil:
		if err := repo.Delete(ctx, cart.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete expired cart")
		}
	case !isNotFound(err):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	cart = &models.Cart{}
	if identity.Anonymous() {
		sessionID := identity.SessionID
		expiresAt := s.now().Add(s.anonTTL)
		cart.SessionID = &sessionID
		cart.ExpiresAt = &expiresAt
	} else {
		userID := *identity.UserID
		cart.UserID = &userID
	}
	if err := repo.Create(ctx, cart); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	return cart, nil
}

// loadExisting returns the live cart or NOT_FOUND; it never creates one.
func (s *service) loadExisting(ctx context.Context, repo CartRepository, identity Identity) (*models.Cart, error) {
	cart, err := repo.FindByIdentity(ctx, identity, true)
	if isNotFound(err) || (err == nil && s.expired(cart)) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return cart, nil
}

func (s *service) expired(cart *models.Cart) bool {
	return cart.IsAnonymous() && cart.ExpiresAt != nil && !cart.ExpiresAt.After(s.now())
}

func (s *service) ensurePurchasable(ctx context.Context, tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, qty int) error {
	products, err := s.catalog.WithTx(tx).GetProducts(ctx, []uuid.UUID{productID})
	if err != nil {
		return err
	}
	listing, ok := catalog.Resolve(products[productID], variantID)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if !listing.Purchasable(qty) {
		return pkgerrors.New(pkgerrors.CodeValidation, "product unavailable in requested quantity").
			WithDetails(map[string]any{
				"product_id": productID,
				"variant_id": variantID,
				"requested":  qty,
			})
	}
	return nil
}

// recompute reloads the cart and rewrites its cached totals from current
// catalog prices.
func (s *service) recompute(ctx context.Context, tx *gorm.DB, repo CartRepository, cartID uuid.UUID) (*View, error) {
	cart, err := repo.FindByID(ctx, cartID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
	}

	ids := make([]uuid.UUID, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.catalog.WithTx(tx).GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	view := buildView(cart, products)
	cart.SubtotalCents = view.SubtotalCents
	cart.TotalItemCount = view.TotalItemCount
	if err := repo.SaveTotals(ctx, cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart totals")
	}
	return view, nil
}

func findLine(items []models.CartItem, productID uuid.UUID, variantID *uuid.UUID) *models.CartItem {
	for i := range items {
		if items[i].ProductID == productID && sameVariant(items[i].VariantID, variantID) {
			return &items[i]
		}
	}
	return nil
}

func lineByID(items []models.CartItem, id uuid.UUID) *models.CartItem {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

func sameVariant(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func nextPosition(items []models.CartItem) int {
	next := 0
	for _, item := range items {
		if item.Position >= next {
			next = item.Position + 1
		}
	}
	return next
}
