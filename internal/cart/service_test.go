package cart

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type fixture struct {
	db  *gorm.DB
	svc *service
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t,
		&models.Product{}, &models.ProductVariant{},
		&models.Cart{}, &models.CartItem{},
	)
	svc, err := NewService(NewRepository(conn), db.NewFromConn(conn), catalog.NewRepository(conn), 7*24*time.Hour)
	require.NoError(t, err)

	f := &fixture{db: conn, svc: svc.(*service), now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) product(t *testing.T, price int64, inventory int, mutate ...func(*models.Product)) models.Product {
	t.Helper()
	p := models.Product{
		SKU:            "SKU-" + uuid.NewString()[:8],
		Name:           "Lamp",
		PriceCents:     price,
		IsActive:       true,
		IsVisible:      true,
		TrackInventory: true,
		Inventory:      inventory,
	}
	for _, fn := range mutate {
		fn(&p)
	}
	require.NoError(t, f.db.Create(&p).Error)
	return p
}

func TestGetCreatesCartLazilyPerIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Get(ctx, ForSession("sess-1"))
	require.NoError(t, err)
	require.True(t, first.IsEmpty())
	require.NotNil(t, first.ExpiresAt)
	require.True(t, f.now.Add(7*24*time.Hour).Equal(*first.ExpiresAt))

	again, err := f.svc.Get(ctx, ForSession("sess-1"))
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	user, err := f.svc.Get(ctx, ForUser(uuid.New()))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, user.ID)
	require.Nil(t, user.ExpiresAt)
}

func TestIdentityMustBeExactlyOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, Identity{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	userID := uuid.New()
	_, err = f.svc.Get(ctx, Identity{UserID: &userID, SessionID: "sess"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestMutationsKeepTotalsConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := ForSession("sess-totals")
	lamp := f.product(t, 1500, 10)
	rug := f.product(t, 4000, 10)

	view, err := f.svc.AddItem(ctx, id, AddItemInput{ProductID: lamp.ID, Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, int64(3000), view.SubtotalCents)
	require.Equal(t, 2, view.TotalItemCount)

	view, err = f.svc.AddItem(ctx, id, AddItemInput{ProductID: rug.ID, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, int64(7000), view.SubtotalCents)
	require.Len(t, view.Items, 2)

	view, err = f.svc.AddItem(ctx, id, AddItemInput{ProductID: lamp.ID, Quantity: 1})
	require.NoError(t, err)
	require.Len(t, view.Items, 2, "same product merges into one line")
	require.Equal(t, 3, view.Items[0].Quantity)
	require.Equal(t, int64(8500), view.SubtotalCents)

	view, err = f.svc.UpdateItem(ctx, id, view.Items[1].ID, 3)
	require.NoError(t, err)
	require.Equal(t, int64(4500+12000), view.SubtotalCents)
	require.Equal(t, 6, view.TotalItemCount)

	view, err = f.svc.RemoveItem(ctx, id, view.Items[0].ID)
	require.NoError(t, err)
	require.Equal(t, int64(12000), view.SubtotalCents)
	require.Equal(t, 3, view.TotalItemCount)

	var stored models.Cart
	require.NoError(t, f.db.First(&stored, "id = ?", view.ID).Error)
	require.Equal(t, view.SubtotalCents, stored.SubtotalCents)
	require.Equal(t, view.TotalItemCount, stored.TotalItemCount)

	view, err = f.svc.Clear(ctx, id)
	require.NoError(t, err)
	require.True(t, view.IsEmpty())
	require.Zero(t, view.SubtotalCents)
}

func TestTotalsFollowCurrentPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := ForUser(uuid.New())
	lamp := f.product(t, 1000, 10)

	_, err := f.svc.AddItem(ctx, id, AddItemInput{ProductID: lamp.ID, Quantity: 2})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.Product{}).Where("id = ?", lamp.ID).Update("price_cents", 1250).Error)

	view, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(2500), view.SubtotalCents)
}

func TestAddItemRejectsUnavailableProducts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := ForSession("sess-unavailable")

	hidden := f.product(t, 1000, 10, func(p *models.Product) { p.IsVisible = false })
	_, err := f.svc.AddItem(ctx, id, AddItemInput{ProductID: hidden.ID, Quantity: 1})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	scarce := f.product(t, 1000, 1)
	_, err = f.svc.AddItem(ctx, id, AddItemInput{ProductID: scarce.ID, Quantity: 2})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	backorder := f.product(t, 1000, 0, func(p *models.Product) { p.AllowBackorder = true })
	_, err = f.svc.AddItem(ctx, id, AddItemInput{ProductID: backorder.ID, Quantity: 4})
	require.NoError(t, err)

	_, err = f.svc.AddItem(ctx, id, AddItemInput{ProductID: uuid.New(), Quantity: 1})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.AddItem(ctx, id, AddItemInput{ProductID: scarce.ID, Quantity: 0})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestVariantLinesAreDistinct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := ForSession("sess-variants")
	variantPrice := int64(2500)
	shirt := f.product(t, 2000, 0, func(p *models.Product) {
		p.Variants = []models.ProductVariant{
			{SKU: "SHIRT-S-" + uuid.NewString()[:6], Name: "Small", IsActive: true, Inventory: 5},
			{SKU: "SHIRT-L-" + uuid.NewString()[:6], Name: "Large", IsActive: true, Inventory: 5, PriceCents: &variantPrice},
		}
	})

	small, large := shirt.Variants[0].ID, shirt.Variants[1].ID
	_, err := f.svc.AddItem(ctx, id, AddItemInput{ProductID: shirt.ID, VariantID: &small, Quantity: 1})
	require.NoError(t, err)
	view, err := f.svc.AddItem(ctx, id, AddItemInput{ProductID: shirt.ID, VariantID: &large, Quantity: 2})
	require.NoError(t, err)

	require.Len(t, view.Items, 2)
	require.Equal(t, "Lamp - Large", view.Items[1].Name)
	require.Equal(t, int64(2000+5000), view.SubtotalCents)
}

func TestUnavailableLinePricesAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := ForSession("sess-retired")
	lamp := f.product(t, 1000, 10)

	_, err := f.svc.AddItem(ctx, id, AddItemInput{ProductID: lamp.ID, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.Product{}).Where("id = ?", lamp.ID).Update("is_active", false).Error)

	view, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, view.Items[0].Available)
	require.Zero(t, view.SubtotalCents)
	require.Equal(t, 1, view.TotalItemCount)
}

func TestExpiredAnonymousCartIsReplaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := ForSession("sess-old")
	lamp := f.product(t, 1000, 10)

	old, err := f.svc.AddItem(ctx, id, AddItemInput{ProductID: lamp.ID, Quantity: 1})
	require.NoError(t, err)

	f.now = f.now.Add(8 * 24 * time.Hour)
	fresh, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	require.NotEqual(t, old.ID, fresh.ID)
	require.True(t, fresh.IsEmpty())
}

func TestMergeFoldsSessionCartIntoUserCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	lamp := f.product(t, 1000, 20)
	rug := f.product(t, 3000, 20)

	_, err := f.svc.AddItem(ctx, ForUser(userID), AddItemInput{ProductID: lamp.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, ForSession("sess-merge"), AddItemInput{ProductID: lamp.ID, Quantity: 2})
	require.NoError(t, err)
	anon, err := f.svc.AddItem(ctx, ForSession("sess-merge"), AddItemInput{ProductID: rug.ID, Quantity: 1})
	require.NoError(t, err)

	merged, err := f.svc.Merge(ctx, userID, "sess-merge")
	require.NoError(t, err)
	require.Len(t, merged.Items, 2)
	require.Equal(t, 3, merged.Items[0].Quantity)
	require.Equal(t, int64(3000+3000), merged.SubtotalCents)
	require.Equal(t, 4, merged.TotalItemCount)

	var count int64
	require.NoError(t, f.db.Model(&models.Cart{}).Where("id = ?", anon.ID).Count(&count).Error)
	require.Zero(t, count, "session cart deleted after merge")
}

func TestDeleteExpiredRemovesOnlyStaleAnonymousCarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lamp := f.product(t, 1000, 10)

	_, err := f.svc.AddItem(ctx, ForSession("sess-stale"), AddItemInput{ProductID: lamp.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, ForUser(uuid.New()))
	require.NoError(t, err)

	f.now = f.now.Add(24 * time.Hour)
	_, err = f.svc.Get(ctx, ForSession("sess-fresh"))
	require.NoError(t, err)

	deleted, err := f.svc.DeleteExpired(ctx, f.now.Add(6*24*time.Hour+time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, f.db.Model(&models.Cart{}).Count(&remaining).Error)
	require.Equal(t, int64(2), remaining)
	require.NoError(t, f.db.Model(&models.CartItem{}).Count(&remaining).Error)
	require.Zero(t, remaining)
}
