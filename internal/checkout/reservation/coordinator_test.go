package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

func newCoordinator(t *testing.T, l ledger) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(l, logger.Nop(), nil)
	require.NoError(t, err)
	return c
}

func seed(t *testing.T, db *gorm.DB, inventory int, backorder bool) models.Product {
	t.Helper()
	p := models.Product{
		SKU: "SKU-" + uuid.NewString()[:8], Name: "Item", PriceCents: 500,
		IsActive: true, IsVisible: true, TrackInventory: true, AllowBackorder: backorder, Inventory: inventory,
	}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func stock(t *testing.T, db *gorm.DB, id uuid.UUID) int {
	t.Helper()
	qty, err := inventory.NewLedger(db).Available(context.Background(), inventory.Item{ProductID: id})
	require.NoError(t, err)
	return qty
}

func line(p models.Product, qty int) Line {
	return Line{ProductID: p.ID, Quantity: qty, TrackInventory: p.TrackInventory, AllowBackorder: p.AllowBackorder}
}

func TestReserveAllLines(t *testing.T) {
	db := dbtest.Open(t, &models.Product{}, &models.ProductVariant{})
	c := newCoordinator(t, inventory.NewLedger(db))
	a := seed(t, db, 5, false)
	b := seed(t, db, 3, false)

	held, err := c.Reserve(context.Background(), []Line{line(a, 2), line(b, 3)})
	require.NoError(t, err)
	require.Len(t, held, 2)
	require.Equal(t, 3, stock(t, db, a.ID))
	require.Equal(t, 0, stock(t, db, b.ID))

	c.Release(context.Background(), held)
	require.Equal(t, 5, stock(t, db, a.ID))
	require.Equal(t, 3, stock(t, db, b.ID))
}

func TestReserveFailureOnLaterLineCompensatesEarlierLines(t *testing.T) {
	db := dbtest.Open(t, &models.Product{}, &models.ProductVariant{})
	c := newCoordinator(t, inventory.NewLedger(db))
	a := seed(t, db, 5, false)
	b := seed(t, db, 4, false)
	short := seed(t, db, 1, false)
	d := seed(t, db, 2, false)

	held, err := c.Reserve(context.Background(), []Line{line(a, 2), line(b, 4), line(short, 2), line(d, 1)})
	require.Nil(t, held)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientInventory), "got %v", err)
	details, ok := pkgerrors.As(err).Details().(ShortLine)
	require.True(t, ok)
	require.Equal(t, short.ID, details.ProductID)
	require.Equal(t, 2, details.Requested)

	require.Equal(t, 5, stock(t, db, a.ID))
	require.Equal(t, 4, stock(t, db, b.ID))
	require.Equal(t, 1, stock(t, db, short.ID))
	require.Equal(t, 2, stock(t, db, d.ID))
}

func TestReserveSkipsUntrackedAndHoldsNothingForBackorder(t *testing.T) {
	db := dbtest.Open(t, &models.Product{}, &models.ProductVariant{})
	c := newCoordinator(t, inventory.NewLedger(db))
	untracked := seed(t, db, 0, false)
	backorder := seed(t, db, 1, true)
	normal := seed(t, db, 2, false)

	held, err := c.Reserve(context.Background(), []Line{
		{ProductID: untracked.ID, Quantity: 10, TrackInventory: false},
		line(backorder, 3),
		line(normal, 2),
	})
	require.NoError(t, err)
	require.Len(t, held, 2)
	require.True(t, held[0].Backordered)
	require.Equal(t, 0, held[0].Quantity)
	require.Equal(t, 1, held[0].LineIndex)
	require.Equal(t, 2, held[1].Quantity)

	require.Equal(t, 0, stock(t, db, untracked.ID))
	require.Equal(t, 1, stock(t, db, backorder.ID))
	require.Equal(t, 0, stock(t, db, normal.ID))
}

func TestReserveRejectsNonPositiveQuantityAfterCompensating(t *testing.T) {
	db := dbtest.Open(t, &models.Product{}, &models.ProductVariant{})
	c := newCoordinator(t, inventory.NewLedger(db))
	a := seed(t, db, 5, false)

	_, err := c.Reserve(context.Background(), []Line{line(a, 1), line(a, 0)})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	require.Equal(t, 5, stock(t, db, a.ID))
}

func TestReserveCancelledContextCompensates(t *testing.T) {
	db := dbtest.Open(t, &models.Product{}, &models.ProductVariant{})
	a := seed(t, db, 5, false)
	b := seed(t, db, 5, false)

	ctx, cancel := context.WithCancel(context.Background())
	l := &cancelAfterFirst{ledger: inventory.NewLedger(db), cancel: cancel}
	c := newCoordinator(t, l)

	_, err := c.Reserve(ctx, []Line{line(a, 2), line(b, 2)})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 5, stock(t, db, a.ID))
	require.Equal(t, 5, stock(t, db, b.ID))
}

func TestConcurrentReservationsForLastUnit(t *testing.T) {
	db := dbtest.Open(t, &models.Product{}, &models.ProductVariant{})
	c := newCoordinator(t, inventory.NewLedger(db))
	p := seed(t, db, 1, false)

	const attempts = 16
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := c.Reserve(context.Background(), []Line{line(p, 1)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientInventory) {
				insufficient++
				return
			}
			t.Errorf("unexpected error: %v", err)
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, attempts-1, insufficient)
	require.Equal(t, 0, stock(t, db, p.ID))
}

func TestReleaseSwallowsLedgerFailures(t *testing.T) {
	l := &flakyLedger{failIncrement: true}
	rec := &recorder{}
	c, err := NewCoordinator(l, logger.Nop(), rec)
	require.NoError(t, err)

	c.Release(context.Background(), []Reservation{
		{Item: inventory.Item{ProductID: uuid.New()}, Quantity: 2},
		{Item: inventory.Item{ProductID: uuid.New()}, Quantity: 0, Backordered: true},
	})
	require.Equal(t, 1, l.increments)
	require.Equal(t, 1, rec.failures)
	require.Equal(t, 0, rec.units)
}

func TestUnwindFailureIsSwallowedAndReported(t *testing.T) {
	l := &flakyLedger{failIncrement: true, failDecrementAt: 2}
	rec := &recorder{}
	c, err := NewCoordinator(l, logger.Nop(), rec)
	require.NoError(t, err)

	_, err = c.Reserve(context.Background(), []Line{
		{ProductID: uuid.New(), Quantity: 1, TrackInventory: true},
		{ProductID: uuid.New(), Quantity: 1, TrackInventory: true},
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientInventory))
	require.Equal(t, 1, rec.failures)
}

type cancelAfterFirst struct {
	ledger *inventory.Ledger
	cancel context.CancelFunc
	calls  int
}

func (c *cancelAfterFirst) Decrement(ctx context.Context, item inventory.Item, qty int) error {
	c.calls++
	err := c.ledger.Decrement(ctx, item, qty)
	if c.calls == 1 {
		c.cancel()
	}
	return err
}

func (c *cancelAfterFirst) Increment(ctx context.Context, item inventory.Item, qty int) error {
	return c.ledger.Increment(ctx, item, qty)
}

type flakyLedger struct {
	failIncrement   bool
	failDecrementAt int
	decrements      int
	increments      int
}

func (f *flakyLedger) Decrement(context.Context, inventory.Item, int) error {
	f.decrements++
	if f.failDecrementAt > 0 && f.decrements >= f.failDecrementAt {
		return inventory.ErrInsufficient
	}
	return nil
}

func (f *flakyLedger) Increment(context.Context, inventory.Item, int) error {
	f.increments++
	if f.failIncrement {
		return errors.New("connection reset")
	}
	return nil
}

type recorder struct {
	units    int
	failures int
}

func (r *recorder) AddCompensated(_ string, units int) { r.units += units }
func (r *recorder) IncCompensationFailure(string)      { r.failures++ }

func TestFromLineItemsRestoresHeldQuantities(t *testing.T) {
	db := dbtest.Open(t, &models.Product{}, &models.ProductVariant{})
	c := newCoordinator(t, inventory.NewLedger(db))
	a := seed(t, db, 5, false)
	b := seed(t, db, 0, true)

	held, err := c.Reserve(context.Background(), []Line{line(a, 2), line(b, 3)})
	require.NoError(t, err)
	require.Equal(t, 3, stock(t, db, a.ID))

	items := []models.OrderLineItem{
		{ProductID: a.ID, Quantity: 2, ReservedQty: held[0].Quantity},
		{ProductID: b.ID, Quantity: 3, Backordered: held[1].Backordered},
		{ProductID: uuid.New(), Quantity: 1},
	}
	restored := FromLineItems(items)
	require.Len(t, restored, 2)
	require.True(t, restored[1].Backordered)

	c.Restore(context.Background(), restored, "cancel")
	require.Equal(t, 5, stock(t, db, a.ID))
	require.Equal(t, 0, stock(t, db, b.ID))
}
