package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/saga"
)

// Line is one cart line to hold stock for.
type Line struct {
	ProductID      uuid.UUID
	VariantID      *uuid.UUID
	Quantity       int
	TrackInventory bool
	AllowBackorder bool
}

// Reservation is a transient hold produced by Reserve. Quantity is what was
// actually taken from the ledger; a backordered line holds zero.
type Reservation struct {
	LineIndex   int
	Item        inventory.Item
	Quantity    int
	Backordered bool
}

// ShortLine describes the line that could not be reserved.
type ShortLine struct {
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Requested int        `json:"requested"`
}

type ledger interface {
	Decrement(ctx context.Context, item inventory.Item, qty int) error
	Increment(ctx context.Context, item inventory.Item, qty int) error
}

type compensationRecorder interface {
	AddCompensated(stage string, units int)
	IncCompensationFailure(stage string)
}

// Coordinator reserves stock for every line of a cart, all or nothing.
type Coordinator struct {
	ledger  ledger
	logg    *logger.Logger
	metrics compensationRecorder
}

// NewCoordinator builds a coordinator. metrics may be nil.
func NewCoordinator(ledger ledger, logg *logger.Logger, metrics compensationRecorder) (*Coordinator, error) {
	if ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Coordinator{ledger: ledger, logg: logg, metrics: metrics}, nil
}

// Reserve decrements the ledger for each tracked line. On the first line that
// cannot be satisfied, every decrement already made in this call is undone
// before the error is returned.
func (c *Coordinator) Reserve(ctx context.Context, lines []Line) ([]Reservation, error) {
	var (
		undo  saga.Compensations
		held  []Reservation
		units int
	)

	fail := func(err error) ([]Reservation, error) {
		c.unwind(ctx, &undo, units)
		return nil, err
	}

	for idx, line := range lines {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if line.Quantity <= 0 {
			return fail(pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
				WithDetails(map[string]any{"product_id": line.ProductID}))
		}
		if !line.TrackInventory {
			continue
		}

		item := inventory.Item{ProductID: line.ProductID, VariantID: line.VariantID}
		err := c.ledger.Decrement(ctx, item, line.Quantity)
		switch {
		case err == nil:
			qty := line.Quantity
			held = append(held, Reservation{LineIndex: idx, Item: item, Quantity: qty})
			units += qty
			undo.Push(item.String(), func(ctx context.Context) error {
				return c.ledger.Increment(ctx, item, qty)
			})
		case errors.Is(err, inventory.ErrInsufficient) && line.AllowBackorder:
			held = append(held, Reservation{LineIndex: idx, Item: item, Backordered: true})
		case errors.Is(err, inventory.ErrInsufficient), errors.Is(err, inventory.ErrUnknownItem):
			return fail(pkgerrors.Wrap(pkgerrors.CodeInsufficientInventory, err, "insufficient inventory").
				WithDetails(ShortLine{ProductID: line.ProductID, VariantID: line.VariantID, Requested: line.Quantity}))
		default:
			return fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve inventory"))
		}
	}

	undo.Discard()
	return held, nil
}

// FromLineItems rebuilds the holds recorded on an order so they can be
// restored after cancellation.
func FromLineItems(items []models.OrderLineItem) []Reservation {
	out := make([]Reservation, 0, len(items))
	for idx, item := range items {
		if item.ReservedQty <= 0 && !item.Backordered {
			continue
		}
		out = append(out, Reservation{
			LineIndex:   idx,
			Item:        inventory.Item{ProductID: item.ProductID, VariantID: item.VariantID},
			Quantity:    item.ReservedQty,
			Backordered: item.Backordered,
		})
	}
	return out
}

// Release returns every held quantity to the ledger. Failures are logged and
// counted but never returned; the caller has nothing left to undo.
func (c *Coordinator) Release(ctx context.Context, reservations []Reservation) {
	c.restore(ctx, reservations, metrics.StageRelease)
}

// Restore is Release for a named compensation stage, e.g. order cancellation.
func (c *Coordinator) Restore(ctx context.Context, reservations []Reservation, stage string) {
	c.restore(ctx, reservations, stage)
}

func (c *Coordinator) restore(ctx context.Context, reservations []Reservation, stage string) {
	ctx = context.WithoutCancel(ctx)
	restored := 0
	for _, r := range reservations {
		if r.Quantity <= 0 {
			continue
		}
		if err := c.ledger.Increment(ctx, r.Item, r.Quantity); err != nil {
			c.recordFailure(stage)
			c.logg.Error(c.logg.WithFields(ctx, map[string]any{
				"stage":    stage,
				"item":     r.Item.String(),
				"quantity": r.Quantity,
			}), "inventory release failed; ledger needs reconciliation", err)
			continue
		}
		restored += r.Quantity
	}
	c.recordCompensated(stage, restored)
}

func (c *Coordinator) unwind(ctx context.Context, undo *saga.Compensations, units int) {
	if undo.Len() == 0 {
		return
	}
	if err := undo.Unwind(context.WithoutCancel(ctx)); err != nil {
		c.recordFailure(metrics.StageReserveUnwind)
		c.logg.Error(c.logg.WithField(ctx, "stage", metrics.StageReserveUnwind), "reservation compensation incomplete; ledger needs reconciliation", err)
		return
	}
	c.recordCompensated(metrics.StageReserveUnwind, units)
}

func (c *Coordinator) recordCompensated(stage string, units int) {
	if c.metrics != nil {
		c.metrics.AddCompensated(stage, units)
	}
}

func (c *Coordinator) recordFailure(stage string) {
	if c.metrics != nil {
		c.metrics.IncCompensationFailure(stage)
	}
}
