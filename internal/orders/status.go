package orders

import (
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// DefaultReturnWindow is how long after delivery a return may be requested.
const DefaultReturnWindow = 30 * 24 * time.Hour

var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:    {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
	enums.OrderStatusConfirmed:  {enums.OrderStatusProcessing, enums.OrderStatusCancelled},
	enums.OrderStatusProcessing: {enums.OrderStatusShipped},
	enums.OrderStatusShipped:    {enums.OrderStatusDelivered},
	enums.OrderStatusDelivered:  {enums.OrderStatusReturned},
}

// CanTransition reports whether from -> to is an edge of the order lifecycle.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanCancel is true only before fulfilment starts.
func CanCancel(order *models.Order) bool {
	return order != nil &&
		(order.Status == enums.OrderStatusPending || order.Status == enums.OrderStatusConfirmed)
}

// CanReturn is true for a delivered order inside the return window that has
// not already had a return requested.
func CanReturn(order *models.Order, now time.Time, window time.Duration) bool {
	if order == nil || order.Status != enums.OrderStatusDelivered {
		return false
	}
	if order.DeliveredAt == nil || order.ReturnRequestedAt != nil {
		return false
	}
	return !now.After(order.DeliveredAt.Add(window))
}

// advance moves the in-memory order along one edge: it appends the tracking
// entry, stamps the derived timestamp on first entry into the status, and
// checks that the status matches the newest log entry.
func advance(order *models.Order, to enums.OrderStatus, message string, location *string, at time.Time) (*models.OrderTrackingEntry, error) {
	if !to.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", to))
	}
	if !CanTransition(order.Status, to) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition not allowed").
			WithDetails(map[string]any{"from": order.Status, "to": to})
	}

	entry := models.OrderTrackingEntry{
		OrderID:   order.ID,
		Seq:       nextSeq(order.Tracking),
		Status:    to,
		Message:   message,
		Location:  location,
		CreatedAt: at,
	}
	order.Tracking = append(order.Tracking, entry)
	order.Status = to
	stampOnce(order, to, at)

	if err := checkStatusMatchesLog(order); err != nil {
		return nil, err
	}
	return &order.Tracking[len(order.Tracking)-1], nil
}

func stampOnce(order *models.Order, status enums.OrderStatus, at time.Time) {
	set := func(field **time.Time) {
		if *field == nil {
			t := at
			*field = &t
		}
	}
	switch status {
	case enums.OrderStatusConfirmed:
		set(&order.ConfirmedAt)
	case enums.OrderStatusShipped:
		set(&order.ShippedAt)
	case enums.OrderStatusDelivered:
		set(&order.DeliveredAt)
	case enums.OrderStatusCancelled:
		set(&order.CancelledAt)
	case enums.OrderStatusReturned:
		set(&order.ReturnRequestedAt)
	}
}

func checkStatusMatchesLog(order *models.Order) error {
	if len(order.Tracking) == 0 {
		return pkgerrors.New(pkgerrors.CodeInternal, "order has no tracking entries")
	}
	last := order.Tracking[len(order.Tracking)-1]
	if last.Status != order.Status {
		return pkgerrors.New(pkgerrors.CodeInternal, "order status diverged from tracking log").
			WithDetails(map[string]any{"status": order.Status, "last_entry": last.Status})
	}
	return nil
}

func nextSeq(entries []models.OrderTrackingEntry) int {
	seq := 0
	for _, e := range entries {
		if e.Seq > seq {
			seq = e.Seq
		}
	}
	return seq + 1
}
