package orders

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func pendingOrder() *models.Order {
	id := uuid.New()
	return &models.Order{
		ID:     id,
		Status: enums.OrderStatusPending,
		Tracking: []models.OrderTrackingEntry{
			{OrderID: id, Seq: 1, Status: enums.OrderStatusPending, Message: "order placed"},
		},
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to enums.OrderStatus
		ok       bool
	}{
		{enums.OrderStatusPending, enums.OrderStatusConfirmed, true},
		{enums.OrderStatusPending, enums.OrderStatusCancelled, true},
		{enums.OrderStatusConfirmed, enums.OrderStatusProcessing, true},
		{enums.OrderStatusConfirmed, enums.OrderStatusCancelled, true},
		{enums.OrderStatusProcessing, enums.OrderStatusShipped, true},
		{enums.OrderStatusShipped, enums.OrderStatusDelivered, true},
		{enums.OrderStatusDelivered, enums.OrderStatusReturned, true},
		{enums.OrderStatusPending, enums.OrderStatusShipped, false},
		{enums.OrderStatusProcessing, enums.OrderStatusCancelled, false},
		{enums.OrderStatusCancelled, enums.OrderStatusPending, false},
		{enums.OrderStatusReturned, enums.OrderStatusDelivered, false},
		{enums.OrderStatusShipped, enums.OrderStatusShipped, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestAdvanceStampsTimestampsOnce(t *testing.T) {
	order := pendingOrder()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entry, err := advance(order, enums.OrderStatusConfirmed, "payment received", nil, t0)
	require.NoError(t, err)
	require.Equal(t, 2, entry.Seq)
	require.Equal(t, enums.OrderStatusConfirmed, order.Status)
	require.True(t, t0.Equal(*order.ConfirmedAt))

	hub := "Memphis hub"
	_, err = advance(order, enums.OrderStatusProcessing, "packing", nil, t0.Add(time.Hour))
	require.NoError(t, err)
	entry, err = advance(order, enums.OrderStatusShipped, "handed to carrier", &hub, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, &hub, entry.Location)
	require.True(t, t0.Add(2*time.Hour).Equal(*order.ShippedAt))
	require.True(t, t0.Equal(*order.ConfirmedAt), "confirmed_at is not overwritten")

	require.Len(t, order.Tracking, 4)
	require.Equal(t, order.Status, order.Tracking[len(order.Tracking)-1].Status)
}

func TestAdvanceRejectsInvalidEdges(t *testing.T) {
	order := pendingOrder()

	_, err := advance(order, enums.OrderStatusDelivered, "skip", nil, time.Now())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.Len(t, order.Tracking, 1)

	_, err = advance(order, enums.OrderStatus("lost"), "?", nil, time.Now())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCanCancel(t *testing.T) {
	for status, want := range map[enums.OrderStatus]bool{
		enums.OrderStatusPending:    true,
		enums.OrderStatusConfirmed:  true,
		enums.OrderStatusProcessing: false,
		enums.OrderStatusShipped:    false,
		enums.OrderStatusDelivered:  false,
		enums.OrderStatusCancelled:  false,
		enums.OrderStatusReturned:   false,
	} {
		require.Equal(t, want, CanCancel(&models.Order{Status: status}), status)
	}
	require.False(t, CanCancel(nil))
}

func TestCanReturnHonoursWindow(t *testing.T) {
	delivered := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	order := &models.Order{Status: enums.OrderStatusDelivered, DeliveredAt: &delivered}

	require.True(t, CanReturn(order, delivered.Add(10*24*time.Hour), DefaultReturnWindow))
	require.True(t, CanReturn(order, delivered.Add(DefaultReturnWindow), DefaultReturnWindow))
	require.False(t, CanReturn(order, delivered.Add(40*24*time.Hour), DefaultReturnWindow))

	requested := delivered.Add(time.Hour)
	order.ReturnRequestedAt = &requested
	require.False(t, CanReturn(order, delivered.Add(2*time.Hour), DefaultReturnWindow))

	require.False(t, CanReturn(&models.Order{Status: enums.OrderStatusShipped}, delivered, DefaultReturnWindow))
}
