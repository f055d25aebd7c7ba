package enums

// OrderStatus is the fulfillment state of an order. The current value always
// mirrors the newest entry of the order's tracking log.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

var orderStatuses = newValueSet("order status",
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
)

func (s OrderStatus) String() string { return string(s) }

func (s OrderStatus) IsValid() bool { return orderStatuses.has(s) }

// IsTerminal reports whether no further transitions can leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

// ParseOrderStatus converts admin input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	return orderStatuses.parse(value)
}
