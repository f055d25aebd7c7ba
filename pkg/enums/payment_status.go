package enums

// PaymentStatus tracks the order's payment sub-record. Only pending may move;
// every other value is final as far as reconciliation is concerned, and only
// the refund path moves completed on to refunded.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

var paymentStatuses = newValueSet("payment status",
	PaymentStatusPending,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusRefunded,
)

func (p PaymentStatus) String() string { return string(p) }

func (p PaymentStatus) IsValid() bool { return paymentStatuses.has(p) }

func (p PaymentStatus) IsTerminal() bool {
	return p.IsValid() && p != PaymentStatusPending
}
