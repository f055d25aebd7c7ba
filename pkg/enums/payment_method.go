package enums

// PaymentMethod identifies how an order is paid.
type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
)

// PaymentProvider names the gateway that owns the external transaction id.
type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
)
