package enums

// OutboxAggregateType names the entity an outbox event describes. Orders are
// the only aggregate the checkout pipeline emits for.
type OutboxAggregateType string

const AggregateOrder OutboxAggregateType = "order"

func (a OutboxAggregateType) IsValid() bool { return a == AggregateOrder }

// OutboxEventType names an event written to the outbox. The value is also
// the event_type attribute subscribers filter on.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderStatusChanged OutboxEventType = "order_status_changed"
	EventPaymentSucceeded   OutboxEventType = "payment_succeeded"
	EventPaymentFailed      OutboxEventType = "payment_failed"
	EventOrderRefunded      OutboxEventType = "order_refunded"
)

var outboxEventTypes = newValueSet("outbox event type",
	EventOrderCreated,
	EventOrderStatusChanged,
	EventPaymentSucceeded,
	EventPaymentFailed,
	EventOrderRefunded,
)

func (e OutboxEventType) IsValid() bool { return outboxEventTypes.has(e) }

// DeadLetterReason records why the relay parked an outbox row.
type DeadLetterReason string

const (
	// DeadLetterMaxAttempts marks rows that kept failing transiently.
	DeadLetterMaxAttempts DeadLetterReason = "max_attempts"
	// DeadLetterMalformed marks rows whose envelope or payload cannot be decoded.
	DeadLetterMalformed  DeadLetterReason = "malformed"
	DeadLetterUnroutable DeadLetterReason = "unroutable"
)

var deadLetterReasons = newValueSet("dead letter reason",
	DeadLetterMaxAttempts,
	DeadLetterMalformed,
	DeadLetterUnroutable,
)

func (r DeadLetterReason) IsValid() bool { return deadLetterReasons.has(r) }
