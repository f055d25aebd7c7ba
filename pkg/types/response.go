package types

// SuccessEnvelope wraps every 2xx body as {"data": ...}.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// ErrorBody is the client-facing part of a failed request. RequestID echoes
// X-Request-Id so a shopper's report can be matched to server logs.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}
