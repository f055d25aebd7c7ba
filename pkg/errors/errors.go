// Package errors defines the coded error type shared by services and the
// HTTP layer. A Code decides the response status, whether the caller may
// retry and how much of the error reaches the client.
package errors

import (
	stdErrors "errors"
	"net/http"
	"strings"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeCartEmpty     Code = "CART_EMPTY"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"

	// CodeInsufficientInventory is returned when a reservation cannot be
	// satisfied. Any partial reservation has been compensated by then.
	CodeInsufficientInventory Code = "INSUFFICIENT_INVENTORY"
	// CodePersistence marks a write that failed after inventory was reserved.
	CodePersistence Code = "PERSISTENCE_ERROR"
	// CodePaymentGateway marks a failed call to the payment processor.
	CodePaymentGateway Code = "PAYMENT_GATEWAY_ERROR"

	CodeInternal   Code = "INTERNAL_ERROR"
	CodeDependency Code = "DEPENDENCY_ERROR"
)

// Metadata is the client-facing treatment of a Code.
type Metadata struct {
	HTTPStatus    int
	Retryable     bool
	PublicMessage string
	// ExposeMessage lets the error's own message replace PublicMessage.
	ExposeMessage  bool
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	// Client errors: the message was written for the caller.
	CodeValidation:    {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", ExposeMessage: true, DetailsAllowed: true},
	CodeCartEmpty:     {HTTPStatus: http.StatusBadRequest, PublicMessage: "cart is empty"},
	CodeUnauthorized:  {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", ExposeMessage: true},
	CodeForbidden:     {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied", ExposeMessage: true},
	CodeNotFound:      {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", ExposeMessage: true},
	CodeConflict:      {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected", ExposeMessage: true},
	CodeStateConflict: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", ExposeMessage: true, DetailsAllowed: true},
	CodeIdempotency:   {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", ExposeMessage: true, DetailsAllowed: true},
	CodeRateLimit:     {HTTPStatus: http.StatusTooManyRequests, Retryable: true, PublicMessage: "rate limit exceeded", ExposeMessage: true},

	CodeInsufficientInventory: {HTTPStatus: http.StatusBadRequest, Retryable: true, PublicMessage: "insufficient inventory", DetailsAllowed: true},

	// Server errors keep their internal message out of the response.
	CodePersistence:    {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "order could not be saved"},
	CodePaymentGateway: {HTTPStatus: http.StatusBadGateway, Retryable: true, PublicMessage: "payment provider unavailable", DetailsAllowed: true},
	CodeInternal:       {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
	CodeDependency:     {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	meta, ok := metadataByCode[code]
	if !ok {
		return metadataByCode[CodeInternal]
	}
	return meta
}

// Error is a coded error with optional client-safe details and a cause.
// The nil *Error reads as an internal error with no message.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// WithDetails sets details in place and returns the receiver for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Error renders "CODE: message: cause", dropping empty parts.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	parts := []string{string(e.code)}
	if e.message != "" {
		parts = append(parts, e.message)
	}
	if e.cause != nil {
		parts = append(parts, e.cause.Error())
	}
	return strings.Join(parts, ": ")
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err == nil || !stdErrors.As(err, &typed) {
		return nil
	}
	return typed
}

// IsCode reports whether the outermost *Error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Retryable reports whether the client may retry the failed call as-is.
func Retryable(err error) bool {
	typed := As(err)
	return typed != nil && MetadataFor(typed.code).Retryable
}
