// Package apperr defines the error taxonomy shared by the order, payment and
// catalog services. Handlers translate a Kind into a transport status.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindForbidden         Kind = "FORBIDDEN"
	KindInvalidRequest    Kind = "INVALID_REQUEST"
	KindNotFound          Kind = "NOT_FOUND"
	KindInsufficientStock Kind = "INSUFFICIENT_STOCK"
	KindAlreadyPaid       Kind = "ALREADY_PAID"
	KindAmountMismatch    Kind = "AMOUNT_MISMATCH"
	KindInvalidState      Kind = "INVALID_STATE"
	KindGatewayRejected   Kind = "GATEWAY_REJECTED"
	KindInternal          Kind = "INTERNAL"
)

// Error is a classified failure whose Message is safe to show to the caller.
type Error struct {
	Kind    Kind           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized() *Error {
	return New(KindUnauthorized, "authentication required")
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

func InvalidRequest(format string, args ...any) *Error {
	return New(KindInvalidRequest, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func InsufficientStock(productID fmt.Stringer, name string, requested, available int) *Error {
	return New(KindInsufficientStock, "insufficient stock for %s", name).
		With("product_id", productID.String()).
		With("requested", requested).
		With("available", available)
}

func AlreadyPaid() *Error {
	return New(KindAlreadyPaid, "order is already paid")
}

func AmountMismatch() *Error {
	return New(KindAmountMismatch, "amount mismatch")
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

func GatewayRejected(message string) *Error {
	return New(KindGatewayRejected, "%s", message)
}

// Internal wraps an unexpected fault. The cause is kept for logging only.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", cause: cause}
}

// KindOf classifies err. Unclassified errors are internal faults.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns err as an *Error, wrapping unclassified errors as internal faults.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
