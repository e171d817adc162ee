package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure on a mutating path. The kind decides both
// the HTTP response and whether any state may have changed: Authentication,
// Validation and Invariant errors never mutate state; ProviderTransient asks
// the caller (webhook sender or next sweep run) to retry; ProviderTerminal is
// safe to finalize locally.
type ErrorKind int

const (
	KindAuthentication ErrorKind = iota
	KindValidation
	KindProviderTransient
	KindProviderTerminal
	KindInvariant
)

type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrPaymentNotFound: a valid request referenced a payment this system has
// never seen. Rejected with zero mutation.
var ErrPaymentNotFound = NewError(KindValidation, "payment not found")

func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from err, defaulting to ProviderTransient so that
// unclassified failures are retried rather than finalized.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindProviderTransient
}

// HTTPStatus maps an error kind to the response code webhooks and handlers
// return. ProviderTransient maps to 502 so webhook senders redeliver.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindValidation:
		if errors.Is(err, ErrPaymentNotFound) {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case KindInvariant:
		return http.StatusConflict
	case KindProviderTerminal:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
