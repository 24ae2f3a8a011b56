// Package errors defines the exchange engine's error taxonomy. Domain errors
// are expected outcomes the caller translates into user-facing messaging;
// CodeInternal marks storage or consistency failures whose compensating
// action already ran or must be retried.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies a class of engine failure.
type Code string

const (
	CodeInvalidAmount     Code = "invalid_amount"
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeItemUnavailable   Code = "item_unavailable"
	CodeConflict          Code = "conflict"
	CodeDuplicateRequest  Code = "duplicate_request"
	CodeSelfSwap          Code = "self_swap"
	CodeNotAuthorized     Code = "not_authorized"
	CodeInvalidTransition Code = "invalid_transition"
	CodeNotFound          Code = "not_found"
	CodeInternal          Code = "internal"
)

// Error is a coded engine error.
type Error struct {
	Code    Code
	Message string
	Err     error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so sentinel instances work
// with the standard errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if stderrors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// WithDetails returns a copy of the error with an extra detail attached.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	clone := *e
	clone.Details = details
	return &clone
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// InvalidAmount reports a zero or negative points amount.
func InvalidAmount(message string) *Error { return newError(CodeInvalidAmount, message) }

// InsufficientFunds reports a debit larger than the current balance.
func InsufficientFunds(message string) *Error { return newError(CodeInsufficientFunds, message) }

// ItemUnavailable reports an item that is not in the required availability state.
func ItemUnavailable(message string) *Error { return newError(CodeItemUnavailable, message) }

// Conflict reports losing a first-writer-wins race. It is a normal outcome,
// not a bug.
func Conflict(message string) *Error { return newError(CodeConflict, message) }

// DuplicateRequest reports a second active swap request for the same
// (requester, owner item) pair.
func DuplicateRequest(message string) *Error { return newError(CodeDuplicateRequest, message) }

// SelfSwap reports an attempt to acquire one's own item.
func SelfSwap(message string) *Error { return newError(CodeSelfSwap, message) }

// NotAuthorized reports an actor acting on a swap they are not a party to.
func NotAuthorized(message string) *Error { return newError(CodeNotAuthorized, message) }

// InvalidTransition reports a lifecycle operation against the wrong current
// status.
func InvalidTransition(message string) *Error { return newError(CodeInvalidTransition, message) }

// NotFound reports a missing user, item or swap record.
func NotFound(message string) *Error { return newError(CodeNotFound, message) }

// Internal wraps a storage or consistency failure.
func Internal(message string, err error) *Error {
	return &Error{Code: CodeInternal, Message: message, Err: err}
}

// GetCode extracts the code from an error chain, or CodeInternal when the
// error is not a coded engine error.
func GetCode(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}
