package tracker

import (
	"errors"
	"fmt"
)

// ErrorKind classifies item-level failures. Kinds are stable identifiers
// exposed through the API, so they must not be renamed casually.
type ErrorKind string

// Failure kinds.
const (
	// ErrKindValidation marks a bad or unsupported URL that never entered
	// the worker pool.
	ErrKindValidation ErrorKind = "validation_error"
	// ErrKindUnsupportedRetailer means no registered connector matched the
	// URL. Permanent.
	ErrKindUnsupportedRetailer ErrorKind = "unsupported_retailer"
	// ErrKindRateLimitTimeout means the per-retailer slot could not be
	// acquired within the bounded wait. Transient.
	ErrKindRateLimitTimeout ErrorKind = "rate_limit_timeout"
	// ErrKindNetwork covers timeouts, connection resets and 5xx responses.
	// Transient.
	ErrKindNetwork ErrorKind = "network_error"
	// ErrKindParse means the page fetched but its shape did not match the
	// connector's expectations. Permanent by default; a site redesign needs
	// human attention, not blind retries.
	ErrKindParse ErrorKind = "parse_error"
	// ErrKindNotFound means the product page returned 404 or an explicit
	// removed-listing marker. Permanent.
	ErrKindNotFound ErrorKind = "not_found"
	// ErrKindRetryBudgetExhausted wraps the last transient error once the
	// attempt budget is spent. Terminal.
	ErrKindRetryBudgetExhausted ErrorKind = "retry_budget_exhausted"
)

// Error is the typed failure carried between the executor and its
// collaborators. It always has a kind; the cause is optional.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// NewError builds an Error of the given kind wrapping an optional cause.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Errorf builds an Error with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err, or empty string when err carries
// no tracker.Error in its chain.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// ItemErrorOf converts err into the persisted item error form.
func ItemErrorOf(err error) *ItemError {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return &ItemError{Kind: te.Kind, Message: te.Error()}
	}
	return &ItemError{Kind: ErrKindNetwork, Message: err.Error()}
}
