package bridge

import (
	"errors"
	"fmt"
)

// ErrVerificationRejected covers any verification-code failure surfaced to
// clients. The precise mismatch stays in the logs; callers only learn the
// payload was rejected.
var ErrVerificationRejected = errors.New("game data verification rejected")

// ValidationError reports a malformed request rejected before any state
// mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidField(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientBalanceError rejects an exchange request the balance cannot
// cover. Nothing is mutated.
type InsufficientBalanceError struct {
	Required int64
	Current  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d coins, have %d", e.Required, e.Current)
}

// ConflictError rejects a confirm/cancel against a missing, already-terminal,
// or parameter-mismatched record. The current balance rides along so the
// caller can reconcile.
type ConflictError struct {
	Reason string
	Coins  int64
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// WindowExpiredError rejects a cancel attempted past the refund window. The
// reservation stays in place.
type WindowExpiredError struct {
	Coins int64
}

func (e *WindowExpiredError) Error() string {
	return "cancellation window expired: reservation remains pending settlement"
}
