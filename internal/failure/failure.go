// Package failure defines the typed rejection reasons a payment or an
// enrollment can end with. Every reason pairs a stable machine code with a
// human-readable message; no message ever carries key material.
package failure

import (
	"errors"
	"fmt"
)

// Reason is the stable machine-readable failure code surfaced to callers.
type Reason string

const (
	InvalidCapture    Reason = "invalid_capture"
	KeyMismatch       Reason = "key_mismatch"
	InvalidAmount     Reason = "invalid_amount"
	LimitExceeded     Reason = "limit_exceeded"
	UnknownMerchant   Reason = "unknown_merchant"
	UserNotEnrolled   Reason = "user_not_enrolled"
	NodeUnreachable   Reason = "node_unreachable"
	NodeTimeout       Reason = "node_timeout"
	BroadcastRejected Reason = "broadcast_rejected"
	AlreadyEnrolled   Reason = "already_enrolled"
	// Internal covers anything outside the taxonomy (storage outages and the like).
	Internal Reason = "internal"
)

var (
	ErrInvalidCapture    = &Error{Reason: InvalidCapture}
	ErrKeyMismatch       = &Error{Reason: KeyMismatch}
	ErrInvalidAmount     = &Error{Reason: InvalidAmount}
	ErrLimitExceeded     = &Error{Reason: LimitExceeded}
	ErrUnknownMerchant   = &Error{Reason: UnknownMerchant}
	ErrUserNotEnrolled   = &Error{Reason: UserNotEnrolled}
	ErrNodeUnreachable   = &Error{Reason: NodeUnreachable}
	ErrNodeTimeout       = &Error{Reason: NodeTimeout}
	ErrBroadcastRejected = &Error{Reason: BroadcastRejected}
	ErrAlreadyEnrolled   = &Error{Reason: AlreadyEnrolled}
)

// Error is a typed failure. Two errors match under errors.Is when their
// reasons are equal, so callers can compare against the sentinels above.
type Error struct {
	Reason  Reason
	Message string
	Err     error
}

// New builds an Error with a formatted message.
func New(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that keeps err in the chain.
func Wrap(reason Reason, err error, message string) *Error {
	return &Error{Reason: reason, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a failure with the same reason.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Reason == e.Reason
}

// ReasonOf extracts the reason from err, or Internal when err is not typed.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return Internal
}

// Validation reports whether the reason is a deterministic input rejection
// that never reached the network or key derivation.
func (r Reason) Validation() bool {
	switch r {
	case InvalidAmount, LimitExceeded, UnknownMerchant:
		return true
	default:
		return false
	}
}
