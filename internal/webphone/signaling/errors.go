package signaling

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrNotStarted indicates the provider transport is not up.
	ErrNotStarted = errors.New("provider not started")

	// ErrSessionTerminated indicates the session has already ended.
	ErrSessionTerminated = errors.New("session already terminated")

	// ErrNotEstablished indicates an operation requiring an
	// established session.
	ErrNotEstablished = errors.New("session not established")

	// ErrRenegotiationUnsupported indicates the session cannot be
	// re-invited (hold is unavailable for this dialog type).
	ErrRenegotiationUnsupported = errors.New("session does not support renegotiation")

	// ErrRegistrationFailed indicates the registrar rejected the
	// registration.
	ErrRegistrationFailed = errors.New("registration failed")

	// ErrInvalidTarget indicates the dial target could not be turned
	// into a valid URI.
	ErrInvalidTarget = errors.New("invalid target")
)

// Error provides detailed information about a signaling failure.
type Error struct {
	// Op is the operation that failed ("invite", "accept", "refer",
	// "reinvite", "register", "terminate").
	Op string

	// Target is the remote party or URI involved, if any.
	Target string

	// SIPCode is the SIP response code (0 if the failure was not a
	// SIP response).
	SIPCode int

	// SIPReason is the SIP response reason phrase.
	SIPReason string

	// Cause is the underlying error.
	Cause error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.SIPCode > 0 {
		return fmt.Sprintf("%s %s: SIP %d %s", e.Op, e.Target, e.SIPCode, e.SIPReason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Cause)
	}
	return fmt.Sprintf("%s %s: unknown error", e.Op, e.Target)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}
