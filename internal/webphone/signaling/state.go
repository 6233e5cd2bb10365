// Package signaling defines the abstract signaling-provider interface the
// call-control engine is written against. A provider wraps a SIP user
// agent: registration, session origination and acceptance, refer,
// termination, and asynchronous per-session state notifications.
package signaling

import "fmt"

// SessionState represents the lifecycle of a single signaling session.
type SessionState int

const (
	// StateEstablishing indicates the session is being negotiated
	// (outbound INVITE sent or inbound INVITE not yet accepted).
	StateEstablishing SessionState = iota
	// StateEstablished indicates the session is confirmed and media
	// is expected to flow.
	StateEstablished
	// StateTerminated indicates the session has ended, whether by
	// local or remote action or by negotiation failure.
	StateTerminated
)

// String returns the string representation of SessionState.
func (s SessionState) String() string {
	switch s {
	case StateEstablishing:
		return "Establishing"
	case StateEstablished:
		return "Established"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// IsTerminal returns true once the session can no longer change state.
func (s SessionState) IsTerminal() bool {
	return s == StateTerminated
}

// RegistrationState represents the provider's registration lifecycle.
type RegistrationState int

const (
	// RegistrationOffline indicates no transport connection.
	RegistrationOffline RegistrationState = iota
	// RegistrationConnected indicates the transport is up but the
	// registration has not (or no longer) succeeded.
	RegistrationConnected
	// RegistrationRegistered indicates an active registration.
	RegistrationRegistered
	// RegistrationFailed indicates the registrar rejected us.
	RegistrationFailed
)

// String returns the string representation of RegistrationState.
func (s RegistrationState) String() string {
	switch s {
	case RegistrationOffline:
		return "Offline"
	case RegistrationConnected:
		return "Connected"
	case RegistrationRegistered:
		return "Registered"
	case RegistrationFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Direction indicates whether a session was originated locally or remotely.
type Direction int

const (
	// DirectionOutbound represents a locally originated call.
	DirectionOutbound Direction = iota
	// DirectionInbound represents a remotely originated call.
	DirectionInbound
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	switch d {
	case DirectionOutbound:
		return "Outbound"
	case DirectionInbound:
		return "Inbound"
	default:
		return fmt.Sprintf("Unknown(%d)", int(d))
	}
}
