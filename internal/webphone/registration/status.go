// Package registration performs the one-time webphone initialization:
// fetching the account configuration, building and starting the
// signaling provider, and registering with the SIP registrar. It
// surfaces the registration status the UI shows persistently.
package registration

import "fmt"

// Status is the user-visible registration state.
type Status int

const (
	// StatusOffline indicates no transport connection.
	StatusOffline Status = iota
	// StatusConnected indicates the transport is up but no active
	// registration exists.
	StatusConnected
	// StatusRegistered indicates an active registration.
	StatusRegistered
	// StatusFailed indicates the registrar rejected the registration.
	StatusFailed
	// StatusNoAccount indicates the user has no provisioned SIP
	// account; call operations stay blocked until resolved.
	StatusNoAccount
)

// String returns the wire/UI representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusConnected:
		return "connected"
	case StatusRegistered:
		return "registered"
	case StatusFailed:
		return "registration_failed"
	case StatusNoAccount:
		return "no_account"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Ready reports whether call operations may proceed.
func (s Status) Ready() bool {
	return s == StatusConnected || s == StatusRegistered
}
