// Package call implements the call-control state machine: the single
// source of truth for call status, the operations the UI drives, and the
// arbitration between the primary and attended consult legs.
package call

import "github.com/sebas/webphone/internal/webphone/registration"

// Status is the call-control state. Exactly one value holds at any time;
// it drives the UI and every operation precondition. Values are the fsm
// state names.
type Status string

const (
	// StatusIdle means no call activity.
	StatusIdle Status = "idle"
	// StatusDialing means an outbound INVITE is in flight.
	StatusDialing Status = "dialing"
	// StatusConnecting means an inbound call was accepted and is
	// being established.
	StatusConnecting Status = "connecting"
	// StatusIncoming means an inbound invite is pending.
	StatusIncoming Status = "incoming"
	// StatusInCall means the primary session is established.
	StatusInCall Status = "in_call"
	// StatusTransferring means a blind transfer refer is in flight.
	StatusTransferring Status = "transferring"
	// StatusAttendedConsult means the consult leg is being established.
	StatusAttendedConsult Status = "attended_consult"
	// StatusAttendedReady means the consult leg is established and the
	// transfer can be completed.
	StatusAttendedReady Status = "attended_ready"
	// StatusAttendedTransferring means the attended refer is in flight.
	StatusAttendedTransferring Status = "attended_transferring"
	// StatusConference means both legs are live and audible.
	StatusConference Status = "conference"
)

// String returns the status name.
func (s Status) String() string { return string(s) }

// attendedPhase reports whether the status belongs to the attended
// transfer / conference family.
func (s Status) attendedPhase() bool {
	switch s {
	case StatusAttendedConsult, StatusAttendedReady, StatusAttendedTransferring, StatusConference:
		return true
	}
	return false
}

// AttendedStatus mirrors the consult leg's phase.
type AttendedStatus string

const (
	AttendedIdle         AttendedStatus = "idle"
	AttendedConsulting   AttendedStatus = "consulting"
	AttendedReady        AttendedStatus = "ready"
	AttendedTransferring AttendedStatus = "transferring"
	AttendedConference   AttendedStatus = "conference"
)

// Snapshot is a point-in-time copy of the call state. External consumers
// only ever see snapshots; all mutation goes through the Controller.
type Snapshot struct {
	Registration     registration.Status
	Status           Status
	DialNumber       string
	IncomingCaller   string
	IncomingRinging  bool
	HoldActive       bool
	Muted            bool
	AttendedActive   bool
	AttendedReady    bool
	AttendedNumber   string
	AttendedStatus   AttendedStatus
	ConferenceActive bool

	// CallDuration is the elapsed seconds since the primary session
	// was established; 0 when no call is up.
	CallDuration int
}
