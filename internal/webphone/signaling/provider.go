package signaling

import (
	"context"

	"github.com/sebas/webphone/internal/webphone/media"
)

// Provider is the abstract signaling engine the call-control layer drives.
//
// Listener contract: all listeners registered through OnInvite,
// OnRegistrationState, and Session.OnStateChange are invoked from the
// provider's event goroutine, in the order the underlying transport emits
// the events, and never from within a Provider or Session method call.
// No de-duplication or reordering is performed.
type Provider interface {
	// Start brings up the transport. It must be called before Register
	// or Outbound.
	Start(ctx context.Context) error

	// Register registers the configured account with the registrar.
	// Registration state changes (including refresh failures after a
	// successful return) are reported via OnRegistrationState.
	Register(ctx context.Context) error

	// Unregister removes the active registration. Best effort.
	Unregister(ctx context.Context) error

	// Outbound creates a new outbound session toward target (a number
	// or user part; the provider resolves it against the account
	// domain). No signaling is sent until Session.Invite.
	Outbound(target string) (Session, error)

	// OnInvite registers the listener for inbound sessions. The
	// listener receives every inbound INVITE; acceptance, rejection,
	// and duplicate handling are the caller's responsibility.
	OnInvite(fn func(Session))

	// OnRegistrationState registers a listener for registration
	// lifecycle changes.
	OnRegistrationState(fn func(RegistrationState))

	// Close stops the provider and releases the transport. Sessions
	// still alive are disposed without further signaling.
	Close(ctx context.Context) error
}

// Session is an opaque handle to one signaling dialog.
type Session interface {
	// ID returns a unique identifier for the session.
	ID() string

	// Direction reports whether the session is inbound or outbound.
	Direction() Direction

	// RemoteParty returns a display string for the remote identity:
	// display name if present, else the URI user part, else "Unknown".
	RemoteParty() string

	// State returns the current session state.
	State() SessionState

	// OnStateChange registers a listener for state transitions.
	// Returns a function to unregister it.
	OnStateChange(fn func(SessionState)) func()

	// Media returns the session's media handler. Never nil, though its
	// streams may be nil until negotiation completes.
	Media() media.Handler

	// Invite sends the initial INVITE for an outbound session and
	// returns once it is on the wire. Establishment or failure is
	// reported asynchronously through OnStateChange.
	Invite(ctx context.Context) error

	// Accept answers an inbound session.
	Accept(ctx context.Context) error

	// Reject declines an inbound session that has not been accepted.
	Reject(ctx context.Context) error

	// Refer asks the remote party to redirect to target (blind
	// transfer). Valid only on established sessions.
	Refer(ctx context.Context, target string) error

	// ReferReplace asks the remote party to replace this dialog with
	// the other session's dialog (attended transfer).
	ReferReplace(ctx context.Context, other Session) error

	// Reinvite renegotiates the session with or without the hold
	// media direction. Returns ErrRenegotiationUnsupported for
	// sessions that cannot be re-invited.
	Reinvite(ctx context.Context, hold bool) error

	// Terminate ends the session using the method appropriate to its
	// negotiation phase: CANCEL while establishing, BYE when
	// established, dispose otherwise. Safe to call multiple times.
	Terminate(ctx context.Context) error
}
