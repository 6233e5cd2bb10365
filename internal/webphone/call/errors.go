package call

import "errors"

// Sentinel errors for use with errors.Is. Precondition violations never
// change state; signaling failures roll back to the last known-good
// status before being returned.
var (
	// ErrInvalidState indicates the operation is not allowed in the
	// current call status.
	ErrInvalidState = errors.New("operation invalid in current call state")

	// ErrNotReady indicates the engine has no usable registration
	// (not initialized, or no account provisioned).
	ErrNotReady = errors.New("webphone not ready")

	// ErrNoDestination indicates the dial number is empty.
	ErrNoDestination = errors.New("no destination number")

	// ErrNoSession indicates the operation needs a session that does
	// not exist.
	ErrNoSession = errors.New("no active session")

	// ErrNoPendingInvite indicates there is no inbound invite to
	// accept or reject.
	ErrNoPendingInvite = errors.New("no pending incoming call")

	// ErrTransferInProgress indicates an attended transfer is already
	// running.
	ErrTransferInProgress = errors.New("attended transfer already in progress")

	// ErrConsultNotReady indicates the consult leg is not established
	// yet.
	ErrConsultNotReady = errors.New("consult call not connected")

	// ErrConferenceActive indicates the operation is blocked while a
	// conference is running.
	ErrConferenceActive = errors.New("conference active")
)
