package call

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/sebas/webphone/internal/webphone/events"
	"github.com/sebas/webphone/internal/webphone/media"
	"github.com/sebas/webphone/internal/webphone/metrics"
	"github.com/sebas/webphone/internal/webphone/registration"
	"github.com/sebas/webphone/internal/webphone/session"
	"github.com/sebas/webphone/internal/webphone/signaling"
)

// fsm event names. User operations go through guarded events; teardown
// and async projections force the state directly.
const (
	eventDial         = "dial"
	eventRing         = "ring"
	eventAnswer       = "answer"
	eventEstablish    = "establish"
	eventBlind        = "blind"
	eventBlindFailed  = "blind_failed"
	eventConsult      = "consult"
	eventConsultReady = "consult_ready"
	eventCommit       = "commit"
	eventCommitFailed = "commit_failed"
	eventBridge       = "bridge"
)

// Controller is the call-control state machine. It validates operation
// preconditions against the current status, sequences signaling through
// the session manager, and is the only writer of the call state.
//
// Thread safety: all methods are safe for concurrent use. Snapshot
// subscribers and the notifier are invoked synchronously from the
// mutating path; keep them fast and do not call back into the
// controller from them.
type Controller struct {
	mu       sync.Mutex
	machine  *fsm.FSM
	sessions *session.Manager
	router   *media.Router
	notifier Notifier
	pub      events.Publisher

	provider  signaling.Provider
	regStatus registration.Status

	dialNumber      string
	incomingCaller  string
	incomingRinging bool
	pendingIncoming signaling.Session
	unsubPending    func()

	holdActive bool
	muted      bool

	attendedActive   bool
	attendedReady    bool
	attendedNumber   string
	attendedStatus   AttendedStatus
	conferenceActive bool

	// Primary-leg accounting for duration and events.
	callID        string
	callDirection signaling.Direction
	remoteParty   string
	placedAt      time.Time
	establishedAt time.Time

	subs []func(Snapshot)
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier installs the user-facing notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithPublisher installs the call-event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(c *Controller) { c.pub = p }
}

// NewController creates the controller in the idle state.
func NewController(sessions *session.Manager, router *media.Router, opts ...Option) *Controller {
	c := &Controller{
		sessions:       sessions,
		router:         router,
		notifier:       nopNotifier{},
		pub:            events.NewNoopPublisher(),
		attendedStatus: AttendedIdle,
		regStatus:      registration.StatusOffline,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.machine = fsm.NewFSM(
		string(StatusIdle),
		fsm.Events{
			{Name: eventDial, Src: []string{string(StatusIdle)}, Dst: string(StatusDialing)},
			{Name: eventRing, Src: []string{string(StatusIdle)}, Dst: string(StatusIncoming)},
			{Name: eventAnswer, Src: []string{string(StatusIncoming)}, Dst: string(StatusConnecting)},
			{Name: eventEstablish, Src: []string{string(StatusDialing), string(StatusConnecting)}, Dst: string(StatusInCall)},
			{Name: eventBlind, Src: []string{string(StatusInCall)}, Dst: string(StatusTransferring)},
			{Name: eventBlindFailed, Src: []string{string(StatusTransferring)}, Dst: string(StatusInCall)},
			{Name: eventConsult, Src: []string{string(StatusInCall)}, Dst: string(StatusAttendedConsult)},
			{Name: eventConsultReady, Src: []string{string(StatusAttendedConsult)}, Dst: string(StatusAttendedReady)},
			{Name: eventCommit, Src: []string{string(StatusAttendedReady)}, Dst: string(StatusAttendedTransferring)},
			{Name: eventCommitFailed, Src: []string{string(StatusAttendedTransferring)}, Dst: string(StatusAttendedReady)},
			{Name: eventBridge, Src: []string{string(StatusAttendedReady)}, Dst: string(StatusConference)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				slog.Debug("[Call] Status changed", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
	return c
}

// SetProvider wires the signaling provider and installs the inbound
// invite listener. Called once by the registration flow.
func (c *Controller) SetProvider(p signaling.Provider) {
	c.mu.Lock()
	c.provider = p
	c.mu.Unlock()
	if p != nil {
		p.OnInvite(c.handleIncoming)
	}
}

// SetRegistrationStatus projects the registration status into the call
// state so snapshots carry it.
func (c *Controller) SetRegistrationStatus(s registration.Status) {
	c.mu.Lock()
	c.regStatus = s
	c.notifySubsLocked()
	c.mu.Unlock()
}

// Status returns the current call status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Snapshot returns a point-in-time copy of the call state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers a listener invoked with a fresh snapshot after
// every state change. Returns a function to unregister it.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
	i := len(c.subs) - 1
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subs[i] = nil
	}
}

// --- Dial buffer and sinks ---

// UpdateDialNumber replaces the dial buffer.
func (c *Controller) UpdateDialNumber(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialNumber = value
	c.notifySubsLocked()
}

// AppendDigit appends a digit to the dial buffer.
func (c *Controller) AppendDigit(digit string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialNumber += digit
	c.notifySubsLocked()
}

// BackspaceDigit removes the last digit of the dial buffer.
func (c *Controller) BackspaceDigit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialNumber != "" {
		c.dialNumber = c.dialNumber[:len(c.dialNumber)-1]
	}
	c.notifySubsLocked()
}

// SetAudioSinks installs the primary and secondary output sinks and
// re-attaches whatever is currently bound.
func (c *Controller) SetAudioSinks(primary, secondary media.Sink) {
	c.router.SetSink(media.SinkPrimary, primary)
	c.router.SetSink(media.SinkSecondary, secondary)
	c.sessions.ReattachPrimary()
	c.sessions.ReattachAttended()
}

// --- Call setup and teardown ---

// PlaceCall originates a call to the trimmed dial number. Allowed only
// from idle with a usable registration.
func (c *Controller) PlaceCall(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.placeCallLocked(ctx)
}

// CallNumber sets the dial number and places the call (click-to-call).
func (c *Controller) CallNumber(ctx context.Context, number string) error {
	if number == "" {
		return ErrNoDestination
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialNumber = number
	return c.placeCallLocked(ctx)
}

func (c *Controller) placeCallLocked(ctx context.Context) error {
	if c.statusLocked() != StatusIdle {
		return ErrInvalidState
	}
	if c.provider == nil || c.regStatus == registration.StatusNoAccount {
		c.notifier.Notify(SeverityWarning, "You do not have an active SIP account.")
		return ErrNotReady
	}
	if !c.regStatus.Ready() {
		c.notifier.Notify(SeverityWarning, "Webphone is not ready yet. Please retry in a few seconds.")
		return ErrNotReady
	}
	target := strings.TrimSpace(c.dialNumber)
	if target == "" {
		c.notifier.Notify(SeverityWarning, "Enter a destination number first.")
		return ErrNoDestination
	}

	if err := c.machine.Event(ctx, eventDial); err != nil {
		return ErrInvalidState
	}
	c.notifySubsLocked()

	sess, err := c.provider.Outbound(target)
	if err != nil {
		c.notifier.Notify(SeverityDanger, "Unable to place the call.")
		metrics.CallsFailed.WithLabelValues("invite").Inc()
		c.teardownPrimaryLocked()
		return err
	}
	c.adoptPrimaryLocked(sess)
	c.placedAt = time.Now()

	if err := sess.Invite(ctx); err != nil {
		c.notifier.Notify(SeverityDanger, "Unable to place the call.")
		metrics.CallsFailed.WithLabelValues("invite").Inc()
		c.teardownPrimaryLocked()
		return err
	}

	metrics.CallsPlaced.Inc()
	c.pub.Publish(events.New(events.TypeCallPlaced, sess.ID()).
		Direction(strings.ToLower(signaling.DirectionOutbound.String())).
		Target(target).
		Build())
	c.notifySubsLocked()
	return nil
}

// AcceptIncoming answers the pending inbound invite.
func (c *Controller) AcceptIncoming(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingIncoming == nil {
		return ErrNoPendingInvite
	}
	sess := c.pendingIncoming
	c.dropPendingLocked()

	if err := c.machine.Event(ctx, eventAnswer); err != nil {
		return ErrInvalidState
	}
	c.adoptPrimaryLocked(sess)
	c.placedAt = time.Now()
	c.notifySubsLocked()

	if err := sess.Accept(ctx); err != nil {
		c.notifier.Notify(SeverityDanger, "Unable to accept the call.")
		metrics.CallsFailed.WithLabelValues("accept").Inc()
		c.teardownPrimaryLocked()
		return err
	}
	c.notifySubsLocked()
	return nil
}

// RejectIncoming declines the pending inbound invite. No-op without one.
func (c *Controller) RejectIncoming(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingIncoming == nil {
		return ErrNoPendingInvite
	}
	c.rejectPendingLocked(ctx)
	c.notifySubsLocked()
	return nil
}

// Hangup terminates the call. The attended leg is torn down first
// (without resuming hold), then the primary is terminated with the
// phase-appropriate method. With no primary session it falls back to
// rejecting a pending invite; with nothing active it is a no-op.
func (c *Controller) Hangup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hangupLocked(ctx)
	c.notifySubsLocked()
	return nil
}

func (c *Controller) hangupLocked(ctx context.Context) {
	if c.attendedActive || c.sessions.HasAttended() {
		c.clearAttendedLocked(ctx, true, false)
	}
	if !c.sessions.HasPrimary() {
		if c.pendingIncoming != nil {
			c.rejectPendingLocked(ctx)
		}
		return
	}
	c.sessions.TerminatePrimary(ctx)
	// Full cleanup happens when the Terminated notification arrives.
}

// --- Hold and mute ---

// ToggleHold flips the primary session's hold state. Blocked while an
// attended transfer or conference is running. The user-visible flag only
// changes on confirmed renegotiation.
func (c *Controller) ToggleHold(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sessions.HasPrimary() {
		c.notifier.Notify(SeverityWarning, "No active call to put on hold.")
		return ErrNoSession
	}
	if c.attendedActive {
		c.notifier.Notify(SeverityWarning, "Cannot toggle hold while an attended transfer or conference is running.")
		return ErrInvalidState
	}

	target := !c.holdActive
	if err := c.sessions.SetPrimaryHold(ctx, target); err != nil {
		if errors.Is(err, signaling.ErrRenegotiationUnsupported) {
			c.notifier.Notify(SeverityDanger, "The current call cannot be renegotiated to manage hold state.")
		} else if target {
			c.notifier.Notify(SeverityDanger, "Unable to place the caller on hold.")
		} else {
			c.notifier.Notify(SeverityDanger, "Unable to resume the held caller.")
		}
		metrics.CallsFailed.WithLabelValues("hold").Inc()
		return err
	}
	c.holdActive = target
	c.notifySubsLocked()
	return nil
}

// ToggleMute flips local-capture muting across every tracked stream.
func (c *Controller) ToggleMute() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sessions.HasPrimary() && !c.sessions.HasAttended() {
		c.notifier.Notify(SeverityWarning, "No active audio session to mute.")
		return ErrNoSession
	}
	c.muted = !c.muted
	c.router.SetMuted(c.muted)
	c.notifySubsLocked()
	return nil
}

// --- Transfers and conference ---

// TransferCall performs a blind transfer of the primary session to the
// dial number.
func (c *Controller) TransferCall(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.statusLocked()
	if !c.sessions.HasPrimary() || (status != StatusInCall && status != StatusConference) {
		c.notifier.Notify(SeverityWarning, "You need to be in a call to transfer it.")
		return ErrInvalidState
	}
	if c.conferenceActive {
		c.notifier.Notify(SeverityWarning, "Transfer is disabled during a conference.")
		return ErrConferenceActive
	}
	if c.attendedActive {
		c.notifier.Notify(SeverityWarning, "Finish or cancel the attended transfer first.")
		return ErrTransferInProgress
	}
	target := strings.TrimSpace(c.dialNumber)
	if target == "" {
		c.notifier.Notify(SeverityWarning, "Enter a destination number to transfer the call.")
		return ErrNoDestination
	}

	if err := c.machine.Event(ctx, eventBlind); err != nil {
		return ErrInvalidState
	}
	c.notifySubsLocked()

	if err := c.sessions.Primary().Refer(ctx, target); err != nil {
		c.notifier.Notify(SeverityDanger, "Unable to transfer the call.")
		metrics.Transfers.WithLabelValues(string(events.TransferBlind), "failed").Inc()
		_ = c.machine.Event(ctx, eventBlindFailed)
		c.notifySubsLocked()
		return err
	}

	c.notifier.Notify(SeveritySuccess, "Transfer initiated.")
	metrics.Transfers.WithLabelValues(string(events.TransferBlind), "ok").Inc()
	c.pub.Publish(events.New(events.TypeTransferInitiated, c.callID).
		Transfer(events.TransferBlind).
		Target(target).
		Build())
	// The provider's termination notification completes the transfer.
	return nil
}

// StartAttendedTransfer places the primary on hold and dials a consult
// leg toward the dial number. A hold failure aborts before any consult
// session is created.
func (c *Controller) StartAttendedTransfer(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sessions.HasPrimary() || c.statusLocked() != StatusInCall {
		c.notifier.Notify(SeverityWarning, "You need to be in a call to start an attended transfer.")
		return ErrInvalidState
	}
	if c.attendedActive || c.sessions.HasAttended() {
		c.notifier.Notify(SeverityWarning, "An attended transfer is already in progress.")
		return ErrTransferInProgress
	}
	if c.provider == nil || !c.regStatus.Ready() {
		c.notifier.Notify(SeverityWarning, "Webphone is not ready for an attended transfer yet.")
		return ErrNotReady
	}
	target := strings.TrimSpace(c.dialNumber)
	if target == "" {
		c.notifier.Notify(SeverityWarning, "Enter a destination number to consult before transferring.")
		return ErrNoDestination
	}

	if err := c.sessions.SetPrimaryHold(ctx, true); err != nil {
		return err
	}
	c.holdActive = true

	c.attendedActive = true
	c.attendedReady = false
	c.attendedNumber = target
	c.attendedStatus = AttendedConsulting
	c.conferenceActive = false
	if err := c.machine.Event(ctx, eventConsult); err != nil {
		c.clearAttendedLocked(ctx, false, true)
		return ErrInvalidState
	}
	c.notifySubsLocked()

	sess, err := c.provider.Outbound(target)
	if err == nil {
		c.sessions.AdoptAttended(sess, session.Hooks{
			OnEstablished: c.handleAttendedEstablished,
			OnTerminated:  c.handleAttendedTerminated,
		})
		metrics.ActiveSessions.Inc()
		err = sess.Invite(ctx)
	}
	if err != nil {
		c.notifier.Notify(SeverityDanger, "Unable to start the attended transfer.")
		metrics.Transfers.WithLabelValues(string(events.TransferAttended), "failed").Inc()
		c.clearAttendedLocked(ctx, true, true)
		c.notifySubsLocked()
		return err
	}
	c.notifySubsLocked()
	return nil
}

// CompleteAttendedTransfer refers the primary's remote party to the
// consult leg, then tears both legs down.
func (c *Controller) CompleteAttendedTransfer(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	primary, attended := c.sessions.Primary(), c.sessions.Attended()
	if primary == nil || attended == nil {
		c.notifier.Notify(SeverityWarning, "No attended transfer is currently in progress.")
		return ErrNoSession
	}
	if c.conferenceActive {
		c.notifier.Notify(SeverityWarning, "Cannot transfer while a conference is active.")
		return ErrConferenceActive
	}
	if !c.attendedReady {
		c.notifier.Notify(SeverityWarning, "Wait until the consult call is connected before transferring.")
		return ErrConsultNotReady
	}

	c.attendedStatus = AttendedTransferring
	if err := c.machine.Event(ctx, eventCommit); err != nil {
		return ErrInvalidState
	}
	c.notifySubsLocked()

	if err := primary.ReferReplace(ctx, attended); err != nil {
		c.notifier.Notify(SeverityDanger, "Unable to complete the attended transfer.")
		metrics.Transfers.WithLabelValues(string(events.TransferAttended), "failed").Inc()
		c.attendedStatus = AttendedReady
		_ = c.machine.Event(ctx, eventCommitFailed)
		c.notifySubsLocked()
		return err
	}

	c.notifier.Notify(SeveritySuccess, "Attended transfer initiated.")
	metrics.Transfers.WithLabelValues(string(events.TransferAttended), "ok").Inc()
	c.pub.Publish(events.New(events.TypeTransferInitiated, c.callID).
		Transfer(events.TransferAttended).
		Target(c.attendedNumber).
		Build())

	// The primary leg is being handed off: drop the consult leg without
	// resuming hold, then hang up.
	c.clearAttendedLocked(ctx, true, false)
	c.hangupLocked(ctx)
	c.notifySubsLocked()
	return nil
}

// CancelAttendedTransfer abandons the consult leg and resumes the
// primary from hold. No-op when nothing is in progress.
func (c *Controller) CancelAttendedTransfer(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.attendedActive && !c.sessions.HasAttended() {
		return nil
	}
	wasConference := c.conferenceActive
	c.clearAttendedLocked(ctx, true, true)
	if wasConference {
		c.notifier.Notify(SeverityInfo, "Conference ended.")
	} else {
		c.notifier.Notify(SeverityInfo, "Attended transfer cancelled.")
	}
	c.notifySubsLocked()
	return nil
}

// StartConference resumes the primary from hold and routes both remote
// streams to their sinks so both parties are audible. No RTP mixing
// happens here; the microphone keeps feeding both legs.
func (c *Controller) StartConference(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sessions.HasPrimary() || !c.sessions.HasAttended() {
		c.notifier.Notify(SeverityWarning, "You need two active calls to start a conference.")
		return ErrNoSession
	}
	if !c.attendedReady {
		c.notifier.Notify(SeverityWarning, "Wait until the consult call is connected before conferencing.")
		return ErrConsultNotReady
	}
	if c.conferenceActive {
		return nil
	}

	if err := c.sessions.SetPrimaryHold(ctx, false); err != nil {
		c.notifier.Notify(SeverityDanger, "Unable to resume the original caller for conferencing.")
		return err
	}

	c.conferenceActive = true
	c.attendedStatus = AttendedConference
	c.holdActive = false
	if err := c.machine.Event(ctx, eventBridge); err != nil {
		// Resume succeeded but the status no longer allows bridging;
		// keep flags consistent with the status.
		c.conferenceActive = false
		c.attendedStatus = AttendedReady
		return ErrInvalidState
	}
	c.sessions.ReattachPrimary()
	c.sessions.ReattachAttended()
	metrics.Conferences.Inc()
	c.pub.Publish(events.New(events.TypeConferenceStarted, c.callID).Build())
	c.notifySubsLocked()
	return nil
}

// EndConference tears down the consult leg and returns to the primary
// call. No-op when no conference is active.
func (c *Controller) EndConference(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.conferenceActive {
		return nil
	}
	c.clearAttendedLocked(ctx, true, true)
	c.notifier.Notify(SeverityInfo, "Conference ended.")
	c.notifySubsLocked()
	return nil
}

// --- Session adoption and async projections ---

func (c *Controller) adoptPrimaryLocked(sess signaling.Session) {
	c.callID = sess.ID()
	c.callDirection = sess.Direction()
	c.remoteParty = sess.RemoteParty()
	c.sessions.AdoptPrimary(sess, session.Hooks{
		OnEstablished: c.handlePrimaryEstablished,
		OnTerminated:  c.handlePrimaryTerminated,
	})
	metrics.ActiveSessions.Inc()
}

func (c *Controller) handlePrimaryEstablished() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sessions.HasPrimary() {
		return // stale notification after teardown
	}
	if err := c.machine.Event(context.Background(), eventEstablish); err != nil {
		return // raced with hangup or a stale re-notification
	}
	if c.establishedAt.IsZero() {
		c.establishedAt = time.Now()
	}
	c.pub.Publish(events.New(events.TypeCallAnswered, c.callID).
		Direction(strings.ToLower(c.callDirection.String())).
		RemoteParty(c.remoteParty).
		Build())
	c.notifySubsLocked()
}

func (c *Controller) handlePrimaryTerminated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishCallEndedLocked()
	c.teardownPrimaryLocked()
	c.notifySubsLocked()
}

func (c *Controller) handleAttendedEstablished() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.attendedActive {
		return // stale notification after cancel
	}
	c.attendedReady = true
	c.attendedStatus = AttendedReady
	_ = c.machine.Event(context.Background(), eventConsultReady)
	c.notifySubsLocked()
}

func (c *Controller) handleAttendedTerminated() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.attendedActive && !c.sessions.HasAttended() {
		return
	}
	c.clearAttendedLocked(context.Background(), false, true)
	c.notifySubsLocked()
}

func (c *Controller) handleIncoming(sess signaling.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingIncoming != nil || c.statusLocked() != StatusIdle {
		// One pending invite at a time; busy users are not disturbed.
		slog.Info("[Call] Rejecting concurrent inbound invite", "session_id", sess.ID())
		if err := sess.Reject(context.Background()); err != nil {
			slog.Warn("[Call] Reject of concurrent invite failed", "error", err)
		}
		return
	}

	c.pendingIncoming = sess
	c.incomingCaller = sess.RemoteParty()
	c.incomingRinging = true
	_ = c.machine.Event(context.Background(), eventRing)
	c.unsubPending = sess.OnStateChange(func(state signaling.SessionState) {
		if state == signaling.StateTerminated {
			c.handlePendingTerminated(sess)
		}
	})
	metrics.CallsReceived.Inc()
	c.pub.Publish(events.New(events.TypeCallReceived, sess.ID()).
		Direction(strings.ToLower(signaling.DirectionInbound.String())).
		RemoteParty(c.incomingCaller).
		Build())
	c.notifySubsLocked()
}

// handlePendingTerminated fires when the remote party gives up before
// the invite was accepted or rejected.
func (c *Controller) handlePendingTerminated(sess signaling.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingIncoming != sess {
		return
	}
	c.dropPendingLocked()
	c.incomingCaller = ""
	if c.statusLocked() == StatusIncoming {
		c.machine.SetState(string(StatusIdle))
	}
	c.notifySubsLocked()
}

// --- Internal helpers (mu held) ---

func (c *Controller) statusLocked() Status {
	return Status(c.machine.Current())
}

func (c *Controller) snapshotLocked() Snapshot {
	duration := 0
	if !c.establishedAt.IsZero() {
		duration = int(time.Since(c.establishedAt) / time.Second)
	}
	return Snapshot{
		Registration:     c.regStatus,
		Status:           c.statusLocked(),
		DialNumber:       c.dialNumber,
		IncomingCaller:   c.incomingCaller,
		IncomingRinging:  c.incomingRinging,
		HoldActive:       c.holdActive,
		Muted:            c.muted,
		AttendedActive:   c.attendedActive,
		AttendedReady:    c.attendedReady,
		AttendedNumber:   c.attendedNumber,
		AttendedStatus:   c.attendedStatus,
		ConferenceActive: c.conferenceActive,
		CallDuration:     duration,
	}
}

func (c *Controller) notifySubsLocked() {
	snap := c.snapshotLocked()
	for _, fn := range c.subs {
		if fn != nil {
			fn(snap)
		}
	}
}

// dropPendingLocked forgets the pending invite without signaling.
func (c *Controller) dropPendingLocked() {
	if c.unsubPending != nil {
		c.unsubPending()
		c.unsubPending = nil
	}
	c.pendingIncoming = nil
	c.incomingRinging = false
}

func (c *Controller) rejectPendingLocked(ctx context.Context) {
	sess := c.pendingIncoming
	c.dropPendingLocked()
	c.incomingCaller = ""
	if sess != nil {
		if err := sess.Reject(ctx); err != nil {
			slog.Warn("[Call] Reject failed", "session_id", sess.ID(), "error", err)
		}
	}
	if c.statusLocked() == StatusIncoming {
		c.machine.SetState(string(StatusIdle))
	}
}

// teardownPrimaryLocked runs the full primary teardown: release the
// session, reset status to idle, clear hold/mute/duration, and cascade
// to the attended leg without attempting a hold resume.
func (c *Controller) teardownPrimaryLocked() {
	if c.sessions.HasPrimary() {
		metrics.ActiveSessions.Dec()
	}
	c.sessions.ReleasePrimary()
	c.machine.SetState(string(StatusIdle))
	c.incomingRinging = false
	c.holdActive = false
	c.muted = false
	c.router.SetMuted(false)
	c.router.UntrackAll()
	c.placedAt = time.Time{}
	c.establishedAt = time.Time{}
	c.clearAttendedLocked(context.Background(), true, false)
}

// clearAttendedLocked tears down the attended state. hangupSession also
// terminates the consult session; resumeMain additionally resumes the
// primary's hold (best effort, silent) and re-attaches its audio.
func (c *Controller) clearAttendedLocked(ctx context.Context, hangupSession, resumeMain bool) {
	if c.sessions.HasAttended() {
		metrics.ActiveSessions.Dec()
	}
	if hangupSession {
		c.sessions.TerminateAttended(ctx)
	}
	c.sessions.ReleaseAttended()

	c.attendedActive = false
	c.attendedReady = false
	c.attendedNumber = ""
	c.attendedStatus = AttendedIdle
	c.conferenceActive = false

	if c.statusLocked().attendedPhase() {
		if c.sessions.HasPrimary() {
			c.machine.SetState(string(StatusInCall))
		} else {
			c.machine.SetState(string(StatusIdle))
		}
	}

	if resumeMain {
		// Best-effort follow-up; a resume failure must not corrupt the
		// state the caller just settled.
		if err := c.sessions.SetPrimaryHold(ctx, false); err != nil {
			slog.Warn("[Call] Hold resume after attended teardown failed", "error", err)
		}
		c.holdActive = c.sessions.PrimaryOnHold()
	}
	c.sessions.ReattachPrimary()
}

func (c *Controller) publishCallEndedLocked() {
	if c.callID == "" {
		return
	}
	now := time.Now()
	var ring, talk, total time.Duration
	disposition := events.DispositionNoAnswer
	if !c.placedAt.IsZero() {
		total = now.Sub(c.placedAt)
		ring = total
	}
	if !c.establishedAt.IsZero() {
		talk = now.Sub(c.establishedAt)
		ring = c.establishedAt.Sub(c.placedAt)
		disposition = events.DispositionAnswered
	}
	c.pub.Publish(events.New(events.TypeCallEnded, c.callID).
		Direction(strings.ToLower(c.callDirection.String())).
		RemoteParty(c.remoteParty).
		Durations(ring, talk, total).
		Disposition(disposition).
		Build())
	c.callID = ""
	c.remoteParty = ""
}
