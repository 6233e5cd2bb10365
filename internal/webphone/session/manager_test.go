package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/webphone/internal/webphone/media"
	"github.com/sebas/webphone/internal/webphone/signaling"
)

// --- fakes ---

type fakeTrack struct {
	id      string
	enabled bool
}

func (t *fakeTrack) ID() string            { return t.id }
func (t *fakeTrack) Enabled() bool         { return t.enabled }
func (t *fakeTrack) SetEnabled(state bool) { t.enabled = state }

type fakeStream struct {
	id     string
	tracks []media.AudioTrack
}

func (s *fakeStream) ID() string                      { return s.id }
func (s *fakeStream) AudioTracks() []media.AudioTrack { return s.tracks }

type fakeSink struct {
	attached media.Stream
}

func (s *fakeSink) Attach(st media.Stream) { s.attached = st }
func (s *fakeSink) Detach()                { s.attached = nil }

type fakeHandler struct {
	local  media.Stream
	remote media.Stream
	subs   []func()
}

func (h *fakeHandler) OnTrackAdded(fn func()) func() {
	h.subs = append(h.subs, fn)
	i := len(h.subs) - 1
	return func() { h.subs[i] = nil }
}
func (h *fakeHandler) LocalStream() media.Stream  { return h.local }
func (h *fakeHandler) RemoteStream() media.Stream { return h.remote }

func (h *fakeHandler) fireTrackAdded() {
	for _, fn := range h.subs {
		if fn != nil {
			fn()
		}
	}
}

type fakeSession struct {
	id          string
	dir         signaling.Direction
	state       signaling.SessionState
	listeners   []func(signaling.SessionState)
	handler     *fakeHandler
	reinvites   []bool
	reinviteErr error
	terminated  int
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{
		id:  id,
		dir: signaling.DirectionOutbound,
		handler: &fakeHandler{
			local:  &fakeStream{id: id + "-local", tracks: []media.AudioTrack{&fakeTrack{id: id + "-mic", enabled: true}}},
			remote: &fakeStream{id: id + "-remote"},
		},
	}
}

func (s *fakeSession) ID() string                     { return s.id }
func (s *fakeSession) Direction() signaling.Direction { return s.dir }
func (s *fakeSession) RemoteParty() string            { return s.id }
func (s *fakeSession) State() signaling.SessionState  { return s.state }
func (s *fakeSession) Media() media.Handler           { return s.handler }

func (s *fakeSession) OnStateChange(fn func(signaling.SessionState)) func() {
	s.listeners = append(s.listeners, fn)
	i := len(s.listeners) - 1
	return func() { s.listeners[i] = nil }
}

// emit drives state listeners the way the provider's event goroutine
// would: after the triggering operation has returned.
func (s *fakeSession) emit(state signaling.SessionState) {
	s.state = state
	for _, fn := range s.listeners {
		if fn != nil {
			fn(state)
		}
	}
}

func (s *fakeSession) Invite(context.Context) error { return nil }
func (s *fakeSession) Accept(context.Context) error { return nil }
func (s *fakeSession) Reject(context.Context) error { return nil }
func (s *fakeSession) Refer(context.Context, string) error {
	return nil
}
func (s *fakeSession) ReferReplace(context.Context, signaling.Session) error {
	return nil
}
func (s *fakeSession) Reinvite(_ context.Context, hold bool) error {
	if s.reinviteErr != nil {
		return s.reinviteErr
	}
	s.reinvites = append(s.reinvites, hold)
	return nil
}
func (s *fakeSession) Terminate(context.Context) error {
	s.terminated++
	return nil
}

func newManagerWithSinks() (*Manager, *fakeSink, *fakeSink) {
	router := media.NewRouter()
	primary, secondary := &fakeSink{}, &fakeSink{}
	router.SetSink(media.SinkPrimary, primary)
	router.SetSink(media.SinkSecondary, secondary)
	return NewManager(router), primary, secondary
}

// --- tests ---

func TestAdoptPrimaryAttachesMediaAndHooks(t *testing.T) {
	m, primary, _ := newManagerWithSinks()
	sess := newFakeSession("a")

	established := 0
	terminated := 0
	m.AdoptPrimary(sess, Hooks{
		OnEstablished: func() { established++ },
		OnTerminated:  func() { terminated++ },
	})

	require.True(t, m.HasPrimary())
	require.NotNil(t, primary.attached)
	assert.Equal(t, "a-remote", primary.attached.ID())

	sess.emit(signaling.StateEstablished)
	assert.Equal(t, 1, established)
	sess.emit(signaling.StateTerminated)
	assert.Equal(t, 1, terminated)
}

func TestAdoptReattachesOnTrackAdded(t *testing.T) {
	m, primary, _ := newManagerWithSinks()
	sess := newFakeSession("a")
	sess.handler.remote = nil

	m.AdoptPrimary(sess, Hooks{})
	assert.Nil(t, primary.attached)

	// Remote media arrives after negotiation.
	sess.handler.remote = &fakeStream{id: "a-remote"}
	sess.handler.fireTrackAdded()
	require.NotNil(t, primary.attached)
	assert.Equal(t, "a-remote", primary.attached.ID())
}

func TestSetPrimaryHoldNegotiatesOnce(t *testing.T) {
	m, _, _ := newManagerWithSinks()
	sess := newFakeSession("a")
	m.AdoptPrimary(sess, Hooks{})

	require.NoError(t, m.SetPrimaryHold(context.Background(), true))
	assert.True(t, m.PrimaryOnHold())
	assert.Equal(t, []bool{true}, sess.reinvites)

	// Requesting the current state again does not renegotiate.
	require.NoError(t, m.SetPrimaryHold(context.Background(), true))
	assert.Equal(t, []bool{true}, sess.reinvites)
}

func TestSetPrimaryHoldFailureKeepsFlag(t *testing.T) {
	m, _, _ := newManagerWithSinks()
	sess := newFakeSession("a")
	sess.reinviteErr = signaling.ErrRenegotiationUnsupported
	m.AdoptPrimary(sess, Hooks{})

	err := m.SetPrimaryHold(context.Background(), true)
	require.Error(t, err)
	assert.False(t, m.PrimaryOnHold())
}

func TestResumeReattachesRemoteAudio(t *testing.T) {
	m, primary, _ := newManagerWithSinks()
	sess := newFakeSession("a")
	m.AdoptPrimary(sess, Hooks{})

	require.NoError(t, m.SetPrimaryHold(context.Background(), true))
	primary.attached = nil

	require.NoError(t, m.SetPrimaryHold(context.Background(), false))
	require.NotNil(t, primary.attached)
	assert.False(t, m.PrimaryOnHold())
}

func TestSetPrimaryHoldWithoutSessionIsNoop(t *testing.T) {
	m, _, _ := newManagerWithSinks()
	require.NoError(t, m.SetPrimaryHold(context.Background(), true))
	assert.False(t, m.PrimaryOnHold())
}

func TestTerminatePrimaryIsIdempotent(t *testing.T) {
	m, _, _ := newManagerWithSinks()
	sess := newFakeSession("a")
	m.AdoptPrimary(sess, Hooks{})

	m.TerminatePrimary(context.Background())
	m.TerminatePrimary(context.Background())
	assert.Equal(t, 1, sess.terminated)
}

func TestReleasePrimaryClearsSinkAndListeners(t *testing.T) {
	m, primary, _ := newManagerWithSinks()
	sess := newFakeSession("a")

	fired := 0
	m.AdoptPrimary(sess, Hooks{OnTerminated: func() { fired++ }})
	m.ReleasePrimary()

	assert.False(t, m.HasPrimary())
	assert.Nil(t, primary.attached)

	// A state change after release no longer reaches the hooks.
	sess.emit(signaling.StateTerminated)
	assert.Equal(t, 0, fired)
}

func TestAttendedLegUsesSecondarySink(t *testing.T) {
	m, primary, secondary := newManagerWithSinks()
	main := newFakeSession("a")
	consult := newFakeSession("b")

	m.AdoptPrimary(main, Hooks{})
	m.AdoptAttended(consult, Hooks{})

	require.NotNil(t, primary.attached)
	require.NotNil(t, secondary.attached)
	assert.Equal(t, "a-remote", primary.attached.ID())
	assert.Equal(t, "b-remote", secondary.attached.ID())

	m.ReleaseAttended()
	assert.False(t, m.HasAttended())
	assert.Nil(t, secondary.attached)
	assert.True(t, m.HasPrimary())
}
