package call

import (
	"context"
	"fmt"

	"github.com/sebas/webphone/internal/webphone/media"
	"github.com/sebas/webphone/internal/webphone/signaling"
)

// Test doubles for the signaling and media layers. State changes are
// emitted explicitly by the tests after operations return, mirroring the
// provider's asynchronous delivery contract.

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

type fakeSession struct {
	id          string
	dir         signaling.Direction
	remote      string
	state       signaling.SessionState
	listeners   []func(signaling.SessionState)
	handler     *fakeHandler

	inviteErr    error
	acceptErr    error
	referErr     error
	referRepErr  error
	reinviteErr  error

	invites    int
	accepts    int
	rejects    int
	terminates int
	refers     []string
	referReps  []signaling.Session
	reinvites  []bool
}

func newFakeSessionWith(id, remote string, dir signaling.Direction) *fakeSession {
	return &fakeSession{
		id:     id,
		dir:    dir,
		remote: remote,
		handler: &fakeHandler{
			local:  &fakeStream{id: id + "-local", tracks: []media.AudioTrack{&fakeTrack{id: id + "-mic", enabled: true}}},
			remote: &fakeStream{id: id + "-remote"},
		},
	}
}

func (s *fakeSession) ID() string                     { return s.id }
func (s *fakeSession) Direction() signaling.Direction { return s.dir }
func (s *fakeSession) RemoteParty() string            { return s.remote }
func (s *fakeSession) State() signaling.SessionState  { return s.state }
func (s *fakeSession) Media() media.Handler           { return s.handler }

func (s *fakeSession) OnStateChange(fn func(signaling.SessionState)) func() {
	s.listeners = append(s.listeners, fn)
	i := len(s.listeners) - 1
	return func() { s.listeners[i] = nil }
}

func (s *fakeSession) emit(state signaling.SessionState) {
	s.state = state
	for _, fn := range s.listeners {
		if fn != nil {
			fn(state)
		}
	}
}

func (s *fakeSession) Invite(context.Context) error {
	s.invites++
	return s.inviteErr
}

func (s *fakeSession) Accept(context.Context) error {
	s.accepts++
	return s.acceptErr
}

func (s *fakeSession) Reject(context.Context) error {
	s.rejects++
	s.state = signaling.StateTerminated
	return nil
}

func (s *fakeSession) Refer(_ context.Context, target string) error {
	if s.referErr != nil {
		return s.referErr
	}
	s.refers = append(s.refers, target)
	return nil
}

func (s *fakeSession) ReferReplace(_ context.Context, other signaling.Session) error {
	if s.referRepErr != nil {
		return s.referRepErr
	}
	s.referReps = append(s.referReps, other)
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
	s.terminates++
	return nil
}

type fakeProvider struct {
	outbound    []*fakeSession
	outboundErr error
	inviteFns   []func(signaling.Session)
}

func (p *fakeProvider) Start(context.Context) error      { return nil }
func (p *fakeProvider) Register(context.Context) error   { return nil }
func (p *fakeProvider) Unregister(context.Context) error { return nil }
func (p *fakeProvider) Close(context.Context) error      { return nil }

func (p *fakeProvider) Outbound(target string) (signaling.Session, error) {
	if p.outboundErr != nil {
		return nil, p.outboundErr
	}
	sess := newFakeSessionWith(fmt.Sprintf("out-%d", len(p.outbound)+1), target, signaling.DirectionOutbound)
	p.outbound = append(p.outbound, sess)
	return sess, nil
}

func (p *fakeProvider) OnInvite(fn func(signaling.Session)) {
	p.inviteFns = append(p.inviteFns, fn)
}

func (p *fakeProvider) OnRegistrationState(func(signaling.RegistrationState)) {}

// ring delivers an inbound session to the registered invite listeners.
func (p *fakeProvider) ring(sess *fakeSession) {
	for _, fn := range p.inviteFns {
		fn(sess)
	}
}

// last returns the most recently originated outbound session.
func (p *fakeProvider) last() *fakeSession {
	if len(p.outbound) == 0 {
		return nil
	}
	return p.outbound[len(p.outbound)-1]
}
