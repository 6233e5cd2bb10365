package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrack struct {
	id      string
	enabled bool
}

func (t *fakeTrack) ID() string            { return t.id }
func (t *fakeTrack) Enabled() bool         { return t.enabled }
func (t *fakeTrack) SetEnabled(state bool) { t.enabled = state }

type fakeStream struct {
	id     string
	tracks []AudioTrack
}

func (s *fakeStream) ID() string                { return s.id }
func (s *fakeStream) AudioTracks() []AudioTrack { return s.tracks }

type fakeSink struct {
	attached Stream
	detached int
}

func (s *fakeSink) Attach(st Stream) { s.attached = st }
func (s *fakeSink) Detach()          { s.attached = nil; s.detached++ }

type fakeHandler struct {
	local  Stream
	remote Stream
	subs   []func()
}

func (h *fakeHandler) OnTrackAdded(fn func()) func() {
	h.subs = append(h.subs, fn)
	return func() {}
}
func (h *fakeHandler) LocalStream() Stream  { return h.local }
func (h *fakeHandler) RemoteStream() Stream { return h.remote }

func newFakeHandler(id string) *fakeHandler {
	return &fakeHandler{
		local:  &fakeStream{id: id + "-local", tracks: []AudioTrack{&fakeTrack{id: id + "-mic", enabled: true}}},
		remote: &fakeStream{id: id + "-remote"},
	}
}

func TestAttachBindsRemoteStream(t *testing.T) {
	r := NewRouter()
	sink := &fakeSink{}
	r.SetSink(SinkPrimary, sink)

	h := newFakeHandler("a")
	r.Attach(SinkPrimary, h)

	require.NotNil(t, sink.attached)
	assert.Equal(t, "a-remote", sink.attached.ID())
	assert.Equal(t, "a-remote", r.BoundStream(SinkPrimary))
}

func TestAttachWithoutRemoteStreamTracksLocalOnly(t *testing.T) {
	r := NewRouter()
	sink := &fakeSink{}
	r.SetSink(SinkPrimary, sink)

	h := newFakeHandler("a")
	h.remote = nil
	r.Attach(SinkPrimary, h)

	assert.Nil(t, sink.attached)
	assert.Empty(t, r.BoundStream(SinkPrimary))

	// The local stream still participates in mute handling.
	r.SetMuted(true)
	assert.False(t, h.local.AudioTracks()[0].Enabled())
}

func TestAttachReplacesBinding(t *testing.T) {
	r := NewRouter()
	sink := &fakeSink{}
	r.SetSink(SinkPrimary, sink)

	r.Attach(SinkPrimary, newFakeHandler("a"))
	r.Attach(SinkPrimary, newFakeHandler("b"))

	assert.Equal(t, "b-remote", r.BoundStream(SinkPrimary))
}

func TestClearDetachesSink(t *testing.T) {
	r := NewRouter()
	sink := &fakeSink{}
	r.SetSink(SinkPrimary, sink)
	r.Attach(SinkPrimary, newFakeHandler("a"))

	r.Clear(SinkPrimary)

	assert.Nil(t, sink.attached)
	assert.Equal(t, 1, sink.detached)
	assert.Empty(t, r.BoundStream(SinkPrimary))
}

func TestMuteAppliesToAllTrackedStreams(t *testing.T) {
	r := NewRouter()
	r.SetSink(SinkPrimary, &fakeSink{})
	r.SetSink(SinkSecondary, &fakeSink{})

	a, b := newFakeHandler("a"), newFakeHandler("b")
	r.Attach(SinkPrimary, a)
	r.Attach(SinkSecondary, b)

	r.SetMuted(true)
	assert.False(t, a.local.AudioTracks()[0].Enabled())
	assert.False(t, b.local.AudioTracks()[0].Enabled())
	assert.True(t, r.Muted())

	r.SetMuted(false)
	assert.True(t, a.local.AudioTracks()[0].Enabled())
	assert.True(t, b.local.AudioTracks()[0].Enabled())
}

func TestMuteAppliedToLateAttachedStream(t *testing.T) {
	r := NewRouter()
	r.SetSink(SinkSecondary, &fakeSink{})
	r.SetMuted(true)

	// A consult leg attached mid-mute starts muted.
	h := newFakeHandler("consult")
	r.Attach(SinkSecondary, h)
	assert.False(t, h.local.AudioTracks()[0].Enabled())
}

func TestUntrackStopsMuteParticipation(t *testing.T) {
	r := NewRouter()
	r.SetSink(SinkPrimary, &fakeSink{})
	h := newFakeHandler("a")
	r.Attach(SinkPrimary, h)

	r.Untrack(h.local)
	r.SetMuted(true)
	assert.True(t, h.local.AudioTracks()[0].Enabled())
}

func TestSetSinkNilRemovesBinding(t *testing.T) {
	r := NewRouter()
	sink := &fakeSink{}
	r.SetSink(SinkPrimary, sink)
	r.Attach(SinkPrimary, newFakeHandler("a"))

	r.SetSink(SinkPrimary, nil)
	assert.Empty(t, r.BoundStream(SinkPrimary))

	// Attaching with no sink installed is a no-op.
	r.Attach(SinkPrimary, newFakeHandler("b"))
	assert.Empty(t, r.BoundStream(SinkPrimary))
}
