// Package media provides the media-routing layer of the webphone engine.
// It arbitrates which session's remote stream is attached to which named
// output sink and applies the local mute state across all captured streams.
package media

// AudioTrack is a single audio track within a stream.
// Implementations may wrap an RTP sender, a capture device, or a test fake.
type AudioTrack interface {
	// ID returns a stable identifier for the track.
	ID() string

	// Enabled reports whether the track is currently enabled.
	Enabled() bool

	// SetEnabled enables or disables the track.
	// A disabled local track produces silence; the underlying
	// session is not affected.
	SetEnabled(enabled bool)
}

// Stream is an opaque handle to a media stream owned by a session.
// The router only attaches, detaches, and toggles tracks; it never
// creates or destroys streams.
type Stream interface {
	// ID returns a stable identifier for the stream.
	ID() string

	// AudioTracks returns the audio tracks of the stream.
	AudioTracks() []AudioTrack
}

// Sink is a named audio output the router binds remote streams to.
// Implementations may wrap a playback device or a test fake.
type Sink interface {
	// Attach binds a remote stream to the sink, replacing any
	// previously attached stream. Best effort: playback errors are
	// the sink's concern, not the router's.
	Attach(s Stream)

	// Detach clears the sink without affecting the underlying session.
	Detach()
}

// Handler exposes a session's media streams to the router.
// It mirrors the narrow surface the signaling provider guarantees:
// local/remote streams plus a notification when a new track arrives.
type Handler interface {
	// OnTrackAdded registers a listener invoked whenever the handler
	// reports a new track. Returns a function to unregister it.
	OnTrackAdded(fn func()) func()

	// LocalStream returns the locally captured stream, or nil if none
	// has been negotiated yet.
	LocalStream() Stream

	// RemoteStream returns the remote stream, or nil if none has been
	// negotiated yet.
	RemoteStream() Stream
}

// SinkName identifies an output sink.
type SinkName string

const (
	// SinkPrimary carries the main call leg's remote audio.
	SinkPrimary SinkName = "primary"
	// SinkSecondary carries the attended consult leg's remote audio.
	SinkSecondary SinkName = "secondary"
)
