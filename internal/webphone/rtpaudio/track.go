package rtpaudio

import (
	"sync"

	"github.com/sebas/webphone/internal/webphone/media"
)

// Track is a single G.711 audio track. A disabled local track keeps the
// RTP stream alive but replaces its payload with silence.
type Track struct {
	id      string
	mu      sync.Mutex
	enabled bool
}

// NewTrack creates an enabled track.
func NewTrack(id string) *Track {
	return &Track{id: id, enabled: true}
}

// ID implements media.AudioTrack.
func (t *Track) ID() string { return t.id }

// Enabled implements media.AudioTrack.
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled implements media.AudioTrack.
func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// Stream is a fixed single-track audio stream.
type Stream struct {
	id     string
	tracks []media.AudioTrack
}

// NewStream creates a stream wrapping the given tracks.
func NewStream(id string, tracks ...media.AudioTrack) *Stream {
	return &Stream{id: id, tracks: tracks}
}

// ID implements media.Stream.
func (s *Stream) ID() string { return s.id }

// AudioTracks implements media.Stream.
func (s *Stream) AudioTracks() []media.AudioTrack {
	out := make([]media.AudioTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

var (
	_ media.AudioTrack = (*Track)(nil)
	_ media.Stream     = (*Stream)(nil)
)
