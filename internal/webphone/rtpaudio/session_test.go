package rtpaudio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecFrameMath(t *testing.T) {
	assert.Equal(t, 160, CodecPCMU.SamplesPerFrame())
	assert.Equal(t, 160, CodecPCMU.BytesPerFrame())
	assert.Equal(t, uint32(160), CodecPCMU.TimestampIncrement())
	assert.Equal(t, uint8(0), CodecPCMU.PayloadType)
	assert.Equal(t, uint8(8), CodecPCMA.PayloadType)
}

func TestTrackEnableToggle(t *testing.T) {
	track := NewTrack("mic")
	assert.Equal(t, "mic", track.ID())
	assert.True(t, track.Enabled())

	track.SetEnabled(false)
	assert.False(t, track.Enabled())
	track.SetEnabled(true)
	assert.True(t, track.Enabled())
}

func TestStreamCopiesTracks(t *testing.T) {
	track := NewTrack("mic")
	stream := NewStream("s1", track)

	tracks := stream.AudioTracks()
	require.Len(t, tracks, 1)
	assert.Same(t, track, tracks[0].(*Track))

	// Mutating the returned slice does not affect the stream.
	tracks[0] = nil
	assert.NotNil(t, stream.AudioTracks()[0])
}

func TestNewSessionBindsInRange(t *testing.T) {
	s, err := NewSession("127.0.0.1", 42000, 42020)
	require.NoError(t, err)
	defer s.Close()

	assert.GreaterOrEqual(t, s.LocalPort(), 42000)
	assert.Less(t, s.LocalPort(), 42020)
	assert.Zero(t, s.LocalPort()%2)
	assert.Equal(t, "127.0.0.1", s.LocalAddr())
	assert.Equal(t, "PCMU", s.Codec().Name)
}

func TestNewSessionSkipsBusyPorts(t *testing.T) {
	first, err := NewSession("127.0.0.1", 42100, 42110)
	require.NoError(t, err)
	defer first.Close()

	second, err := NewSession("127.0.0.1", 42100, 42110)
	require.NoError(t, err)
	defer second.Close()

	assert.NotEqual(t, first.LocalPort(), second.LocalPort())
}

func TestSessionStreamsAndTrackAdded(t *testing.T) {
	s, err := NewSession("127.0.0.1", 42200, 42220)
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, s.LocalStream())
	assert.Nil(t, s.RemoteStream())

	fired := 0
	s.OnTrackAdded(func() { fired++ })

	require.NoError(t, s.SetRemote("127.0.0.1", 42298))
	assert.Equal(t, 1, fired)
	require.NotNil(t, s.RemoteStream())
	assert.Equal(t, s.ID()+"-remote", s.RemoteStream().ID())

	// Renegotiation retargets without re-announcing the stream.
	require.NoError(t, s.SetRemote("127.0.0.1", 42296))
	assert.Equal(t, 1, fired)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s, err := NewSession("127.0.0.1", 42300, 42320)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.SetRemote("127.0.0.1", 42398)
	assert.Error(t, err)
}

func TestGenerateRTPIdentifiers(t *testing.T) {
	// Random starting values should differ across calls; a collision in
	// 32 bits across three draws means the generator is broken.
	a, b, c := GenerateSSRC(), GenerateSSRC(), GenerateSSRC()
	assert.False(t, a == b && b == c, "SSRC generator returned constant values")
}
