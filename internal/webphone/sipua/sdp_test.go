package sipua

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSDPOffer(t *testing.T) {
	body, err := BuildSDP("192.168.1.10", 10002, "0", false)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "c=IN IP4 192.168.1.10")
	assert.Contains(t, text, "m=audio 10002 RTP/AVP 0")
	assert.Contains(t, text, "a=rtpmap:0 PCMU/8000")
	assert.Contains(t, text, "a=ptime:20")
	assert.Contains(t, text, "a=sendrecv")
	assert.NotContains(t, text, "a=sendonly")
}

func TestBuildSDPHoldIsSendonly(t *testing.T) {
	body, err := BuildSDP("192.168.1.10", 10002, "0", true)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "a=sendonly")
	assert.NotContains(t, text, "a=sendrecv")
}

func TestBuildSDPDefaultsToPCMU(t *testing.T) {
	body, err := BuildSDP("10.0.0.1", 20000, "", false)
	require.NoError(t, err)
	assert.Contains(t, string(body), "m=audio 20000 RTP/AVP 0")
}

func TestParseRemoteMediaRoundTrip(t *testing.T) {
	body, err := BuildSDP("203.0.113.5", 14002, "0", false)
	require.NoError(t, err)

	addr, port, err := ParseRemoteMedia(body)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", addr)
	assert.Equal(t, 14002, port)
}

func TestParseRemoteMediaConnectionOnMediaLevel(t *testing.T) {
	body := strings.Join([]string{
		"v=0",
		"o=- 1 1 IN IP4 198.51.100.1",
		"s=-",
		"t=0 0",
		"m=audio 30000 RTP/AVP 0",
		"c=IN IP4 198.51.100.2",
		"a=rtpmap:0 PCMU/8000",
		"",
	}, "\r\n")

	addr, port, err := ParseRemoteMedia([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.2", addr)
	assert.Equal(t, 30000, port)
}

func TestParseRemoteMediaErrors(t *testing.T) {
	_, _, err := ParseRemoteMedia(nil)
	assert.Error(t, err)

	_, _, err = ParseRemoteMedia([]byte("not sdp at all"))
	assert.Error(t, err)

	// Session with no media section.
	noMedia := strings.Join([]string{
		"v=0",
		"o=- 1 1 IN IP4 198.51.100.1",
		"s=-",
		"c=IN IP4 198.51.100.1",
		"t=0 0",
		"",
	}, "\r\n")
	_, _, err = ParseRemoteMedia([]byte(noMedia))
	assert.Error(t, err)
}
