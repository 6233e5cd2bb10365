package rtpaudio

import "time"

// Codec represents an immutable audio codec specification.
type Codec struct {
	Name        string        // Codec name (e.g., "PCMU", "PCMA")
	PayloadType uint8         // RTP payload type (0 for PCMU, 8 for PCMA)
	SampleRate  uint32        // Sample rate in Hz
	SampleDur   time.Duration // Duration per sample frame (typically 20ms)
	Channels    int           // Number of channels
}

// Pre-defined codecs.
var (
	// CodecPCMU is G.711 µ-law
	CodecPCMU = Codec{"PCMU", 0, 8000, 20 * time.Millisecond, 1}

	// CodecPCMA is G.711 A-law
	CodecPCMA = Codec{"PCMA", 8, 8000, 20 * time.Millisecond, 1}
)

// SamplesPerFrame returns the number of samples in one frame.
// For 8kHz with 20ms frames, this returns 160.
func (c Codec) SamplesPerFrame() int {
	return int(c.SampleRate) * int(c.SampleDur) / int(time.Second)
}

// BytesPerFrame returns the payload bytes per frame. G.711 encodes one
// byte per sample.
func (c Codec) BytesPerFrame() int {
	return c.SamplesPerFrame() * c.Channels
}

// TimestampIncrement returns the RTP timestamp increment per frame.
func (c Codec) TimestampIncrement() uint32 {
	return uint32(c.SamplesPerFrame())
}
