// Package rtpaudio implements the G.711 audio transport of a call leg:
// one UDP socket carrying PCMU over RTP, exposed to the media router as
// a local capture stream and a remote playback stream.
package rtpaudio

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/zaf/g711"

	"github.com/sebas/webphone/internal/webphone/media"
)

// ulawSilence is the G.711 µ-law encoding of a zero sample.
const ulawSilence = 0xFF

// Session is the RTP audio endpoint of a single call leg. It implements
// media.Handler so the router can attach its streams to output sinks.
//
// The local track's enabled flag gates capture: while disabled, outbound
// frames carry silence so the stream stays alive for NAT bindings and
// the remote jitter buffer.
type Session struct {
	id        string
	conn      *net.UDPConn
	localAddr string
	localPort int
	codec     Codec

	mu     sync.Mutex
	remote *net.UDPAddr
	closed bool

	// RTP header state
	ssrc      uint32
	seq       uint16
	timestamp uint32
	ticker    *time.Ticker

	localTrack   *Track
	localStream  *Stream
	remoteStream *Stream

	playout io.Writer

	subMu     sync.Mutex
	trackSubs []func()
}

// NewSession binds a UDP socket in [portMin, portMax) and prepares the
// local capture stream. advertiseAddr is the address placed in SDP.
func NewSession(advertiseAddr string, portMin, portMax int) (*Session, error) {
	conn, port, err := bindUDP(portMin, portMax)
	if err != nil {
		return nil, fmt.Errorf("allocate RTP port: %w", err)
	}

	id := uuid.New().String()
	track := NewTrack(id + "-audio")

	s := &Session{
		id:          id,
		conn:        conn,
		localAddr:   advertiseAddr,
		localPort:   port,
		codec:       CodecPCMU,
		ssrc:        GenerateSSRC(),
		seq:         GenerateSequenceStart(),
		timestamp:   GenerateTimestampStart(),
		ticker:      time.NewTicker(CodecPCMU.SampleDur),
		localTrack:  track,
		localStream: NewStream(id+"-local", track),
	}
	return s, nil
}

// bindUDP binds the first free UDP port in the range. RTP convention
// uses even ports, odd ones are reserved for RTCP.
func bindUDP(portMin, portMax int) (*net.UDPConn, int, error) {
	for port := portMin; port < portMax; port += 2 {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err == nil {
			return conn, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free UDP port in %d-%d", portMin, portMax)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// LocalAddr returns the advertised address for SDP.
func (s *Session) LocalAddr() string { return s.localAddr }

// LocalPort returns the bound RTP port.
func (s *Session) LocalPort() int { return s.localPort }

// Codec returns the negotiated codec.
func (s *Session) Codec() Codec { return s.codec }

// SetPlayout installs the writer receiving decoded 16-bit LPCM from the
// remote party. Nil discards received audio.
func (s *Session) SetPlayout(w io.Writer) {
	s.mu.Lock()
	s.playout = w
	s.mu.Unlock()
}

// SetRemote points the session at the remote RTP endpoint from the SDP
// answer or offer. The first call materializes the remote stream, starts
// the receive loop, and fires the track-added listeners; later calls
// (renegotiation) only retarget the socket.
func (s *Session) SetRemote(addr string, port int) error {
	raddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return fmt.Errorf("resolve remote RTP endpoint: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return net.ErrClosed
	}
	first := s.remote == nil
	s.remote = raddr
	if first {
		s.remoteStream = NewStream(s.id+"-remote", NewTrack(s.id+"-remote-audio"))
	}
	s.mu.Unlock()

	if first {
		go s.readLoop()
		s.fireTrackAdded()
	}
	slog.Debug("[RTP] Remote endpoint set", "session_id", s.id, "remote", raddr.String())
	return nil
}

// SendPCM encodes one frame of 16-bit LPCM as PCMU and writes it as a
// clock-paced RTP packet. While the local track is disabled the payload
// is replaced with silence.
func (s *Session) SendPCM(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return net.ErrClosed
	}
	remote := s.remote
	s.mu.Unlock()
	if remote == nil {
		return fmt.Errorf("no remote endpoint")
	}

	payload := g711.EncodeUlaw(pcm)
	if !s.localTrack.Enabled() {
		for i := range payload {
			payload[i] = ulawSilence
		}
	}

	// Wait for clock tick to pace the stream
	<-s.ticker.C

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.codec.PayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteToUDP(data, remote); err != nil {
		return err
	}

	s.seq++
	s.timestamp += s.codec.TimestampIncrement()
	return nil
}

// readLoop receives RTP, decodes the G.711 payload, and hands LPCM to
// the playout writer. It exits when the socket closes.
func (s *Session) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if pkt.PayloadType != s.codec.PayloadType {
			continue
		}

		s.mu.Lock()
		out := s.playout
		s.mu.Unlock()
		if out == nil {
			continue
		}
		pcm := g711.DecodeUlaw(pkt.Payload)
		if _, err := out.Write(pcm); err != nil {
			slog.Debug("[RTP] Playout write failed", "session_id", s.id, "error", err)
		}
	}
}

// Close releases the socket and stops the pacing clock. Safe to call
// more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.ticker.Stop()
	s.mu.Unlock()
	return s.conn.Close()
}

// --- media.Handler ---

// OnTrackAdded implements media.Handler.
func (s *Session) OnTrackAdded(fn func()) func() {
	s.subMu.Lock()
	s.trackSubs = append(s.trackSubs, fn)
	i := len(s.trackSubs) - 1
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		s.trackSubs[i] = nil
		s.subMu.Unlock()
	}
}

// LocalStream implements media.Handler.
func (s *Session) LocalStream() media.Stream {
	return s.localStream
}

// RemoteStream implements media.Handler.
func (s *Session) RemoteStream() media.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteStream == nil {
		return nil
	}
	return s.remoteStream
}

func (s *Session) fireTrackAdded() {
	s.subMu.Lock()
	subs := make([]func(), len(s.trackSubs))
	copy(subs, s.trackSubs)
	s.subMu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn()
		}
	}
}

var _ media.Handler = (*Session)(nil)
