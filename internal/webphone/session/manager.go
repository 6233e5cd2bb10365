// Package session owns the two call legs of the webphone engine: the
// primary session and the optional attended consult session. It wraps
// freshly created signaling sessions with lifecycle listeners, binds
// their media handlers to the router's sinks, and guarantees idempotent
// teardown. The per-leg hold flag kept here is the authority for whether
// a hold re-invite has actually been negotiated.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sebas/webphone/internal/webphone/media"
	"github.com/sebas/webphone/internal/webphone/signaling"
)

// Hooks are the call-control callbacks installed on an adopted session.
// They are invoked from the provider's event goroutine.
type Hooks struct {
	// OnEstablished fires when the session reaches Established.
	OnEstablished func()

	// OnTerminated fires when the session reaches Terminated, whether
	// by remote bye, local bye completion, or negotiation failure.
	OnTerminated func()
}

// handle wraps one adopted signaling session.
type handle struct {
	mu         sync.Mutex
	sess       signaling.Session
	sink       media.SinkName
	onHold     bool
	tornDown   bool
	unsubState func()
	unsubTrack func()
}

// markTornDown returns true the first time it is called.
func (h *handle) markTornDown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tornDown {
		return false
	}
	h.tornDown = true
	return true
}

func (h *handle) unsubscribe() {
	h.mu.Lock()
	unsubState, unsubTrack := h.unsubState, h.unsubTrack
	h.unsubState, h.unsubTrack = nil, nil
	h.mu.Unlock()
	if unsubState != nil {
		unsubState()
	}
	if unsubTrack != nil {
		unsubTrack()
	}
}

// Manager owns the primary and attended session handles.
//
// Thread safety: all methods are safe for concurrent use. The manager
// never invokes hooks while holding its own lock.
type Manager struct {
	mu       sync.Mutex
	router   *media.Router
	primary  *handle
	attended *handle
}

// NewManager creates a manager routing media through router.
func NewManager(router *media.Router) *Manager {
	return &Manager{router: router}
}

// AdoptPrimary wraps s as the primary leg: installs the lifecycle
// listeners, binds its media to the primary sink, and re-attaches on
// every new track.
func (m *Manager) AdoptPrimary(s signaling.Session, hooks Hooks) {
	m.adopt(s, hooks, media.SinkPrimary, func(h *handle) {
		m.primary = h
	})
}

// AdoptAttended wraps s as the attended consult leg, bound to the
// secondary sink.
func (m *Manager) AdoptAttended(s signaling.Session, hooks Hooks) {
	m.adopt(s, hooks, media.SinkSecondary, func(h *handle) {
		m.attended = h
	})
}

func (m *Manager) adopt(s signaling.Session, hooks Hooks, sink media.SinkName, install func(*handle)) {
	h := &handle{sess: s, sink: sink}

	m.mu.Lock()
	install(h)
	m.mu.Unlock()

	h.unsubState = s.OnStateChange(func(state signaling.SessionState) {
		switch state {
		case signaling.StateEstablished:
			if hooks.OnEstablished != nil {
				hooks.OnEstablished()
			}
		case signaling.StateTerminated:
			if hooks.OnTerminated != nil {
				hooks.OnTerminated()
			}
		}
	})
	h.unsubTrack = s.Media().OnTrackAdded(func() {
		m.router.Attach(sink, s.Media())
	})
	m.router.Attach(sink, s.Media())

	slog.Debug("[Session] Adopted", "session_id", s.ID(), "sink", string(sink), "direction", s.Direction().String())
}

// Primary returns the primary session, or nil.
func (m *Manager) Primary() signaling.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.primary == nil {
		return nil
	}
	return m.primary.sess
}

// Attended returns the attended session, or nil.
func (m *Manager) Attended() signaling.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attended == nil {
		return nil
	}
	return m.attended.sess
}

// HasPrimary reports whether a primary session is held.
func (m *Manager) HasPrimary() bool { return m.Primary() != nil }

// HasAttended reports whether an attended session is held.
func (m *Manager) HasAttended() bool { return m.Attended() != nil }

// PrimaryOnHold reports whether a hold has been negotiated on the
// primary session.
func (m *Manager) PrimaryOnHold() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.primary != nil && m.primary.onHold
}

// SetPrimaryHold negotiates the primary session's hold state.
//
// Contract: requesting the current state is a no-op that still resolves
// successfully. Requesting the opposite state re-invites the session;
// only on confirmed success is the flag flipped, and on resume the
// remote audio is re-attached to its sink. With no primary session the
// flag is simply cleared.
func (m *Manager) SetPrimaryHold(ctx context.Context, hold bool) error {
	m.mu.Lock()
	h := m.primary
	m.mu.Unlock()

	if h == nil {
		return nil
	}

	h.mu.Lock()
	if h.onHold == hold {
		h.mu.Unlock()
		return nil
	}
	sess := h.sess
	h.mu.Unlock()

	if err := sess.Reinvite(ctx, hold); err != nil {
		slog.Warn("[Session] Hold renegotiation failed",
			"session_id", sess.ID(),
			"hold", hold,
			"error", err,
		)
		return err
	}

	h.mu.Lock()
	h.onHold = hold
	h.mu.Unlock()

	if !hold {
		m.router.Attach(media.SinkPrimary, sess.Media())
	}
	slog.Info("[Session] Hold state changed", "session_id", sess.ID(), "hold", hold)
	return nil
}

// TerminatePrimary ends the primary session using the phase-appropriate
// method. Idempotent: a second call, or a call with no primary session,
// is a no-op.
func (m *Manager) TerminatePrimary(ctx context.Context) {
	m.mu.Lock()
	h := m.primary
	m.mu.Unlock()
	m.terminate(ctx, h)
}

// TerminateAttended ends the attended session. Idempotent.
func (m *Manager) TerminateAttended(ctx context.Context) {
	m.mu.Lock()
	h := m.attended
	m.mu.Unlock()
	m.terminate(ctx, h)
}

func (m *Manager) terminate(ctx context.Context, h *handle) {
	if h == nil || !h.markTornDown() {
		return
	}
	if err := h.sess.Terminate(ctx); err != nil {
		slog.Warn("[Session] Terminate failed", "session_id", h.sess.ID(), "error", err)
	}
}

// ReleasePrimary drops the primary handle: listeners unsubscribed, local
// stream untracked, primary sink cleared, hold flag reset. It does not
// signal; pair with TerminatePrimary when the session is still alive.
func (m *Manager) ReleasePrimary() {
	m.mu.Lock()
	h := m.primary
	m.primary = nil
	m.mu.Unlock()
	m.release(h, media.SinkPrimary)
}

// ReleaseAttended drops the attended handle and clears the secondary sink.
func (m *Manager) ReleaseAttended() {
	m.mu.Lock()
	h := m.attended
	m.attended = nil
	m.mu.Unlock()
	m.release(h, media.SinkSecondary)
}

func (m *Manager) release(h *handle, sink media.SinkName) {
	if h == nil {
		return
	}
	h.unsubscribe()
	if local := h.sess.Media().LocalStream(); local != nil {
		m.router.Untrack(local)
	}
	m.router.Clear(sink)
	slog.Debug("[Session] Released", "session_id", h.sess.ID(), "sink", string(sink))
}

// ReattachPrimary re-binds the primary session's remote audio to its
// sink. Used after a hold resume or when the sinks change.
func (m *Manager) ReattachPrimary() {
	if sess := m.Primary(); sess != nil {
		m.router.Attach(media.SinkPrimary, sess.Media())
	}
}

// ReattachAttended re-binds the attended session's remote audio.
func (m *Manager) ReattachAttended() {
	if sess := m.Attended(); sess != nil {
		m.router.Attach(media.SinkSecondary, sess.Media())
	}
}
