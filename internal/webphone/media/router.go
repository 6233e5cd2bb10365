package media

import (
	"log/slog"
	"sync"
)

// Router binds session media handlers to named sinks and owns the local
// mute state. Each sink has at most one attached remote stream at a time;
// rebinding replaces the audible binding without touching the session.
//
// Thread safety: all methods are safe for concurrent use.
type Router struct {
	mu     sync.Mutex
	sinks  map[SinkName]Sink
	bound  map[SinkName]string // sink -> attached remote stream ID
	locals map[string]Stream   // tracked local capture streams
	muted  bool
}

// NewRouter creates an empty router with no sinks and nothing tracked.
func NewRouter() *Router {
	return &Router{
		sinks:  make(map[SinkName]Sink),
		bound:  make(map[SinkName]string),
		locals: make(map[string]Stream),
	}
}

// SetSink installs (or replaces) the sink for the given name.
// A nil sink removes the binding. Sinks are externally owned; the
// router never closes them.
func (r *Router) SetSink(name SinkName, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sink == nil {
		delete(r.sinks, name)
		delete(r.bound, name)
		return
	}
	r.sinks[name] = sink
}

// Attach routes the handler's remote stream to the named sink and starts
// tracking its local stream under the current mute state. Either stream
// may still be nil before negotiation completes; Attach is called again
// on every track-added notification.
func (r *Router) Attach(name SinkName, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if remote := h.RemoteStream(); remote != nil {
		if sink, ok := r.sinks[name]; ok {
			sink.Attach(remote)
			r.bound[name] = remote.ID()
		}
	}
	if local := h.LocalStream(); local != nil {
		r.locals[local.ID()] = local
	}
	r.applyMuteLocked()
}

// Clear detaches whatever stream is bound to the named sink.
func (r *Router) Clear(name SinkName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sink, ok := r.sinks[name]; ok {
		sink.Detach()
	}
	delete(r.bound, name)
}

// Untrack stops tracking a session's local stream. Called on teardown so
// a dead session's stream no longer participates in mute toggles.
func (r *Router) Untrack(s Stream) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locals, s.ID())
}

// UntrackAll drops every tracked local stream.
func (r *Router) UntrackAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locals = make(map[string]Stream)
}

// SetMuted applies the mute state to every audio track of every tracked
// local stream. Idempotent: applying the current state again is a no-op
// on the flag but still re-asserts track enablement.
func (r *Router) SetMuted(muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muted = muted
	r.applyMuteLocked()
}

// Muted reports the current mute state.
func (r *Router) Muted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.muted
}

// BoundStream returns the ID of the stream attached to the named sink,
// or "" if nothing is attached.
func (r *Router) BoundStream(name SinkName) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bound[name]
}

func (r *Router) applyMuteLocked() {
	for _, stream := range r.locals {
		for _, track := range stream.AudioTracks() {
			track.SetEnabled(!r.muted)
		}
	}
	if r.muted {
		slog.Debug("[Media] Local capture muted", "streams", len(r.locals))
	}
}
