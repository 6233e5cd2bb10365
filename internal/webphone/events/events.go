// Package events defines the typed call events the engine emits for
// observers (CDR-style accounting, UI activity feeds, tests). Events are
// published in-process; wiring them to an external bus is the embedding
// application's concern.
package events

import (
	"strings"
	"time"
)

// Type identifies the kind of call event.
type Type string

const (
	TypeCallPlaced        Type = "call.placed"
	TypeCallReceived      Type = "call.received"
	TypeCallAnswered      Type = "call.answered"
	TypeCallEnded         Type = "call.ended"
	TypeTransferInitiated Type = "call.transfer"
	TypeConferenceStarted Type = "call.conference"
)

// Disposition classifies how a call ended.
type Disposition string

const (
	DispositionAnswered Disposition = "ANSWERED"
	DispositionNoAnswer Disposition = "NO_ANSWER"
	DispositionRejected Disposition = "REJECTED"
	DispositionFailed   Disposition = "FAILED"
)

// TransferKind distinguishes blind from attended transfers.
type TransferKind string

const (
	TransferBlind    TransferKind = "blind"
	TransferAttended TransferKind = "attended"
)

// Event is a single call event. Zero-valued optional fields are omitted
// from the JSON encoding.
type Event struct {
	Type        Type         `json:"event_type"`
	CallID      string       `json:"call_id"`
	Timestamp   time.Time    `json:"timestamp"`
	Direction   string       `json:"direction,omitempty"`
	RemoteParty string       `json:"remote_party,omitempty"`
	Target      string       `json:"target,omitempty"`
	Transfer    TransferKind `json:"transfer_kind,omitempty"`

	// CDR fields, populated on call.ended.
	RingDurationMs  int64       `json:"ring_duration_ms,omitempty"`
	TalkDurationMs  int64       `json:"talk_duration_ms,omitempty"`
	TotalDurationMs int64       `json:"total_duration_ms,omitempty"`
	Disposition     Disposition `json:"disposition,omitempty"`
}

// Subject returns the routing subject for the event:
// "webphone.calls.<call_id>.<suffix>", where the suffix is the last
// segment of the event type.
func (e *Event) Subject() string {
	suffix := string(e.Type)
	if i := strings.LastIndex(suffix, "."); i >= 0 {
		suffix = suffix[i+1:]
	}
	return "webphone.calls." + e.CallID + "." + suffix
}

// Builder assembles an event fluently.
type Builder struct {
	ev Event
}

// New starts a builder for the given type and call.
func New(t Type, callID string) *Builder {
	return &Builder{ev: Event{
		Type:      t,
		CallID:    callID,
		Timestamp: time.Now().UTC(),
	}}
}

// Direction sets the call direction ("inbound"/"outbound").
func (b *Builder) Direction(d string) *Builder {
	b.ev.Direction = d
	return b
}

// RemoteParty sets the remote party display string.
func (b *Builder) RemoteParty(p string) *Builder {
	b.ev.RemoteParty = p
	return b
}

// Target sets the dialed or transfer target.
func (b *Builder) Target(t string) *Builder {
	b.ev.Target = t
	return b
}

// Transfer sets the transfer kind.
func (b *Builder) Transfer(k TransferKind) *Builder {
	b.ev.Transfer = k
	return b
}

// Durations records the CDR durations.
func (b *Builder) Durations(ring, talk, total time.Duration) *Builder {
	b.ev.RingDurationMs = ring.Milliseconds()
	b.ev.TalkDurationMs = talk.Milliseconds()
	b.ev.TotalDurationMs = total.Milliseconds()
	return b
}

// Disposition records how the call ended.
func (b *Builder) Disposition(d Disposition) *Builder {
	b.ev.Disposition = d
	return b
}

// Build returns the assembled event.
func (b *Builder) Build() Event {
	return b.ev
}
