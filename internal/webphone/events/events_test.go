package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventSubjectNaming(t *testing.T) {
	event := New(TypeCallReceived, "call-123").Build()

	expected := "webphone.calls.call-123.received"
	if got := event.Subject(); got != expected {
		t.Errorf("Subject() = %q, want %q", got, expected)
	}
}

func TestSubjectPatterns(t *testing.T) {
	tests := []struct {
		name    string
		evtType Type
		want    string
	}{
		{"placed", TypeCallPlaced, "webphone.calls.abc-123.placed"},
		{"received", TypeCallReceived, "webphone.calls.abc-123.received"},
		{"answered", TypeCallAnswered, "webphone.calls.abc-123.answered"},
		{"ended", TypeCallEnded, "webphone.calls.abc-123.ended"},
		{"transfer", TypeTransferInitiated, "webphone.calls.abc-123.transfer"},
		{"conference", TypeConferenceStarted, "webphone.calls.abc-123.conference"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := New(tt.evtType, "abc-123").Build()
			if got := event.Subject(); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallPlacedEventJSON(t *testing.T) {
	event := New(TypeCallPlaced, "call-123").
		Direction("outbound").
		Target("101").
		Build()

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	checks := map[string]string{
		"event_type": "call.placed",
		"call_id":    "call-123",
		"direction":  "outbound",
		"target":     "101",
	}
	for k, want := range checks {
		if got, ok := m[k].(string); !ok || got != want {
			t.Errorf("m[%q] = %v, want %q", k, m[k], want)
		}
	}

	// Zero-valued CDR fields stay out of the encoding.
	if _, ok := m["talk_duration_ms"]; ok {
		t.Error("talk_duration_ms should be omitted on call.placed")
	}
	if _, ok := m["disposition"]; ok {
		t.Error("disposition should be omitted on call.placed")
	}
}

func TestCallEndedEventCDRFields(t *testing.T) {
	event := New(TypeCallEnded, "call-123").
		Direction("inbound").
		RemoteParty("Alice (200)").
		Durations(
			2*time.Second,   // ring
			120*time.Second, // talk
			122*time.Second, // total
		).
		Disposition(DispositionAnswered).
		Build()

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	if got := m["ring_duration_ms"].(float64); got != 2000 {
		t.Errorf("ring_duration_ms = %v, want 2000", got)
	}
	if got := m["talk_duration_ms"].(float64); got != 120000 {
		t.Errorf("talk_duration_ms = %v, want 120000", got)
	}
	if got := m["total_duration_ms"].(float64); got != 122000 {
		t.Errorf("total_duration_ms = %v, want 122000", got)
	}
	if got := m["disposition"].(string); got != "ANSWERED" {
		t.Errorf("disposition = %v, want ANSWERED", got)
	}
}

func TestBuilderTimestampIsUTC(t *testing.T) {
	event := New(TypeCallPlaced, "call-1").Build()
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should be set by the builder")
	}
	if event.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp location = %v, want UTC", event.Timestamp.Location())
	}
}

func TestNoopPublisher(t *testing.T) {
	pub := NewNoopPublisher()
	// Should not panic or block.
	pub.Publish(New(TypeCallPlaced, "call-1").Build())
}

func TestPublisherFunc(t *testing.T) {
	var got []Event
	pub := PublisherFunc(func(ev Event) { got = append(got, ev) })

	pub.Publish(New(TypeTransferInitiated, "call-1").Transfer(TransferBlind).Build())

	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Transfer != TransferBlind {
		t.Errorf("Transfer = %q, want %q", got[0].Transfer, TransferBlind)
	}
}
