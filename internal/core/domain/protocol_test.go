package domain

import (
	"testing"
	"time"
)

func TestNewEnvelope(t *testing.T) {
	a := NewEnvelope(TypeMessage, "alice")
	b := NewEnvelope(TypeMessage, "alice")

	if a.Type != TypeMessage || a.ClientID != "alice" {
		t.Fatalf("envelope header = %+v", a)
	}
	if a.MessageID == "" || a.MessageID == b.MessageID {
		t.Fatalf("message ids not unique: %q vs %q", a.MessageID, b.MessageID)
	}
	if a.Timestamp.IsZero() || time.Since(a.Timestamp) > time.Minute {
		t.Fatalf("timestamp = %v", a.Timestamp)
	}
}

func TestFireAndForget(t *testing.T) {
	tests := []struct {
		msgType string
		want    bool
	}{
		{TypeConfirm, true},
		{TypeError, true},
		{TypePong, true},
		{TypePing, false},
		{TypeMessage, false},
		{TypeResponse, false},
		{TypeConnectConfirm, false},
		{TypeStatus, false},
		{TypeImageStatus, false},
	}
	for _, tc := range tests {
		if got := FireAndForget(tc.msgType); got != tc.want {
			t.Errorf("FireAndForget(%q) = %v, want %v", tc.msgType, got, tc.want)
		}
	}
}

func TestChannelStateString(t *testing.T) {
	tests := []struct {
		state ChannelState
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{ChannelState(42), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("state %d = %q, want %q", tc.state, got, tc.want)
		}
	}
}
