package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"parley/internal/core/contracts"
	"parley/internal/core/domain"
)

type readyRecorder struct {
	mu    sync.Mutex
	calls []domain.ClientData
}

func (r *readyRecorder) record(ctx context.Context, ch contracts.Channel, client domain.ClientData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, client)
}

func (r *readyRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newReconnectFixture(t *testing.T, maxAttempts int) (*ReconnectService, *readyRecorder) {
	t.Helper()
	cfg := testSessionConfig()
	cfg.MaxReconnectAttempts = maxAttempts
	svc := NewReconnectService(discardLogger(), cfg)
	rec := &readyRecorder{}
	svc.OnReady(rec.record)
	return svc, rec
}

func TestReconnectHandsOverOnceOpen(t *testing.T) {
	svc, rec := newReconnectFixture(t, 5)
	ch := newFakeChannel(domain.StateConnecting)
	client := domain.ClientData{ID: "alice", RemoteAddr: "10.0.0.1:1"}

	svc.Begin(context.Background(), ch, client)

	// Let the supervisor poll a couple of times before the handshake lands.
	waitUntil(t, 2*time.Second, func() bool {
		return svc.Attempts("alice") >= 1
	}, "expected a first polling attempt")
	ch.setState(domain.StateOpen)

	waitUntil(t, 2*time.Second, func() bool {
		return rec.count() == 1
	}, "expected the hand-over callback")

	rec.mu.Lock()
	handed := rec.calls[0]
	rec.mu.Unlock()
	if handed.ID != "alice" {
		t.Fatalf("handed over client %q, want alice", handed.ID)
	}
	if _, ok := svc.Cancel("alice"); ok {
		t.Fatal("supervision still running after hand-over")
	}
	if got := len(ch.closeReasons()); got != 0 {
		t.Fatalf("channel closed %d times during a successful hand-over", got)
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	svc, rec := newReconnectFixture(t, 3)
	ch := newFakeChannel(domain.StateConnecting)

	svc.Begin(context.Background(), ch, domain.ClientData{ID: "alice"})

	waitUntil(t, 2*time.Second, func() bool {
		return len(ch.closeReasons()) == 1
	}, "expected the channel to be closed after the final attempt")

	if got := ch.closeReasons()[0]; got != "handshake never completed" {
		t.Fatalf("close reason = %q", got)
	}
	if rec.count() != 0 {
		t.Fatal("ready fired for a handshake that never completed")
	}
	if _, ok := svc.Cancel("alice"); ok {
		t.Fatal("supervision still running after giving up")
	}
}

func TestReconnectDropsLostChannel(t *testing.T) {
	svc, rec := newReconnectFixture(t, 5)
	ch := newFakeChannel(domain.StateConnecting)

	svc.Begin(context.Background(), ch, domain.ClientData{ID: "alice"})
	ch.setState(domain.StateClosed)

	// Well past the first poll: the dead channel should be dropped by now.
	time.Sleep(100 * time.Millisecond)
	if _, ok := svc.Cancel("alice"); ok {
		t.Fatal("supervision still running for a dead channel")
	}
	if rec.count() != 0 {
		t.Fatal("ready fired for a closed channel")
	}
}

func TestReconnectCancelStopsSupervision(t *testing.T) {
	svc, rec := newReconnectFixture(t, 5)
	ch := newFakeChannel(domain.StateConnecting)

	svc.Begin(context.Background(), ch, domain.ClientData{ID: "alice"})
	parked, ok := svc.Cancel("alice")
	if !ok {
		t.Fatal("cancel found no supervision")
	}
	if parked.ID() != ch.ID() {
		t.Fatal("cancel handed back a different channel")
	}
	if _, ok := svc.Cancel("alice"); ok {
		t.Fatal("second cancel found supervision")
	}

	// Nothing fires once cancelled, even after the channel opens.
	ch.setState(domain.StateOpen)
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatal("ready fired after cancel")
	}
}

func TestReconnectBeginReplacesSupervision(t *testing.T) {
	svc, rec := newReconnectFixture(t, 5)
	stale := newFakeChannel(domain.StateConnecting)
	fresh := newFakeChannel(domain.StateConnecting)
	client := domain.ClientData{ID: "alice"}
	ctx := context.Background()

	svc.Begin(ctx, stale, client)
	svc.Begin(ctx, fresh, client)
	fresh.setState(domain.StateOpen)

	waitUntil(t, 2*time.Second, func() bool {
		return rec.count() == 1
	}, "expected the replacement channel to be handed over")

	// The stale channel opening later changes nothing: its supervision is gone.
	stale.setState(domain.StateOpen)
	time.Sleep(50 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Fatalf("hand-overs = %d, want 1", got)
	}
}
