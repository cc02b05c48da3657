package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"parley/internal/app/registry"
	"parley/internal/config"
	"parley/internal/core/domain"
)

type terminateRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *terminateRecorder) record(ctx context.Context, clientID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, clientID+"/"+reason)
}

func (r *terminateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type heartbeatFixture struct {
	svc       *HeartbeatService
	registry  *registry.Registry
	presence  *fakePresence
	terminate *terminateRecorder
	ch        *fakeChannel
}

func newHeartbeatFixture(t *testing.T, mutate func(cfg *config.SessionConfig)) *heartbeatFixture {
	t.Helper()
	cfg := testSessionConfig()
	cfg.MessageTimeout = time.Minute
	if mutate != nil {
		mutate(cfg)
	}

	log := discardLogger()
	reg := registry.NewRegistry()
	ch := newFakeChannel(domain.StateOpen)
	if _, err := reg.Register(ch, domain.ClientData{ID: "alice", RemoteAddr: "10.0.0.1:1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	delivery := NewDeliveryService(log, cfg, reg)
	presence := &fakePresence{}
	rec := &terminateRecorder{}
	svc := NewHeartbeatService(log, cfg, reg, delivery, presence)
	svc.OnTerminate(rec.record)
	return &heartbeatFixture{svc: svc, registry: reg, presence: presence, terminate: rec, ch: ch}
}

func TestHeartbeatFreshSessionChecksIn(t *testing.T) {
	f := newHeartbeatFixture(t, func(cfg *config.SessionConfig) {
		cfg.HeartbeatTimeout = time.Hour
	})

	f.svc.Sweep(context.Background())

	if got := f.presence.checkInCount("alice"); got != 1 {
		t.Fatalf("check ins = %d, want 1", got)
	}
	if got := len(f.ch.sentOfType(domain.TypePing)); got != 0 {
		t.Fatalf("fresh session was probed %d times", got)
	}
	if f.terminate.count() != 0 {
		t.Fatal("fresh session was terminated")
	}
}

func TestHeartbeatIdleSessionProbedThenTerminated(t *testing.T) {
	// A zero timeout makes any session idle on the next sweep.
	f := newHeartbeatFixture(t, func(cfg *config.SessionConfig) {
		cfg.HeartbeatTimeout = 0
	})
	ctx := context.Background()

	f.svc.Sweep(ctx)

	pings := f.ch.sentOfType(domain.TypePing)
	if len(pings) != 1 {
		t.Fatalf("probes after first miss = %d, want 1", len(pings))
	}
	sess, _ := f.registry.SessionByClient("alice")
	if sess.Liveness != domain.LivenessSuspect {
		t.Fatalf("liveness after first miss = %q, want %q", sess.Liveness, domain.LivenessSuspect)
	}
	if f.terminate.count() != 0 {
		t.Fatal("terminated after a single miss")
	}

	f.svc.Sweep(ctx)

	if got := f.terminate.count(); got != 1 {
		t.Fatalf("terminations after second miss = %d, want 1", got)
	}
	f.terminate.mu.Lock()
	call := f.terminate.calls[0]
	f.terminate.mu.Unlock()
	if call != "alice/heartbeat timeout" {
		t.Fatalf("terminate call = %q", call)
	}
}

func TestHeartbeatPongRestoresSession(t *testing.T) {
	f := newHeartbeatFixture(t, func(cfg *config.SessionConfig) {
		cfg.HeartbeatTimeout = 0
	})
	ctx := context.Background()

	f.svc.Sweep(ctx) // first miss, session turns suspect

	if !f.registry.RecordPong("alice") {
		t.Fatal("record pong found no session")
	}

	f.svc.Sweep(ctx) // idle again, but the pong reset the strike

	if f.terminate.count() != 0 {
		t.Fatal("session terminated despite an intervening pong")
	}
	if got := len(f.ch.sentOfType(domain.TypePing)); got != 2 {
		t.Fatalf("probes = %d, want 2 (one per miss)", got)
	}
}

func TestHeartbeatRunSweepsUntilCancelled(t *testing.T) {
	f := newHeartbeatFixture(t, func(cfg *config.SessionConfig) {
		cfg.HeartbeatInterval = 5 * time.Millisecond
		cfg.HeartbeatTimeout = time.Hour
	})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	waitUntil(t, 2*time.Second, func() bool {
		return f.presence.checkInCount("alice") >= 2
	}, "expected repeated presence check ins")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
