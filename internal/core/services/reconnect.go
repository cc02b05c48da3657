package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"parley/internal/config"
	"parley/internal/core/contracts"
	"parley/internal/core/domain"
)

type IReconnectService interface {
	// Begin supervises a channel that arrived mid-handshake, polling its
	// state with exponential backoff until it opens or the attempts run
	// out.
	Begin(ctx context.Context, ch contracts.Channel, client domain.ClientData)
	// Cancel stops supervision for a client and hands back the parked
	// channel, if one was still waiting, so the caller decides its fate.
	Cancel(clientID string) (contracts.Channel, bool)
	Attempts(clientID string) int
	// OnReady installs the registration hook invoked once a supervised
	// channel reaches the open state.
	OnReady(fn func(ctx context.Context, ch contracts.Channel, client domain.ClientData))
}

type reconnectState struct {
	ch       contracts.Channel
	client   domain.ClientData
	attempts int
	timer    *time.Timer
}

// ReconnectService holds channels that are not open yet out of the registry
// and hands them over once the handshake completes.
type ReconnectService struct {
	cfg   *config.SessionConfig
	log   *slog.Logger
	ready func(ctx context.Context, ch contracts.Channel, client domain.ClientData)

	mu      sync.Mutex
	waiting map[string]*reconnectState // client id → state
}

func NewReconnectService(log *slog.Logger, cfg *config.SessionConfig) *ReconnectService {
	return &ReconnectService{
		log:     log,
		cfg:     cfg,
		waiting: make(map[string]*reconnectState),
	}
}

func (s *ReconnectService) OnReady(fn func(ctx context.Context, ch contracts.Channel, client domain.ClientData)) {
	s.ready = fn
}

func (s *ReconnectService) Begin(ctx context.Context, ch contracts.Channel, client domain.ClientData) {
	s.mu.Lock()
	if old, ok := s.waiting[client.ID]; ok {
		old.timer.Stop()
	}
	st := &reconnectState{ch: ch, client: client}
	st.timer = time.AfterFunc(s.cfg.ReconnectBaseDelay, func() { s.attempt(client.ID) })
	s.waiting[client.ID] = st
	s.mu.Unlock()

	s.log.InfoContext(ctx, "reconnect - begin - supervising handshake", "client_id", client.ID, "channel_state", ch.State().String())
}

func (s *ReconnectService) Cancel(clientID string) (contracts.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.waiting[clientID]
	if !ok {
		return nil, false
	}
	st.timer.Stop()
	delete(s.waiting, clientID)
	return st.ch, true
}

func (s *ReconnectService) Attempts(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.waiting[clientID]; ok {
		return st.attempts
	}
	return 0
}

func (s *ReconnectService) attempt(clientID string) {
	s.mu.Lock()
	st, ok := s.waiting[clientID]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.attempts++
	attempts := st.attempts

	switch st.ch.State() {
	case domain.StateOpen:
		delete(s.waiting, clientID)
		s.mu.Unlock()
		s.log.Info("reconnect - attempt - channel open, handing over", "client_id", clientID, "attempts", attempts)
		if s.ready != nil {
			s.ready(context.Background(), st.ch, st.client)
		}
		return
	case domain.StateClosing, domain.StateClosed:
		delete(s.waiting, clientID)
		s.mu.Unlock()
		s.log.Warn("reconnect - attempt - channel lost", "client_id", clientID, "attempts", attempts)
		return
	}

	if attempts >= s.cfg.MaxReconnectAttempts {
		delete(s.waiting, clientID)
		s.mu.Unlock()
		s.log.Error("reconnect - attempt - giving up", "client_id", clientID, "attempts", attempts)
		_ = st.ch.Close("handshake never completed")
		return
	}

	delay := s.cfg.ReconnectBaseDelay << attempts
	st.timer = time.AfterFunc(delay, func() { s.attempt(clientID) })
	s.mu.Unlock()

	s.log.Debug("reconnect - attempt - still connecting", "client_id", clientID, "attempt", attempts, "next_in", delay)
}
