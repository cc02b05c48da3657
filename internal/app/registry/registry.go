package registry

import (
	"sync"
	"time"

	"parley/internal/core/contracts"
	"parley/internal/core/domain"
)

type entry struct {
	ch      contracts.Channel
	session *domain.ClientSession
}

// Registry keeps the channel and client mappings consistent under one lock.
type Registry struct {
	mu        sync.RWMutex
	byChannel map[string]*entry // channel id → entry
	byClient  map[string]*entry // client id → same entry
}

func NewRegistry() *Registry {
	return &Registry{
		byChannel: make(map[string]*entry),
		byClient:  make(map[string]*entry),
	}
}

func (r *Registry) Register(ch contracts.Channel, client domain.ClientData) (domain.ClientSession, error) {
	if s := ch.State(); s != domain.StateConnecting && s != domain.StateOpen {
		return domain.ClientSession{}, domain.ErrChannelNotOpen
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A client reconnecting on a fresh channel supersedes the old mapping.
	// The stale channel keeps running until its own close path unregisters.
	if old, ok := r.byClient[client.ID]; ok {
		delete(r.byChannel, old.ch.ID())
	}

	now := time.Now().UTC()
	e := &entry{
		ch: ch,
		session: &domain.ClientSession{
			ID:           client.ID,
			RemoteAddr:   client.RemoteAddr,
			ConnectedAt:  now,
			LastActivity: now,
			Liveness:     domain.LivenessAlive,
		},
	}
	r.byChannel[ch.ID()] = e
	r.byClient[client.ID] = e
	return *e.session, nil
}

func (r *Registry) Unregister(channelID string) (domain.ClientSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byChannel[channelID]
	if !ok {
		return domain.ClientSession{}, false
	}
	delete(r.byChannel, channelID)
	// Drop the client mapping only if it still points at this channel. A
	// reconnect may have replaced it already.
	if cur, ok := r.byClient[e.session.ID]; ok && cur == e {
		delete(r.byClient, e.session.ID)
	}
	return *e.session, true
}

func (r *Registry) SessionByChannel(channelID string) (domain.ClientSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byChannel[channelID]
	if !ok {
		return domain.ClientSession{}, false
	}
	return *e.session, true
}

func (r *Registry) SessionByClient(clientID string) (domain.ClientSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byClient[clientID]
	if !ok {
		return domain.ClientSession{}, false
	}
	return *e.session, true
}

func (r *Registry) ChannelByClient(clientID string) (contracts.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byClient[clientID]
	if !ok {
		return nil, false
	}
	return e.ch, true
}

func (r *Registry) IsActive(clientID string) bool {
	r.mu.RLock()
	e, ok := r.byClient[clientID]
	r.mu.RUnlock()
	return ok && e.ch.State() == domain.StateOpen
}

func (r *Registry) Sessions() []domain.ClientSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ClientSession, 0, len(r.byClient))
	for _, e := range r.byClient {
		out = append(out, *e.session)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byClient)
}

func (r *Registry) Touch(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byClient[clientID]
	if !ok {
		return false
	}
	// Inbound activity is proof of life, same as a pong.
	e.session.LastActivity = time.Now().UTC()
	e.session.Liveness = domain.LivenessAlive
	return true
}

func (r *Registry) RecordPong(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byClient[clientID]
	if !ok {
		return false
	}
	now := time.Now().UTC()
	e.session.LastPongAt = now
	e.session.LastActivity = now
	e.session.Liveness = domain.LivenessAlive
	return true
}

func (r *Registry) MarkSuspect(clientID string) (domain.Liveness, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byClient[clientID]
	if !ok {
		return "", false
	}
	prev := e.session.Liveness
	e.session.Liveness = domain.LivenessSuspect
	return prev, true
}

func (r *Registry) IncrMessage(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byClient[clientID]; ok {
		e.session.MessageCount++
	}
}

func (r *Registry) IncrImage(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byClient[clientID]; ok {
		e.session.ImageCount++
	}
}
