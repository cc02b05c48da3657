package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"parley/internal/config"
	"parley/internal/core/contracts"
	"parley/internal/core/domain"
)

type IDeliveryService interface {
	// Track arms the delivery timeout for an outbound envelope. Control
	// envelopes that never expect a confirmation are not tracked.
	Track(ctx context.Context, clientID string, env domain.Envelope)
	// Confirm settles a pending delivery. Reports false when nothing was
	// pending, so duplicate confirmations stay harmless.
	Confirm(ctx context.Context, clientID, messageID string) bool
	// CancelAll drops every pending delivery for a client and returns how
	// many were dropped. Called when the client goes away.
	CancelAll(clientID string) int
	PendingCount(clientID string) int
}

type pendingDelivery struct {
	clientID   string
	env        domain.Envelope
	retryCount int
	timer      *time.Timer
}

// DeliveryService retries unconfirmed envelopes with exponential backoff
// until the client confirms or the retries run out.
type DeliveryService struct {
	cfg      *config.SessionConfig
	registry contracts.Registry
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingDelivery // keyed client_id:message_id
}

func NewDeliveryService(
	log *slog.Logger,
	cfg *config.SessionConfig,
	registry contracts.Registry,
) *DeliveryService {
	return &DeliveryService{
		log:      log,
		cfg:      cfg,
		registry: registry,
		pending:  make(map[string]*pendingDelivery),
	}
}

func deliveryKey(clientID, messageID string) string {
	return clientID + ":" + messageID
}

func (s *DeliveryService) Track(ctx context.Context, clientID string, env domain.Envelope) {
	if domain.FireAndForget(env.Type) {
		return
	}
	_, span := tracer.Start(ctx, "DeliveryService.Track", trace.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("message_id", env.MessageID),
	))
	defer span.End()

	key := deliveryKey(clientID, env.MessageID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.pending[key]; ok {
		old.timer.Stop()
	}
	p := &pendingDelivery{clientID: clientID, env: env}
	p.timer = time.AfterFunc(s.cfg.MessageTimeout, func() { s.handleTimeout(key) })
	s.pending[key] = p
}

func (s *DeliveryService) Confirm(ctx context.Context, clientID, messageID string) bool {
	_, span := tracer.Start(ctx, "DeliveryService.Confirm", trace.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("message_id", messageID),
	))
	defer span.End()

	key := deliveryKey(clientID, messageID)

	s.mu.Lock()
	p, ok := s.pending[key]
	if ok {
		p.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if !ok {
		s.log.DebugContext(ctx, "delivery - confirm - nothing pending", "client_id", clientID, "message_id", messageID)
		return false
	}
	s.log.DebugContext(ctx, "delivery - confirm - settled", "client_id", clientID, "message_id", messageID, "retries", p.retryCount)
	return true
}

func (s *DeliveryService) CancelAll(clientID string) int {
	prefix := clientID + ":"

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, p := range s.pending {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			p.timer.Stop()
			delete(s.pending, key)
			n++
		}
	}
	if n > 0 {
		s.log.Info("delivery - cancel all - dropped pending", "client_id", clientID, "count", n)
	}
	return n
}

func (s *DeliveryService) PendingCount(clientID string) int {
	prefix := clientID + ":"

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.pending {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// handleTimeout fires when a tracked envelope went unconfirmed for the full
// window. The entry may have been confirmed or cancelled since the timer was
// armed, in which case this is a no-op.
func (s *DeliveryService) handleTimeout(key string) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	if p.retryCount >= s.cfg.MaxRetries {
		delete(s.pending, key)
		s.mu.Unlock()
		s.log.Error("delivery - timeout - gave up",
			"client_id", p.clientID, "message_id", p.env.MessageID, "retries", p.retryCount)
		s.reportFailure(p.clientID, p.env)
		return
	}
	delay := s.cfg.RetryBaseDelay << p.retryCount
	p.retryCount++
	p.timer = time.AfterFunc(delay, func() { s.resend(key) })
	retry := p.retryCount
	s.mu.Unlock()

	s.log.Warn("delivery - timeout - retry scheduled",
		"client_id", p.clientID, "message_id", p.env.MessageID, "retry", retry, "delay", delay)
}

// reportFailure tells the client a message was given up on, when a channel
// is still there to tell. The notice itself is fire-and-forget.
func (s *DeliveryService) reportFailure(clientID string, env domain.Envelope) {
	ch, ok := s.registry.ChannelByClient(clientID)
	if !ok || ch.State() != domain.StateOpen {
		return
	}
	fail := domain.NewEnvelope(domain.TypeError, clientID)
	fail.ReplyTo = env.MessageID
	fail.Error = "message delivery failed"
	if err := ch.Send(context.Background(), fail); err != nil {
		s.log.Warn("delivery - report failure - send failed", "client_id", clientID, "message_id", env.MessageID, "err", err)
	}
}

// resend pushes the envelope down the current channel for the client and
// re-arms the delivery timeout.
func (s *DeliveryService) resend(key string) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	clientID, env := p.clientID, p.env
	p.timer = time.AfterFunc(s.cfg.MessageTimeout, func() { s.handleTimeout(key) })
	s.mu.Unlock()

	ch, ok := s.registry.ChannelByClient(clientID)
	if !ok {
		s.log.Warn("delivery - resend - no channel", "client_id", clientID, "message_id", env.MessageID)
		return
	}
	if err := ch.Send(context.Background(), env); err != nil {
		s.log.Warn("delivery - resend - send failed", "client_id", clientID, "message_id", env.MessageID, "err", err)
	}
}
