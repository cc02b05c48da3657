package services

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"parley/internal/config"
	"parley/internal/core/contracts"
	"parley/internal/core/domain"
)

type IHeartbeatService interface {
	// Run drives the probe loop until the context ends.
	Run(ctx context.Context) error
	// Sweep performs one probe pass over every session.
	Sweep(ctx context.Context)
	// OnTerminate installs the cleanup hook invoked when a session misses
	// two probe windows in a row.
	OnTerminate(fn func(ctx context.Context, clientID, reason string))
}

// HeartbeatService watches session activity. A session idle past the
// timeout gets one probe and turns suspect; still idle on the next pass,
// it is terminated. A pong restores it to alive.
type HeartbeatService struct {
	cfg       *config.SessionConfig
	registry  contracts.Registry
	delivery  IDeliveryService
	presence  contracts.PresenceStore
	log       *slog.Logger
	terminate func(ctx context.Context, clientID, reason string)
}

func NewHeartbeatService(
	log *slog.Logger,
	cfg *config.SessionConfig,
	registry contracts.Registry,
	delivery IDeliveryService,
	presence contracts.PresenceStore,
) *HeartbeatService {
	return &HeartbeatService{
		log:      log,
		cfg:      cfg,
		registry: registry,
		delivery: delivery,
		presence: presence,
	}
}

func (s *HeartbeatService) OnTerminate(fn func(ctx context.Context, clientID, reason string)) {
	s.terminate = fn
}

func (s *HeartbeatService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("heartbeat - run - stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *HeartbeatService) Sweep(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "HeartbeatService.Sweep")
	defer span.End()

	now := time.Now().UTC()
	sessions := s.registry.Sessions()
	span.SetAttributes(attribute.Int("sessions", len(sessions)))

	for _, sess := range sessions {
		idle := now.Sub(sess.LastActivity)
		if idle <= s.cfg.HeartbeatTimeout {
			s.checkIn(ctx, sess.ID)
			continue
		}

		prev, ok := s.registry.MarkSuspect(sess.ID)
		if !ok {
			// Unregistered between the snapshot and now.
			continue
		}
		if prev == domain.LivenessSuspect {
			span.SetStatus(codes.Error, "session dead")
			s.log.WarnContext(ctx, "heartbeat - sweep - second miss, terminating",
				"client_id", sess.ID, "idle", idle)
			if s.terminate != nil {
				s.terminate(ctx, sess.ID, "heartbeat timeout")
			}
			continue
		}

		s.log.InfoContext(ctx, "heartbeat - sweep - probing idle session", "client_id", sess.ID, "idle", idle)
		s.probe(ctx, sess.ID)
	}
}

// probe sends a tracked ping. The client settles it with a pong carrying
// the same message id, which also restores liveness.
func (s *HeartbeatService) probe(ctx context.Context, clientID string) {
	ch, ok := s.registry.ChannelByClient(clientID)
	if !ok {
		return
	}
	env := domain.NewEnvelope(domain.TypePing, clientID)
	// Track first so a failed write still gets retried.
	s.delivery.Track(ctx, clientID, env)
	if err := ch.Send(ctx, env); err != nil {
		s.log.WarnContext(ctx, "heartbeat - probe - send failed", "client_id", clientID, "err", err)
	}
}

func (s *HeartbeatService) checkIn(ctx context.Context, clientID string) {
	if err := s.presence.CheckIn(ctx, clientID, s.cfg.PresenceTTL); err != nil {
		s.log.WarnContext(ctx, "heartbeat - check in - presence update failed", "client_id", clientID, "err", err)
	}
}
