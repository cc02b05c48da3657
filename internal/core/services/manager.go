package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"parley/internal/config"
	"parley/internal/core/contracts"
	"parley/internal/core/domain"
)

type IManagerService interface {
	// AddConnection attaches a channel to the session layer. Open channels
	// register immediately; channels still handshaking are parked with the
	// reconnect supervisor until they open.
	AddConnection(ctx context.Context, ch contracts.Channel, client domain.ClientData) error
	// RemoveConnection tears down everything the channel's client holds:
	// pending deliveries, queued images, reconnect supervision, presence
	// and the registry mapping, in that order. A channel that was already
	// superseded by a reconnect only unbinds itself. Safe to call twice.
	RemoveConnection(ctx context.Context, channelID string)
	// SendMessage pushes an envelope to the client and arms delivery
	// tracking. It reports failure instead of propagating transport errors.
	SendMessage(ctx context.Context, clientID string, env domain.Envelope) bool
	// ConfirmDelivery settles a pending delivery.
	ConfirmDelivery(ctx context.Context, clientID, messageID string) bool
	// UpdateActivity refreshes the session activity clock and restores
	// the session to alive. Ignored unless the client's channel is open.
	UpdateActivity(ctx context.Context, clientID string) bool
	// HandleInbound routes one raw frame from an authenticated client.
	HandleInbound(ctx context.Context, clientID string, raw []byte)
	// TerminateClient force-closes the channel and removes the connection.
	TerminateClient(ctx context.Context, clientID, reason string)
	// BroadcastStatus pushes a status envelope to every session.
	BroadcastStatus(ctx context.Context)
	Sessions() []domain.ClientSession
	// Shutdown closes every session.
	Shutdown(ctx context.Context)
}

var tracer = otel.Tracer("session-services")

type ManagerService struct {
	cfg       *config.SessionConfig
	registry  contracts.Registry
	delivery  IDeliveryService
	images    IImageService
	reconnect IReconnectService
	presence  contracts.PresenceStore
	processor contracts.MessageProcessor
	archive   domain.ArchiveRepository
	txManager contracts.TxManager
	log       *slog.Logger
}

func NewManagerService(
	log *slog.Logger,
	cfg *config.SessionConfig,
	registry contracts.Registry,
	delivery IDeliveryService,
	images IImageService,
	reconnect IReconnectService,
	presence contracts.PresenceStore,
	processor contracts.MessageProcessor,
	archive domain.ArchiveRepository,
	txManager contracts.TxManager,
) *ManagerService {
	m := &ManagerService{
		log:       log,
		cfg:       cfg,
		registry:  registry,
		delivery:  delivery,
		images:    images,
		reconnect: reconnect,
		presence:  presence,
		processor: processor,
		archive:   archive,
		txManager: txManager,
	}
	reconnect.OnReady(m.finishConnect)
	return m
}

func (m *ManagerService) AddConnection(ctx context.Context, ch contracts.Channel, client domain.ClientData) error {
	ctx, span := tracer.Start(ctx, "ManagerService.AddConnection", trace.WithAttributes(
		attribute.String("client_id", client.ID),
		attribute.String("channel_id", ch.ID()),
	))
	defer span.End()

	if client.ID == "" {
		err := errors.New("missing client id")
		span.RecordError(err)
		return err
	}

	switch ch.State() {
	case domain.StateOpen:
		return m.register(ctx, ch, client)
	case domain.StateConnecting:
		// Not registered yet: the supervisor polls the handshake and hands
		// the channel back once it opens.
		m.reconnect.Begin(ctx, ch, client)
		return nil
	default:
		span.RecordError(domain.ErrChannelNotOpen)
		m.log.WarnContext(ctx, "manager - add connection - channel not open",
			"client_id", client.ID, "state", ch.State().String())
		return domain.ErrChannelNotOpen
	}
}

func (m *ManagerService) register(ctx context.Context, ch contracts.Channel, client domain.ClientData) error {
	if _, err := m.registry.Register(ch, client); err != nil {
		m.log.ErrorContext(ctx, "manager - add connection - register failed", "client_id", client.ID, "err", err)
		return err
	}
	// Registration settles any handshake still being supervised.
	m.reconnect.Cancel(client.ID)
	if err := m.presence.CheckIn(ctx, client.ID, m.cfg.PresenceTTL); err != nil {
		m.log.WarnContext(ctx, "manager - add connection - presence check in failed", "client_id", client.ID, "err", err)
	}
	m.log.InfoContext(ctx, "manager - add connection - registered",
		"client_id", client.ID, "remote_addr", client.RemoteAddr, "total", m.registry.Count())
	return nil
}

// finishConnect is the reconnect supervisor's hand-over path.
func (m *ManagerService) finishConnect(ctx context.Context, ch contracts.Channel, client domain.ClientData) {
	if err := m.register(ctx, ch, client); err != nil {
		_ = ch.Close("registration failed")
	}
}

func (m *ManagerService) RemoveConnection(ctx context.Context, channelID string) {
	ctx, span := tracer.Start(ctx, "ManagerService.RemoveConnection", trace.WithAttributes(
		attribute.String("channel_id", channelID),
	))
	defer span.End()

	sess, ok := m.registry.SessionByChannel(channelID)
	if !ok {
		// Never registered, already removed, or superseded by a fresh
		// channel. A parked handshake dies with its channel on the
		// supervisor's next poll.
		m.registry.Unregister(channelID)
		return
	}
	clientID := sess.ID

	if _, ok := m.reconnect.Cancel(clientID); ok {
		m.log.InfoContext(ctx, "manager - remove connection - reconnect supervision dropped", "client_id", clientID)
	}
	dropped := m.delivery.CancelAll(clientID)
	queued := m.images.CancelAll(clientID)
	if err := m.presence.Remove(ctx, clientID); err != nil {
		m.log.WarnContext(ctx, "manager - remove connection - presence remove failed", "client_id", clientID, "err", err)
	}
	if ch, ok := m.registry.ChannelByClient(clientID); ok && ch.ID() == channelID {
		_ = ch.Close("connection removed")
	}
	// The registry mapping goes last so the cleanup above could still
	// resolve the channel.
	m.registry.Unregister(channelID)

	m.log.InfoContext(ctx, "manager - remove connection - done",
		"client_id", clientID, "deliveries_dropped", dropped, "images_dropped", queued,
		"messages", sess.MessageCount, "images", sess.ImageCount, "total", m.registry.Count())
}

func (m *ManagerService) SendMessage(ctx context.Context, clientID string, env domain.Envelope) bool {
	ctx, span := tracer.Start(ctx, "ManagerService.SendMessage", trace.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("type", env.Type),
	))
	defer span.End()

	ch, ok := m.registry.ChannelByClient(clientID)
	if !ok {
		span.SetStatus(codes.Error, "not registered")
		m.log.WarnContext(ctx, "manager - send message - no channel", "client_id", clientID, "type", env.Type)
		return false
	}
	if ch.State() != domain.StateOpen {
		m.log.WarnContext(ctx, "manager - send message - channel not open",
			"client_id", clientID, "type", env.Type, "state", ch.State().String())
		return false
	}
	if env.MessageID == "" {
		env.MessageID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	// Tracking starts before the write so a failed write still retries.
	m.delivery.Track(ctx, clientID, env)
	if err := ch.Send(ctx, env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		m.log.ErrorContext(ctx, "manager - send message - send failed", "client_id", clientID, "type", env.Type, "err", err)
		return false
	}
	return true
}

func (m *ManagerService) ConfirmDelivery(ctx context.Context, clientID, messageID string) bool {
	return m.delivery.Confirm(ctx, clientID, messageID)
}

func (m *ManagerService) UpdateActivity(ctx context.Context, clientID string) bool {
	if !m.registry.IsActive(clientID) {
		return false
	}
	return m.registry.Touch(clientID)
}

func (m *ManagerService) HandleInbound(ctx context.Context, clientID string, raw []byte) {
	ctx, span := tracer.Start(ctx, "ManagerService.HandleInbound", trace.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Int("payload_size", len(raw)),
	))
	defer span.End()

	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		span.RecordError(err)
		m.log.WarnContext(ctx, "manager - handle inbound - malformed envelope", "client_id", clientID, "err", err)
		m.pushError(ctx, clientID, "", "malformed envelope")
		return
	}
	span.SetAttributes(attribute.String("type", env.Type))
	m.UpdateActivity(ctx, clientID)

	switch env.Type {
	case domain.TypeConnect:
		m.handleConnect(ctx, clientID, env)
	case domain.TypeMessage:
		m.handleMessage(ctx, clientID, env)
	case domain.TypeConfirm:
		m.delivery.Confirm(ctx, clientID, env.MessageID)
	case domain.TypePing:
		pong := domain.NewEnvelope(domain.TypePong, clientID)
		pong.ReplyTo = env.MessageID
		m.SendMessage(ctx, clientID, pong)
	case domain.TypePong:
		m.registry.RecordPong(clientID)
		// A pong echoes the probe's message id, settling its delivery.
		if env.MessageID != "" {
			m.delivery.Confirm(ctx, clientID, env.MessageID)
		}
	case domain.TypeError:
		m.log.WarnContext(ctx, "manager - handle inbound - client reported error",
			"client_id", clientID, "err", env.Error, "reply_to", env.ReplyTo)
	case domain.TypeStatus:
		m.handleStatus(ctx, clientID, env)
	default:
		m.log.WarnContext(ctx, "manager - handle inbound - unknown type", "client_id", clientID, "type", env.Type)
		m.pushError(ctx, clientID, env.MessageID, "unknown message type")
	}
}

func (m *ManagerService) handleConnect(ctx context.Context, clientID string, env domain.Envelope) {
	confirm := domain.NewEnvelope(domain.TypeConnectConfirm, clientID)
	confirm.ReplyTo = env.MessageID
	if m.SendMessage(ctx, clientID, confirm) {
		m.log.InfoContext(ctx, "manager - handle connect - confirmed", "client_id", clientID)
	}
}

func (m *ManagerService) handleMessage(ctx context.Context, clientID string, env domain.Envelope) {
	m.registry.IncrMessage(clientID)
	m.archiveEntry(ctx, clientID, env.MessageID, domain.DirectionInbound, env.Type, env.Content)

	if env.Image != nil {
		job, err := m.images.Admit(ctx, clientID, env)
		if err != nil {
			reason := "image rejected"
			switch {
			case errors.Is(err, domain.ErrImageQueueFull):
				reason = "image queue full"
			case errors.Is(err, domain.ErrInvalidEnvelope):
				reason = "missing image data"
			}
			m.pushConfirm(ctx, clientID, env.MessageID, domain.ConfirmFailed, reason, "")
			return
		}
		m.pushConfirm(ctx, clientID, env.MessageID, domain.ConfirmReceived, "", job.ImageID)
		return
	}

	m.pushConfirm(ctx, clientID, env.MessageID, domain.ConfirmReceived, "", "")
	if env.Content == "" {
		return
	}
	// The processor round-trip is slow, keep it off the read path.
	go m.respond(context.WithoutCancel(ctx), clientID, env)
}

func (m *ManagerService) respond(ctx context.Context, clientID string, env domain.Envelope) {
	ctx, span := tracer.Start(ctx, "ManagerService.Respond", trace.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("message_id", env.MessageID),
	))
	defer span.End()

	reply, err := m.processor.Process(ctx, clientID, env.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processor failed")
		m.log.ErrorContext(ctx, "manager - respond - processor failed",
			"client_id", clientID, "message_id", env.MessageID, "err", err)
		m.pushError(ctx, clientID, env.MessageID, "processing failed")
		return
	}

	out := domain.NewEnvelope(domain.TypeResponse, clientID)
	out.Content = reply.Content
	out.ReplyTo = env.MessageID
	if !m.SendMessage(ctx, clientID, out) {
		return
	}
	m.archiveEntry(ctx, clientID, out.MessageID, domain.DirectionOutbound, out.Type, out.Content)
}

func (m *ManagerService) handleStatus(ctx context.Context, clientID string, env domain.Envelope) {
	sess, ok := m.registry.SessionByClient(clientID)
	if !ok {
		return
	}
	out := domain.NewEnvelope(domain.TypeStatus, clientID)
	out.ReplyTo = env.MessageID
	out.Stats = &domain.SessionStats{
		ActiveSessions: m.registry.Count(),
		ConnectedAt:    sess.ConnectedAt,
		LastActivity:   sess.LastActivity,
		Liveness:       string(sess.Liveness),
		Messages:       sess.MessageCount,
		Images:         sess.ImageCount,
		PendingJobs:    m.images.QueueDepth(clientID),
	}
	m.SendMessage(ctx, clientID, out)
}

func (m *ManagerService) BroadcastStatus(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "ManagerService.BroadcastStatus")
	defer span.End()

	sessions := m.registry.Sessions()
	span.SetAttributes(attribute.Int("sessions", len(sessions)))
	for _, sess := range sessions {
		out := domain.NewEnvelope(domain.TypeStatus, sess.ID)
		out.Stats = &domain.SessionStats{
			ActiveSessions: len(sessions),
			ConnectedAt:    sess.ConnectedAt,
			LastActivity:   sess.LastActivity,
			Liveness:       string(sess.Liveness),
			Messages:       sess.MessageCount,
			Images:         sess.ImageCount,
			PendingJobs:    m.images.QueueDepth(sess.ID),
		}
		m.SendMessage(ctx, sess.ID, out)
	}
}

func (m *ManagerService) Sessions() []domain.ClientSession {
	return m.registry.Sessions()
}

func (m *ManagerService) TerminateClient(ctx context.Context, clientID, reason string) {
	ctx, span := tracer.Start(ctx, "ManagerService.TerminateClient", trace.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("reason", reason),
	))
	defer span.End()

	m.log.WarnContext(ctx, "manager - terminate client - closing", "client_id", clientID, "reason", reason)
	if ch, ok := m.registry.ChannelByClient(clientID); ok {
		_ = ch.Close(reason)
		m.RemoveConnection(ctx, ch.ID())
		return
	}
	// Nothing registered; a parked handshake still gets force-closed.
	if ch, ok := m.reconnect.Cancel(clientID); ok {
		_ = ch.Close(reason)
	}
}

func (m *ManagerService) Shutdown(ctx context.Context) {
	for _, sess := range m.registry.Sessions() {
		m.TerminateClient(ctx, sess.ID, "server shutdown")
	}
	m.log.InfoContext(ctx, "manager - shutdown - all sessions closed")
}

func (m *ManagerService) pushConfirm(ctx context.Context, clientID, replyTo, status, errMsg, imageID string) {
	confirm := domain.NewEnvelope(domain.TypeConfirm, clientID)
	confirm.ReplyTo = replyTo
	confirm.Status = status
	confirm.Error = errMsg
	confirm.ImageID = imageID
	m.SendMessage(ctx, clientID, confirm)
}

func (m *ManagerService) pushError(ctx context.Context, clientID, replyTo, msg string) {
	env := domain.NewEnvelope(domain.TypeError, clientID)
	env.ReplyTo = replyTo
	env.Error = msg
	m.SendMessage(ctx, clientID, env)
}

func (m *ManagerService) archiveEntry(ctx context.Context, clientID, messageID, direction, msgType, content string) {
	entry := &domain.ArchiveEntry{
		ClientID:  clientID,
		MessageID: messageID,
		Direction: direction,
		Type:      msgType,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.txManager.WithTx(ctx, func(txCtx context.Context) error {
		seq, err := m.archive.SaveWithSequence(txCtx, entry)
		entry.Seq = seq
		return err
	}); err != nil {
		m.log.ErrorContext(ctx, "manager - archive - save failed", "client_id", clientID, "message_id", messageID, "err", err)
	}
}
