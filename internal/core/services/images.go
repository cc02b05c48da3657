package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"parley/internal/config"
	"parley/internal/core/contracts"
	"parley/internal/core/domain"
)

type IImageService interface {
	// Admit accepts an image for analysis, arms the processing deadline and
	// publishes the job to the worker stream. Rejects once the per-client
	// queue is full.
	Admit(ctx context.Context, clientID string, env domain.Envelope) (domain.ImageJob, error)
	// MarkProcessing records that a worker picked the job up. The deadline
	// keeps running; it covers the whole processing window.
	MarkProcessing(ctx context.Context, clientID, imageID string) bool
	// ResolveAnalyzed settles the job and pushes the description to the
	// client. A job that already timed out is reported as false and the
	// late result is discarded.
	ResolveAnalyzed(ctx context.Context, clientID, imageID, description string) bool
	// ResolveFailed settles the job and tells the client the analysis
	// failed.
	ResolveFailed(ctx context.Context, clientID, imageID, reason string) bool
	// CancelAll drops every queued job for a client.
	CancelAll(clientID string) int
	QueueDepth(clientID string) int
}

type queuedImage struct {
	job   domain.ImageJob
	timer *time.Timer
}

// ImageService bounds how much analysis work one client can have in flight
// and guarantees every admitted job terminates, by result or by deadline.
type ImageService struct {
	cfg      *config.SessionConfig
	stream   string
	registry contracts.Registry
	delivery IDeliveryService
	queue    contracts.JobQueue
	log      *slog.Logger

	mu     sync.Mutex
	queued map[string]map[string]*queuedImage // client id → image id → job
}

func NewImageService(
	log *slog.Logger,
	cfg *config.SessionConfig,
	worker *config.WorkerConfig,
	registry contracts.Registry,
	delivery IDeliveryService,
	queue contracts.JobQueue,
) *ImageService {
	return &ImageService{
		log:      log,
		cfg:      cfg,
		stream:   worker.ImageStream,
		registry: registry,
		delivery: delivery,
		queue:    queue,
		queued:   make(map[string]map[string]*queuedImage),
	}
}

func (s *ImageService) Admit(ctx context.Context, clientID string, env domain.Envelope) (domain.ImageJob, error) {
	ctx, span := tracer.Start(ctx, "ImageService.Admit", trace.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("message_id", env.MessageID),
	))
	defer span.End()

	if env.Image == nil || len(env.Image.Data) == 0 {
		span.RecordError(domain.ErrInvalidEnvelope)
		return domain.ImageJob{}, domain.ErrInvalidEnvelope
	}

	imageID := env.Image.ID
	if imageID == "" {
		imageID = uuid.NewString()
	}
	job := domain.ImageJob{
		ImageID:    imageID,
		ClientID:   clientID,
		MessageID:  env.MessageID,
		Mime:       env.Image.Mime,
		Data:       env.Image.Data,
		Status:     domain.ImageReceived,
		ReceivedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	perClient := s.queued[clientID]
	if len(perClient) >= s.cfg.MaxImageQueueSize {
		s.mu.Unlock()
		span.SetStatus(codes.Error, "queue full")
		s.log.WarnContext(ctx, "images - admit - queue full", "client_id", clientID, "depth", s.cfg.MaxImageQueueSize)
		return domain.ImageJob{}, domain.ErrImageQueueFull
	}
	if perClient == nil {
		perClient = make(map[string]*queuedImage)
		s.queued[clientID] = perClient
	}
	q := &queuedImage{job: job}
	q.timer = time.AfterFunc(s.cfg.ImageProcessingTimeout, func() { s.handleTimeout(clientID, imageID) })
	perClient[imageID] = q
	s.mu.Unlock()

	payload, err := json.Marshal(job)
	if err == nil {
		err = s.queue.PublishToStream(ctx, s.stream, payload)
	}
	if err != nil {
		// The job never reached a worker, take it back out.
		s.drop(clientID, imageID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		s.log.ErrorContext(ctx, "images - admit - publish to stream failed", "client_id", clientID, "image_id", imageID, "err", err)
		return domain.ImageJob{}, err
	}

	s.registry.IncrImage(clientID)
	s.log.InfoContext(ctx, "images - admit - queued", "client_id", clientID, "image_id", imageID, "bytes", len(job.Data))
	return job, nil
}

func (s *ImageService) MarkProcessing(ctx context.Context, clientID, imageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queued[clientID][imageID]
	if !ok {
		return false
	}
	q.job.Status = domain.ImageProcessing
	return true
}

func (s *ImageService) ResolveAnalyzed(ctx context.Context, clientID, imageID, description string) bool {
	job, ok := s.take(clientID, imageID)
	if !ok {
		s.log.WarnContext(ctx, "images - resolve analyzed - job already settled", "client_id", clientID, "image_id", imageID)
		return false
	}

	env := domain.NewEnvelope(domain.TypeImageStatus, clientID)
	env.Status = domain.ImageAnalyzed
	env.ImageID = imageID
	env.Description = description
	env.ReplyTo = job.MessageID
	s.push(ctx, clientID, env)

	s.log.InfoContext(ctx, "images - resolve analyzed - delivered", "client_id", clientID, "image_id", imageID)
	return true
}

func (s *ImageService) ResolveFailed(ctx context.Context, clientID, imageID, reason string) bool {
	job, ok := s.take(clientID, imageID)
	if !ok {
		return false
	}

	env := domain.NewEnvelope(domain.TypeConfirm, clientID)
	env.Status = domain.ConfirmFailed
	env.ImageID = imageID
	env.Error = reason
	env.ReplyTo = job.MessageID
	s.push(ctx, clientID, env)

	s.log.WarnContext(ctx, "images - resolve failed - reported", "client_id", clientID, "image_id", imageID, "reason", reason)
	return true
}

func (s *ImageService) CancelAll(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	perClient := s.queued[clientID]
	for _, q := range perClient {
		q.timer.Stop()
	}
	delete(s.queued, clientID)
	if n := len(perClient); n > 0 {
		s.log.Info("images - cancel all - dropped queued jobs", "client_id", clientID, "count", n)
		return n
	}
	return 0
}

func (s *ImageService) QueueDepth(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued[clientID])
}

// take removes a live job, stopping its deadline.
func (s *ImageService) take(clientID, imageID string) (domain.ImageJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queued[clientID][imageID]
	if !ok {
		return domain.ImageJob{}, false
	}
	q.timer.Stop()
	s.removeLocked(clientID, imageID)
	return q.job, true
}

func (s *ImageService) drop(clientID, imageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queued[clientID][imageID]; ok {
		q.timer.Stop()
		s.removeLocked(clientID, imageID)
	}
}

func (s *ImageService) removeLocked(clientID, imageID string) {
	delete(s.queued[clientID], imageID)
	if len(s.queued[clientID]) == 0 {
		delete(s.queued, clientID)
	}
}

// handleTimeout fires when a job sat in the queue past the processing
// deadline. A worker result that lands later finds the job gone.
func (s *ImageService) handleTimeout(clientID, imageID string) {
	s.mu.Lock()
	q, ok := s.queued[clientID][imageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	q.job.Status = domain.ImageFailed
	job := q.job
	s.removeLocked(clientID, imageID)
	s.mu.Unlock()

	s.log.Warn("images - timeout - job expired", "client_id", clientID, "image_id", imageID, "waited", s.cfg.ImageProcessingTimeout)

	env := domain.NewEnvelope(domain.TypeConfirm, clientID)
	env.Status = domain.ConfirmFailed
	env.ImageID = imageID
	env.Error = "image processing timeout"
	env.ReplyTo = job.MessageID
	s.push(context.Background(), clientID, env)
}

// push sends an envelope to the client's current channel, arming delivery
// tracking for anything that expects a confirmation.
func (s *ImageService) push(ctx context.Context, clientID string, env domain.Envelope) {
	ch, ok := s.registry.ChannelByClient(clientID)
	if !ok {
		s.log.Warn("images - push - no channel", "client_id", clientID, "type", env.Type)
		return
	}
	// Track first so a failed write still gets retried.
	s.delivery.Track(ctx, clientID, env)
	if err := ch.Send(ctx, env); err != nil {
		s.log.Warn("images - push - send failed", "client_id", clientID, "type", env.Type, "err", err)
	}
}
