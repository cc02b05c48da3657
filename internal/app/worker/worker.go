package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"parley/internal/core/contracts"
	"parley/internal/core/domain"
	"parley/internal/core/services"
	"parley/pkg/logging"
)

// ImageWorker drains the image job stream: analyze, resolve, acknowledge,
// delete. A job whose client already gave up (timeout or disconnect) is
// skipped without calling the analyzer.
type ImageWorker struct {
	log      *slog.Logger
	queue    contracts.JobQueue
	images   services.IImageService
	analyzer contracts.ImageAnalyzer
	stream   string
	group    string
}

func NewImageWorker(
	log *slog.Logger,
	queue contracts.JobQueue,
	images services.IImageService,
	analyzer contracts.ImageAnalyzer,
	stream string,
	group string,
) contracts.AsyncWorker {
	return &ImageWorker{
		log:      log,
		queue:    queue,
		images:   images,
		analyzer: analyzer,
		stream:   stream,
		group:    group,
	}
}

func (w *ImageWorker) Run(ctx context.Context) error {
	if err := w.queue.SubscribeToStream(ctx, w.stream, w.group, w.ProcessJob); err != nil {
		return err
	}
	w.log.InfoContext(ctx, "worker - run - subscribed to stream", "topic", w.stream, "group", w.group)
	return nil
}

func (w *ImageWorker) ProcessJob(
	ctx context.Context,
	entryID string,
	raw []byte,
) error {
	var job domain.ImageJob
	if err := json.Unmarshal(raw, &job); err != nil {
		// Poison entry: acknowledge it away or it redelivers forever.
		w.log.Error("worker - process job - undecodable payload", "entry_id", entryID, logging.Err(err))
		w.settle(ctx, entryID)
		return nil
	}

	if !w.images.MarkProcessing(ctx, job.ClientID, job.ImageID) {
		w.log.InfoContext(ctx, "worker - process job - job already settled, skipping",
			logging.Client(job.ClientID), logging.Image(job.ImageID))
		w.settle(ctx, entryID)
		return nil
	}

	description, err := w.analyzer.Analyze(ctx, job)
	if err != nil {
		w.log.ErrorContext(ctx, "worker - process job - analyze failed",
			logging.Client(job.ClientID), logging.Image(job.ImageID), logging.Err(err))
		w.images.ResolveFailed(ctx, job.ClientID, job.ImageID, "image analysis failed")
		w.settle(ctx, entryID)
		return nil
	}

	w.images.ResolveAnalyzed(ctx, job.ClientID, job.ImageID, description)
	w.log.InfoContext(ctx, "worker - process job - analyzed",
		logging.Client(job.ClientID), logging.Image(job.ImageID))
	w.settle(ctx, entryID)
	return nil
}

// settle acknowledges the entry (XACK) and trims it from the stream (XDEL).
func (w *ImageWorker) settle(ctx context.Context, entryID string) {
	if err := w.queue.AcknowledgeMessage(ctx, w.stream, w.group, entryID); err != nil {
		w.log.ErrorContext(ctx, "worker - settle - acknowledge failed", "entry_id", entryID, logging.Err(err))
		return
	}
	if err := w.queue.DeleteMessage(ctx, w.stream, entryID); err != nil {
		// Already acknowledged, the entry is just not trimmed yet.
		w.log.WarnContext(ctx, "worker - settle - delete failed", "entry_id", entryID, logging.Err(err))
	}
}
