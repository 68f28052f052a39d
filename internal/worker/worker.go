package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/mangalib-parser/internal/manga"
)

// Processor runs a single job to completion.
type Processor interface {
	Process(ctx context.Context, concurrencyLimit int, req manga.JobRequest) error
}

// Worker consumes queue items and hands them to a Processor.
type Worker struct {
	queue       manga.Queue
	processor   Processor
	concurrency int
	logger      *zap.Logger
}

// New constructs a Worker that processes every job with the given
// concurrency limit.
func New(queue manga.Queue, processor Processor, concurrency int, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:       queue,
		processor:   processor,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued job",
			zap.String("request_id", item.RequestID),
			zap.String("slug", item.Request.Slug),
		)
		if err := w.processor.Process(ctx, w.concurrency, item.Request); err != nil {
			// The orchestrator already logged the failure with full context.
			w.logger.Debug("job returned error", zap.String("request_id", item.RequestID), zap.Error(err))
		}
	}
}
