// Package dispatcher manages worker fan-out over the ingress job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/mangalib-parser/internal/manga"
	"github.com/JakeFAU/mangalib-parser/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   manga.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue manga.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// NewPool builds n workers sharing one queue and processor.
func NewPool(queue manga.Queue, processor worker.Processor, n, concurrency int, logger *zap.Logger) *Dispatcher {
	if n < 1 {
		n = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := make([]*worker.Worker, 0, n)
	for i := 0; i < n; i++ {
		workers = append(workers, worker.New(queue, processor, concurrency, logger.With(zap.Int("worker", i))))
	}
	return New(queue, workers)
}

// Run starts all workers and blocks until the context finishes and every
// in-flight job has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item manga.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
