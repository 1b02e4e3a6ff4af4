package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"clip-worker/metrics"
	"clip-worker/queue"

	"github.com/rs/zerolog"
)

type Handler interface {
	Handle(ctx context.Context, d queue.Delivery)
}

// Pool runs a fixed number of workers, each handling one delivery at a time.
type Pool struct {
	queue   queue.Queue
	handler Handler
	size    int
	// retryDelay is the pause after a failed Dequeue.
	retryDelay time.Duration
}

func NewPool(q queue.Queue, h Handler, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{queue: q, handler: h, size: size, retryDelay: time.Second}
}

// Run blocks until ctx is done or the queue is closed, then waits for the
// in-flight deliveries to be settled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 1; i <= p.size; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			logger := zerolog.Ctx(ctx).With().Int("worker_id", workerId).Logger()
			p.loop(logger.WithContext(ctx))
		}(i)
	}
	zerolog.Ctx(ctx).Info().Int("workers", p.size).Msg("worker pool started")
	wg.Wait()
	zerolog.Ctx(ctx).Info().Msg("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context) {
	for {
		d, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to dequeue work item")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
			continue
		}

		metrics.ActiveWorkers.Inc()
		p.handler.Handle(ctx, d)
		metrics.ActiveWorkers.Dec()
	}
}
