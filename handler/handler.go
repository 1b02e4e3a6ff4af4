package handler

import (
	"context"
	"errors"
	"time"

	"clip-worker/dto"
	"clip-worker/metrics"
	"clip-worker/queue"
	"clip-worker/service"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type JobExecutor interface {
	Execute(ctx context.Context, item dto.WorkItem) error
	Abandon(ctx context.Context, jobID uuid.UUID, deliveries int) error
}

const (
	DefaultRequeueDelay    = 2 * time.Second
	DefaultRequeueDelayMax = time.Minute
)

// WorkHandler settles each delivery according to how execution ended.
type WorkHandler struct {
	executor      JobExecutor
	maxDeliveries int
	delay         time.Duration
	delayMax      time.Duration
}

type Option func(*WorkHandler)

// WithRequeueDelay sets the pause before an item that hit an infrastructure
// error is requeued. The pause doubles per delivery up to maxDelay.
func WithRequeueDelay(initial, maxDelay time.Duration) Option {
	return func(h *WorkHandler) {
		if initial > 0 {
			h.delay = initial
		}
		if maxDelay > 0 {
			h.delayMax = maxDelay
		}
	}
}

func NewWorkHandler(executor JobExecutor, maxDeliveries int, opts ...Option) *WorkHandler {
	h := &WorkHandler{
		executor:      executor,
		maxDeliveries: maxDeliveries,
		delay:         DefaultRequeueDelay,
		delayMax:      DefaultRequeueDelayMax,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.delayMax < h.delay {
		h.delayMax = h.delay
	}
	return h
}

func (h *WorkHandler) Handle(ctx context.Context, d queue.Delivery) {
	item := d.Item()
	logger := zerolog.Ctx(ctx).With().
		Str("job_id", item.JobId.String()).
		Int("attempt", d.Attempt()).
		Logger()
	ctx = logger.WithContext(ctx)
	// Settling must still reach the broker after shutdown starts.
	settleCtx := context.WithoutCancel(ctx)

	if h.maxDeliveries > 0 && d.Attempt() > h.maxDeliveries {
		h.giveUp(ctx, settleCtx, d)
		return
	}

	err := h.executor.Execute(ctx, item)
	switch {
	case err == nil:
		h.ack(settleCtx, d)
	case errors.Is(err, service.ErrConsistency):
		metrics.ConsistencyNoopsTotal.Inc()
		logger.Warn().Err(err).Msg("stale work item acknowledged")
		h.ack(settleCtx, d)
	case ctx.Err() != nil:
		logger.Info().Err(err).Msg("work item released for redelivery on shutdown")
		h.release(settleCtx, d)
	default:
		logger.Error().Err(err).Msg("failed to handle work item, requeueing")
		h.requeueLater(ctx, settleCtx, d)
	}
}

func (h *WorkHandler) giveUp(ctx, settleCtx context.Context, d queue.Delivery) {
	logger := zerolog.Ctx(ctx)
	err := h.executor.Abandon(ctx, d.Item().JobId, d.Attempt()-1)
	switch {
	case err == nil:
		logger.Warn().Msg("delivery budget exhausted, job failed")
		h.ack(settleCtx, d)
	case errors.Is(err, service.ErrConsistency):
		metrics.ConsistencyNoopsTotal.Inc()
		h.ack(settleCtx, d)
	case ctx.Err() != nil:
		h.release(settleCtx, d)
	default:
		// The job is still open, so its work item must stay queued until the
		// store accepts the failure.
		logger.Error().Err(err).Msg("failed to abandon job, requeueing")
		h.requeueLater(ctx, settleCtx, d)
	}
}

// requeueDelay grows exponentially with the delivery attempt.
func (h *WorkHandler) requeueDelay(attempt int) time.Duration {
	bo := &backoff.ExponentialBackOff{
		InitialInterval: h.delay,
		Multiplier:      2,
		MaxInterval:     h.delayMax,
	}
	bo.Reset()
	delay := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

// requeueLater holds the item for the backoff delay, then requeues it. A
// shutdown during the wait releases it without spending a delivery.
func (h *WorkHandler) requeueLater(ctx, settleCtx context.Context, d queue.Delivery) {
	delay := h.requeueDelay(d.Attempt())
	zerolog.Ctx(ctx).Info().Dur("delay", delay).Msg("backoff before requeue")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		h.requeue(settleCtx, d)
	case <-ctx.Done():
		h.release(settleCtx, d)
	}
}

func (h *WorkHandler) release(ctx context.Context, d queue.Delivery) {
	if err := d.Release(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to release message")
	}
}

func (h *WorkHandler) ack(ctx context.Context, d queue.Delivery) {
	if err := d.Ack(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to acknowledge message")
	}
}

func (h *WorkHandler) requeue(ctx context.Context, d queue.Delivery) {
	if err := d.Fail(ctx, true); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to requeue message")
	}
}
