package rabbitmq

import (
	"context"
	"testing"
	"time"

	"clip-worker/config"
	"clip-worker/constant"
	"clip-worker/dto"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func setupQueue(t *testing.T) (*Queue, *amqp.Connection, *config.RabbitMQ) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	rmqContainer, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rmqContainer.Terminate(context.Background()) })

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	conn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	cfg := &config.RabbitMQ{
		ExchangeName: "clip_exchange_test",
		Kind:         "direct",
		QueueName:    "clip_jobs_test",
		Prefetch:     2,
	}
	q, err := NewQueue(ctx, conn, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, conn, cfg
}

func TestQueueRoundTripAndRequeue(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	item := dto.WorkItem{
		JobId:     uuid.New(),
		SourceRef: "https://example.com/v",
		Intent:    "highlights",
		Kind:      constant.JobKindExtract,
	}
	require.NoError(t, q.Enqueue(ctx, item))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, item, d.Item())
	assert.Equal(t, 1, d.Attempt())

	require.NoError(t, d.Fail(ctx, true))

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, item.JobId, again.Item().JobId)
	assert.Equal(t, 2, again.Attempt())
	require.NoError(t, again.Ack(ctx))
}

func TestQueueFailWithoutRequeueDeadLetters(t *testing.T) {
	q, conn, cfg := setupQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	item := dto.WorkItem{JobId: uuid.New(), SourceRef: "https://example.com/v", Kind: constant.JobKindGenerate}
	require.NoError(t, q.Enqueue(ctx, item))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Fail(ctx, false))

	require.Eventually(t, func() bool {
		items, err := q.DeadLetters(ctx)
		return err == nil && len(items) == 1 && items[0].JobId == item.JobId
	}, 10*time.Second, 100*time.Millisecond)
	// Listing leaves the dead letters in place.
	items, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	require.Eventually(t, func() bool {
		msg, ok, err := ch.Get(dlqName(cfg), true)
		return err == nil && ok && msg.MessageId == item.JobId.String()
	}, 10*time.Second, 100*time.Millisecond)
}

func TestQueueReleaseKeepsAttempt(t *testing.T) {
	q, _, _ := setupQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	item := dto.WorkItem{JobId: uuid.New(), SourceRef: "https://example.com/v", Kind: constant.JobKindExtract}
	require.NoError(t, q.Enqueue(ctx, item))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Release(ctx))

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, item.JobId, again.Item().JobId)
	assert.Equal(t, 1, again.Attempt())
	require.NoError(t, again.Ack(ctx))
}
