package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"clip-worker/config"
	"clip-worker/dto"
	"clip-worker/queue"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	routingKey    = "clip.job"
	dlqRoutingKey = "dlq.clip.job"
	attemptHeader = "x-attempt"
)

// Queue is a queue.Queue over one durable RabbitMQ queue with a dead-letter
// exchange. Unacked deliveries return to the queue when the channel closes.
type Queue struct {
	conn *amqp.Connection
	cfg  *config.RabbitMQ

	pubMu sync.Mutex
	pub   *amqp.Channel

	consMu     sync.Mutex
	cons       *amqp.Channel
	deliveries <-chan amqp.Delivery
}

var (
	_ queue.Queue            = (*Queue)(nil)
	_ queue.DeadLetterReader = (*Queue)(nil)
)

func NewQueue(ctx context.Context, conn *amqp.Connection, cfg *config.RabbitMQ) (*Queue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declare(ctx, ch, cfg); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &Queue{conn: conn, cfg: cfg, pub: ch}, nil
}

func dlxName(cfg *config.RabbitMQ) string { return cfg.ExchangeName + "_dlx" }

func dlqName(cfg *config.RabbitMQ) string { return cfg.QueueName + "_dlq" }

func declare(ctx context.Context, ch *amqp.Channel, cfg *config.RabbitMQ) error {
	err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.Kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", cfg.ExchangeName).Msg("failed to declare exchange")
		return err
	}

	err = ch.ExchangeDeclare(dlxName(cfg), cfg.Kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", dlxName(cfg)).Msg("failed to declare dlx")
		return err
	}

	dlq, err := ch.QueueDeclare(dlqName(cfg), true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", dlqName(cfg)).Msg("failed to declare dlq")
		return err
	}

	err = ch.QueueBind(dlq.Name, dlqRoutingKey, dlxName(cfg), false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxName(cfg),
		"x-dead-letter-routing-key": dlqRoutingKey,
	}
	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, args)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", cfg.QueueName).Msg("failed to declare queue")
		return err
	}

	err = ch.QueueBind(q.Name, routingKey, cfg.ExchangeName, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", cfg.QueueName).Msg("failed to bind queue")
		return err
	}
	return nil
}

func (q *Queue) Enqueue(ctx context.Context, item dto.WorkItem) error {
	return q.publish(ctx, item, 1)
}

func (q *Queue) publish(ctx context.Context, item dto.WorkItem, attempt int) error {
	body, err := json.Marshal(item)
	if err != nil {
		return err
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pub.PublishWithContext(ctx, q.cfg.ExchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    item.JobId.String(),
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish work item: %w", err)
	}
	return nil
}

// consume opens the consumer channel on first use so a process that only
// publishes never holds prefetched deliveries.
func (q *Queue) consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	q.consMu.Lock()
	defer q.consMu.Unlock()

	if q.deliveries != nil {
		return q.deliveries, nil
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return nil, err
	}
	prefetch := q.cfg.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", q.cfg.QueueName).Msg("failed to set QoS")
		_ = ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(q.cfg.QueueName, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", q.cfg.QueueName).Msg("failed to consume queue")
		_ = ch.Close()
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", q.cfg.QueueName).
		Str("exchange", q.cfg.ExchangeName).
		Str("routing_key", routingKey).
		Int("prefetch", prefetch).
		Msg("work item consumer started")

	q.cons = ch
	q.deliveries = deliveries
	return deliveries, nil
}

func (q *Queue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	deliveries, err := q.consume(ctx)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return nil, queue.ErrClosed
			}
			var item dto.WorkItem
			if err := json.Unmarshal(msg.Body, &item); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("message_id", msg.MessageId).Msg("dead-lettering undecodable work item")
				if nackErr := msg.Nack(false, false); nackErr != nil {
					zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
				}
				continue
			}
			return &delivery{q: q, msg: msg, item: item, attempt: attemptOf(msg)}, nil
		}
	}
}

// DeadLetters lists the dead-letter queue. Messages are fetched unacked on a
// private channel and go back to the queue when it closes.
func (q *Queue) DeadLetters(ctx context.Context) ([]dto.WorkItem, error) {
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	var items []dto.WorkItem
	for {
		msg, ok, err := ch.Get(dlqName(q.cfg), false)
		if err != nil {
			return nil, fmt.Errorf("read dead letters: %w", err)
		}
		if !ok {
			return items, nil
		}
		var item dto.WorkItem
		if err := json.Unmarshal(msg.Body, &item); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("message_id", msg.MessageId).Msg("skipping undecodable dead letter")
			continue
		}
		items = append(items, item)
	}
}

func (q *Queue) Close() error {
	var errs []error
	q.consMu.Lock()
	if q.cons != nil {
		errs = append(errs, q.cons.Close())
		q.cons = nil
	}
	q.consMu.Unlock()

	q.pubMu.Lock()
	errs = append(errs, q.pub.Close())
	q.pubMu.Unlock()
	return errors.Join(errs...)
}

// attemptOf reads the attempt header. A broker redelivery after a lost
// consumer counts as a further attempt.
func attemptOf(msg amqp.Delivery) int {
	attempt := 1
	switch v := msg.Headers[attemptHeader].(type) {
	case int32:
		attempt = int(v)
	case int64:
		attempt = int(v)
	case int:
		attempt = v
	}
	if msg.Redelivered {
		attempt++
	}
	return attempt
}

type delivery struct {
	q       *Queue
	msg     amqp.Delivery
	item    dto.WorkItem
	attempt int
}

func (d *delivery) Item() dto.WorkItem { return d.item }

func (d *delivery) Attempt() int { return d.attempt }

func (d *delivery) Ack(_ context.Context) error {
	return d.msg.Ack(false)
}

// Fail with requeue republishes the item with the next attempt number before
// acking the original, since a plain nack-requeue keeps the headers as they were.
func (d *delivery) Fail(ctx context.Context, requeue bool) error {
	if !requeue {
		return d.msg.Nack(false, false)
	}
	if err := d.q.publish(ctx, d.item, d.attempt+1); err != nil {
		if nackErr := d.msg.Nack(false, true); nackErr != nil {
			return errors.Join(err, nackErr)
		}
		return err
	}
	return d.msg.Ack(false)
}

// Release republishes the item under its current attempt number. A nack with
// requeue would mark it redelivered, which counts as another attempt.
func (d *delivery) Release(ctx context.Context) error {
	if err := d.q.publish(ctx, d.item, d.attempt); err != nil {
		if nackErr := d.msg.Nack(false, true); nackErr != nil {
			return errors.Join(err, nackErr)
		}
		return err
	}
	return d.msg.Ack(false)
}
