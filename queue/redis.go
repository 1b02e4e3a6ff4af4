package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"clip-worker/dto"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Keys, relative to the configured prefix:
//
//	wait         list of envelopes, LPUSH in and RPOP out
//	leases       zset of in-flight envelopes scored by lease deadline
//	outstanding  set of job ids with a live work item
//	dead         list of envelopes failed without requeue
var (
	enqueueScript = redis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('LPUSH', KEYS[1], ARGV[2])
return 1
`)

	dequeueScript = redis.NewScript(`
local raw = redis.call('RPOP', KEYS[1])
if not raw then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], raw)
return raw
`)

	// Expired leases go back to the head of the wait list with attempt+1.
	reclaimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, raw in ipairs(expired) do
  redis.call('ZREM', KEYS[1], raw)
  local env = cjson.decode(raw)
  env.attempt = env.attempt + 1
  redis.call('RPUSH', KEYS[2], cjson.encode(env))
end
return #expired
`)

	ackScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`)

	requeueScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('LPUSH', KEYS[2], ARGV[2])
return 1
`)

	deadScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('SREM', KEYS[2], ARGV[2])
redis.call('LPUSH', KEYS[3], ARGV[1])
return 1
`)

	releaseScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

	extendScript = redis.NewScript(`
return redis.call('ZADD', KEYS[1], 'XX', ARGV[1], ARGV[2])
`)
)

var _ DeadLetterReader = (*RedisQueue)(nil)

type envelope struct {
	Token   string       `json:"token"`
	Attempt int          `json:"attempt"`
	Item    dto.WorkItem `json:"item"`
}

type RedisOptions struct {
	Prefix string
	// Lease is how long an in-flight item stays claimed without a heartbeat.
	Lease        time.Duration
	PollInterval time.Duration
}

// RedisQueue is a durable queue on Redis lists. A consumer holds a lease on
// each item it takes and renews it while processing; once the lease lapses the
// item is handed to the next Dequeue.
type RedisQueue struct {
	rdb  *redis.Client
	opts RedisOptions
	now  func() time.Time
}

func NewRedisQueue(rdb *redis.Client, opts RedisOptions) *RedisQueue {
	if opts.Prefix == "" {
		opts.Prefix = "clip-worker"
	}
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &RedisQueue{rdb: rdb, opts: opts, now: time.Now}
}

func (q *RedisQueue) key(name string) string {
	return q.opts.Prefix + ":" + name
}

func (q *RedisQueue) Enqueue(ctx context.Context, item dto.WorkItem) error {
	raw, err := json.Marshal(envelope{Token: uuid.NewString(), Attempt: 1, Item: item})
	if err != nil {
		return err
	}
	added, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.key("wait"), q.key("outstanding")},
		item.JobId.String(), string(raw),
	).Int()
	if err != nil {
		return fmt.Errorf("redis enqueue: %w", err)
	}
	if added == 0 {
		return ErrDuplicate
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Delivery, error) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		d, err := q.tryDequeue(ctx)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *RedisQueue) tryDequeue(ctx context.Context) (*redisDelivery, error) {
	now := q.now()
	reclaimed, err := reclaimScript.Run(ctx, q.rdb,
		[]string{q.key("leases"), q.key("wait")},
		score(now),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("redis reclaim: %w", err)
	}
	if reclaimed > 0 {
		zerolog.Ctx(ctx).Warn().Int("count", reclaimed).Msg("reclaimed work items with expired leases")
	}

	raw, err := dequeueScript.Run(ctx, q.rdb,
		[]string{q.key("wait"), q.key("leases")},
		score(now.Add(q.opts.Lease)),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis dequeue: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// A payload nobody can decode would be reclaimed forever; park it.
		zerolog.Ctx(ctx).Error().Err(err).Str("payload", raw).Msg("dropping undecodable work item")
		q.rdb.ZRem(ctx, q.key("leases"), raw)
		q.rdb.LPush(ctx, q.key("dead"), raw)
		return nil, nil
	}

	d := &redisDelivery{q: q, raw: raw, env: env, stop: make(chan struct{})}
	go d.heartbeat(zerolog.Ctx(ctx).WithContext(context.Background()))
	return d, nil
}

// DeadLetters returns the work items failed without requeue, newest first.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]dto.WorkItem, error) {
	raws, err := q.rdb.LRange(ctx, q.key("dead"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	items := make([]dto.WorkItem, 0, len(raws))
	for _, raw := range raws {
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		items = append(items, env.Item)
	}
	return items, nil
}

func (q *RedisQueue) Close() error {
	return nil
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

type redisDelivery struct {
	q        *RedisQueue
	raw      string
	env      envelope
	stop     chan struct{}
	stopOnce sync.Once
}

func (d *redisDelivery) Item() dto.WorkItem { return d.env.Item }

func (d *redisDelivery) Attempt() int { return d.env.Attempt }

func (d *redisDelivery) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(d.q.opts.Lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			deadline := score(d.q.now().Add(d.q.opts.Lease))
			if err := extendScript.Run(ctx, d.q.rdb, []string{d.q.key("leases")}, deadline, d.raw).Err(); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("job_id", d.env.Item.JobId.String()).Msg("failed to extend lease")
			}
		}
	}
}

func (d *redisDelivery) release() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *redisDelivery) Ack(ctx context.Context) error {
	d.release()
	return ackScript.Run(ctx, d.q.rdb,
		[]string{d.q.key("leases"), d.q.key("outstanding")},
		d.raw, d.env.Item.JobId.String(),
	).Err()
}

func (d *redisDelivery) Fail(ctx context.Context, requeue bool) error {
	d.release()
	if !requeue {
		return deadScript.Run(ctx, d.q.rdb,
			[]string{d.q.key("leases"), d.q.key("outstanding"), d.q.key("dead")},
			d.raw, d.env.Item.JobId.String(),
		).Err()
	}

	next := d.env
	next.Attempt++
	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return requeueScript.Run(ctx, d.q.rdb,
		[]string{d.q.key("leases"), d.q.key("wait")},
		d.raw, string(raw),
	).Err()
}

// Release returns the item to the head of the wait list as it was delivered.
func (d *redisDelivery) Release(ctx context.Context) error {
	d.release()
	return releaseScript.Run(ctx, d.q.rdb,
		[]string{d.q.key("leases"), d.q.key("wait")},
		d.raw,
	).Err()
}
