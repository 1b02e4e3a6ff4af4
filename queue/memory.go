package queue

import (
	"context"
	"sync"

	"clip-worker/dto"

	"github.com/google/uuid"
)

type memoryEntry struct {
	item    dto.WorkItem
	attempt int
	token   uint64
}

// MemoryQueue is a process-local FIFO. Items handed out stay in the
// processing set until acked or failed; RequeueInFlight puts them back the
// way a broker would after a consumer crash.
type MemoryQueue struct {
	mu          sync.Mutex
	pending     []memoryEntry
	processing  map[uint64]memoryEntry
	outstanding map[uuid.UUID]struct{}
	dead        []dto.WorkItem
	ready       chan struct{}
	closed      chan struct{}
	closeOnce   sync.Once
	nextToken   uint64
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		processing:  make(map[uint64]memoryEntry),
		outstanding: make(map[uuid.UUID]struct{}),
		ready:       make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, item dto.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	if _, ok := q.outstanding[item.JobId]; ok {
		return ErrDuplicate
	}
	q.outstanding[item.JobId] = struct{}{}
	q.pending = append(q.pending, memoryEntry{item: item, attempt: 1})
	q.signal()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Delivery, error) {
	for {
		if d, ok := q.take(); ok {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.closed:
			return nil, ErrClosed
		case <-q.ready:
		}
	}
}

func (q *MemoryQueue) take() (*memoryDelivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false
	}
	entry := q.pending[0]
	q.pending = q.pending[1:]
	q.nextToken++
	entry.token = q.nextToken
	q.processing[entry.token] = entry
	if len(q.pending) > 0 {
		q.signal()
	}
	return &memoryDelivery{q: q, entry: entry}, true
}

// RequeueInFlight returns every unacknowledged item to the front of the queue
// with its attempt counter incremented, as a broker does once a consumer's
// connection drops. Tests use it to simulate a worker crash.
func (q *MemoryQueue) RequeueInFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	back := make([]memoryEntry, 0, len(q.processing))
	for token, entry := range q.processing {
		delete(q.processing, token)
		entry.attempt++
		back = append(back, entry)
	}
	q.pending = append(back, q.pending...)
	if len(back) > 0 {
		q.signal()
	}
	return len(back)
}

// Len reports pending and in-flight items.
func (q *MemoryQueue) Len() (pending, inFlight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.processing)
}

// Dead returns the items failed without requeue. The dead-letters command
// reads the durable drivers; this is the in-process equivalent for tests.
func (q *MemoryQueue) Dead() []dto.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]dto.WorkItem, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleRelease
	settleDead
)

func (q *MemoryQueue) settle(token uint64, how settlement) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.processing[token]
	if !ok {
		return
	}
	delete(q.processing, token)
	switch how {
	case settleRequeue, settleRelease:
		if how == settleRequeue {
			entry.attempt++
		}
		q.pending = append(q.pending, entry)
		q.signal()
		return
	case settleDead:
		q.dead = append(q.dead, entry.item)
	}
	delete(q.outstanding, entry.item.JobId)
}

type memoryDelivery struct {
	q     *MemoryQueue
	entry memoryEntry
}

func (d *memoryDelivery) Item() dto.WorkItem { return d.entry.item }

func (d *memoryDelivery) Attempt() int { return d.entry.attempt }

func (d *memoryDelivery) Ack(_ context.Context) error {
	d.q.settle(d.entry.token, settleAck)
	return nil
}

func (d *memoryDelivery) Fail(_ context.Context, requeue bool) error {
	if requeue {
		d.q.settle(d.entry.token, settleRequeue)
	} else {
		d.q.settle(d.entry.token, settleDead)
	}
	return nil
}

func (d *memoryDelivery) Release(_ context.Context) error {
	d.q.settle(d.entry.token, settleRelease)
	return nil
}
