package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clip-worker/constant"
	"clip-worker/dto"
	"clip-worker/queue"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	seen    map[uuid.UUID]int
	active  int32
	maxSeen int32
	done    chan struct{}
	want    int
}

func (h *recordingHandler) Handle(ctx context.Context, d queue.Delivery) {
	n := atomic.AddInt32(&h.active, 1)
	for {
		cur := atomic.LoadInt32(&h.maxSeen)
		if n <= cur || atomic.CompareAndSwapInt32(&h.maxSeen, cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&h.active, -1)

	_ = d.Ack(ctx)
	h.mu.Lock()
	h.seen[d.Item().JobId]++
	total := 0
	for _, c := range h.seen {
		total += c
	}
	h.mu.Unlock()
	if total == h.want {
		close(h.done)
	}
}

func TestPoolProcessesEveryItemOnceWithinPoolSize(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := queue.NewMemoryQueue()
	const items = 20
	for i := 0; i < items; i++ {
		require.NoError(t, q.Enqueue(ctx, dto.WorkItem{JobId: uuid.New(), SourceRef: "v", Kind: constant.JobKindExtract}))
	}
	h := &recordingHandler{seen: make(map[uuid.UUID]int), done: make(chan struct{}), want: items}
	pool := NewPool(q, h, 3)

	runCtx, stop := context.WithCancel(ctx)
	finished := make(chan struct{})
	go func() {
		pool.Run(runCtx)
		close(finished)
	}()

	select {
	case <-h.done:
	case <-ctx.Done():
		t.Fatal("pool did not drain the queue")
	}
	stop()
	<-finished

	assert.Len(t, h.seen, items)
	for _, n := range h.seen {
		assert.Equal(t, 1, n)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&h.maxSeen), int32(3))
}

func TestPoolStopsWhenQueueCloses(t *testing.T) {
	q := queue.NewMemoryQueue()
	pool := NewPool(q, &recordingHandler{seen: map[uuid.UUID]int{}, done: make(chan struct{})}, 2)

	finished := make(chan struct{})
	go func() {
		pool.Run(context.Background())
		close(finished)
	}()
	require.NoError(t, q.Close())

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after close")
	}
}
