// Package queue hands work items to the worker pool. Every driver delivers an
// item to at most one consumer at a time and redelivers items whose consumer
// went away without acknowledging them.
package queue

import (
	"context"
	"errors"

	"clip-worker/dto"
)

var (
	// ErrDuplicate is returned by Enqueue when the job already has an
	// outstanding work item.
	ErrDuplicate = errors.New("job already queued")
	ErrClosed    = errors.New("queue closed")
)

type Queue interface {
	Enqueue(ctx context.Context, item dto.WorkItem) error
	// Dequeue blocks until an item is available or ctx ends.
	Dequeue(ctx context.Context) (Delivery, error)
	Close() error
}

// Delivery is one hand-off of a work item to a consumer.
type Delivery interface {
	Item() dto.WorkItem
	// Attempt counts deliveries of this item, starting at 1.
	Attempt() int
	// Ack removes the item from the queue for good.
	Ack(ctx context.Context) error
	// Fail releases the item. With requeue it is delivered again with the
	// attempt counter incremented, otherwise it is dead-lettered.
	Fail(ctx context.Context, requeue bool) error
	// Release hands the item back unprocessed with its attempt counter
	// unchanged, for consumers that stop before finishing it.
	Release(ctx context.Context) error
}

// DeadLetterReader lists dead-lettered work items without consuming them.
type DeadLetterReader interface {
	DeadLetters(ctx context.Context) ([]dto.WorkItem, error)
}
