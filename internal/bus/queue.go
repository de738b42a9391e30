// Package bus provides the bounded intake queue between signal sources
// (API handlers, schedulers, administrative tooling) and the coordinator.
// Backpressure is explicit: a full queue rejects instead of blocking the
// producer.
package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"main/internal/schema"
)

var (
	ErrQueueFull   = errors.New("signal queue full")
	ErrQueueClosed = errors.New("signal queue closed")
)

// Queue is a bounded, non-blocking signal queue.
type Queue struct {
	ch     chan schema.Signal
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan schema.Signal, capacity)}
}

// TryPublish enqueues a signal without blocking.
func (q *Queue) TryPublish(signal schema.Signal) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- signal:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new signals.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes signals until the context is done or the queue is closed
// and drained.
func (q *Queue) Run(ctx context.Context, handler func(schema.Signal)) {
	for {
		select {
		case <-ctx.Done():
			return
		case signal, ok := <-q.ch:
			if !ok {
				return
			}
			handler(signal)
		}
	}
}
