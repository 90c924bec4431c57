package bus

import (
	"context"
	"errors"
	"sync"

	"main/internal/schema"
)

var (
	ErrQueueFull   = errors.New("tick queue full")
	ErrQueueClosed = errors.New("tick queue closed")
)

// Queue is a bounded, non-blocking tick queue. It decouples the connection
// read path from tick consumers: publishing never blocks, and ticks that
// arrive while the queue is full are dropped.
type Queue struct {
	mu     sync.RWMutex
	ch     chan schema.Tick
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan schema.Tick, capacity)}
}

// TryPublish enqueues a tick without blocking. Safe against a concurrent
// Close.
func (q *Queue) TryPublish(t schema.Tick) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new ticks.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Run consumes ticks until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(schema.Tick)) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-q.ch:
			if !ok {
				return
			}
			handler(t)
		}
	}
}
