package cloud

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue and Source.
type MemoryQueue struct {
	mu      sync.Mutex
	seq     uint64
	pending []Change
	closed  bool
}

var (
	_ Queue  = (*MemoryQueue)(nil)
	_ Source = (*MemoryQueue)(nil)
)

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, changes ...Change) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	for _, c := range changes {
		q.seq++
		c.Seq = q.seq
		if c.At.IsZero() {
			c.At = time.Now().UTC()
		}
		q.pending = append(q.pending, c)
	}
	return nil
}

// Pending implements Source.
func (q *MemoryQueue) Pending(ctx context.Context, limit int) ([]Change, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if limit > 0 && limit < n {
		n = limit
	}
	return slices.Clone(q.pending[:n]), nil
}

// Ack implements Source.
func (q *MemoryQueue) Ack(ctx context.Context, seqs ...uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = slices.DeleteFunc(q.pending, func(c Change) bool {
		return slices.Contains(seqs, c.Seq)
	})
	return nil
}

// Len returns the number of unacknowledged changes.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the queue from accepting changes.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
