package proxy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shepsii/dbproxies/storage"
)

// Barrier fires once after a fixed number of completions, or when
// cancelled, whichever comes first. Completions past the count and calls
// after firing are ignored.
type Barrier struct {
	remaining atomic.Int64
	canceled  atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewBarrier creates a barrier expecting n completions. A barrier for zero
// completions has already fired.
func NewBarrier(n int) *Barrier {
	b := &Barrier{done: make(chan struct{})}
	b.remaining.Store(int64(n))
	if n <= 0 {
		b.fire()
	}
	return b
}

// Done counts one completion. It returns true for the call that fired the
// barrier.
func (b *Barrier) Done() bool {
	for {
		n := b.remaining.Load()
		if n <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(n, n-1) {
			if n == 1 {
				return b.fire()
			}
			return false
		}
	}
}

// Cancel fires the barrier without waiting for the remaining completions.
// It returns false if the barrier had already fired.
func (b *Barrier) Cancel() bool {
	fired := false
	b.once.Do(func() {
		b.canceled.Store(true)
		close(b.done)
		fired = true
	})
	return fired
}

// C returns a channel closed when the barrier fires.
func (b *Barrier) C() <-chan struct{} {
	return b.done
}

// Canceled reports whether the barrier fired through Cancel.
func (b *Barrier) Canceled() bool {
	return b.canceled.Load()
}

// Wait blocks until the barrier fires or ctx is done. A cancelled context
// cancels the barrier.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.done:
	default:
		select {
		case <-b.done:
		case <-ctx.Done():
			b.Cancel()
		}
	}
	if b.Canceled() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", storage.ErrCanceled, err)
		}
		return storage.ErrCanceled
	}
	return nil
}

func (b *Barrier) fire() bool {
	fired := false
	b.once.Do(func() {
		close(b.done)
		fired = true
	})
	return fired
}
