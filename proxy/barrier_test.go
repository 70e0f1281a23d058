package proxy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shepsii/dbproxies/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrier_Zero(t *testing.T) {
	b := NewBarrier(0)
	require.NoError(t, b.Wait(context.Background()))
	assert.False(t, b.Done())
	assert.False(t, b.Cancel())
	assert.False(t, b.Canceled())
}

func TestBarrier_FiresOnce(t *testing.T) {
	const n = 50
	b := NewBarrier(n)

	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Done() {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, b.Wait(context.Background()))
	assert.Equal(t, int32(1), fired.Load())
	assert.False(t, b.Cancel())
}

func TestBarrier_Cancel(t *testing.T) {
	b := NewBarrier(2)
	assert.False(t, b.Done())
	assert.True(t, b.Cancel())
	assert.False(t, b.Done())

	err := b.Wait(context.Background())
	assert.ErrorIs(t, err, storage.ErrCanceled)
	assert.True(t, b.Canceled())
}

func TestBarrier_WaitContext(t *testing.T) {
	b := NewBarrier(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Wait(ctx)
	assert.ErrorIs(t, err, storage.ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, b.Canceled())

	select {
	case <-b.C():
	default:
		t.Fatal("barrier channel not closed after cancel")
	}
}
