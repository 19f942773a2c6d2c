package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrentAdmission(t *testing.T) {
	p := New(2)
	var concurrent, maxConcurrent int32

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			_ = p.Do(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					cur := atomic.LoadInt32(&maxConcurrent)
					if n <= cur || atomic.CompareAndSwapInt32(&maxConcurrent, cur, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	require.LessOrEqual(t, int(atomic.LoadInt32(&maxConcurrent)), 2)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := New(1)
	release, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewGPUBoundIsSingleSlot(t *testing.T) {
	p := NewGPUBound()
	require.Equal(t, 1, p.Cap())
}

func TestNewIOBoundIsPositive(t *testing.T) {
	p := NewIOBound()
	require.Greater(t, p.Cap(), 0)
}

func TestDoReleasesSlotOnError(t *testing.T) {
	p := New(1)
	boom := context.DeadlineExceeded
	err := p.Do(context.Background(), func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, p.InUse())
}
