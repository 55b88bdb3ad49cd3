package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsAllTasks(t *testing.T) {
	p := NewWorkerPool(4, 100)
	p.Start(context.Background())

	var done atomic.Int32
	for i := 0; i < 100; i++ {
		require.True(t, p.TrySubmit(func(context.Context) { done.Add(1) }))
	}
	p.Stop()
	assert.Equal(t, int32(100), done.Load())
}

func TestWorkerPool_LimitsConcurrency(t *testing.T) {
	p := NewWorkerPool(3, 0)
	p.Start(context.Background())

	var running, peak atomic.Int32
	for i := 0; i < 12; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}))
	}
	p.Stop()
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestWorkerPool_SkipsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewWorkerPool(1, 10)
	p.Start(ctx)

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		p.TrySubmit(func(context.Context) {
			if done.Add(1) == 1 {
				cancel()
			}
		})
	}
	p.Stop()
	assert.Equal(t, int32(1), done.Load())
}

func TestWorkerPool_RecoversPanic(t *testing.T) {
	var recovered atomic.Value
	p := NewWorkerPool(1, 2).OnPanic(func(r any) { recovered.Store(r) })
	p.Start(context.Background())

	var after atomic.Bool
	p.TrySubmit(func(context.Context) { panic("boom") })
	p.TrySubmit(func(context.Context) { after.Store(true) })
	p.Stop()

	assert.Equal(t, "boom", recovered.Load())
	assert.True(t, after.Load())
}

func TestWorkerPool_SubmitHonoursContext(t *testing.T) {
	p := NewWorkerPool(1, 0)
	// 未启动，无人消费
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
