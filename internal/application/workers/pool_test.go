package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aescanero/flowfarm/internal/application/engine"
	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(Config{Size: 3})

	var running, peak atomic.Int32
	var mu sync.Mutex
	seen := map[int]bool{}

	err := pool.Run(context.Background(), 10, func(_ context.Context, index int, waitErr error) {
		assert.NoError(t, waitErr)
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)

		mu.Lock()
		seen[index] = true
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Len(t, seen, 10)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 4, pool.Chunks())
	assert.Equal(t, 0, pool.Busy())
}

func TestPoolChunkBarrier(t *testing.T) {
	pool := NewPool(Config{Size: 2})

	var mu sync.Mutex
	starts := map[int]time.Time{}
	ends := map[int]time.Time{}

	err := pool.Run(context.Background(), 4, func(_ context.Context, index int, _ error) {
		mu.Lock()
		starts[index] = time.Now()
		mu.Unlock()

		// the first task of each chunk is slow
		if index%2 == 0 {
			time.Sleep(60 * time.Millisecond)
		}

		mu.Lock()
		ends[index] = time.Now()
		mu.Unlock()
	})
	require.NoError(t, err)

	firstChunkDone := ends[0]
	if ends[1].After(firstChunkDone) {
		firstChunkDone = ends[1]
	}
	assert.False(t, starts[2].Before(firstChunkDone), "chunk 2 started before chunk 1 finished")
	assert.False(t, starts[3].Before(firstChunkDone), "chunk 2 started before chunk 1 finished")
}

func TestPoolStagger(t *testing.T) {
	pool := NewPool(Config{Size: 3, Stagger: 30 * time.Millisecond})

	var mu sync.Mutex
	offsets := map[int]time.Duration{}
	begin := time.Now()

	require.NoError(t, pool.Run(context.Background(), 3, func(_ context.Context, index int, _ error) {
		mu.Lock()
		offsets[index] = time.Since(begin)
		mu.Unlock()
	}))

	assert.Less(t, offsets[0], 30*time.Millisecond)
	assert.GreaterOrEqual(t, offsets[1], 30*time.Millisecond)
	assert.GreaterOrEqual(t, offsets[2], 60*time.Millisecond)
}

func TestPoolStopSkipsRemainingChunks(t *testing.T) {
	sig := engine.NewSignal()
	pool := NewPool(Config{Size: 2, Stagger: time.Second, Signal: sig})

	var mu sync.Mutex
	ran := map[int]error{}

	done := make(chan error, 1)
	go func() {
		done <- pool.Run(context.Background(), 6, func(_ context.Context, index int, waitErr error) {
			if index == 0 {
				time.Sleep(20 * time.Millisecond)
				sig.Stop()
			}
			mu.Lock()
			ran[index] = waitErr
			mu.Unlock()
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not return after stop")
	}

	assert.Len(t, ran, 2, "only the first chunk runs")
	assert.NoError(t, ran[0])
	assert.True(t, domain.IsAbort(ran[1]), "the interrupted stagger wait is reported")
	assert.Equal(t, 1, pool.Chunks())
}

func TestPoolContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := NewPool(Config{Size: 1}).Run(ctx, 3, func(context.Context, int, error) { calls++ })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestPoolTaskPanicEndsCohort(t *testing.T) {
	pool := NewPool(Config{Size: 2})

	var calls atomic.Int32
	err := pool.Run(context.Background(), 6, func(_ context.Context, index int, _ error) {
		calls.Add(1)
		if index == 1 {
			panic("sink exploded")
		}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task 1 panicked: sink exploded")
	assert.Equal(t, int32(2), calls.Load(), "the chunk in flight completes, later chunks never start")
	assert.Equal(t, 1, pool.Chunks())
	assert.Zero(t, pool.Busy())
}
