package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-rag-crawler/internal/queue/memory"
)

type node struct {
	id    int
	depth int
}

func TestSpawn_ProcessesDynamicallyGrowingQueue(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(node{id: 1})
	var processed atomic.Int32
	handler := func(_ context.Context, n node) error {
		processed.Add(1)
		if n.depth < 3 {
			q.Push(node{id: n.id * 2, depth: n.depth + 1}, node{id: n.id*2 + 1, depth: n.depth + 1})
		}
		return nil
	}

	err := Spawn[node](context.Background(), q, handler, 3, WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	assert.EqualValues(t, 15, processed.Load(), "full binary tree of depth 3")
	assert.Zero(t, q.Len())
}

func TestSpawn_IdleWorkersWaitForActiveSiblings(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(0)
	var processed atomic.Int32
	handler := func(_ context.Context, n int) error {
		processed.Add(1)
		if n == 0 {
			time.Sleep(50 * time.Millisecond)
			q.Push(1, 2, 3, 4, 5)
		}
		return nil
	}

	require.NoError(t, Spawn[int](context.Background(), q, handler, 4, WithPollInterval(2*time.Millisecond)))
	assert.EqualValues(t, 6, processed.Load())
}

func TestSpawn_FailuresAndPanicsAreIsolated(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1, 2, 3, 4, 5, 6)
	var seen sync.Map
	handler := func(_ context.Context, n int) error {
		seen.Store(n, true)
		switch n {
		case 2:
			return errors.New("dead link")
		case 4:
			panic("parser exploded")
		}
		return nil
	}

	require.NoError(t, Spawn[int](context.Background(), q, handler, 2))
	for i := 1; i <= 6; i++ {
		_, ok := seen.Load(i)
		assert.True(t, ok, "item %d not processed", i)
	}
}

func TestSpawn_RespectsConcurrencyBound(t *testing.T) {
	t.Parallel()

	items := make([]int, 40)
	for i := range items {
		items[i] = i
	}
	q := memory.NewQueue(items...)

	var current, peak atomic.Int32
	handler := func(_ context.Context, _ int) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		current.Add(-1)
		return nil
	}

	require.NoError(t, Spawn[int](context.Background(), q, handler, 3))
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestSpawn_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	q := memory.NewQueue(0)
	handler := func(ctx context.Context, n int) error {
		q.Push(n + 1)
		if n == 5 {
			cancel()
		}
		return nil
	}

	err := Spawn[int](ctx, q, handler, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Positive(t, q.Len(), "remaining items stay queued after cancellation")
}

func TestMap_BoundedAndSwallowsErrors(t *testing.T) {
	t.Parallel()

	items := []string{"a", "b", "c", "d", "e"}
	var current, peak, calls atomic.Int32
	fn := func(_ context.Context, s string) error {
		calls.Add(1)
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if s == "c" {
			return errors.New("bad item")
		}
		return nil
	}

	Map[string](context.Background(), items, fn, 2)
	assert.EqualValues(t, 5, calls.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
