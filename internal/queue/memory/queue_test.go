package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue("a", "b")
	q.Push("c")
	require.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Zero(t, q.Len())
}

func TestQueueConcurrentPushPop(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(base*1000 + i)
			}
		}(p)
	}
	wg.Wait()
	require.Equal(t, 1000, q.Len())

	seen := sync.Map{}
	var popped sync.WaitGroup
	for c := 0; c < 4; c++ {
		popped.Add(1)
		go func() {
			defer popped.Done()
			for {
				v, ok := q.Pop()
				if !ok {
					return
				}
				_, dup := seen.LoadOrStore(v, struct{}{})
				assert.False(t, dup, "item %d popped twice", v)
			}
		}()
	}
	popped.Wait()
	assert.Zero(t, q.Len())
}
