package crawler

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVisitedSetMarkIfNew(t *testing.T) {
	t.Parallel()

	v := NewVisitedSet()
	assert.True(t, v.MarkIfNew("https://a.test"))
	assert.False(t, v.MarkIfNew("https://a.test"))
	assert.False(t, v.MarkIfNew(""))
	assert.True(t, v.Seen("https://a.test"))
	assert.False(t, v.Seen("https://b.test"))
	assert.Equal(t, 1, v.Len())
}

func TestVisitedSetSingleWinnerUnderContention(t *testing.T) {
	t.Parallel()

	v := NewVisitedSet()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.MarkIfNew("https://a.test/page") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
