package utils

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMap_Basic(t *testing.T) {
	t.Parallel()

	sm := NewShardedMap[string, int]()

	sm.Store("a", 1)
	v, ok := sm.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	sm.Store("b", 3)
	assert.Equal(t, 2, sm.Len())
	sm.Delete("b")
	_, ok = sm.Load("b")
	assert.False(t, ok)

	sm.Store("c", 10)
	n := sm.DeleteIf(func(_ string, v int) bool { return v >= 10 })
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, sm.Len())
}

func TestShardedMap_Concurrent(t *testing.T) {
	t.Parallel()

	sm := NewShardedMap[int, string]()
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.Store(i, strconv.Itoa(i))
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, sm.Len())
	seen := 0
	sm.Range(func(k int, v string) bool {
		assert.Equal(t, strconv.Itoa(k), v)
		seen++
		return true
	})
	assert.Equal(t, 100, seen)
}
