package pool

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
)

// TestStackBasicOperations tests push/pop in LIFO order and the capacity limit
func TestStackBasicOperations(t *testing.T) {
	s := NewStack[int](3)
	assert.Equal(t, 3, s.Cap())

	_, ok := s.Pop()
	assert.False(t, ok, "pop on empty stack")

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Push(i))
	}
	assert.ErrorIs(t, s.Push(99), ErrPoolFull)
	assert.Equal(t, 3, s.Len())

	for i := 2; i >= 0; i-- {
		v, ok := s.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, s.Len())
}

// TestStackConcurrentUnique tests that concurrent pops never hand out the same item twice
func TestStackConcurrentUnique(t *testing.T) {
	const items = 1000
	s := NewStack[*int](items)
	for i := 0; i < items; i++ {
		v := i
		require.NoError(t, s.Push(&v))
	}

	var mu sync.Mutex
	seen := make(map[*int]bool, items)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := s.Pop()
				if !ok {
					return
				}
				mu.Lock()
				if seen[v] {
					t.Errorf("item %d popped twice", *v)
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, items)
}
