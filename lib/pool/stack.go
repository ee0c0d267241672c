package pool

import (
	"errors"
	"sync"
)

// ErrPoolFull is returned when an item is pushed onto a pool that is already at capacity
var ErrPoolFull = errors.New("pool is full")

// Stack is a fixed-capacity LIFO pool guarded by a mutex.
// It is meant for pools with few call sites and little contention (e.g. connection pools).
//
// Thread-safety: All methods are thread-safe.
type Stack[T any] struct {
	mu    sync.Mutex
	items []T
}

// NewStack creates an empty stack that can hold at most capacity items
func NewStack[T any](capacity int) *Stack[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Stack[T]{items: make([]T, 0, capacity)}
}

// Push adds an item to the stack. Returns ErrPoolFull if the capacity is reached.
func (s *Stack[T]) Push(item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == cap(s.items) {
		return ErrPoolFull
	}
	s.items = append(s.items, item)
	return nil
}

// Pop removes and returns the most recently pushed item.
// The second return value is false if the stack is empty.
func (s *Stack[T]) Pop() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	n := len(s.items)
	if n == 0 {
		return zero, false
	}
	item := s.items[n-1]
	s.items[n-1] = zero // drop the reference held by the backing array
	s.items = s.items[:n-1]
	return item, true
}

// Len returns the number of items currently in the stack
func (s *Stack[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Cap returns the capacity of the stack
func (s *Stack[T]) Cap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cap(s.items)
}
