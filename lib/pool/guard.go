package pool

import (
	"errors"
	"sync/atomic"
)

// ErrDisposed is returned when a guarded item is accessed after it was released
var ErrDisposed = errors.New("pooled object already released")

// Guard wraps an item taken from a pool and hands it back exactly once.
// Concurrent calls to Release are safe, only the first one returns the item.
type Guard[T any] struct {
	item     T
	release  func(T)
	released atomic.Bool
}

// NewGuard creates a guard for item that calls release when the guard is released
func NewGuard[T any](item T, release func(T)) *Guard[T] {
	return &Guard[T]{item: item, release: release}
}

// Value returns the guarded item or ErrDisposed if the guard was already released
func (g *Guard[T]) Value() (T, error) {
	if g.released.Load() {
		var zero T
		return zero, ErrDisposed
	}
	return g.item, nil
}

// Release hands the item back to its pool.
// Returns true only for the call that actually released the item.
func (g *Guard[T]) Release() bool {
	if !g.released.CompareAndSwap(false, true) {
		return false
	}
	if g.release != nil {
		g.release(g.item)
	}
	return true
}

// Released reports whether the guard has been released
func (g *Guard[T]) Released() bool {
	return g.released.Load()
}
