package pool

import (
	"runtime"
	"sync/atomic"
)

// poolNode is a single element of the lock-free stack.
// A node is pushed exactly once and never reused, which rules out the ABA problem
// (the garbage collector keeps a popped node alive while anybody still references it).
type poolNode[T any] struct {
	value T
	next  *poolNode[T]
}

// PoolStats contains counters describing the usage of a ConcurrentPool
type PoolStats struct {
	Constructed uint64 `json:"constructed"` // items created by the factory
	Acquired    uint64 `json:"acquired"`    // successful Acquire/TryAcquire calls
	Released    uint64 `json:"released"`    // items accepted back by Release
	Dropped     uint64 `json:"dropped"`     // items rejected by Release (pool at capacity)
	Pooled      int64  `json:"pooled"`      // items currently waiting in the pool
}

// ConcurrentPool is a lock-free pool (Treiber stack) with an optional capacity.
// Acquire lazily constructs new items with the injected factory when the pool is empty.
//
// Guarantees:
//
//   - Lock-Free: Acquire and Release use CAS retries with an exponential backoff
//   - Unique: no two simultaneously live acquisitions ever return the same item
//   - Bounded: with capacity > 0 the pool never holds more than capacity items
//
// Thread-safety: All methods are thread-safe.
type ConcurrentPool[T any] struct {
	head     atomic.Pointer[poolNode[T]]
	size     atomic.Int64
	capacity int64
	factory  func() T

	constructed atomic.Uint64
	acquired    atomic.Uint64
	released    atomic.Uint64
	dropped     atomic.Uint64
}

// NewConcurrentPool creates a new pool. A capacity <= 0 means the pool is unbounded.
// The factory may be nil, in which case Acquire behaves like TryAcquire.
func NewConcurrentPool[T any](capacity int, factory func() T) *ConcurrentPool[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &ConcurrentPool[T]{
		capacity: int64(capacity),
		factory:  factory,
	}
}

// Fill constructs items with the factory until the pool holds count items (or its capacity).
// Returns the number of items added.
func (p *ConcurrentPool[T]) Fill(count int) int {
	if p.factory == nil {
		return 0
	}
	added := 0
	for p.size.Load() < int64(count) {
		item := p.factory()
		p.constructed.Add(1)
		if !p.Release(item) {
			break
		}
		added++
	}
	return added
}

// Acquire returns an item from the pool, constructing one with the factory if the pool is empty.
// The second return value is false only if the pool is empty and no factory is configured.
func (p *ConcurrentPool[T]) Acquire() (T, bool) {
	if item, ok := p.TryAcquire(); ok {
		return item, true
	}
	if p.factory == nil {
		var zero T
		return zero, false
	}
	p.constructed.Add(1)
	p.acquired.Add(1)
	return p.factory(), true
}

// TryAcquire returns an item from the pool without ever constructing a new one.
// The second return value is false if the pool is empty.
func (p *ConcurrentPool[T]) TryAcquire() (T, bool) {
	var attempt uint8
	for {
		head := p.head.Load()
		if head == nil {
			var zero T
			return zero, false
		}
		if p.head.CompareAndSwap(head, head.next) {
			p.size.Add(-1)
			p.acquired.Add(1)
			item := head.value
			var zero T
			head.value = zero // help go gc - the node is unreachable from the stack now
			return item, true
		}
		backoff(&attempt)
	}
}

// TryAcquireGuard is TryAcquire with the item wrapped in a Guard releasing it back to this pool
func (p *ConcurrentPool[T]) TryAcquireGuard() (*Guard[T], bool) {
	item, ok := p.TryAcquire()
	if !ok {
		return nil, false
	}
	return NewGuard(item, func(v T) { p.Release(v) }), true
}

// AcquireGuard acquires an item and wraps it in a Guard that releases it back to this pool
func (p *ConcurrentPool[T]) AcquireGuard() (*Guard[T], bool) {
	item, ok := p.Acquire()
	if !ok {
		return nil, false
	}
	return NewGuard(item, func(v T) { p.Release(v) }), true
}

// Release puts an item back into the pool.
// Returns false (and drops the item) if the pool is at capacity.
func (p *ConcurrentPool[T]) Release(item T) bool {
	// reserve a slot first so concurrent releases can never exceed the capacity
	var attempt uint8
	for {
		size := p.size.Load()
		if p.capacity > 0 && size >= p.capacity {
			p.dropped.Add(1)
			return false
		}
		if p.size.CompareAndSwap(size, size+1) {
			break
		}
		backoff(&attempt)
	}

	newNode := &poolNode[T]{value: item}
	attempt = 0
	for {
		head := p.head.Load()
		newNode.next = head
		if p.head.CompareAndSwap(head, newNode) {
			p.released.Add(1)
			return true
		}
		backoff(&attempt)
	}
}

// Len returns the number of items currently held by the pool (approximate under contention)
func (p *ConcurrentPool[T]) Len() int {
	return int(p.size.Load())
}

// Cap returns the capacity of the pool, 0 means unbounded
func (p *ConcurrentPool[T]) Cap() int {
	return int(p.capacity)
}

// Stats returns a snapshot of the pool counters
func (p *ConcurrentPool[T]) Stats() PoolStats {
	return PoolStats{
		Constructed: p.constructed.Load(),
		Acquired:    p.acquired.Load(),
		Released:    p.released.Load(),
		Dropped:     p.dropped.Load(),
		Pooled:      p.size.Load(),
	}
}

/*
 backoff implements an exponential spin-wait used after a failed CAS:
  - At low contention (<8 retries): yield a growing number of times
  - At higher contention: yield once per retry and let the scheduler sort it out
*/
func backoff(attempt *uint8) {
	if *attempt < 8 {
		*attempt++
		for i := 0; i < 1<<*attempt; i++ {
			runtime.Gosched()
		}
		return
	}
	runtime.Gosched()
}
