// Package pool provides the memory and object pooling primitives of the dNet engine.
// All types are designed to avoid per-operation allocations on the hot I/O paths.
//
// Key Components:
//
//   - BufferManager: One large preallocated arena sliced into fixed-size segments.
//     Segments are handed out with SetBuffer and recycled with FreeBuffer (LIFO).
//     The manager is not synchronized and is meant to be used during the single-writer
//     provisioning phase (connections are provisioned once, up front).
//
//   - Stack: A mutex-guarded fixed-capacity stack. Used where call sites are few,
//     e.g. the connection pools of the listener and the connector.
//
//   - ConcurrentPool: A lock-free (CAS + backoff) pool with optional capacity and a lazy
//     factory. Used under concurrent completion paths, e.g. the send contexts of the sender.
//
//   - Guard: Wraps an acquired item and releases it back to its pool exactly once,
//     even under concurrent Release calls. Access after release fails with ErrDisposed.
//
// Thread Safety:
//
//	Stack, ConcurrentPool and Guard are safe for concurrent use. BufferManager is not.
package pool
