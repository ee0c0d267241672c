// Package transport defines the public contract of the dNet connection engine.
// It is implemented by the base package and exposed per socket type by the tcp and
// unix packages.
//
// Key Components:
//
//   - IConnection: One activation of a pooled connection. Sending on a disposed connection
//     is a safe no-op. Send only queues, Flush waits until the queued frames were written.
//
//   - IConnectionObserver: Connect and disconnect notifications. ObserverFuncs adapts plain
//     functions.
//
//   - IListener / IConnector: Server accept loop and client connect calls, both backed by
//     a fixed pool of connections and both delivering received packets into a packet.Queue.
package transport
