// Package base implements the connection engine shared by all socket types. Socket specific
// behaviour (listening, dialing, socket options) is injected through IServerConnector and
// IClientConnector, see the tcp and unix packages.
//
// Lifecycle of a connection:
//
//	NewListener / NewConnector provision MaxConnections connections up front. Each one owns a
//	segment of a single receive buffer arena and waits in a fixed capacity pool.
//	An accepted or dialed socket is bound to an idle connection (SetConnection) which starts
//	one receive goroutine. The goroutine feeds the socket data into the message framer, every
//	framed message is parsed into a packet and appended to the packet queue of the engine.
//	When the socket fails, the peer closes it or the connection is disposed, the goroutine
//	ends, observers are notified and the connection goes back to the pool.
//
// Key Components:
//
//   - Connection / Session: A pooled connection and the handle of one of its activations.
//     Every activation has its own generation, a session of an earlier activation can never
//     send on a reused connection.
//
//   - Sender: Writes frames with a bounded pool of send contexts. Frames of one connection
//     are written in order by at most one goroutine; connections waiting for a context are
//     served round robin.
//
//   - Listener: Accept loop with error backoff, heartbeat and graceful Stop.
//
//   - Connector: Single shot Connect, reclaims disconnected connections.
//
// Stream format: every wire protocol frame is sent as one length prefixed message
// (see lib/framing). An empty message is a keepalive which only refreshes the idle time.
//
// Thread Safety:
//
//	All exported methods are safe for concurrent use. Observer callbacks run on the accept,
//	connect or receive goroutines and must not block.
package base
