package transport

import (
	"context"
	"github.com/ValentinKolb/dNet/rpc/packet"
	"github.com/ValentinKolb/dNet/rpc/protocol"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"net"
	"time"
)

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// IConnection is one activation of a pooled connection.
// Once the connection was disposed every operation is a no-op returning false, the handle
// never refers to a later activation of the same pooled connection.
type IConnection interface {
	// ID returns the unique id of this activation
	ID() uuid.UUID
	// RemoteAddr returns the address of the peer
	RemoteAddr() string
	// Send encodes content as a packet of the given type and queues it for sending
	Send(content []byte, packetType protocol.PacketType) bool
	// SendKeepAlive queues an empty keepalive message
	SendKeepAlive() bool
	// Flush blocks until every frame queued so far was written to the socket.
	// It fails if the connection is disposed before or the context ends.
	Flush(ctx context.Context) error
	// Active returns false once the connection was disposed
	Active() bool
	// IdleTime returns the time since the last data was received or sent
	IdleTime() time.Duration
	// Dispose closes the connection and returns it to its pool.
	// Only the first call returns true.
	Dispose() bool
}

// IConnectionObserver is notified about connection events.
// Callbacks run on transport goroutines and must not block.
type IConnectionObserver interface {
	// OnConnected is called for every new connection. A failed connect attempt is reported
	// with a nil connection and the error.
	OnConnected(conn IConnection, err error)
	// OnDisconnected is called exactly once per connection that was reported as connected
	OnDisconnected(conn IConnection)
}

// ObserverFuncs adapts plain functions to IConnectionObserver, nil functions are skipped
type ObserverFuncs struct {
	Connected    func(conn IConnection, err error)
	Disconnected func(conn IConnection)
}

func (o ObserverFuncs) OnConnected(conn IConnection, err error) {
	if o.Connected != nil {
		o.Connected(conn, err)
	}
}

func (o ObserverFuncs) OnDisconnected(conn IConnection) {
	if o.Disconnected != nil {
		o.Disconnected(conn)
	}
}

// --------------------------------------------------------------------------
// Engines
// --------------------------------------------------------------------------

// IEngine is the part shared by listener and connector
type IEngine interface {
	// Subscribe registers an observer, the returned function removes it again
	Subscribe(observer IConnectionObserver) (unsubscribe func())
	// Packets returns the queue all received packets are added to
	Packets() *packet.Queue
	// ActiveConnections returns the number of connected sessions
	ActiveConnections() int
	// AvailableConnections returns the number of idle pooled connections
	AvailableConnections() int
	// Metrics returns the metric set of the engine
	Metrics() *metrics.Set
}

// IListener accepts connections on a server socket
type IListener interface {
	IEngine
	// Start listens and runs the accept loop in the background
	Start() error
	// Addr returns the address the listener is bound to, nil before Start
	Addr() net.Addr
	// Stop closes the listener and all connections
	Stop() error
}

// IConnector dials connections to a server
type IConnector interface {
	IEngine
	// Connect dials one connection. A failure is reported to the observers as well.
	Connect(ctx context.Context) (IConnection, error)
	// Close disposes all connections
	Close() error
}
