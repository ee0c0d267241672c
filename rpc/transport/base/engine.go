package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dNet/lib/framing"
	"github.com/ValentinKolb/dNet/lib/pool"
	"github.com/ValentinKolb/dNet/rpc/common"
	"github.com/ValentinKolb/dNet/rpc/packet"
	"github.com/ValentinKolb/dNet/rpc/protocol"
	"github.com/ValentinKolb/dNet/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"sync"
	"time"
)

var Logger = logger.GetLogger("transport")

var (
	// ErrPoolExhausted is returned if all pooled connections are in use
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrStopped is returned by operations on a stopped listener or closed connector
	ErrStopped = errors.New("engine stopped")
	// ErrShutdownTimeout is returned if connections did not finish in time during shutdown
	ErrShutdownTimeout = errors.New("timeout waiting for connections to finish")
)

var (
	_ transport.IListener   = (*Listener)(nil)
	_ transport.IConnector  = (*Connector)(nil)
	_ transport.IConnection = (*Session)(nil)
	_ protocol.PacketOwner  = (*Session)(nil)
)

// shutdownTimeout bounds how long Stop and Close wait for receive goroutines
const shutdownTimeout = 10 * time.Second

// --------------------------------------------------------------------------
// Interface Definitions for dependency injection
// --------------------------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies socket options to an accepted connection
	UpgradeConnection(conn net.Conn, config common.TransportConf) error
}

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies socket options to an established connection
	UpgradeConnection(conn net.Conn, config common.TransportConf) error
}

// --------------------------------------------------------------------------
// Engine (shared by Listener and Connector)
// --------------------------------------------------------------------------

// engine owns the connection pool, the sender and the packet queue
type engine struct {
	name     string
	conf     common.EngineConf
	wire     *protocol.WireProtocol
	buffers  *pool.BufferManager
	idle     *pool.Stack[*Connection]
	sender   *Sender
	queue    *packet.Queue
	subject  observerSubject
	active   *xsync.MapOf[uuid.UUID, *Session]
	metrics  *engineMetrics
	sessions sync.WaitGroup // receive goroutines and pending binds

	lifecycle sync.RWMutex // orders sessions.Add before the shutdown Wait
	stopCh    chan struct{}
}

// newEngine provisions all connections up front: one arena segment each, pushed to the idle pool
func newEngine(name string, conf common.EngineConf) (*engine, error) {
	wire, err := NewWireProtocol(conf.Protocol)
	if err != nil {
		return nil, err
	}

	buffers, err := pool.NewBufferManager(conf.MaxConnections, conf.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate receive buffers: %w", err)
	}

	e := &engine{
		name:    name,
		conf:    conf,
		wire:    wire,
		buffers: buffers,
		idle:    pool.NewStack[*Connection](conf.MaxConnections),
		queue:   packet.NewQueue(conf.MaxConnections * 64),
		active:  xsync.NewMapOf[uuid.UUID, *Session](),
		stopCh:  make(chan struct{}),
	}
	e.metrics = newEngineMetrics(name,
		func() float64 { return float64(e.active.Size()) },
		func() float64 { return float64(e.idle.Len()) },
		func() float64 { return float64(e.queue.Len()) },
	)
	e.sender = NewSender(conf.SendContexts, seconds(conf.TimeoutSecond), e.metrics)

	for i := 0; i < conf.MaxConnections; i++ {
		c, err := e.newConnection(i)
		if err != nil {
			return nil, err
		}
		if err := e.idle.Push(c); err != nil {
			return nil, fmt.Errorf("failed to provision connection %d: %w", i, err)
		}
	}

	Logger.Debugf("%s: provisioned %d connections with %d byte buffers", name, conf.MaxConnections, conf.BufferSize)
	return e, nil
}

func (e *engine) newConnection(slot int) (*Connection, error) {
	c := &Connection{
		slot:              slot,
		wire:              e.wire,
		sender:            e.sender,
		queue:             e.queue,
		owner:             e,
		metrics:           e.metrics,
		wg:                &e.sessions,
		compressThreshold: e.conf.Protocol.CompressThreshold,
		readTimeout:       seconds(e.conf.TimeoutSecond),
		outbox:            queue.New(),
	}
	if !e.buffers.SetBuffer(&c.segment) {
		return nil, fmt.Errorf("receive buffer arena exhausted at connection %d", slot)
	}

	framer, err := framing.NewMessageFramer(e.conf.MaxMessageSize, c.onMessage)
	if err != nil {
		return nil, err
	}
	c.framer = framer
	return c, nil
}

// NewWireProtocol builds the codec described by the protocol config
func NewWireProtocol(conf common.ProtocolConf) (*protocol.WireProtocol, error) {
	settings, err := protocol.NewSettings([]byte(conf.Signature), conf.MaxContentSize)
	if err != nil {
		return nil, err
	}

	var opts []protocol.Option
	compressor, err := protocol.NewCompressor(conf.Compression, conf.MaxContentSize)
	if err != nil {
		return nil, err
	}
	if compressor != nil {
		opts = append(opts, protocol.WithCompressor(compressor))
	}

	if conf.EncryptionKey != "" {
		crypto, err := protocol.NewXChaChaProviderFromHex(conf.EncryptionKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, protocol.WithCrypto(crypto))
	}

	return protocol.NewWireProtocol(settings, opts...), nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IEngine)
// --------------------------------------------------------------------------

func (e *engine) Subscribe(observer transport.IConnectionObserver) (unsubscribe func()) {
	return e.subject.subscribe(observer)
}

func (e *engine) Packets() *packet.Queue {
	return e.queue
}

func (e *engine) ActiveConnections() int {
	return e.active.Size()
}

func (e *engine) AvailableConnections() int {
	return e.idle.Len()
}

func (e *engine) Metrics() *metrics.Set {
	return e.metrics.set
}

// Sessions returns a snapshot of all active sessions
func (e *engine) Sessions() []*Session {
	sessions := make([]*Session, 0, e.active.Size())
	e.active.Range(func(_ uuid.UUID, s *Session) bool {
		sessions = append(sessions, s)
		return true
	})
	return sessions
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// bind pulls an idle connection from the pool and binds the socket to it.
// The caller keeps ownership of the socket if an error is returned.
func (e *engine) bind(conn net.Conn) (*Session, error) {
	c, ok := e.idle.Pop()
	if !ok {
		return nil, ErrPoolExhausted
	}

	s, err := c.SetConnection(conn)
	if err != nil {
		if pushErr := e.idle.Push(c); pushErr != nil {
			Logger.Errorf("%s: failed to return connection %d to the pool: %v", e.name, c.slot, pushErr)
		}
		return nil, err
	}

	// shutdown may have taken its snapshot of the sessions before this one was stored
	if e.stopped() {
		s.Dispose()
		return nil, ErrStopped
	}
	return s, nil
}

// enter registers an operation that may bind connections. It returns false once the engine
// is stopped, otherwise leave must be called when the operation is done.
func (e *engine) enter() bool {
	e.lifecycle.RLock()
	defer e.lifecycle.RUnlock()
	if e.stopped() {
		return false
	}
	e.sessions.Add(1)
	return true
}

func (e *engine) leave() {
	e.sessions.Done()
}

// sessionStarted runs before the receive goroutine of the session starts
func (e *engine) sessionStarted(s *Session) {
	e.active.Store(s.id, s)
	Logger.Debugf("%s: connected %s", e.name, s)
	e.subject.notifyConnected(s, nil)
}

// sessionEnded runs after the receive goroutine of the session stopped.
// The engine is its own disconnect observer: it reclaims the connection and re-broadcasts.
func (e *engine) sessionEnded(s *Session) {
	e.active.Delete(s.id)
	if err := e.idle.Push(s.conn); err != nil {
		Logger.Errorf("%s: failed to return connection %d to the pool: %v", e.name, s.conn.slot, err)
	}
	Logger.Debugf("%s: disconnected %s", e.name, s)
	e.subject.notifyDisconnected(s)
}

// startHeartbeat sends a keepalive to every active session once per interval
func (e *engine) startHeartbeat(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.heartbeat()
			}
		}
	}()
}

func (e *engine) heartbeat() {
	e.active.Range(func(_ uuid.UUID, s *Session) bool {
		s.SendKeepAlive()
		return true
	})
}

// shutdown stops the heartbeat, disposes every session and waits for the receive goroutines
func (e *engine) shutdown() error {
	e.lifecycle.Lock()
	if !e.stopped() {
		close(e.stopCh)
	}
	e.lifecycle.Unlock()

	for _, s := range e.Sessions() {
		s.Dispose()
	}

	done := make(chan struct{})
	go func() {
		e.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("%s: %w (%d still active)", e.name, ErrShutdownTimeout, e.active.Size())
	}
}

func (e *engine) stopped() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

func seconds(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
