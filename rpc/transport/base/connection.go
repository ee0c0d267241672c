package base

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dNet/lib/framing"
	"github.com/ValentinKolb/dNet/lib/pool"
	"github.com/ValentinKolb/dNet/rpc/packet"
	"github.com/ValentinKolb/dNet/rpc/protocol"
	"github.com/eapache/queue"
	"github.com/google/uuid"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// connectionOwner is notified when an activation starts and after its receive goroutine ended
type connectionOwner interface {
	sessionStarted(s *Session)
	sessionEnded(s *Session)
}

// Connection is a pooled connection slot. It is allocated once and cycles
// Idle -> Active (SetConnection) -> Idle (Dispose) for the lifetime of its engine.
//
// Every activation gets a new generation number. Sessions and queued frames carry the
// generation they belong to, so nothing of an old activation can leak into a new one.
type Connection struct {
	slot    int
	segment pool.Segment
	wire    *protocol.WireProtocol
	sender  *Sender
	queue   *packet.Queue
	owner   connectionOwner
	metrics *engineMetrics
	framer  *framing.MessageFramer
	wg      *sync.WaitGroup

	compressThreshold int
	readTimeout       time.Duration

	// activeGen is the generation of the usable activation, 0 while idle or disposing
	activeGen    atomic.Uint64
	lastActivity atomic.Int64

	mu      sync.Mutex // guards conn, session and nextGen
	conn    net.Conn
	session *Session
	nextGen uint64

	// owned by the receive goroutine
	rxSession *Session
	rxInvalid bool

	// guarded by sender.mu
	outbox  *queue.Queue // outFrame
	sending bool
	waiting bool
}

var (
	// ErrConnectionActive is returned by SetConnection if the connection is still bound
	ErrConnectionActive = errors.New("connection is active")
	// ErrNoSegment is returned by SetConnection if the connection has no receive buffer
	ErrNoSegment = errors.New("connection has no receive buffer")
	// ErrNotActive is returned by Flush if the activation ended before its frames were written
	ErrNotActive = errors.New("connection is not active")
)

// flushInterval is the poll interval of Flush
const flushInterval = time.Millisecond

// SetConnection binds a socket to the idle connection and starts the receive goroutine
func (c *Connection) SetConnection(conn net.Conn) (*Session, error) {
	if !c.segment.Valid() {
		return nil, ErrNoSegment
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil, ErrConnectionActive
	}

	c.nextGen++
	s := &Session{
		conn:        c,
		gen:         c.nextGen,
		id:          uuid.New(),
		remoteAddr:  remoteAddr(conn),
		connectedAt: time.Now(),
	}
	c.conn = conn
	c.session = s
	c.mu.Unlock()

	c.framer.Reset()
	c.rxSession = s
	c.rxInvalid = false
	c.touch()
	c.activeGen.Store(s.gen)

	if c.owner != nil {
		c.owner.sessionStarted(s)
	}

	if c.wg != nil {
		c.wg.Add(1)
	}
	go c.receive(s, conn)

	return s, nil
}

// Session returns the current activation, false while idle
func (c *Connection) Session() (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.session != nil
}

// Dispose closes the current activation. It is idempotent and never panics.
func (c *Connection) Dispose() bool {
	gen := c.activeGen.Load()
	if gen == 0 {
		return false
	}
	return c.dispose(gen)
}

// IdleTime returns the time since data was last received or sent
func (c *Connection) IdleTime() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// send encodes the content and hands it to the sender
func (c *Connection) send(gen uint64, content []byte, packetType protocol.PacketType) bool {
	if c.activeGen.Load() != gen {
		return false
	}

	compress := c.wire.HasCompressor() && len(content) >= c.compressThreshold
	return c.sender.SendMsg(c, gen, &protocol.Packet{
		Flags:   protocol.FlagNone,
		Type:    packetType,
		Content: content,
	}, compress)
}

// flush waits until the sender wrote every frame of gen that was queued before
func (c *Connection) flush(ctx context.Context, gen uint64) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		if done, err := c.sender.drained(c, gen); done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// netConn returns the socket of the given activation or nil if it is no longer usable
func (c *Connection) netConn(gen uint64) net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeGen.Load() != gen || c.session == nil || c.session.gen != gen {
		return nil
	}
	return c.conn
}

// dispose ends the activation gen: it drops queued frames and closes the socket.
// The receive goroutine notices the closed socket and finishes the activation.
func (c *Connection) dispose(gen uint64) (disposed bool) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("recovered panic while disposing connection %d: %v", c.slot, r)
		}
	}()

	if gen == 0 || !c.activeGen.CompareAndSwap(gen, 0) {
		return false
	}
	disposed = true

	c.sender.clear(c)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	closeConn(conn)
	return disposed
}

// receive reads from the socket until it fails. Only one read is outstanding at a time.
func (c *Connection) receive(s *Session, conn net.Conn) {
	defer c.finish(s)

	buf := c.segment.Bytes()
	for {
		if c.readTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
				Logger.Debugf("failed to set read deadline for %s: %v", s, err)
				return
			}
		}

		n, err := conn.Read(buf)
		if n > 0 {
			c.touch()
			c.metrics.bytesReceived.Add(n)

			if ferr := c.framer.DataReceived(buf[:n]); ferr != nil {
				Logger.Warningf("dropping %s: %v", s, ferr)
				c.metrics.protocolViolations.Inc()
				return
			}
			if c.rxInvalid {
				Logger.Warningf("dropping %s: received invalid frame", s)
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				Logger.Debugf("connection %s closed", s)
			} else {
				Logger.Debugf("read from %s failed: %v", s, err)
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

// onMessage is the framer callback, it runs on the receive goroutine
func (c *Connection) onMessage(payload []byte) {
	if len(payload) == 0 {
		c.metrics.keepAlivesReceived.Inc()
		return
	}
	if c.rxInvalid {
		return
	}

	c.metrics.framesReceived.Inc()
	if !c.queue.AddPacket(c.rxSession, payload, c.wire) {
		c.metrics.invalidFrames.Inc()
		c.rxInvalid = true
	}
}

// finish runs after the receive goroutine stopped and hands the connection back to its owner
func (c *Connection) finish(s *Session) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("recovered panic while finishing connection %d: %v", c.slot, r)
		}
		if c.wg != nil {
			c.wg.Done()
		}
	}()

	c.dispose(s.gen)
	c.rxSession = nil

	c.mu.Lock()
	c.conn = nil
	c.session = nil
	c.mu.Unlock()

	c.metrics.disconnects.Inc()
	if c.owner != nil {
		c.owner.sessionEnded(s)
	}
}

// closeConn half closes and closes the socket, errors of already closed sockets are ignored
func closeConn(conn net.Conn) {
	if conn == nil {
		return
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		Logger.Debugf("failed to close connection: %v", err)
	}
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	if addr := conn.RemoteAddr().String(); addr != "" {
		return addr
	}
	return conn.RemoteAddr().Network()
}
