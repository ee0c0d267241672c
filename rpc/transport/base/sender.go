package base

import (
	"github.com/ValentinKolb/dNet/lib/framing"
	"github.com/ValentinKolb/dNet/lib/pool"
	"github.com/ValentinKolb/dNet/rpc/protocol"
	"github.com/eapache/queue"
	"net"
	"sync"
	"time"
)

// outFrame is an encoded frame waiting to be written. data == nil is a keepalive.
type outFrame struct {
	gen  uint64
	data []byte
}

// sendContext holds the reusable write buffers of one sending goroutine
type sendContext struct {
	prefix  [framing.PrefixSize]byte
	buffers [2][]byte
}

// Sender writes frames for all connections of an engine using a bounded number of send
// contexts. A connection is served by at most one context at a time, so frames of one
// connection are written in submission order. Connections that have to wait for a context
// are queued and served round robin, one frame per turn.
type Sender struct {
	mu           sync.Mutex
	contexts     *pool.ConcurrentPool[*sendContext]
	waiting      *queue.Queue // *Connection
	writeTimeout time.Duration
	metrics      *engineMetrics
}

// NewSender creates a sender with the given number of send contexts
func NewSender(contexts int, writeTimeout time.Duration, metrics *engineMetrics) *Sender {
	p := pool.NewConcurrentPool(contexts, func() *sendContext { return &sendContext{} })
	p.Fill(contexts)

	return &Sender{
		contexts:     p,
		waiting:      queue.New(),
		writeTimeout: writeTimeout,
		metrics:      metrics,
	}
}

// SendMsg encodes the packet and sends it right away if the connection is not already
// sending and a context is free, otherwise the frame is queued. With compress set the
// content is compressed whenever the compressed form fits the content limit.
// Returns false if the packet can not be encoded or the activation is gone.
func (s *Sender) SendMsg(c *Connection, gen uint64, p *protocol.Packet, compress bool) bool {
	var data []byte
	var ok bool
	if compress {
		data, ok = c.wire.TryWrapPacketAuto(p)
	} else {
		data, ok = c.wire.TryWrapPacket(p)
	}
	if !ok {
		s.metrics.encodeFailures.Inc()
		return false
	}
	return s.enqueue(c, outFrame{gen: gen, data: data})
}

// SendKeepAlive queues an empty message for the connection
func (s *Sender) SendKeepAlive(c *Connection, gen uint64) bool {
	return s.enqueue(c, outFrame{gen: gen})
}

// FreeContexts returns the number of idle send contexts
func (s *Sender) FreeContexts() int {
	return s.contexts.Len()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *Sender) enqueue(c *Connection, f outFrame) bool {
	s.mu.Lock()

	if c.activeGen.Load() != f.gen {
		s.mu.Unlock()
		return false
	}

	// keep FIFO order: the connection already has frames in flight or queued
	if c.sending || c.outbox.Length() > 0 {
		c.outbox.Add(f)
		s.mu.Unlock()
		s.metrics.sendQueued.Inc()
		return true
	}

	guard, ok := s.contexts.TryAcquireGuard()
	if !ok {
		c.outbox.Add(f)
		c.waiting = true
		s.waiting.Add(c)
		s.mu.Unlock()
		s.metrics.sendQueued.Inc()
		return true
	}

	c.sending = true
	s.mu.Unlock()

	go s.run(guard, c, f)
	return true
}

// run writes frames until no connection is waiting anymore, then releases the context.
// The release happens under s.mu so enqueue never queues behind a context that is about to leave.
func (s *Sender) run(guard *pool.Guard[*sendContext], c *Connection, f outFrame) {
	defer guard.Release()

	ctx, _ := guard.Value() // not released before the loop ends

	for {
		s.write(ctx, c, f)

		s.mu.Lock()
		c.sending = false
		if c.outbox.Length() > 0 && !c.waiting {
			c.waiting = true
			s.waiting.Add(c)
		}

		next, nextFrame, ok := s.nextWaiting()
		if !ok {
			guard.Release()
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		c, f = next, nextFrame
	}
}

// nextWaiting pops the next connection with queued frames and marks it sending.
// Must be called with s.mu held.
func (s *Sender) nextWaiting() (*Connection, outFrame, bool) {
	for s.waiting.Length() > 0 {
		c := s.waiting.Remove().(*Connection)
		c.waiting = false
		if c.sending || c.outbox.Length() == 0 {
			continue
		}
		f := c.outbox.Remove().(outFrame)
		c.sending = true
		return c, f, true
	}
	return nil, outFrame{}, false
}

// write sends one frame, a write error disposes the connection
func (s *Sender) write(ctx *sendContext, c *Connection, f outFrame) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("recovered panic while sending on connection %d: %v", c.slot, r)
			c.dispose(f.gen)
		}
	}()

	conn := c.netConn(f.gen)
	if conn == nil {
		s.metrics.staleFrames.Inc()
		return
	}

	framing.PutLength(ctx.prefix[:], len(f.data))
	bufs := net.Buffers(ctx.buffers[:0])
	bufs = append(bufs, ctx.prefix[:])
	if len(f.data) > 0 {
		bufs = append(bufs, f.data)
	}

	if s.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			Logger.Debugf("failed to set write deadline on connection %d: %v", c.slot, err)
		}
	}

	n, err := bufs.WriteTo(conn)
	ctx.buffers = [2][]byte{}
	if err != nil {
		Logger.Debugf("write on connection %d failed: %v", c.slot, err)
		s.metrics.sendErrors.Inc()
		c.dispose(f.gen)
		return
	}

	c.touch()
	s.metrics.bytesSent.Add(int(n))
	if f.data == nil {
		s.metrics.keepAlivesSent.Inc()
	} else {
		s.metrics.framesSent.Inc()
		s.metrics.frameSize.Update(float64(len(f.data)))
	}
}

// drained reports whether the connection has nothing left to write. A disposed activation
// is drained as well but returns ErrNotActive since its queued frames were dropped.
func (s *Sender) drained(c *Connection, gen uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.activeGen.Load() != gen {
		return true, ErrNotActive
	}
	return !c.sending && c.outbox.Length() == 0, nil
}

// clear drops all queued frames of the connection
func (s *Sender) clear(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c.outbox.Length() > 0 {
		c.outbox.Remove()
	}
}
