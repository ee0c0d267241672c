package packet

import (
	"github.com/ValentinKolb/dNet/rpc/protocol"
	"github.com/eapache/queue"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
)

var Logger = logger.GetLogger("packet")

// Queue holds parsed packets waiting for processing plus a free list of recycled packets.
// Any number of goroutines may add packets concurrently, NextPacket never blocks.
type Queue struct {
	mu      sync.Mutex
	waiting *queue.Queue // *protocol.Packet
	free    *queue.Queue // *protocol.Packet
	maxFree int
}

// NewQueue creates a packet queue. At most maxFree recycled packets are kept (0 = unlimited).
func NewQueue(maxFree int) *Queue {
	return &Queue{
		waiting: queue.New(),
		free:    queue.New(),
		maxFree: maxFree,
	}
}

// AddPacket parses frame with the wire protocol and queues the resulting packet.
// It returns false if the frame is invalid or owner is nil, in which case nothing is queued.
func (q *Queue) AddPacket(owner protocol.PacketOwner, frame []byte, wire *protocol.WireProtocol) bool {
	if owner == nil || wire == nil {
		return false
	}

	p := q.takeFree()
	if !wire.TryParsePacket(frame, p) {
		q.RecyclePacket(p)
		return false
	}
	p.Owner = owner

	q.push(p)
	return true
}

// Enqueue queues already decoded content
func (q *Queue) Enqueue(owner protocol.PacketOwner, flags protocol.PacketFlags, packetType protocol.PacketType, content []byte) bool {
	if owner == nil {
		return false
	}

	p := q.takeFree()
	p.Flags = flags
	p.Type = packetType
	p.Content = content
	p.Owner = owner

	q.push(p)
	return true
}

// NextPacket removes the oldest waiting packet. The caller owns the packet and should hand it
// back via RecyclePacket when done.
func (q *Queue) NextPacket() (*protocol.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.waiting.Length() == 0 {
		return nil, false
	}
	return q.waiting.Remove().(*protocol.Packet), true
}

// RecyclePacket resets the packet and returns it to the free list
func (q *Queue) RecyclePacket(p *protocol.Packet) {
	if p == nil {
		return
	}
	p.Reset()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxFree > 0 && q.free.Length() >= q.maxFree {
		return
	}
	q.free.Add(p)
}

// Len returns the number of waiting packets
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting.Length()
}

// FreeLen returns the number of recycled packets ready for reuse
func (q *Queue) FreeLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.free.Length()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// takeFree returns a recycled packet or a new one
func (q *Queue) takeFree() *protocol.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.free.Length() > 0 {
		return q.free.Remove().(*protocol.Packet)
	}
	return &protocol.Packet{}
}

func (q *Queue) push(p *protocol.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiting.Add(p)
}
