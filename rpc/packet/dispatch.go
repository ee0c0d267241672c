package packet

import (
	"context"
	"github.com/ValentinKolb/dNet/rpc/protocol"
	"github.com/puzpuzpuz/xsync/v3"
	"time"
)

// ProcessorFunc handles one packet. The packet is only valid during the call, processors that
// keep the content must copy it.
type ProcessorFunc func(p *protocol.Packet)

// Dispatcher maps packet types to an ordered list of processors.
// Register may be called concurrently with Parse, registrations apply to the following packets.
type Dispatcher struct {
	processors *xsync.MapOf[protocol.PacketType, []ProcessorFunc]
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		processors: xsync.NewMapOf[protocol.PacketType, []ProcessorFunc](),
	}
}

// Register appends a processor for the given packet type
func (d *Dispatcher) Register(packetType protocol.PacketType, processor ProcessorFunc) {
	if processor == nil {
		return
	}
	// copy on write, running Parse calls keep their snapshot
	d.processors.Compute(packetType, func(old []ProcessorFunc, loaded bool) ([]ProcessorFunc, bool) {
		next := make([]ProcessorFunc, len(old), len(old)+1)
		copy(next, old)
		return append(next, processor), false
	})
}

// Processors returns the number of processors registered for the type
func (d *Dispatcher) Processors(packetType protocol.PacketType) int {
	list, _ := d.processors.Load(packetType)
	return len(list)
}

// Parse runs every processor registered for the type of the packet in registration order.
// Packets of unregistered types are ignored. A panicking processor is logged and skipped.
func (d *Dispatcher) Parse(p *protocol.Packet) {
	if p == nil {
		return
	}
	list, ok := d.processors.Load(p.Type)
	if !ok {
		return
	}
	for _, processor := range list {
		d.invoke(processor, p)
	}
}

// Drain processes at most max waiting packets (max <= 0 processes all packets waiting at the
// time of the call) and recycles them. It returns the number of processed packets.
func (d *Dispatcher) Drain(q *Queue, max int) int {
	if max <= 0 {
		max = q.Len()
	}

	processed := 0
	for processed < max {
		p, ok := q.NextPacket()
		if !ok {
			break
		}
		d.Parse(p)
		q.RecyclePacket(p)
		processed++
	}
	return processed
}

// Run drains the queue every interval until the context is cancelled. This is the application
// tick, all processors run on the calling goroutine.
func (d *Dispatcher) Run(ctx context.Context, q *Queue, interval time.Duration, maxPerTick int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := d.Drain(q, maxPerTick); n > 0 {
				Logger.Debugf("processed %d packets", n)
			}
		}
	}
}

func (d *Dispatcher) invoke(processor ProcessorFunc, p *protocol.Packet) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("recovered panic in %s processor: %v", p.Type, r)
		}
	}()
	processor(p)
}
