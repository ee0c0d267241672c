package protocol

import (
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("protocol")

// --------------------------------------------------------------------------
// Packet Flags
// --------------------------------------------------------------------------

// PacketFlags is the bitset stored in the flags byte of a frame
type PacketFlags uint8

const (
	FlagNone       PacketFlags = 0
	FlagCompressed PacketFlags = 1 << 0 // content is compressed
)

// Has returns true if all bits of flag are set
func (f PacketFlags) Has(flag PacketFlags) bool {
	return f&flag == flag
}

// String returns a readable form of the flags, e.g. "compressed"
func (f PacketFlags) String() string {
	switch {
	case f == FlagNone:
		return "none"
	case f == FlagCompressed:
		return "compressed"
	default:
		return "invalid"
	}
}

// --------------------------------------------------------------------------
// Packet Type
// --------------------------------------------------------------------------

// PacketType defines the kind of content a packet carries
type PacketType uint8

const (
	TypeNone      PacketType = iota
	TypeKeepAlive            // liveness check, no content
	TypeHandshake            // connection setup
	TypeRequest              // request expecting a response
	TypeResponse             // response to a request
	TypeMessage              // fire and forget message
	TypeError                // error report

	typeCount
)

// Valid returns true for the known packet types
func (t PacketType) Valid() bool {
	return t < typeCount
}

// String returns the string representation of a PacketType.
func (t PacketType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeKeepAlive:
		return "keepalive"
	case TypeHandshake:
		return "handshake"
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeMessage:
		return "message"
	case TypeError:
		return "error"
	default:
		return "unknown"
	}
}

// ParsePacketType is the inverse of PacketType.String
func ParsePacketType(s string) (PacketType, bool) {
	for t := TypeNone; t < typeCount; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return TypeNone, false
}

// --------------------------------------------------------------------------
// Packet
// --------------------------------------------------------------------------

// PacketOwner is the connection a packet arrived on. The reference is non owning:
// once the connection was disposed Send returns false.
type PacketOwner interface {
	// Send encodes content as a packet of the given type and queues it for sending
	Send(content []byte, packetType PacketType) bool
	// RemoteAddr returns the address of the peer
	RemoteAddr() string
}

// Packet is one decoded frame.
// A packet is never mutated concurrently: it belongs either to the free list, to the waiting
// queue or to the single consumer that dequeued it.
type Packet struct {
	Flags   PacketFlags
	Type    PacketType
	Content []byte
	Owner   PacketOwner
}

// IsEmpty returns true for a packet that carries no frame
func (p *Packet) IsEmpty() bool {
	return p == nil || (p.Owner == nil && p.Type == TypeNone && p.Flags == FlagNone && len(p.Content) == 0)
}

// Reset clears the packet so it can be reused
func (p *Packet) Reset() {
	p.Flags = FlagNone
	p.Type = TypeNone
	p.Content = nil
	p.Owner = nil
}
