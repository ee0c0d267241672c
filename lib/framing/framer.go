package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"math"
)

var Logger = logger.GetLogger("framing")

const (
	// PrefixSize is the size of the length prefix in bytes
	PrefixSize = 4
	// MaxLength is the largest length the int32 prefix can carry
	MaxLength = math.MaxInt32
)

var (
	// ErrProtocolViolation is returned if the stream contains an invalid length prefix.
	// After this error the framer is broken and the caller must stop feeding data.
	ErrProtocolViolation = errors.New("framing protocol violation")
	// ErrInvalidMaxMessageSize is returned by NewMessageFramer for a maximum outside 1..MaxLength
	ErrInvalidMaxMessageSize = errors.New("max message size must be between 1 and MaxLength")
)

// MessageHandler is called for every complete message. An empty payload is a keepalive.
// The payload belongs to the handler, the framer never touches it again.
type MessageHandler func(payload []byte)

// MessageFramer reassembles length prefixed messages from a byte stream.
//
// Thread-safety: A framer belongs to a single stream and is NOT thread-safe.
// DataReceived must not be called concurrently.
type MessageFramer struct {
	maxMessageSize int
	handler        MessageHandler

	lengthBuffer  [PrefixSize]byte
	dataBuffer    []byte // nil while reading the length prefix
	bytesReceived int
	broken        bool
}

// NewMessageFramer creates a framer that accepts messages up to maxMessageSize bytes
// and calls handler for each of them
func NewMessageFramer(maxMessageSize int, handler MessageHandler) (*MessageFramer, error) {
	if maxMessageSize <= 0 || int64(maxMessageSize) > MaxLength {
		return nil, ErrInvalidMaxMessageSize
	}
	return &MessageFramer{
		maxMessageSize: maxMessageSize,
		handler:        handler,
	}, nil
}

// --------------------------------------------------------------------------
// Framing helpers
// --------------------------------------------------------------------------

// WrapMessage prefixes the message with its length
func WrapMessage(message []byte) []byte {
	result := make([]byte, PrefixSize+len(message))
	PutLength(result, len(message))
	copy(result[PrefixSize:], message)
	return result
}

// WrapKeepAlive returns a zero length message
func WrapKeepAlive() []byte {
	return make([]byte, PrefixSize)
}

// PutLength writes the length prefix for a message of the given length into dst[:4]
func PutLength(dst []byte, length int) {
	binary.LittleEndian.PutUint32(dst[:PrefixSize], uint32(int32(length)))
}

// --------------------------------------------------------------------------
// Stream processing
// --------------------------------------------------------------------------

// DataReceived feeds a chunk of the stream into the framer.
// The chunk may contain any number of partial or complete messages.
// The data is copied, the caller may reuse the chunk after the call returns.
func (f *MessageFramer) DataReceived(data []byte) error {
	if f.broken {
		return ErrProtocolViolation
	}

	for len(data) > 0 {
		// Case reading the length prefix
		if f.dataBuffer == nil {
			n := copy(f.lengthBuffer[f.bytesReceived:], data)
			f.bytesReceived += n
			data = data[n:]

			if f.bytesReceived < PrefixSize {
				continue
			}
			if err := f.lengthReceived(); err != nil {
				return err
			}
			continue
		}

		// Case reading the payload
		n := copy(f.dataBuffer[f.bytesReceived:], data)
		f.bytesReceived += n
		data = data[n:]

		if f.bytesReceived == len(f.dataBuffer) {
			f.messageReceived()
		}
	}

	return nil
}

// Reset drops any partially received message and makes a broken framer usable again
func (f *MessageFramer) Reset() {
	f.dataBuffer = nil
	f.bytesReceived = 0
	f.broken = false
}

// Broken returns true if the framer saw a protocol violation since the last Reset
func (f *MessageFramer) Broken() bool {
	return f.broken
}

// MaxMessageSize returns the largest accepted payload size
func (f *MessageFramer) MaxMessageSize() int {
	return f.maxMessageSize
}

// lengthReceived parses the complete length prefix and switches to the payload phase
func (f *MessageFramer) lengthReceived() error {
	length := int32(binary.LittleEndian.Uint32(f.lengthBuffer[:]))
	f.bytesReceived = 0

	if length < 0 {
		Logger.Debugf("rejecting negative message length %d", length)
		f.broken = true
		return fmt.Errorf("%w: negative message length %d", ErrProtocolViolation, length)
	}
	if int64(length) > int64(f.maxMessageSize) {
		Logger.Debugf("rejecting message length %d (max %d)", length, f.maxMessageSize)
		f.broken = true
		return fmt.Errorf("%w: message length %d exceeds maximum of %d", ErrProtocolViolation, length, f.maxMessageSize)
	}

	// zero length is a keepalive, deliver right away and stay in the length phase
	if length == 0 {
		f.deliver([]byte{})
		return nil
	}

	f.dataBuffer = make([]byte, length)
	return nil
}

// messageReceived delivers the completed payload and switches back to the length phase
func (f *MessageFramer) messageReceived() {
	payload := f.dataBuffer
	f.dataBuffer = nil
	f.bytesReceived = 0
	f.deliver(payload)
}

func (f *MessageFramer) deliver(payload []byte) {
	if f.handler != nil {
		f.handler(payload)
	}
}
