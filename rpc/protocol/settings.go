package protocol

import (
	"errors"
	"fmt"
	"golang.org/x/crypto/chacha20poly1305"
	"math"
	"sync"
)

const (
	// DefaultMaxContentSize limits the content of a single frame if nothing else is configured
	DefaultMaxContentSize = 4 * 1024 * 1024
	// MaxSignatureSize is the largest accepted signature
	MaxSignatureSize = 255

	flagsSize  = 1
	typeSize   = 1
	lengthSize = 4

	// MaxContentLimit keeps the largest possible frame, signature and encryption included,
	// within the int32 length fields of the wire format
	MaxContentLimit = math.MaxInt32 - MaxSignatureSize - flagsSize - typeSize - lengthSize -
		chacha20poly1305.NonceSizeX - chacha20poly1305.Overhead
)

var (
	ErrInvalidMaxContentSize = errors.New("max content size must be between 1 and MaxContentLimit")
	ErrSignatureTooLong      = errors.New("signature too long")
)

// Settings holds the framing parameters of the wire protocol.
// Settings are safe for concurrent use, SetSignature may be called while frames are processed.
type Settings struct {
	mu             sync.RWMutex
	signature      []byte
	maxContentSize int
	headerSize     int
}

// NewSettings creates protocol settings. An empty signature disables the signature check.
func NewSettings(signature []byte, maxContentSize int) (*Settings, error) {
	if maxContentSize <= 0 || int64(maxContentSize) > MaxContentLimit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxContentSize, maxContentSize)
	}
	s := &Settings{maxContentSize: maxContentSize}
	if err := s.SetSignature(signature); err != nil {
		return nil, err
	}
	return s, nil
}

// SetSignature replaces the signature and recomputes the header size
func (s *Settings) SetSignature(signature []byte) error {
	if len(signature) > MaxSignatureSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrSignatureTooLong, len(signature), MaxSignatureSize)
	}
	sig := append([]byte(nil), signature...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.signature = sig
	s.headerSize = len(sig) + flagsSize + typeSize + lengthSize
	return nil
}

// Signature returns a copy of the configured signature
func (s *Settings) Signature() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.signature...)
}

// MaxContentSize returns the largest accepted content size in bytes
func (s *Settings) MaxContentSize() int {
	return s.maxContentSize
}

// HeaderSize returns the size of the frame header: signature + flags + type + length
func (s *Settings) HeaderSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headerSize
}

// MaxFrameSize returns the largest possible unencrypted frame
func (s *Settings) MaxFrameSize() int {
	return s.HeaderSize() + s.maxContentSize
}

// view returns the signature without copying together with the header size.
// The returned slice must not be modified.
func (s *Settings) view() ([]byte, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signature, s.headerSize
}
