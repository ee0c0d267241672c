package framing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand"
	"strconv"
	"testing"
)

// collector records every delivered message
type collector struct {
	messages [][]byte
}

func (c *collector) handle(payload []byte) {
	c.messages = append(c.messages, payload)
}

// randomPayload returns a deterministic random payload of the given size
func randomPayload(r *rand.Rand, size int) []byte {
	b := make([]byte, size)
	r.Read(b)
	return b
}

// TestWrapMessage tests the layout of a wrapped message
func TestWrapMessage(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, size := range []int{0, 1, 7, 255, 256, 65536} {
		m := randomPayload(r, size)
		wrapped := WrapMessage(m)

		require.Len(t, wrapped, size+PrefixSize)
		assert.Equal(t, uint32(size), binary.LittleEndian.Uint32(wrapped[:PrefixSize]))
		assert.True(t, bytes.Equal(m, wrapped[PrefixSize:]))
	}
}

// TestFramerSplitMessages tests that three messages are reassembled in order independent of chunking
func TestFramerSplitMessages(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	payloads := [][]byte{
		randomPayload(r, 508),
		randomPayload(r, 248),
		randomPayload(r, 700),
	}

	var stream []byte
	for _, p := range payloads {
		stream = append(stream, WrapMessage(p)...)
	}

	tests := []struct {
		name  string
		chunk int
	}{
		{"byte by byte", 1},
		{"three bytes", 3},
		{"odd chunks", 97},
		{"all at once", len(stream)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &collector{}
			f, err := NewMessageFramer(1024, c.handle)
			require.NoError(t, err)

			for i := 0; i < len(stream); i += tt.chunk {
				end := i + tt.chunk
				if end > len(stream) {
					end = len(stream)
				}
				require.NoError(t, f.DataReceived(stream[i:end]))
			}

			require.Len(t, c.messages, 3)
			for i, p := range payloads {
				assert.True(t, bytes.Equal(p, c.messages[i]), "message %d differs", i)
			}
		})
	}
}

// TestFramerKeepAlive tests that a zero length message is delivered as an empty payload
func TestFramerKeepAlive(t *testing.T) {
	keepAlive := WrapMessage(nil)
	assert.Equal(t, []byte{0, 0, 0, 0}, keepAlive)
	assert.Equal(t, keepAlive, WrapKeepAlive())

	c := &collector{}
	f, err := NewMessageFramer(16, c.handle)
	require.NoError(t, err)

	require.NoError(t, f.DataReceived(keepAlive))
	require.Len(t, c.messages, 1)
	assert.NotNil(t, c.messages[0])
	assert.Empty(t, c.messages[0])

	// keepalives in between messages do not disturb the framing
	stream := append(WrapKeepAlive(), WrapMessage([]byte("hello"))...)
	stream = append(stream, WrapKeepAlive()...)
	for _, b := range stream {
		require.NoError(t, f.DataReceived([]byte{b}))
	}
	require.Len(t, c.messages, 4)
	assert.Equal(t, []byte("hello"), c.messages[2])
	assert.Empty(t, c.messages[3])
}

// TestFramerProtocolViolation tests negative and oversized lengths
func TestFramerProtocolViolation(t *testing.T) {
	negative := make([]byte, PrefixSize)
	PutLength(negative, -1)

	oversized := make([]byte, PrefixSize)
	PutLength(oversized, 101)

	tests := []struct {
		name  string
		input []byte
	}{
		{"negative length", negative},
		{"length above maximum", oversized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &collector{}
			f, err := NewMessageFramer(100, c.handle)
			require.NoError(t, err)

			err = f.DataReceived(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrProtocolViolation))
			assert.True(t, f.Broken())

			// the framer refuses everything until it is reset
			err = f.DataReceived(WrapMessage([]byte("ok")))
			assert.ErrorIs(t, err, ErrProtocolViolation)
			assert.Empty(t, c.messages)

			f.Reset()
			assert.False(t, f.Broken())
			require.NoError(t, f.DataReceived(WrapMessage([]byte("ok"))))
			require.Len(t, c.messages, 1)
			assert.Equal(t, []byte("ok"), c.messages[0])
		})
	}
}

// TestFramerMaximumSize tests that a message of exactly the maximum size is accepted
func TestFramerMaximumSize(t *testing.T) {
	c := &collector{}
	f, err := NewMessageFramer(100, c.handle)
	require.NoError(t, err)

	require.NoError(t, f.DataReceived(WrapMessage(make([]byte, 100))))
	require.Len(t, c.messages, 1)
	assert.Len(t, c.messages[0], 100)
}

// TestFramerResetDropsPartial tests that Reset discards a partially received message
func TestFramerResetDropsPartial(t *testing.T) {
	c := &collector{}
	f, err := NewMessageFramer(100, c.handle)
	require.NoError(t, err)

	wrapped := WrapMessage([]byte("partial"))
	require.NoError(t, f.DataReceived(wrapped[:6]))
	f.Reset()

	require.NoError(t, f.DataReceived(WrapMessage([]byte("fresh"))))
	require.Len(t, c.messages, 1)
	assert.Equal(t, []byte("fresh"), c.messages[0])
}

// TestNewMessageFramerValidation tests the constructor arguments
func TestNewMessageFramerValidation(t *testing.T) {
	_, err := NewMessageFramer(0, nil)
	assert.ErrorIs(t, err, ErrInvalidMaxMessageSize)
	_, err = NewMessageFramer(-5, nil)
	assert.ErrorIs(t, err, ErrInvalidMaxMessageSize)
	if strconv.IntSize == 64 {
		tooBig := int64(MaxLength)
		tooBig++
		_, err = NewMessageFramer(int(tooBig), nil)
		assert.ErrorIs(t, err, ErrInvalidMaxMessageSize)
	}

	f, err := NewMessageFramer(8, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, f.MaxMessageSize())
	// a nil handler just drops messages
	assert.NoError(t, f.DataReceived(WrapMessage([]byte("x"))))
}

// BenchmarkFramer measures reassembly of a stream of 1 KiB messages
func BenchmarkFramer(b *testing.B) {
	msg := WrapMessage(make([]byte, 1024))
	f, _ := NewMessageFramer(2048, func([]byte) {})
	b.SetBytes(int64(len(msg)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := f.DataReceived(msg); err != nil {
			b.Fatal(err)
		}
	}
}
