package protocol

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

// TestSettings tests validation and the derived header size
func TestSettings(t *testing.T) {
	_, err := NewSettings(nil, 0)
	assert.ErrorIs(t, err, ErrInvalidMaxContentSize)

	_, err = NewSettings(nil, MaxContentLimit+1)
	assert.ErrorIs(t, err, ErrInvalidMaxContentSize)
	_, err = NewSettings(nil, MaxContentLimit)
	assert.NoError(t, err)

	_, err = NewSettings(make([]byte, MaxSignatureSize+1), 10)
	assert.ErrorIs(t, err, ErrSignatureTooLong)

	s, err := NewSettings(nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 6, s.HeaderSize())
	assert.Empty(t, s.Signature())
	assert.Equal(t, 16, s.MaxFrameSize())

	sig := []byte{1, 2, 3}
	require.NoError(t, s.SetSignature(sig))
	assert.Equal(t, 9, s.HeaderSize())

	// the settings keep their own copy
	sig[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, s.Signature())
}

// TestPacket tests the helpers of Packet, PacketType and PacketFlags
func TestPacket(t *testing.T) {
	var nilPacket *Packet
	assert.True(t, nilPacket.IsEmpty())

	p := &Packet{Flags: FlagCompressed, Type: TypeRequest, Content: []byte("x")}
	assert.False(t, p.IsEmpty())
	p.Reset()
	assert.True(t, p.IsEmpty())

	assert.True(t, FlagCompressed.Has(FlagCompressed))
	assert.False(t, FlagNone.Has(FlagCompressed))
	assert.Equal(t, "compressed", FlagCompressed.String())
	assert.Equal(t, "invalid", PacketFlags(0x80).String())

	for pt := TypeNone; pt < typeCount; pt++ {
		assert.True(t, pt.Valid())
		parsed, ok := ParsePacketType(pt.String())
		require.True(t, ok)
		assert.Equal(t, pt, parsed)
	}
	assert.False(t, PacketType(200).Valid())
	assert.Equal(t, "unknown", PacketType(200).String())
	_, ok := ParsePacketType("unknown")
	assert.False(t, ok)
}

// TestNewCompressor tests resolving providers by name
func TestNewCompressor(t *testing.T) {
	c, err := NewCompressor("", 0)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = NewCompressor("none", 0)
	require.NoError(t, err)
	assert.Nil(t, c)

	for _, name := range CompressionNames {
		c, err := NewCompressor(name, 0)
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}

	c, err = NewCompressor(" ZSTD ", 0)
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c.Name())

	_, err = NewCompressor("lz4", 0)
	assert.ErrorIs(t, err, ErrUnknownCompression)
}

// TestCryptoProviderKeys tests key validation of the crypto provider
func TestCryptoProviderKeys(t *testing.T) {
	_, err := NewXChaChaProvider(make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewXChaChaProviderFromHex("not hex")
	assert.ErrorIs(t, err, ErrInvalidKey)

	x, err := NewXChaChaProviderFromHex("4242424242424242424242424242424242424242424242424242424242424242")
	require.NoError(t, err)
	assert.Equal(t, 24+16, x.Overhead())

	_, err = x.Decrypt([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCipherTextTooShort)
}
