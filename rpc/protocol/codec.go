package protocol

import (
	"bytes"
	"encoding/binary"
)

// WireProtocol encodes packets into frames and back.
// A WireProtocol is safe for concurrent use as long as its providers are.
type WireProtocol struct {
	settings   *Settings
	crypto     ICryptoProvider
	compressor ICompressProvider
}

// Option configures optional providers of a WireProtocol
type Option func(*WireProtocol)

// WithCrypto encrypts every frame with the given provider
func WithCrypto(crypto ICryptoProvider) Option {
	return func(w *WireProtocol) {
		w.crypto = crypto
	}
}

// WithCompressor enables compression of packets carrying FlagCompressed
func WithCompressor(compressor ICompressProvider) Option {
	return func(w *WireProtocol) {
		w.compressor = compressor
	}
}

// NewWireProtocol creates a codec for the given settings
func NewWireProtocol(settings *Settings, opts ...Option) *WireProtocol {
	w := &WireProtocol{settings: settings}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Settings returns the settings of the codec
func (w *WireProtocol) Settings() *Settings {
	return w.settings
}

// HasCompressor returns true if packets may carry FlagCompressed
func (w *WireProtocol) HasCompressor() bool {
	return w.compressor != nil
}

// HasCrypto returns true if frames are encrypted
func (w *WireProtocol) HasCrypto() bool {
	return w.crypto != nil
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// TryWrapPacket encodes the packet into a frame. It returns false if the packet is nil, the
// compressed flag is set without a compressor, the content is too big or a provider fails.
func (w *WireProtocol) TryWrapPacket(p *Packet) (frame []byte, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("recovered panic while wrapping packet: %v", r)
			frame, ok = nil, false
		}
	}()

	if p == nil {
		return nil, false
	}

	maxContent := w.settings.MaxContentSize()
	content := p.Content
	if len(content) > maxContent {
		Logger.Debugf("content of %d bytes exceeds limit of %d", len(content), maxContent)
		return nil, false
	}

	// Content is compressed before the length is computed
	if p.Flags.Has(FlagCompressed) {
		if w.compressor == nil {
			Logger.Debugf("packet flagged compressed but no compressor configured")
			return nil, false
		}
		compressed, err := w.compressor.Compress(content)
		if err != nil {
			Logger.Warningf("failed to compress content: %v", err)
			return nil, false
		}
		if len(compressed) > maxContent {
			Logger.Debugf("compressed content of %d bytes exceeds limit of %d", len(compressed), maxContent)
			return nil, false
		}
		content = compressed
	}

	return w.seal(p.Flags, p.Type, content)
}

// TryWrapPacketAuto encodes the packet and compresses its content if a compressor is
// configured. Unlike TryWrapPacket a content that does not fit once compressed is sent
// as is, so every content within MaxContentSize can be wrapped.
// The flags of p are ignored apart from FlagCompressed which is set as needed.
func (w *WireProtocol) TryWrapPacketAuto(p *Packet) (frame []byte, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("recovered panic while wrapping packet: %v", r)
			frame, ok = nil, false
		}
	}()

	if p == nil {
		return nil, false
	}

	maxContent := w.settings.MaxContentSize()
	if len(p.Content) > maxContent {
		Logger.Debugf("content of %d bytes exceeds limit of %d", len(p.Content), maxContent)
		return nil, false
	}

	flags := p.Flags &^ FlagCompressed
	if w.compressor != nil {
		compressed, err := w.compressor.Compress(p.Content)
		if err != nil {
			Logger.Debugf("sending content uncompressed, compression failed: %v", err)
		} else if len(compressed) <= maxContent {
			return w.seal(flags|FlagCompressed, p.Type, compressed)
		}
	}

	return w.seal(flags, p.Type, p.Content)
}

// seal writes the header and content and encrypts the frame if a crypto provider is set
func (w *WireProtocol) seal(flags PacketFlags, packetType PacketType, content []byte) ([]byte, bool) {
	signature, headerSize := w.settings.view()
	frame := make([]byte, headerSize+len(content))

	// Write header
	pos := copy(frame, signature)
	frame[pos] = byte(flags)
	frame[pos+1] = byte(packetType)
	binary.LittleEndian.PutUint32(frame[pos+2:pos+6], uint32(int32(len(content))))

	// Write content
	copy(frame[headerSize:], content)

	if w.crypto != nil {
		encrypted, err := w.crypto.Encrypt(frame)
		if err != nil {
			Logger.Warningf("failed to encrypt frame: %v", err)
			return nil, false
		}
		frame = encrypted
	}

	return frame, true
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// TryParsePacket decodes a frame into p. The packet may reference data afterwards, the caller
// must not reuse data. On failure p is left in an undefined state and should be reset.
// The owner of p is not touched.
func (w *WireProtocol) TryParsePacket(data []byte, p *Packet) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("recovered panic while parsing packet: %v", r)
			ok = false
		}
	}()

	if p == nil {
		return false
	}

	if w.crypto != nil {
		decrypted, err := w.crypto.Decrypt(data)
		if err != nil {
			Logger.Debugf("failed to decrypt frame: %v", err)
			return false
		}
		data = decrypted
	}

	signature, headerSize := w.settings.view()
	if len(data) < headerSize {
		Logger.Debugf("frame of %d bytes shorter than header of %d", len(data), headerSize)
		return false
	}

	// Validate header in order: signature, flags, type, length
	pos := len(signature)
	if !bytes.Equal(data[:pos], signature) {
		Logger.Debugf("signature mismatch")
		return false
	}

	flags := PacketFlags(data[pos])
	packetType := PacketType(data[pos+1])
	length := int32(binary.LittleEndian.Uint32(data[pos+2 : pos+6]))

	maxContent := w.settings.MaxContentSize()
	if length < 0 || int64(length) > int64(maxContent) {
		Logger.Debugf("invalid content length %d (max %d)", length, maxContent)
		return false
	}

	content := data[headerSize:]
	if len(content) != int(length) {
		Logger.Debugf("declared content length %d but frame carries %d bytes", length, len(content))
		return false
	}

	if flags.Has(FlagCompressed) {
		if w.compressor == nil {
			Logger.Debugf("compressed frame but no compressor configured")
			return false
		}
		decompressed, err := w.compressor.Decompress(content)
		if err != nil {
			Logger.Debugf("failed to decompress content: %v", err)
			return false
		}
		if len(decompressed) > maxContent {
			Logger.Debugf("decompressed content of %d bytes exceeds limit of %d", len(decompressed), maxContent)
			return false
		}
		content = decompressed
	}

	p.Flags = flags
	p.Type = packetType
	p.Content = content
	return true
}
