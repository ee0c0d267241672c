// Package protocol implements the self describing binary packet format exchanged by dNet peers.
//
// Frame layout (all integers little endian):
//
//	[signature: 0..N bytes][flags: 1 byte][type: 1 byte][contentLength: int32][content]
//
// The signature is optional and configured via Settings. When the FlagCompressed bit is set, the
// content is compressed before the length is computed. When a crypto provider is configured the
// whole frame is encrypted.
//
// Key Components:
//
//   - Packet: One decoded frame with a non owning back reference to the session it arrived on.
//
//   - Settings: Signature and maximum content size, the header size is derived from both.
//
//   - WireProtocol: TryWrapPacket and TryParsePacket. Both never panic and report malformed
//     input as a boolean failure so the caller can drop the offending connection.
//     TryWrapPacketAuto compresses only when the result fits the content limit.
//
//   - Providers: ICryptoProvider (XChaCha20-Poly1305) and ICompressProvider (s2, zstd, snappy).
package protocol
