// Package framing implements a length-prefix message framing for byte stream transports
// that deliver unframed data (e.g. TCP).
//
// Stream layout:
//
//	[4 bytes] payload length (int32, little endian)
//	[N bytes] payload
//
// A length of exactly 0 is a keepalive message and is delivered immediately with an empty
// payload. A negative length or a length above the configured maximum is a protocol violation
// which is fatal for the stream: the framer refuses all further data until it is Reset.
//
// Key Components:
//
//   - MessageFramer: Per-stream state machine that reassembles messages from arbitrarily
//     split chunks. It alternates strictly between reading the length prefix and reading the
//     declared payload.
//
//   - WrapMessage / WrapKeepAlive: Helpers producing framed messages.
package framing
