// Package rpc contains the networking layer of dNet: the wire protocol, the packet
// queue and the pooled connection engine built on top of them.
//
// The package is organized into several subpackages:
//
//   - common: Configuration structures shared by listener and connector, and logging.
//
//   - protocol: The wire protocol. Packets are encoded into frames with an optional
//     signature, compression and encryption.
//
//   - packet: The packet queue filled by the receive goroutines and the dispatcher
//     that drains it on the application tick.
//
//   - transport: Connection and observer interfaces with the pooled engine (base) and
//     its TCP and Unix socket implementations.
package rpc
