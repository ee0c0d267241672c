// Package tcp provides the TCP socket connectors for the base connection engine.
//
// On Linux the listening socket is created with golang.org/x/sys/unix so the configured
// backlog and SO_REUSEADDR / SO_REUSEPORT / SO_RCVBUF are applied before listen(2). Other
// platforms fall back to net.Listen. Accepted and dialed connections are upgraded with
// TCP_NODELAY, buffer sizes, keep-alive and linger from the config.
//
// Key Components:
//
//   - NewListener: Creates a base.Listener for a TCP endpoint.
//
//   - NewConnector: Creates a base.Connector dialing a TCP endpoint.
package tcp
