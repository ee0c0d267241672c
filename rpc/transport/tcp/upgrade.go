package tcp

import (
	"github.com/ValentinKolb/dNet/rpc/common"
	"net"
	"time"
)

// upgradeConnection applies the TCP and socket options of the config to a connection
func upgradeConnection(conn net.Conn, config common.TransportConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm (TCP_NODELAY) if configured
	if err := tcpConn.SetNoDelay(config.TCP.NoDelay); err != nil {
		return err
	}

	// Set socket write buffer size if configured
	if config.Socket.SendBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(config.Socket.SendBufferSize); err != nil {
			return err
		}
	}

	// Set socket read buffer size if configured
	if config.Socket.RecvBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(config.Socket.RecvBufferSize); err != nil {
			return err
		}
	}

	// Configure TCP keep-alive, 0 keeps the OS default
	switch {
	case config.TCP.KeepAliveSecond > 0:
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(config.TCP.KeepAliveSecond) * time.Second); err != nil {
			return err
		}
	case config.TCP.KeepAliveSecond < 0:
		if err := tcpConn.SetKeepAlive(false); err != nil {
			return err
		}
	}

	// Set TCP linger option if configured
	if config.TCP.LingerSecond >= 0 {
		if err := tcpConn.SetLinger(config.TCP.LingerSecond); err != nil {
			return err
		}
	}

	return nil
}
