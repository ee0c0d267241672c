package unix

import (
	"fmt"
	"github.com/ValentinKolb/dNet/rpc/common"
	"github.com/ValentinKolb/dNet/rpc/transport/base"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"os"
)

var Logger = logger.GetLogger("unix")

// serverConnector implements the IServerConnector interface for Unix sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "unix"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	socketPath := config.Endpoint()

	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	// Create Unix socket listener, the socket file is removed again on Close
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %w", err)
	}

	Logger.Debugf("listening on %s", socketPath)
	return listener, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn, config common.TransportConf) error {
	return upgradeConnection(conn, config)
}

// --------------------------------------------------------------------------
// Listener Factory Method
// --------------------------------------------------------------------------

// NewListener creates a Unix socket listener, call Start to accept connections
func NewListener(config common.ServerConfig) (*base.Listener, error) {
	return base.NewListener(&serverConnector{}, config)
}

// upgradeConnection applies the socket buffer sizes, the TCP options do not apply
func upgradeConnection(conn net.Conn, config common.TransportConf) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	if config.Socket.SendBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(config.Socket.SendBufferSize); err != nil {
			return err
		}
	}
	if config.Socket.RecvBufferSize > 0 {
		if err := unixConn.SetReadBuffer(config.Socket.RecvBufferSize); err != nil {
			return err
		}
	}
	return nil
}
