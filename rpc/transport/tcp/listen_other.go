//go:build !linux

package tcp

import (
	"fmt"
	"github.com/ValentinKolb/dNet/rpc/common"
	"net"
)

// listen uses the standard listener, the backlog is chosen by the OS on this platform
func listen(config common.ServerConfig) (net.Listener, error) {
	listener, err := net.Listen("tcp", config.Endpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %w", err)
	}
	if config.Backlog > 0 {
		Logger.Debugf("ignoring backlog %d on this platform", config.Backlog)
	}
	return listener, nil
}
