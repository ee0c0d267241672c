//go:build linux

package tcp

import (
	"fmt"
	"github.com/ValentinKolb/dNet/rpc/common"
	"golang.org/x/sys/unix"
	"net"
	"os"
)

// listen creates the listening socket by hand so the configured backlog and the socket
// options are applied before listen(2) is called
func listen(config common.ServerConfig) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", config.Endpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", config.Endpoint(), err)
	}

	family, sockaddr := toSockaddr(addr)

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	if err := setupSocket(fd, config, sockaddr); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	// net.FileListener duplicates the descriptor, the file is closed either way
	file := os.NewFile(uintptr(fd), "tcp:"+config.Endpoint())
	defer file.Close()

	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener on %s: %w", config.Endpoint(), err)
	}
	return listener, nil
}

func setupSocket(fd int, config common.ServerConfig, sockaddr unix.Sockaddr) error {
	if config.Socket.ReuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return os.NewSyscallError("setsockopt SO_REUSEADDR", err)
		}
	}
	if config.Socket.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return os.NewSyscallError("setsockopt SO_REUSEPORT", err)
		}
	}
	// accepted sockets inherit the receive buffer of the listening socket
	if config.Socket.RecvBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, config.Socket.RecvBufferSize); err != nil {
			return os.NewSyscallError("setsockopt SO_RCVBUF", err)
		}
	}

	if err := unix.Bind(fd, sockaddr); err != nil {
		return os.NewSyscallError("bind", err)
	}

	backlog := config.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return os.NewSyscallError("listen", err)
	}

	Logger.Debugf("listening on %s with backlog %d", config.Endpoint(), backlog)
	return nil
}

// toSockaddr converts the address, an unspecified IP listens on all IPv4 interfaces
func toSockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if addr.IP == nil || addr.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}

	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	if addr.Zone != "" {
		if iface, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(iface.Index)
		}
	}
	return unix.AF_INET6, sa
}
