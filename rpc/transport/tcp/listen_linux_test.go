//go:build linux

package tcp

import (
	"github.com/ValentinKolb/dNet/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"net"
	"testing"
)

func TestToSockaddr(t *testing.T) {
	family, sa := toSockaddr(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 7300})
	assert.Equal(t, unix.AF_INET, family)
	v4 := sa.(*unix.SockaddrInet4)
	assert.Equal(t, 7300, v4.Port)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, v4.Addr)

	family, sa = toSockaddr(&net.TCPAddr{Port: 80})
	assert.Equal(t, unix.AF_INET, family)
	assert.Equal(t, [4]byte{}, sa.(*unix.SockaddrInet4).Addr)

	family, sa = toSockaddr(&net.TCPAddr{IP: net.IPv6loopback, Port: 1})
	assert.Equal(t, unix.AF_INET6, family)
	assert.Equal(t, [16]byte(net.IPv6loopback), sa.(*unix.SockaddrInet6).Addr)
}

func TestListenReusePort(t *testing.T) {
	config := common.DefaultServerConfig()
	config.Address = "127.0.0.1"
	config.Port = 0
	config.Socket.ReusePort = true
	config.Backlog = 1

	first, err := listen(config)
	require.NoError(t, err)
	defer first.Close()

	// a second socket can bind the same port only with SO_REUSEPORT
	config.Port = first.Addr().(*net.TCPAddr).Port
	second, err := listen(config)
	require.NoError(t, err)
	defer second.Close()

	config.Socket.ReusePort = false
	_, err = listen(config)
	assert.Error(t, err)
}

func TestListenAccepts(t *testing.T) {
	config := common.DefaultServerConfig()
	config.Address = "127.0.0.1"
	config.Port = 0
	config.Backlog = 0
	config.Socket.RecvBufferSize = 64 * 1024

	l, err := listen(config)
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			accepted <- conn
		}
		close(accepted)
	}()

	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	conn, ok := <-accepted
	require.True(t, ok)
	defer conn.Close()
	assert.Equal(t, client.LocalAddr().String(), conn.RemoteAddr().String())
}
