package tcp

import (
	"github.com/ValentinKolb/dNet/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"testing"
)

// tcpPair returns both ends of a loopback connection
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	server, err := l.Accept()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client
}

func TestUpgradeConnection(t *testing.T) {
	tests := []struct {
		name   string
		config common.TransportConf
	}{
		{"defaults", common.TransportConf{}},
		{"no delay and buffers", common.TransportConf{
			Socket: common.SocketConf{RecvBufferSize: 64 * 1024, SendBufferSize: 64 * 1024},
			TCP:    common.TCPConf{NoDelay: true, LingerSecond: -1},
		}},
		{"keepalive", common.TransportConf{TCP: common.TCPConf{KeepAliveSecond: 30, LingerSecond: 0}}},
		{"keepalive disabled", common.TransportConf{TCP: common.TCPConf{KeepAliveSecond: -1, LingerSecond: 5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := tcpPair(t)
			assert.NoError(t, upgradeConnection(server, tt.config))
			assert.NoError(t, upgradeConnection(client, tt.config))

			// the socket still works after the upgrade
			_, err := client.Write([]byte("ok"))
			require.NoError(t, err)
			buf := make([]byte, 2)
			_, err = server.Read(buf)
			require.NoError(t, err)
			assert.Equal(t, []byte("ok"), buf)
		})
	}
}

func TestUpgradeIgnoresOtherConnections(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	assert.NoError(t, upgradeConnection(a, common.TransportConf{TCP: common.TCPConf{NoDelay: true}}))
}

func TestConnectorNames(t *testing.T) {
	assert.Equal(t, "tcp", (&serverConnector{}).GetName())
	assert.Equal(t, "tcp", (&clientConnector{}).GetName())
}
