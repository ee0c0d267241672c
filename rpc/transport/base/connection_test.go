package base

import (
	"context"
	"encoding/binary"
	"github.com/ValentinKolb/dNet/lib/framing"
	"github.com/ValentinKolb/dNet/rpc/common"
	"github.com/ValentinKolb/dNet/rpc/protocol"
	"github.com/ValentinKolb/dNet/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const waitFor = 5 * time.Second
const tick = time.Millisecond

func testEngineConf() common.EngineConf {
	protocolConf := common.ProtocolConf{Signature: "dN", MaxContentSize: 64 * 1024}
	return common.EngineConf{
		MaxConnections: 4,
		BufferSize:     512,
		MaxMessageSize: protocolConf.MaxFrameSize(),
		SendContexts:   2,
		Protocol:       protocolConf,
	}
}

func newTestEngine(t *testing.T, conf common.EngineConf) *engine {
	t.Helper()
	e, err := newEngine("test", conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.shutdown() })
	return e
}

// eventRecorder counts observer callbacks
type eventRecorder struct {
	connected    atomic.Int64
	failed       atomic.Int64
	disconnected atomic.Int64
}

func (r *eventRecorder) observer() transport.IConnectionObserver {
	return transport.ObserverFuncs{
		Connected: func(conn transport.IConnection, err error) {
			if err != nil {
				r.failed.Add(1)
				return
			}
			r.connected.Add(1)
		},
		Disconnected: func(transport.IConnection) { r.disconnected.Add(1) },
	}
}

// writeFrame wraps a packet like a peer would and writes it to the socket
func writeFrame(t *testing.T, e *engine, conn net.Conn, packetType protocol.PacketType, content []byte) {
	t.Helper()
	frame, ok := e.wire.TryWrapPacket(&protocol.Packet{Type: packetType, Content: content})
	require.True(t, ok)
	_, err := conn.Write(framing.WrapMessage(frame))
	require.NoError(t, err)
}

// readMessage reads one length prefixed message, an empty result is a keepalive
func readMessage(conn net.Conn) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(conn, prefix[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.LittleEndian.Uint32(prefix[:]))
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// readPacket reads and parses the next non keepalive frame
func readPacket(e *engine, conn net.Conn) (*protocol.Packet, bool) {
	for {
		msg, err := readMessage(conn)
		if err != nil {
			return nil, false
		}
		if len(msg) == 0 {
			continue
		}
		p := &protocol.Packet{}
		return p, e.wire.TryParsePacket(msg, p)
	}
}

// TestConnectionLifecycle tests bind, receive, send and dispose of a single connection
func TestConnectionLifecycle(t *testing.T) {
	e := newTestEngine(t, testEngineConf())
	events := &eventRecorder{}
	e.Subscribe(events.observer())

	server, client := net.Pipe()
	defer client.Close()

	s, err := e.bind(server)
	require.NoError(t, err)
	assert.Equal(t, int64(1), events.connected.Load())
	assert.Equal(t, 1, e.ActiveConnections())
	assert.Equal(t, 3, e.AvailableConnections())
	assert.True(t, s.Active())

	// receive
	writeFrame(t, e, client, protocol.TypeRequest, []byte("ping"))
	require.Eventually(t, func() bool { return e.queue.Len() == 1 }, waitFor, tick)
	p, ok := e.queue.NextPacket()
	require.True(t, ok)
	assert.Equal(t, protocol.TypeRequest, p.Type)
	assert.Equal(t, []byte("ping"), p.Content)
	assert.Same(t, s, p.Owner)

	// send through the packet owner
	done := make(chan *protocol.Packet, 1)
	go func() {
		resp, _ := readPacket(e, client)
		done <- resp
	}()
	require.True(t, p.Owner.Send([]byte("pong"), protocol.TypeResponse))
	select {
	case resp := <-done:
		require.NotNil(t, resp)
		assert.Equal(t, protocol.TypeResponse, resp.Type)
		assert.Equal(t, []byte("pong"), resp.Content)
	case <-time.After(waitFor):
		t.Fatal("response not received")
	}

	// dispose
	assert.True(t, s.Dispose())
	assert.False(t, s.Dispose())
	assert.False(t, s.Active())
	assert.False(t, s.Send([]byte("late"), protocol.TypeMessage))
	assert.False(t, s.SendKeepAlive())

	require.Eventually(t, func() bool { return events.disconnected.Load() == 1 }, waitFor, tick)
	assert.Equal(t, 0, e.ActiveConnections())
	assert.Equal(t, 4, e.AvailableConnections())
}

// TestStaleSessionAfterReuse tests that a session of an earlier activation can not use the
// reused connection
func TestStaleSessionAfterReuse(t *testing.T) {
	conf := testEngineConf()
	conf.MaxConnections = 1
	e := newTestEngine(t, conf)
	events := &eventRecorder{}
	e.Subscribe(events.observer())

	server1, client1 := net.Pipe()
	defer client1.Close()
	old, err := e.bind(server1)
	require.NoError(t, err)

	_, err = e.bind(nil)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	require.True(t, old.Dispose())
	require.Eventually(t, func() bool { return e.AvailableConnections() == 1 }, waitFor, tick)

	server2, client2 := net.Pipe()
	defer client2.Close()
	current, err := e.bind(server2)
	require.NoError(t, err)

	assert.Equal(t, old.Slot(), current.Slot(), "the single connection is reused")
	assert.NotEqual(t, old.ID(), current.ID())
	assert.False(t, old.Active())
	assert.False(t, old.Send([]byte("stale"), protocol.TypeMessage))
	assert.False(t, old.Dispose(), "disposing a stale session must not touch the new activation")
	assert.True(t, current.Active())

	go func() { _, _ = readMessage(client2) }()
	assert.True(t, current.Send([]byte("fresh"), protocol.TypeMessage))
}

// TestConnectionDropsMisbehavingPeer tests that invalid input disconnects only the sender
func TestConnectionDropsMisbehavingPeer(t *testing.T) {
	negativeLength := make([]byte, 4)
	framing.PutLength(negativeLength, -1)

	tests := []struct {
		name  string
		input []byte
	}{
		{"invalid frame", framing.WrapMessage([]byte("not a frame"))},
		{"negative length", negativeLength},
		{"message too large", func() []byte {
			b := make([]byte, 4)
			framing.PutLength(b, testEngineConf().MaxMessageSize+1)
			return b
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, testEngineConf())
			events := &eventRecorder{}
			e.Subscribe(events.observer())

			goodServer, goodClient := net.Pipe()
			defer goodClient.Close()
			good, err := e.bind(goodServer)
			require.NoError(t, err)

			badServer, badClient := net.Pipe()
			defer badClient.Close()
			bad, err := e.bind(badServer)
			require.NoError(t, err)

			_, _ = badClient.Write(tt.input)

			require.Eventually(t, func() bool { return events.disconnected.Load() == 1 }, waitFor, tick)
			assert.False(t, bad.Active())
			assert.True(t, good.Active())
			assert.Equal(t, 0, e.queue.Len())
		})
	}
}

// TestConnectionKeepAlive tests that keepalives only refresh the idle time
func TestConnectionKeepAlive(t *testing.T) {
	e := newTestEngine(t, testEngineConf())

	server, client := net.Pipe()
	defer client.Close()
	s, err := e.bind(server)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	before := s.IdleTime()
	assert.GreaterOrEqual(t, before, 20*time.Millisecond)

	_, err = client.Write(framing.WrapKeepAlive())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return e.metrics.keepAlivesReceived.Get() == 1 }, waitFor, tick)
	assert.Less(t, s.IdleTime(), before)
	assert.Equal(t, 0, e.queue.Len())
	assert.True(t, s.Active())

	// outgoing keepalive is an empty message
	received := make(chan []byte, 1)
	go func() {
		msg, _ := readMessage(client)
		received <- msg
	}()
	require.True(t, s.SendKeepAlive())
	select {
	case msg := <-received:
		assert.Empty(t, msg)
	case <-time.After(waitFor):
		t.Fatal("keepalive not received")
	}
}

// TestConnectionReadTimeout tests that a silent peer is disconnected
func TestConnectionReadTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping read timeout test in short mode")
	}

	conf := testEngineConf()
	conf.TimeoutSecond = 1
	e := newTestEngine(t, conf)
	events := &eventRecorder{}
	e.Subscribe(events.observer())

	server, client := net.Pipe()
	defer client.Close()
	s, err := e.bind(server)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return events.disconnected.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, s.Active())
}

// TestSenderOrderWithSingleContext tests per connection FIFO order while several connections
// share one send context
func TestSenderOrderWithSingleContext(t *testing.T) {
	const connections = 3
	const messages = 200

	conf := testEngineConf()
	conf.SendContexts = 1
	e := newTestEngine(t, conf)

	var wg sync.WaitGroup
	sessions := make([]*Session, connections)
	for i := 0; i < connections; i++ {
		server, client := net.Pipe()
		defer client.Close()
		s, err := e.bind(server)
		require.NoError(t, err)
		sessions[i] = s

		wg.Add(1)
		go func(client net.Conn) {
			defer wg.Done()
			for j := 0; j < messages; j++ {
				p, ok := readPacket(e, client)
				if !assert.True(t, ok) {
					return
				}
				assert.Equal(t, uint32(j), binary.LittleEndian.Uint32(p.Content), "frames out of order")
			}
		}(client)
	}

	var senders sync.WaitGroup
	for _, s := range sessions {
		senders.Add(1)
		go func(s *Session) {
			defer senders.Done()
			for j := 0; j < messages; j++ {
				content := binary.LittleEndian.AppendUint32(nil, uint32(j))
				assert.True(t, s.Send(content, protocol.TypeMessage))
			}
		}(s)
	}

	senders.Wait()
	wg.Wait()
	require.Eventually(t, func() bool { return e.sender.FreeContexts() == 1 }, waitFor, tick)
	assert.Equal(t, uint64(connections*messages), e.metrics.framesSent.Get())
}

// TestSenderWriteErrorDisposes tests that a failed write disposes the connection
func TestSenderWriteErrorDisposes(t *testing.T) {
	e := newTestEngine(t, testEngineConf())
	events := &eventRecorder{}
	e.Subscribe(events.observer())

	server, client := net.Pipe()
	s, err := e.bind(server)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	s.Send([]byte("lost"), protocol.TypeMessage)

	require.Eventually(t, func() bool { return events.disconnected.Load() == 1 }, waitFor, tick)
	assert.False(t, s.Active())
	require.Eventually(t, func() bool { return e.sender.FreeContexts() == 2 }, waitFor, tick)
}

// TestSendEncodeFailure tests that content above the limit is rejected without sending
func TestSendEncodeFailure(t *testing.T) {
	e := newTestEngine(t, testEngineConf())
	server, client := net.Pipe()
	defer client.Close()
	s, err := e.bind(server)
	require.NoError(t, err)

	assert.False(t, s.Send(make([]byte, 64*1024+1), protocol.TypeMessage))
	assert.Equal(t, uint64(1), e.metrics.encodeFailures.Get())
	assert.True(t, s.Active())
}

// TestFlushWaitsForWrites tests that Flush returns once the peer read every queued frame
func TestFlushWaitsForWrites(t *testing.T) {
	e := newTestEngine(t, testEngineConf())
	server, client := net.Pipe()
	defer client.Close()
	s, err := e.bind(server)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.True(t, s.Send([]byte{byte(i)}, protocol.TypeMessage))
	}

	// nobody reads from the pipe, the first write blocks
	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Flush(short), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- s.Flush(context.Background()) }()

	for i := 0; i < 3; i++ {
		p, ok := readPacket(e, client)
		require.True(t, ok)
		assert.Equal(t, []byte{byte(i)}, p.Content)
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("flush did not return")
	}

	require.True(t, s.Dispose())
	assert.ErrorIs(t, s.Flush(context.Background()), ErrNotActive)
}

// TestSendIncompressibleAtLimit tests that automatic compression falls back to plain content
func TestSendIncompressibleAtLimit(t *testing.T) {
	conf := testEngineConf()
	conf.Protocol.Compression = protocol.CompressionS2
	conf.Protocol.CompressThreshold = 64
	e := newTestEngine(t, conf)

	server, client := net.Pipe()
	defer client.Close()
	s, err := e.bind(server)
	require.NoError(t, err)

	content := make([]byte, conf.Protocol.MaxContentSize)
	rand.New(rand.NewSource(3)).Read(content)
	require.True(t, s.Send(content, protocol.TypeMessage))

	p, ok := readPacket(e, client)
	require.True(t, ok)
	assert.Equal(t, content, p.Content)
	assert.False(t, p.Flags.Has(protocol.FlagCompressed))
	assert.Zero(t, e.metrics.encodeFailures.Get())
}

// TestObserverUnsubscribe tests that unsubscribed observers are no longer called
func TestObserverUnsubscribe(t *testing.T) {
	var subject observerSubject
	first, second := &eventRecorder{}, &eventRecorder{}

	unsubscribe := subject.subscribe(first.observer())
	subject.subscribe(second.observer())
	subject.subscribe(nil)()
	assert.Equal(t, 2, subject.len())

	subject.notifyConnected(nil, assert.AnError)
	unsubscribe()
	unsubscribe()
	assert.Equal(t, 1, subject.len())

	subject.notifyDisconnected(nil)
	assert.Equal(t, int64(1), first.failed.Load())
	assert.Equal(t, int64(0), first.disconnected.Load())
	assert.Equal(t, int64(1), second.disconnected.Load())

	// a panicking observer does not stop the others
	subject.subscribe(transport.ObserverFuncs{Disconnected: func(transport.IConnection) { panic("observer failed") }})
	assert.NotPanics(t, func() { subject.notifyDisconnected(nil) })
	assert.Equal(t, int64(2), second.disconnected.Load())
}

// TestNewWireProtocolFromConfig tests that the config builds the expected codec
func TestNewWireProtocolFromConfig(t *testing.T) {
	conf := common.ProtocolConf{Signature: "xy", MaxContentSize: 100, Compression: "s2"}
	wire, err := NewWireProtocol(conf)
	require.NoError(t, err)
	assert.True(t, wire.HasCompressor())
	assert.False(t, wire.HasCrypto())
	assert.Equal(t, 8, wire.Settings().HeaderSize())

	conf.EncryptionKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	wire, err = NewWireProtocol(conf)
	require.NoError(t, err)
	assert.True(t, wire.HasCrypto())

	conf.Compression = "brotli"
	_, err = NewWireProtocol(conf)
	assert.Error(t, err)
}
