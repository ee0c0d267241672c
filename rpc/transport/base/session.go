package base

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dNet/rpc/protocol"
	"github.com/google/uuid"
	"time"
)

// Session is the handle of one activation of a pooled Connection.
// It implements transport.IConnection and protocol.PacketOwner. After the activation ended
// all methods are safe no-ops, even if the Connection was reused in the meantime.
type Session struct {
	conn        *Connection
	gen         uint64
	id          uuid.UUID
	remoteAddr  string
	connectedAt time.Time
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

func (s *Session) Send(content []byte, packetType protocol.PacketType) bool {
	return s.conn.send(s.gen, content, packetType)
}

func (s *Session) SendKeepAlive() bool {
	return s.conn.sender.SendKeepAlive(s.conn, s.gen)
}

func (s *Session) Flush(ctx context.Context) error {
	return s.conn.flush(ctx, s.gen)
}

func (s *Session) Active() bool {
	return s.conn.activeGen.Load() == s.gen
}

func (s *Session) IdleTime() time.Duration {
	if !s.Active() {
		return 0
	}
	return s.conn.IdleTime()
}

func (s *Session) Dispose() bool {
	return s.conn.dispose(s.gen)
}

// Slot returns the index of the pooled connection backing this session
func (s *Session) Slot() int {
	return s.conn.slot
}

// ConnectedAt returns the time the session was bound
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

func (s *Session) String() string {
	return fmt.Sprintf("%s (%s, slot %d)", s.remoteAddr, s.id, s.conn.slot)
}
