package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dNet/rpc/common"
	"github.com/hashicorp/go-multierror"
	"net"
	"sync"
	"time"
)

const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// Listener accepts connections and binds them to pooled connections.
// Accepted sockets beyond the pool capacity are closed right away.
type Listener struct {
	*engine
	connector IServerConnector
	config    common.ServerConfig

	// gate bounds the accepted sockets that are not yet bound or dropped
	gate chan struct{}

	mu         sync.Mutex
	listener   net.Listener
	acceptDone chan struct{}
}

// NewListener validates the config and provisions the connection pool
func NewListener(connector IServerConnector, config common.ServerConfig) (*Listener, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e, err := newEngine(connector.GetName()+"-listener", config.Engine())
	if err != nil {
		return nil, err
	}

	return &Listener{
		engine:    e,
		connector: connector,
		config:    config,
		gate:      make(chan struct{}, config.MaxConnections),
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IListener)
// --------------------------------------------------------------------------

func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped() {
		return ErrStopped
	}
	if l.listener != nil {
		return fmt.Errorf("listener already started on %s", l.listener.Addr())
	}

	listener, err := l.connector.Listen(l.config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	l.listener = listener
	l.acceptDone = make(chan struct{})

	Logger.Infof("Starting %s listener on %s with %d connections and %d send contexts",
		l.connector.GetName(), listener.Addr(), l.config.MaxConnections, l.config.SendContexts)

	go l.acceptLoop(listener, l.acceptDone)
	l.startHeartbeat(seconds(l.config.HeartbeatSecond))
	return nil
}

func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped() {
		return nil
	}

	var result *multierror.Error

	if l.listener != nil {
		if err := l.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("failed to close listener: %w", err))
		}
	}

	if err := l.shutdown(); err != nil {
		result = multierror.Append(result, err)
	}

	if l.acceptDone != nil {
		<-l.acceptDone
	}

	Logger.Infof("Stopped %s listener", l.connector.GetName())
	return result.ErrorOrNil()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acceptLoop accepts sockets until the listener is closed
func (l *Listener) acceptLoop(listener net.Listener, done chan struct{}) {
	defer close(done)

	backoff := time.Duration(0)
	for {
		l.gate <- struct{}{}

		conn, err := listener.Accept()
		if err != nil {
			<-l.gate

			// deliberate shutdown
			if errors.Is(err, net.ErrClosed) || l.stopped() {
				return
			}

			l.metrics.acceptErrors.Inc()
			if backoff == 0 {
				backoff = acceptBackoffMin
			} else if backoff *= 2; backoff > acceptBackoffMax {
				backoff = acceptBackoffMax
			}
			Logger.Warningf("Accept error: %v; retrying in %v", err, backoff)

			select {
			case <-l.stopCh:
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		if !l.enter() {
			<-l.gate
			closeConn(conn)
			return
		}
		go func() {
			defer func() {
				<-l.gate
				l.leave()
			}()
			l.handleAccepted(conn)
		}()
	}
}

// handleAccepted upgrades the socket and binds it to an idle connection or drops it
func (l *Listener) handleAccepted(conn net.Conn) {
	// sockets that can not be bound are closed without touching their options
	if l.idle.Len() == 0 {
		l.dropExhausted(conn)
		return
	}

	if err := l.connector.UpgradeConnection(conn, l.config.Engine().Transport); err != nil {
		Logger.Warningf("Dropping connection from %s: failed to apply socket options: %v", remoteAddr(conn), err)
		l.metrics.dropped.Inc()
		closeConn(conn)
		return
	}

	if _, err := l.bind(conn); err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			l.dropExhausted(conn)
			return
		}
		Logger.Warningf("Dropping connection from %s: %v", remoteAddr(conn), err)
		l.metrics.dropped.Inc()
		closeConn(conn)
		return
	}

	l.metrics.accepted.Inc()
}

func (l *Listener) dropExhausted(conn net.Conn) {
	Logger.Warningf("Dropping connection from %s: all %d connections in use", remoteAddr(conn), l.config.MaxConnections)
	l.metrics.dropped.Inc()
	closeConn(conn)
}
