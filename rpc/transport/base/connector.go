package base

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dNet/rpc/common"
	"github.com/ValentinKolb/dNet/rpc/transport"
	"github.com/hashicorp/go-multierror"
)

// Connector dials connections and binds them to pooled connections.
// Disconnected connections are reclaimed automatically, so retrying is calling Connect again.
type Connector struct {
	*engine
	connector IClientConnector
	config    common.ClientConfig
}

// NewConnector validates the config, provisions the connection pool and starts the heartbeat
func NewConnector(connector IClientConnector, config common.ClientConfig) (*Connector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e, err := newEngine(connector.GetName()+"-connector", config.Engine())
	if err != nil {
		return nil, err
	}
	e.startHeartbeat(seconds(config.HeartbeatSecond))

	return &Connector{
		engine:    e,
		connector: connector,
		config:    config,
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnector)
// --------------------------------------------------------------------------

func (c *Connector) Connect(ctx context.Context) (transport.IConnection, error) {
	if !c.enter() {
		return nil, ErrStopped
	}
	defer c.leave()

	s, err := c.connect(ctx)
	if err != nil {
		c.metrics.connectFailures.Inc()
		Logger.Warningf("Failed to connect to %s: %v", c.config.Endpoint(), err)
		c.subject.notifyConnected(nil, err)
		return nil, err
	}
	return s, nil
}

func (c *Connector) Close() error {
	var result *multierror.Error
	if err := c.shutdown(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Connector) connect(ctx context.Context) (*Session, error) {
	if c.config.DialTimeoutSecond > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, seconds(c.config.DialTimeoutSecond))
		defer cancel()
	}

	// fail fast without dialing if no connection is left
	if c.idle.Len() == 0 {
		return nil, ErrPoolExhausted
	}

	endpoint := c.config.Endpoint()
	conn, err := c.connector.Connect(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	if err := c.connector.UpgradeConnection(conn, c.config.Engine().Transport); err != nil {
		closeConn(conn)
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", endpoint, err)
	}

	s, err := c.bind(conn)
	if err != nil {
		closeConn(conn)
		return nil, err
	}
	return s, nil
}
