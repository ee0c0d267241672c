package common

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
)

// Transport names
const (
	TransportTCP  = "tcp"
	TransportUnix = "unix"
)

// Default values used by the CLI and DefaultServerConfig / DefaultClientConfig
const (
	DefaultPort            = 7300
	DefaultMaxConnections  = 1024
	DefaultBacklog         = 128
	DefaultBufferSize      = 4 * 1024
	DefaultMaxContentSize  = 1024 * 1024
	DefaultSendContexts    = 64
	DefaultTimeoutSecond   = 60
	DefaultHeartbeatSecond = 15
	DefaultDialTimeout     = 5
	DefaultSignature       = "dN"

	// frame header without signature: flags + type + int32 length
	frameHeaderSize = 6
	// nonce + tag of the XChaCha20-Poly1305 provider
	encryptionOverhead = 24 + 16
	encryptionKeySize  = 32
	// largest content whose frame still fits the int32 length fields with any signature
	maxContentLimit = math.MaxInt32 - 255 - frameHeaderSize - encryptionOverhead
)

// ErrInvalidConfig is wrapped by every validation error
var ErrInvalidConfig = errors.New("invalid config")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Shared configuration structs
// --------------------------------------------------------------------------

// ProtocolConf configures the wire protocol
type ProtocolConf struct {
	// Signature is prepended to every frame, empty disables the signature
	Signature string `yaml:"signature"`
	// MaxContentSize is the largest accepted content of a single packet
	MaxContentSize int `yaml:"maxContentSize"`
	// Compression is one of "", "s2", "zstd", "snappy"
	Compression string `yaml:"compression"`
	// CompressThreshold is the minimum content size that gets compressed
	CompressThreshold int `yaml:"compressThreshold"`
	// EncryptionKey is a hex encoded 32 byte key, empty disables encryption
	EncryptionKey string `yaml:"encryptionKey"`
}

// MaxFrameSize returns the largest frame the protocol can produce, including encryption overhead
func (c ProtocolConf) MaxFrameSize() int {
	size := len(c.Signature) + frameHeaderSize + c.MaxContentSize
	if c.EncryptionKey != "" {
		size += encryptionOverhead
	}
	return size
}

// Validate checks the protocol settings
func (c ProtocolConf) Validate() error {
	if c.MaxContentSize <= 0 {
		return invalid("protocol max content size must be greater than zero, got %d", c.MaxContentSize)
	}
	if len(c.Signature) > 255 {
		return invalid("protocol signature must not exceed 255 bytes, got %d", len(c.Signature))
	}
	if int64(c.MaxContentSize) > maxContentLimit {
		return invalid("protocol max content size must not exceed %d, got %d", maxContentLimit, c.MaxContentSize)
	}
	if c.CompressThreshold < 0 {
		return invalid("compress threshold must not be negative, got %d", c.CompressThreshold)
	}
	switch strings.ToLower(c.Compression) {
	case "", "none", "s2", "zstd", "snappy":
	default:
		return invalid("unknown compression %q (supported: s2, zstd, snappy)", c.Compression)
	}
	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil {
			return invalid("encryption key is not hex encoded: %v", err)
		}
		if len(key) != encryptionKeySize {
			return invalid("encryption key must be %d bytes, got %d", encryptionKeySize, len(key))
		}
	}
	return nil
}

// SocketConf configures generic socket options
type SocketConf struct {
	ReuseAddr      bool `yaml:"reuseAddr"`
	ReusePort      bool `yaml:"reusePort"`
	RecvBufferSize int  `yaml:"recvBufferSize"` // 0 = OS default
	SendBufferSize int  `yaml:"sendBufferSize"` // 0 = OS default
}

// TCPConf configures TCP specific socket options
type TCPConf struct {
	NoDelay         bool `yaml:"noDelay"`
	KeepAliveSecond int  `yaml:"keepAliveSecond"` // 0 = OS default, < 0 disables keep alive
	LingerSecond    int  `yaml:"lingerSecond"`    // < 0 = OS default
}

// TransportConf is handed to the transport connectors to upgrade accepted or dialed sockets
type TransportConf struct {
	Socket SocketConf
	TCP    TCPConf
}

// EngineConf holds the settings shared by the listener and the connector
type EngineConf struct {
	MaxConnections  int
	BufferSize      int
	MaxMessageSize  int
	SendContexts    int
	TimeoutSecond   int64
	HeartbeatSecond int64
	Protocol        ProtocolConf
	Transport       TransportConf
}

// validate checks the fields shared by server and client config
func (c EngineConf) validate() error {
	if c.MaxConnections <= 0 {
		return invalid("max connections must be greater than zero, got %d", c.MaxConnections)
	}
	if c.BufferSize <= 0 {
		return invalid("buffer size must be greater than zero, got %d", c.BufferSize)
	}
	if c.SendContexts <= 0 {
		return invalid("send contexts must be greater than zero, got %d", c.SendContexts)
	}
	if c.TimeoutSecond < 0 {
		return invalid("timeout must not be negative, got %d", c.TimeoutSecond)
	}
	if c.HeartbeatSecond < 0 {
		return invalid("heartbeat must not be negative, got %d", c.HeartbeatSecond)
	}
	if c.TimeoutSecond > 0 && c.HeartbeatSecond > 0 && c.HeartbeatSecond >= c.TimeoutSecond {
		return invalid("heartbeat (%d sec) must be shorter than the timeout (%d sec)", c.HeartbeatSecond, c.TimeoutSecond)
	}
	if err := c.Protocol.Validate(); err != nil {
		return err
	}
	if c.MaxMessageSize < c.Protocol.MaxFrameSize() {
		return invalid("max message size (%d) must hold the largest frame (%d)", c.MaxMessageSize, c.Protocol.MaxFrameSize())
	}
	if int64(c.MaxMessageSize) > math.MaxInt32 {
		return invalid("max message size %d does not fit the int32 length prefix", c.MaxMessageSize)
	}
	if c.Transport.Socket.RecvBufferSize < 0 || c.Transport.Socket.SendBufferSize < 0 {
		return invalid("socket buffer sizes must not be negative")
	}
	return nil
}

// validateEndpoint checks the transport, address and port
func validateEndpoint(transport, address string, port int) error {
	switch transport {
	case TransportTCP:
		if port < 0 || port > 65535 {
			return invalid("port must be between 0 and 65535, got %d", port)
		}
	case TransportUnix:
		if address == "" {
			return invalid("unix transport requires a socket path as address")
		}
	default:
		return invalid("unknown transport %q (supported: %s, %s)", transport, TransportTCP, TransportUnix)
	}
	return nil
}

// endpoint returns the address a transport listens on or dials to
func endpoint(transport, address string, port int) string {
	if transport == TransportUnix {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(port))
}

// formatter creates the helper functions for consistent formatting of config sections
func formatter(sb *strings.Builder) (addSection func(string), addField func(string, string)) {
	addSection = func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField = func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}
	return addSection, addField
}

// writeEngine renders the sections shared by server and client config
func writeEngine(sb *strings.Builder, c EngineConf) {
	addSection, addField := formatter(sb)

	addSection("Connections")
	addField("Max Connections", strconv.Itoa(c.MaxConnections))
	addField("Buffer Size", fmt.Sprintf("%d bytes", c.BufferSize))
	addField("Max Message Size", fmt.Sprintf("%d bytes", c.MaxMessageSize))
	addField("Send Contexts", strconv.Itoa(c.SendContexts))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Heartbeat", fmt.Sprintf("%d sec", c.HeartbeatSecond))

	addSection("Protocol")
	addField("Signature", fmt.Sprintf("%q", c.Protocol.Signature))
	addField("Max Content Size", fmt.Sprintf("%d bytes", c.Protocol.MaxContentSize))
	compression := c.Protocol.Compression
	if compression == "" {
		compression = "none"
	}
	addField("Compression", compression)
	addField("Compress Threshold", fmt.Sprintf("%d bytes", c.Protocol.CompressThreshold))
	addField("Encryption", fmt.Sprintf("%t", c.Protocol.EncryptionKey != ""))

	addSection("Socket")
	addField("Reuse Addr", fmt.Sprintf("%t", c.Transport.Socket.ReuseAddr))
	addField("Reuse Port", fmt.Sprintf("%t", c.Transport.Socket.ReusePort))
	addField("Recv Buffer", fmt.Sprintf("%d bytes", c.Transport.Socket.RecvBufferSize))
	addField("Send Buffer", fmt.Sprintf("%d bytes", c.Transport.Socket.SendBufferSize))
	addField("TCP No Delay", fmt.Sprintf("%t", c.Transport.TCP.NoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.Transport.TCP.KeepAliveSecond))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.Transport.TCP.LingerSecond))
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a listener
type ServerConfig struct {
	Address         string       `yaml:"address"`
	Port            int          `yaml:"port"`
	Transport       string       `yaml:"transport"`
	MaxConnections  int          `yaml:"maxConnections"`
	Backlog         int          `yaml:"backlog"`
	BufferSize      int          `yaml:"bufferSize"`
	MaxMessageSize  int          `yaml:"maxMessageSize"`
	SendContexts    int          `yaml:"sendContexts"`
	TimeoutSecond   int64        `yaml:"timeoutSecond"`
	HeartbeatSecond int64        `yaml:"heartbeatSecond"`
	Protocol        ProtocolConf `yaml:"protocol"`
	Socket          SocketConf   `yaml:"socket"`
	TCP             TCPConf      `yaml:"tcp"`

	// Logging configuration
	LogLevel string `yaml:"logLevel"`
}

// DefaultServerConfig returns a valid config listening on all interfaces
func DefaultServerConfig() ServerConfig {
	protocol := ProtocolConf{
		Signature:      DefaultSignature,
		MaxContentSize: DefaultMaxContentSize,
	}
	return ServerConfig{
		Address:         "0.0.0.0",
		Port:            DefaultPort,
		Transport:       TransportTCP,
		MaxConnections:  DefaultMaxConnections,
		Backlog:         DefaultBacklog,
		BufferSize:      DefaultBufferSize,
		MaxMessageSize:  protocol.MaxFrameSize(),
		SendContexts:    DefaultSendContexts,
		TimeoutSecond:   DefaultTimeoutSecond,
		HeartbeatSecond: DefaultHeartbeatSecond,
		Protocol:        protocol,
		Socket:          SocketConf{ReuseAddr: true},
		TCP:             TCPConf{NoDelay: true, LingerSecond: -1},
		LogLevel:        "info",
	}
}

// Engine returns the settings shared with the client
func (c *ServerConfig) Engine() EngineConf {
	return EngineConf{
		MaxConnections:  c.MaxConnections,
		BufferSize:      c.BufferSize,
		MaxMessageSize:  c.MaxMessageSize,
		SendContexts:    c.SendContexts,
		TimeoutSecond:   c.TimeoutSecond,
		HeartbeatSecond: c.HeartbeatSecond,
		Protocol:        c.Protocol,
		Transport:       TransportConf{Socket: c.Socket, TCP: c.TCP},
	}
}

// Endpoint returns host:port for tcp or the socket path for unix
func (c *ServerConfig) Endpoint() string {
	return endpoint(c.Transport, c.Address, c.Port)
}

// Validate checks the config and returns the first problem found
func (c *ServerConfig) Validate() error {
	if err := validateEndpoint(c.Transport, c.Address, c.Port); err != nil {
		return err
	}
	if c.Backlog < 0 {
		return invalid("backlog must not be negative, got %d", c.Backlog)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return invalid("%v", err)
	}
	return c.Engine().validate()
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder
	addSection, addField := formatter(&sb)

	addSection("Listener")
	addField("Transport", c.Transport)
	addField("Endpoint", c.Endpoint())
	addField("Backlog", strconv.Itoa(c.Backlog))

	writeEngine(&sb, c.Engine())

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters of a connector
type ClientConfig struct {
	Address           string       `yaml:"address"`
	Port              int          `yaml:"port"`
	Transport         string       `yaml:"transport"`
	MaxConnections    int          `yaml:"maxConnections"`
	BufferSize        int          `yaml:"bufferSize"`
	MaxMessageSize    int          `yaml:"maxMessageSize"`
	SendContexts      int          `yaml:"sendContexts"`
	TimeoutSecond     int64        `yaml:"timeoutSecond"`
	HeartbeatSecond   int64        `yaml:"heartbeatSecond"`
	DialTimeoutSecond int64        `yaml:"dialTimeoutSecond"`
	Protocol          ProtocolConf `yaml:"protocol"`
	Socket            SocketConf   `yaml:"socket"`
	TCP               TCPConf      `yaml:"tcp"`

	// Logging configuration
	LogLevel string `yaml:"logLevel"`
}

// DefaultClientConfig returns a valid config dialing the local default port
func DefaultClientConfig() ClientConfig {
	protocol := ProtocolConf{
		Signature:      DefaultSignature,
		MaxContentSize: DefaultMaxContentSize,
	}
	return ClientConfig{
		Address:           "127.0.0.1",
		Port:              DefaultPort,
		Transport:         TransportTCP,
		MaxConnections:    16,
		BufferSize:        DefaultBufferSize,
		MaxMessageSize:    protocol.MaxFrameSize(),
		SendContexts:      16,
		TimeoutSecond:     DefaultTimeoutSecond,
		HeartbeatSecond:   DefaultHeartbeatSecond,
		DialTimeoutSecond: DefaultDialTimeout,
		Protocol:          protocol,
		TCP:               TCPConf{NoDelay: true, LingerSecond: -1},
		LogLevel:          "info",
	}
}

// Engine returns the settings shared with the server
func (c *ClientConfig) Engine() EngineConf {
	return EngineConf{
		MaxConnections:  c.MaxConnections,
		BufferSize:      c.BufferSize,
		MaxMessageSize:  c.MaxMessageSize,
		SendContexts:    c.SendContexts,
		TimeoutSecond:   c.TimeoutSecond,
		HeartbeatSecond: c.HeartbeatSecond,
		Protocol:        c.Protocol,
		Transport:       TransportConf{Socket: c.Socket, TCP: c.TCP},
	}
}

// Endpoint returns host:port for tcp or the socket path for unix
func (c *ClientConfig) Endpoint() string {
	return endpoint(c.Transport, c.Address, c.Port)
}

// Validate checks the config and returns the first problem found
func (c *ClientConfig) Validate() error {
	if err := validateEndpoint(c.Transport, c.Address, c.Port); err != nil {
		return err
	}
	if c.Transport == TransportTCP && c.Address == "" {
		return invalid("address must not be empty")
	}
	if c.DialTimeoutSecond < 0 {
		return invalid("dial timeout must not be negative, got %d", c.DialTimeoutSecond)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return invalid("%v", err)
	}
	return c.Engine().validate()
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder
	addSection, addField := formatter(&sb)

	addSection("Connector")
	addField("Transport", c.Transport)
	addField("Endpoint", c.Endpoint())
	addField("Dial Timeout", fmt.Sprintf("%d sec", c.DialTimeoutSecond))

	writeEngine(&sb, c.Engine())

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
