package util

import (
	"bytes"
	"fmt"
	"github.com/ValentinKolb/dNet/rpc/common"
	"github.com/ValentinKolb/dNet/rpc/transport/base"
	"github.com/ValentinKolb/dNet/rpc/transport/tcp"
	"github.com/ValentinKolb/dNet/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"os"
	"strings"
)

var Logger = logger.GetLogger("cmd")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// ConfigFile is the optional YAML file set with --config
var ConfigFile string

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads env files and makes viper read DNET_* environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dnet")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// engineDefaults are the flag defaults that differ between serve and client commands
type engineDefaults struct {
	address        string
	maxConnections int
	sendContexts   int
}

// SetupServerFlags adds the listener flags to a command
func SetupServerFlags(cmd *cobra.Command) {
	d := common.DefaultServerConfig()
	setupEngineFlags(cmd, engineDefaults{address: d.Address, maxConnections: d.MaxConnections, sendContexts: d.SendContexts})

	key := "backlog"
	cmd.PersistentFlags().Int(key, d.Backlog, WrapString("Length of the accept queue of the listening socket (0 uses the system maximum, tcp only)"))

	key = "reuse-addr"
	cmd.PersistentFlags().Bool(key, d.Socket.ReuseAddr, WrapString("Set SO_REUSEADDR on the listening socket (tcp only)"))

	key = "reuse-port"
	cmd.PersistentFlags().Bool(key, d.Socket.ReusePort, WrapString("Set SO_REUSEPORT on the listening socket so several processes can share the port (tcp only)"))
}

// SetupClientFlags adds the connector flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	d := common.DefaultClientConfig()
	setupEngineFlags(cmd, engineDefaults{address: d.Address, maxConnections: d.MaxConnections, sendContexts: d.SendContexts})

	key := "dial-timeout"
	cmd.PersistentFlags().Int64(key, d.DialTimeoutSecond, WrapString("Timeout in seconds for establishing a connection"))
}

func setupEngineFlags(cmd *cobra.Command, d engineDefaults) {
	key := "transport"
	cmd.PersistentFlags().String(key, common.TransportTCP, WrapString("Transport to use (tcp, unix)"))

	key = "address"
	cmd.PersistentFlags().String(key, d.address, WrapString("IP address or host name for tcp, socket path for unix"))

	key = "port"
	cmd.PersistentFlags().Int(key, common.DefaultPort, WrapString("TCP port (ignored for unix)"))

	key = "max-connections"
	cmd.PersistentFlags().Int(key, d.maxConnections, WrapString("Number of pooled connections, every connection owns one receive buffer"))

	key = "buffer-size"
	cmd.PersistentFlags().Int(key, common.DefaultBufferSize, WrapString("Size of the receive buffer of a connection (in bytes)"))

	key = "send-contexts"
	cmd.PersistentFlags().Int(key, d.sendContexts, WrapString("Number of concurrent writes shared by all connections"))

	key = "timeout"
	cmd.PersistentFlags().Int64(key, common.DefaultTimeoutSecond, WrapString("Read and write timeout in seconds (0 disables the timeout)"))

	key = "heartbeat"
	cmd.PersistentFlags().Int64(key, common.DefaultHeartbeatSecond, WrapString("Interval in seconds between keepalives (0 disables the heartbeat, must be shorter than the timeout)"))

	key = "signature"
	cmd.PersistentFlags().String(key, common.DefaultSignature, WrapString("Signature prepended to every frame, both sides must use the same"))

	key = "max-content-size"
	cmd.PersistentFlags().Int(key, common.DefaultMaxContentSize, WrapString("Largest content of a single packet (in bytes)"))

	key = "compression"
	cmd.PersistentFlags().String(key, "", WrapString("Compression of packet content (none, s2, zstd, snappy)"))

	key = "compress-threshold"
	cmd.PersistentFlags().Int(key, 256, WrapString("Content smaller than this is sent uncompressed (in bytes)"))

	key = "encryption-key"
	cmd.PersistentFlags().String(key, "", WrapString("Hex encoded 32 byte key, enables XChaCha20-Poly1305 encryption of packet content"))

	key = "socket-recv-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("SO_RCVBUF of the sockets (in bytes, 0 keeps the system default)"))

	key = "socket-send-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("SO_SNDBUF of the sockets (in bytes, 0 keeps the system default)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (tcp only)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("TCP keepalive period in seconds (0 keeps the system default, negative disables, tcp only)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("SO_LINGER in seconds (negative keeps the system default, tcp only)"))
}

// --------------------------------------------------------------------------
// Config
// --------------------------------------------------------------------------

// GetServerConfig builds the server config: defaults, then the --config file, then every
// flag or environment variable that is set
func GetServerConfig() (common.ServerConfig, error) {
	conf := common.DefaultServerConfig()
	if err := loadConfigFile(&conf); err != nil {
		return conf, err
	}

	overrideEngine(&conf.Transport, &conf.Address, &conf.Port, &conf.MaxConnections, &conf.BufferSize,
		&conf.SendContexts, &conf.TimeoutSecond, &conf.HeartbeatSecond, &conf.Protocol, &conf.Socket, &conf.TCP)
	setInt("backlog", &conf.Backlog)
	setBool("reuse-addr", &conf.Socket.ReuseAddr)
	setBool("reuse-port", &conf.Socket.ReusePort)
	setString("log-level", &conf.LogLevel)

	conf.MaxMessageSize = conf.Protocol.MaxFrameSize()
	return conf, conf.Validate()
}

// GetClientConfig builds the client config like GetServerConfig
func GetClientConfig() (common.ClientConfig, error) {
	conf := common.DefaultClientConfig()
	if err := loadConfigFile(&conf); err != nil {
		return conf, err
	}

	overrideEngine(&conf.Transport, &conf.Address, &conf.Port, &conf.MaxConnections, &conf.BufferSize,
		&conf.SendContexts, &conf.TimeoutSecond, &conf.HeartbeatSecond, &conf.Protocol, &conf.Socket, &conf.TCP)
	setInt64("dial-timeout", &conf.DialTimeoutSecond)
	setString("log-level", &conf.LogLevel)

	conf.MaxMessageSize = conf.Protocol.MaxFrameSize()
	return conf, conf.Validate()
}

// loadConfigFile decodes the --config file over the defaults, unknown keys are an error
func loadConfigFile(conf interface{}) error {
	if ConfigFile == "" {
		return nil
	}

	data, err := os.ReadFile(ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(conf); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", ConfigFile, err)
	}

	Logger.Debugf("loaded config file %s", ConfigFile)
	return nil
}

func overrideEngine(transport, address *string, port, maxConnections, bufferSize, sendContexts *int,
	timeout, heartbeat *int64, protocol *common.ProtocolConf, socket *common.SocketConf, tcp *common.TCPConf) {
	setString("transport", transport)
	setString("address", address)
	setInt("port", port)
	setInt("max-connections", maxConnections)
	setInt("buffer-size", bufferSize)
	setInt("send-contexts", sendContexts)
	setInt64("timeout", timeout)
	setInt64("heartbeat", heartbeat)

	setString("signature", &protocol.Signature)
	setInt("max-content-size", &protocol.MaxContentSize)
	setString("compression", &protocol.Compression)
	setInt("compress-threshold", &protocol.CompressThreshold)
	setString("encryption-key", &protocol.EncryptionKey)

	setInt("socket-recv-buffer", &socket.RecvBufferSize)
	setInt("socket-send-buffer", &socket.SendBufferSize)
	setBool("tcp-nodelay", &tcp.NoDelay)
	setInt("tcp-keepalive", &tcp.KeepAliveSecond)
	setInt("tcp-linger", &tcp.LingerSecond)
}

// The setters only overwrite dst if the key was set by a flag or the environment.
// Flag defaults never hide values of the --config file.

func setString(key string, dst *string) {
	if viper.IsSet(key) {
		*dst = viper.GetString(key)
	}
}

func setInt(key string, dst *int) {
	if viper.IsSet(key) {
		*dst = viper.GetInt(key)
	}
}

func setInt64(key string, dst *int64) {
	if viper.IsSet(key) {
		*dst = viper.GetInt64(key)
	}
}

func setBool(key string, dst *bool) {
	if viper.IsSet(key) {
		*dst = viper.GetBool(key)
	}
}

// --------------------------------------------------------------------------
// Engines
// --------------------------------------------------------------------------

// NewListener creates the listener of the configured transport
func NewListener(conf common.ServerConfig) (*base.Listener, error) {
	switch conf.Transport {
	case common.TransportTCP:
		return tcp.NewListener(conf)
	case common.TransportUnix:
		return unix.NewListener(conf)
	default:
		return nil, fmt.Errorf("invalid transport %s", conf.Transport)
	}
}

// NewConnector creates the connector of the configured transport
func NewConnector(conf common.ClientConfig) (*base.Connector, error) {
	switch conf.Transport {
	case common.TransportTCP:
		return tcp.NewConnector(conf)
	case common.TransportUnix:
		return unix.NewConnector(conf)
	default:
		return nil, fmt.Errorf("invalid transport %s", conf.Transport)
	}
}
