package serve

import (
	"context"
	"errors"
	"fmt"
	cmdUtil "github.com/ValentinKolb/dNet/cmd/util"
	"github.com/ValentinKolb/dNet/rpc/common"
	"github.com/ValentinKolb/dNet/rpc/packet"
	"github.com/ValentinKolb/dNet/rpc/protocol"
	"github.com/ValentinKolb/dNet/rpc/transport"
	"github.com/ValentinKolb/dNet/rpc/transport/base"
	"github.com/VictoriaMetrics/metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Modes of the serve command
const (
	ModeEcho      = "echo"
	ModeBroadcast = "broadcast"
	ModeDiscard   = "discard"
)

var (
	serveCmdConfig common.ServerConfig
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start a dNet listener",
		Long: `Start a dNet listener with the specified configuration. The configuration can be set via command line flags, a YAML file (--config) or environment variables. The format of the environment variables is DNET_<flag> (e.g. DNET_MAX_CONNECTIONS=64)

Received packets are handled according to --mode:
  echo       requests are answered with a response carrying the same content, messages are sent back
  broadcast  messages are sent to every other connection, requests are answered like in echo mode
  discard    packets are only counted`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupServerFlags(ServeCmd)

	key := "mode"
	ServeCmd.PersistentFlags().String(key, ModeEcho, cmdUtil.WrapString("How received packets are handled (echo, broadcast, discard)"))

	key = "tick"
	ServeCmd.PersistentFlags().Duration(key, time.Millisecond, cmdUtil.WrapString("Interval in which the packet queue is drained"))

	key = "max-per-tick"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Maximum packets processed per tick (0 processes all waiting packets)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the HTTP endpoint serving /metrics in Prometheus format (e.g. :9100, empty disables it)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := cmdUtil.GetServerConfig()
	if err != nil {
		return err
	}
	serveCmdConfig = conf

	switch viper.GetString("mode") {
	case ModeEcho, ModeBroadcast, ModeDiscard:
	default:
		return fmt.Errorf("invalid mode %s (expected one of: %s, %s, %s)", viper.GetString("mode"), ModeEcho, ModeBroadcast, ModeDiscard)
	}
	if viper.GetDuration("tick") <= 0 {
		return fmt.Errorf("tick must be greater than zero")
	}

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the listener and drains its packet queue until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	listener, err := cmdUtil.NewListener(serveCmdConfig)
	if err != nil {
		return err
	}

	listener.Subscribe(transport.ObserverFuncs{
		Connected: func(conn transport.IConnection, _ error) {
			cmdUtil.Logger.Infof("client %s connected (%d active)", conn.RemoteAddr(), listener.ActiveConnections())
		},
		Disconnected: func(conn transport.IConnection) {
			cmdUtil.Logger.Infof("client %s disconnected", conn.RemoteAddr())
		},
	})

	if err := listener.Start(); err != nil {
		return err
	}
	cmdUtil.Logger.Infof("Configuration:\n%s", serveCmdConfig.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if endpoint := viper.GetString("metrics-endpoint"); endpoint != "" {
		metricsServer = startMetricsServer(endpoint, listener.Metrics())
	}

	dispatcher := NewDispatcher(viper.GetString("mode"), listener)
	runErr := dispatcher.Run(ctx, listener.Packets(), viper.GetDuration("tick"), viper.GetInt("max-per-tick"))
	cmdUtil.Logger.Infof("shutting down: %v", runErr)

	var result *multierror.Error
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to stop metrics endpoint: %w", err))
		}
	}
	if err := listener.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// NewDispatcher registers the packet processors of the given mode
func NewDispatcher(mode string, listener *base.Listener) *packet.Dispatcher {
	d := packet.NewDispatcher()

	if mode == ModeDiscard {
		return d
	}

	d.Register(protocol.TypeRequest, func(p *protocol.Packet) {
		p.Owner.Send(p.Content, protocol.TypeResponse)
	})

	switch mode {
	case ModeEcho:
		d.Register(protocol.TypeMessage, func(p *protocol.Packet) {
			p.Owner.Send(p.Content, protocol.TypeMessage)
		})
	case ModeBroadcast:
		d.Register(protocol.TypeMessage, func(p *protocol.Packet) {
			for _, s := range listener.Sessions() {
				if s != p.Owner {
					s.Send(p.Content, protocol.TypeMessage)
				}
			}
		})
	}
	return d
}

// startMetricsServer serves the listener metrics and the process metrics
func startMetricsServer(endpoint string, set *metrics.Set) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeMetrics(w, set)
	})

	server := &http.Server{
		Addr:              endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		cmdUtil.Logger.Infof("serving metrics on http://%s/metrics", endpoint)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cmdUtil.Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()
	return server
}

func writeMetrics(w io.Writer, set *metrics.Set) {
	set.WritePrometheus(w)
	metrics.WritePrometheus(w, true)
}
