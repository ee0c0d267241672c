package client

import (
	"context"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dNet/cmd/util"
	"github.com/ValentinKolb/dNet/rpc/packet"
	"github.com/ValentinKolb/dNet/rpc/protocol"
	"github.com/ValentinKolb/dNet/rpc/transport"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"strconv"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Measure throughput and round trip latency against a dNet listener",
		Long:    "Keeps a fixed number of requests in flight on every connection and measures the round trip time of each request. The listener has to run in echo mode.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfConnections = 4
	perfPipeline    = 16
	perfSize        = 64
	perfDuration    = 10 * time.Second
	perfTick        = 100 * time.Microsecond
)

// timestampSize is the prefix of every request holding its send time
const timestampSize = 8

func init() {
	// add flags
	key := "connections"
	perfTestCmd.Flags().Int(key, perfConnections, util.WrapString("Number of connections to open"))
	key = "pipeline"
	perfTestCmd.Flags().Int(key, perfPipeline, util.WrapString("Requests in flight per connection"))
	key = "size"
	perfTestCmd.Flags().Int(key, perfSize, util.WrapString("Content size of a request (in bytes, at least 8)"))
	key = "duration"
	perfTestCmd.Flags().Duration(key, perfDuration, util.WrapString("How long the test runs"))
	key = "tick"
	perfTestCmd.Flags().Duration(key, perfTick, util.WrapString("Interval in which responses are processed"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save the results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfConnections = viper.GetInt("connections")
	perfPipeline = viper.GetInt("pipeline")
	perfSize = viper.GetInt("size")
	perfDuration = viper.GetDuration("duration")
	perfTick = viper.GetDuration("tick")

	if perfConnections <= 0 || perfConnections > clientConf.MaxConnections {
		return fmt.Errorf("connections must be between 1 and max-connections (%d)", clientConf.MaxConnections)
	}
	if perfPipeline <= 0 {
		return fmt.Errorf("pipeline must be greater than zero")
	}
	if perfSize < timestampSize || perfSize > clientConf.Protocol.MaxContentSize {
		return fmt.Errorf("size must be between %d and %d", timestampSize, clientConf.Protocol.MaxContentSize)
	}
	if perfDuration <= 0 || perfTick <= 0 {
		return fmt.Errorf("duration and tick must be greater than zero")
	}
	return nil
}

// perfResult holds the metrics of one run
type perfResult struct {
	requests    gometrics.Meter
	latency     gometrics.Histogram
	sendErrors  gometrics.Counter
	disconnects gometrics.Counter
	elapsed     time.Duration
}

func newPerfResult() *perfResult {
	return &perfResult{
		requests:    gometrics.NewMeter(),
		latency:     gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015)),
		sendErrors:  gometrics.NewCounter(),
		disconnects: gometrics.NewCounter(),
	}
}

func runPerf(cmd *cobra.Command, _ []string) error {
	defer closeConnector()

	fmt.Println("Performance testing tool for dNet listeners")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(clientConf.String())
	fmt.Printf("Connections: %d, pipeline: %d, size: %d bytes, duration: %s\n", perfConnections, perfPipeline, perfSize, perfDuration)
	fmt.Println()

	result := newPerfResult()
	defer result.requests.Stop()

	unsubscribe := connector.Subscribe(transport.ObserverFuncs{
		Disconnected: func(transport.IConnection) { result.disconnects.Inc(1) },
	})
	defer unsubscribe()

	connections := make([]transport.IConnection, 0, perfConnections)
	for i := 0; i < perfConnections; i++ {
		conn, err := connector.Connect(cmd.Context())
		if err != nil {
			return err
		}
		connections = append(connections, conn)
	}

	fmt.Println("starting test...")

	// the dispatcher runs on this goroutine only, so one scratch buffer is enough
	content := make([]byte, perfSize)
	send := func(owner protocol.PacketOwner) {
		binary.LittleEndian.PutUint64(content, uint64(time.Now().UnixNano()))
		if !owner.Send(content, protocol.TypeRequest) {
			result.sendErrors.Inc(1)
		}
	}

	dispatcher := packet.NewDispatcher()
	dispatcher.Register(protocol.TypeResponse, func(p *protocol.Packet) {
		if len(p.Content) < timestampSize {
			return
		}
		sent := int64(binary.LittleEndian.Uint64(p.Content))
		result.latency.Update(time.Now().UnixNano() - sent)
		result.requests.Mark(1)
		send(p.Owner)
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), perfDuration)
	defer cancel()

	start := time.Now()
	for _, conn := range connections {
		for i := 0; i < perfPipeline; i++ {
			send(conn)
		}
	}
	_ = dispatcher.Run(ctx, connector.Packets(), perfTick, 0)
	result.elapsed = time.Since(start)

	printResult(result)

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, result); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

var percentiles = []float64{0.5, 0.9, 0.99, 0.999}

// printResult prints the result of a run in a formatted way
func printResult(r *perfResult) {
	snapshot := r.latency.Snapshot()
	if snapshot.Count() == 0 {
		fmt.Printf("%-20sno responses received\n", "requests")
		return
	}

	opsPerSec := float64(r.requests.Count()) / r.elapsed.Seconds()
	fmt.Printf("%-20s%d\n", "requests", r.requests.Count())
	fmt.Printf("%-20s%.0f ops/sec\n", "throughput", opsPerSec)
	fmt.Printf("%-20s%s\n", "latency mean", time.Duration(snapshot.Mean()))
	fmt.Printf("%-20s%s\n", "latency min", time.Duration(snapshot.Min()))
	fmt.Printf("%-20s%s\n", "latency max", time.Duration(snapshot.Max()))
	for i, value := range snapshot.Percentiles(percentiles) {
		fmt.Printf("%-20s%s\n", fmt.Sprintf("latency p%g", percentiles[i]*100), time.Duration(value))
	}
	fmt.Printf("%-20s%d\n", "send errors", r.sendErrors.Count())
	fmt.Printf("%-20s%d\n", "disconnects", r.disconnects.Count())
}

// writeResultsToCSV writes the results of a run to a CSV file
func writeResultsToCSV(csvPath string, r *perfResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Requests", "OpsPerSec", "MeanNs", "P50Ns", "P99Ns", "MaxNs", "SendErrors", "Disconnects",
		"Endpoint", "Transport", "Connections", "Pipeline", "Size", "Compression", "Encrypted",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	snapshot := r.latency.Snapshot()
	ps := snapshot.Percentiles([]float64{0.5, 0.99})
	row := []string{
		strconv.FormatInt(r.requests.Count(), 10),
		fmt.Sprintf("%.0f", float64(r.requests.Count())/r.elapsed.Seconds()),
		fmt.Sprintf("%.0f", snapshot.Mean()),
		fmt.Sprintf("%.0f", ps[0]),
		fmt.Sprintf("%.0f", ps[1]),
		strconv.FormatInt(snapshot.Max(), 10),
		strconv.FormatInt(r.sendErrors.Count(), 10),
		strconv.FormatInt(r.disconnects.Count(), 10),
		clientConf.Endpoint(),
		clientConf.Transport,
		strconv.Itoa(perfConnections),
		strconv.Itoa(perfPipeline),
		strconv.Itoa(perfSize),
		clientConf.Protocol.Compression,
		strconv.FormatBool(clientConf.Protocol.EncryptionKey != ""),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %v", err)
	}
	return nil
}
