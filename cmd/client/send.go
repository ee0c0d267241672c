package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dNet/rpc/protocol"
	"github.com/spf13/cobra"
	"strings"
	"time"
)

var (
	sendType  string
	sendCount int
	sendWait  time.Duration

	// sendCmd sends one packet and prints the answers
	sendCmd = &cobra.Command{
		Use:   "send [content]",
		Short: "Send a packet and print the answers",
		Long:  "Send the content as packet of the given type. For requests the command waits for the responses and prints their content.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSend,
	}
)

func init() {
	sendCmd.Flags().StringVar(&sendType, "type", protocol.TypeRequest.String(), "Packet type (request, message)")
	sendCmd.Flags().IntVar(&sendCount, "count", 1, "How many times the packet is sent")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 5*time.Second, "How long to wait for responses")
}

func runSend(cmd *cobra.Command, args []string) error {
	defer closeConnector()

	packetType, ok := protocol.ParsePacketType(sendType)
	if !ok || (packetType != protocol.TypeRequest && packetType != protocol.TypeMessage) {
		return fmt.Errorf("invalid packet type %s (expected request or message)", sendType)
	}
	if sendCount <= 0 {
		return fmt.Errorf("count must be greater than zero")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), sendWait)
	defer cancel()

	conn, err := connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Dispose()

	content := []byte(strings.Join(args, " "))
	for i := 0; i < sendCount; i++ {
		if !conn.Send(content, packetType) {
			return fmt.Errorf("failed to send packet %d of %d", i+1, sendCount)
		}
	}

	// Send only queues, the packets have to reach the socket before the connection is disposed
	if err := conn.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush %d packet(s) to %s: %w", sendCount, conn.RemoteAddr(), err)
	}

	if packetType != protocol.TypeRequest {
		fmt.Printf("sent %d %s packet(s) to %s\n", sendCount, packetType, conn.RemoteAddr())
		return nil
	}

	// wait for the responses
	queue := connector.Packets()
	for received := 0; received < sendCount; {
		p, ok := queue.NextPacket()
		if !ok {
			select {
			case <-ctx.Done():
				return fmt.Errorf("received %d of %d responses: %w", received, sendCount, ctx.Err())
			case <-time.After(time.Millisecond):
			}
			continue
		}

		if p.Type == protocol.TypeResponse {
			fmt.Println(string(p.Content))
			received++
		}
		queue.RecyclePacket(p)
	}
	return nil
}
