package base

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
)

// engineMetrics holds the counters of one listener or connector.
// Every engine has its own metrics.Set so several engines can live in one process.
type engineMetrics struct {
	set *metrics.Set

	accepted        *metrics.Counter
	dropped         *metrics.Counter
	acceptErrors    *metrics.Counter
	connectFailures *metrics.Counter
	disconnects     *metrics.Counter

	framesReceived     *metrics.Counter
	bytesReceived      *metrics.Counter
	keepAlivesReceived *metrics.Counter
	invalidFrames      *metrics.Counter
	protocolViolations *metrics.Counter

	framesSent     *metrics.Counter
	bytesSent      *metrics.Counter
	keepAlivesSent *metrics.Counter
	sendQueued     *metrics.Counter
	sendErrors     *metrics.Counter
	encodeFailures *metrics.Counter
	staleFrames    *metrics.Counter
	frameSize      *metrics.Histogram
}

// newEngineMetrics creates the metric set. active and idle are read on every scrape.
func newEngineMetrics(engine string, active, idle, queued func() float64) *engineMetrics {
	s := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`dnet_%s{engine=%q}`, metric, engine)
	}

	s.NewGauge(name("connections_active"), active)
	s.NewGauge(name("connections_idle"), idle)
	s.NewGauge(name("packets_waiting"), queued)

	return &engineMetrics{
		set: s,

		accepted:        s.NewCounter(name("connections_accepted_total")),
		dropped:         s.NewCounter(name("connections_dropped_total")),
		acceptErrors:    s.NewCounter(name("accept_errors_total")),
		connectFailures: s.NewCounter(name("connect_failures_total")),
		disconnects:     s.NewCounter(name("disconnects_total")),

		framesReceived:     s.NewCounter(name("frames_received_total")),
		bytesReceived:      s.NewCounter(name("bytes_received_total")),
		keepAlivesReceived: s.NewCounter(name("keepalives_received_total")),
		invalidFrames:      s.NewCounter(name("invalid_frames_total")),
		protocolViolations: s.NewCounter(name("protocol_violations_total")),

		framesSent:     s.NewCounter(name("frames_sent_total")),
		bytesSent:      s.NewCounter(name("bytes_sent_total")),
		keepAlivesSent: s.NewCounter(name("keepalives_sent_total")),
		sendQueued:     s.NewCounter(name("sends_queued_total")),
		sendErrors:     s.NewCounter(name("send_errors_total")),
		encodeFailures: s.NewCounter(name("encode_failures_total")),
		staleFrames:    s.NewCounter(name("stale_frames_total")),
		frameSize:      s.NewHistogram(name("frame_size_bytes")),
	}
}
