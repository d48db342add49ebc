// Package metrics exposes prometheus instrumentation for framed message
// servers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Zereker/nonblock"
)

const (
	// Subsystem is the metric subsystem shared by every collector.
	Subsystem = "frames"
)

// Metrics groups the collectors of one server.
type Metrics struct {
	FramesRead       prometheus.Counter
	FramesWritten    prometheus.Counter
	BytesRead        prometheus.Counter
	FrameErrors      *prometheus.CounterVec
	Connections      prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	HandlerLatency   prometheus.Histogram
}

// New returns collectors under the given namespace. They are not registered.
func New(namespace string) *Metrics {
	return &Metrics{
		FramesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: Subsystem,
			Name:      "read_total",
			Help:      "The number of complete frames read.",
		}),
		FramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: Subsystem,
			Name:      "written_total",
			Help:      "The number of frames completely flushed to peers.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: Subsystem,
			Name:      "read_bytes_total",
			Help:      "Frame bytes read, segment table included.",
		}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: Subsystem,
			Name:      "errors_total",
			Help:      "The number of fatal framing errors, by reason.",
		}, []string{"reason"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: Subsystem,
			Name:      "connections",
			Help:      "The number of open connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: Subsystem,
			Name:      "connections_total",
			Help:      "The number of accepted connections.",
		}),
		HandlerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: Subsystem,
			Name:      "handler_seconds",
			Help:      "Time spent handling one message.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
}

// Register registers every collector with r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.FramesRead,
		m.FramesWritten,
		m.BytesRead,
		m.FrameErrors,
		m.Connections,
		m.ConnectionsTotal,
		m.HandlerLatency,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRead records a complete inbound message.
func (m *Metrics) ObserveRead(msg *nonblock.Message) {
	if m == nil {
		return
	}
	m.FramesRead.Inc()
	m.BytesRead.Add(float64(msg.FrameSize()))
}

// ObserveWritten records n completely flushed frames.
func (m *Metrics) ObserveWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesWritten.Add(float64(n))
}

// ObserveError records a fatal connection error.
func (m *Metrics) ObserveError(err error) {
	if m == nil || err == nil {
		return
	}
	m.FrameErrors.WithLabelValues(Reason(err)).Inc()
}

// ObserveHandler records the time a handler took, measured from start.
func (m *Metrics) ObserveHandler(start time.Time) {
	if m == nil {
		return
	}
	m.HandlerLatency.Observe(time.Since(start).Seconds())
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
	m.ConnectionsTotal.Inc()
}

// ConnectionClosed records a closed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

// Reason maps an error to a low-cardinality label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, nonblock.ErrTooManySegments):
		return "too_many_segments"
	case errors.Is(err, nonblock.ErrMessageTooLarge):
		return "message_too_large"
	case errors.Is(err, nonblock.ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "unexpected_eof"
	case errors.Is(err, nonblock.ErrBufferFull):
		return "buffer_full"
	case errors.Is(err, nonblock.ErrInvalidCount):
		return "invalid_count"
	default:
		return "io"
	}
}
