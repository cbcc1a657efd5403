package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Handshake outcomes.
const (
	HandshakeAccepted    = "accepted"
	HandshakeTimeout     = "timeout"
	HandshakeUnsupported = "unsupported_data"
	HandshakeAbandoned   = "abandoned"
)

// ConnectionMetrics holds Prometheus metrics for relay connections.
// All methods are safe to call on a nil receiver.
type ConnectionMetrics struct {
	ActiveConnections  prometheus.Gauge
	Handshakes         *prometheus.CounterVec
	Rejected           *prometheus.CounterVec
	ConnectionDuration prometheus.Histogram
	MessagesReceived   prometheus.Counter
	NonTextFrames      prometheus.Counter
	MessagesSent       prometheus.Counter
	SendDuration       prometheus.Histogram
	LaggedEvents       prometheus.Counter
	LostMessages       prometheus.Counter
}

func NewConnectionMetrics(reg prometheus.Registerer) *ConnectionMetrics {
	m := &ConnectionMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of connections that completed the handshake and are not fully closed.",
		}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "handshakes_total",
			Help:      "Identity handshakes by outcome (accepted/timeout/unsupported_data/abandoned).",
		}, []string{"result"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Connection attempts rejected before upgrade, by reason.",
		}, []string{"reason"}),
		ConnectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of a connection from handshake until both halves finished.",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_received_total",
			Help:      "Text messages read from clients and published.",
		}),
		NonTextFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "non_text_frames_total",
			Help:      "Non-text frames skipped after the handshake.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Messages written to clients.",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "message_send_duration_seconds",
			Help:      "WebSocket message send duration in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		}),
		LaggedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "lagged_events_total",
			Help:      "Times a connection fell behind the broadcast channel.",
		}),
		LostMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "lost_messages_total",
			Help:      "Messages overwritten before a lagging connection read them.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections, m.Handshakes, m.Rejected, m.ConnectionDuration,
		m.MessagesReceived, m.NonTextFrames, m.MessagesSent, m.SendDuration,
		m.LaggedEvents, m.LostMessages,
	)
	return m
}

func (m *ConnectionMetrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.Handshakes.WithLabelValues(result).Inc()
	if result == HandshakeAccepted {
		m.ActiveConnections.Inc()
	}
}

func (m *ConnectionMetrics) ConnectionClosed(lifetime time.Duration) {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
	m.ConnectionDuration.Observe(lifetime.Seconds())
}

func (m *ConnectionMetrics) Reject(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

func (m *ConnectionMetrics) Received() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

func (m *ConnectionMetrics) SkippedNonText() {
	if m == nil {
		return
	}
	m.NonTextFrames.Inc()
}

func (m *ConnectionMetrics) Sent(d time.Duration) {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
	m.SendDuration.Observe(d.Seconds())
}

func (m *ConnectionMetrics) Lagged(lost uint64) {
	if m == nil {
		return
	}
	m.LaggedEvents.Inc()
	m.LostMessages.Add(float64(lost))
}
