package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reasons a message is not mirrored.
const (
	DropQueueFull    = "queue_full"
	DropCircuitOpen  = "circuit_open"
	DropPublishError = "publish_error"
	DropDecodeError  = "decode_error"
)

// MirrorMetrics holds Prometheus metrics for the Redis broadcast mirror.
// All methods are safe to call on a nil receiver.
type MirrorMetrics struct {
	Published           prometheus.Counter
	Received            prometheus.Counter
	Dropped             *prometheus.CounterVec
	CircuitBreakerState prometheus.Gauge
}

func NewMirrorMetrics(reg prometheus.Registerer) *MirrorMetrics {
	m := &MirrorMetrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "published_total",
			Help:      "Local messages forwarded to Redis.",
		}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "received_total",
			Help:      "Messages from other instances republished locally.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "dropped_total",
			Help:      "Messages not mirrored, by reason (queue_full/circuit_open/publish_error/decode_error).",
		}, []string{"reason"}),
		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}

	reg.MustRegister(m.Published, m.Received, m.Dropped, m.CircuitBreakerState)
	return m
}

func (m *MirrorMetrics) IncPublished() {
	if m == nil {
		return
	}
	m.Published.Inc()
}

func (m *MirrorMetrics) IncReceived() {
	if m == nil {
		return
	}
	m.Received.Inc()
}

func (m *MirrorMetrics) Drop(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *MirrorMetrics) SetCircuitState(state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Set(state)
}
