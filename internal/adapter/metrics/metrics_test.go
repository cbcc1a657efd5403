package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionMetrics_Lifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConnectionMetrics(reg)

	m.Handshake(HandshakeAccepted)
	m.Handshake(HandshakeAccepted)
	m.Handshake(HandshakeTimeout)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Handshakes.WithLabelValues(HandshakeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Handshakes.WithLabelValues(HandshakeTimeout)))

	m.ConnectionClosed(3 * time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))

	m.Received()
	m.SkippedNonText()
	m.Sent(time.Millisecond)
	m.Lagged(4)
	m.Lagged(2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NonTextFrames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesSent))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LaggedEvents))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.LostMessages))

	m.Reject("rate_limit")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected.WithLabelValues("rate_limit")))
}

func TestNilReceivers(t *testing.T) {
	var cm *ConnectionMetrics
	var mm *MirrorMetrics

	assert.NotPanics(t, func() {
		cm.Handshake(HandshakeAccepted)
		cm.ConnectionClosed(time.Second)
		cm.Reject("global_limit")
		cm.Received()
		cm.SkippedNonText()
		cm.Sent(time.Millisecond)
		cm.Lagged(1)

		mm.IncPublished()
		mm.IncReceived()
		mm.Drop("queue_full")
		mm.SetCircuitState(2)
	})
}

func TestMirrorMetrics(t *testing.T) {
	m := NewMirrorMetrics(prometheus.NewRegistry())

	m.IncPublished()
	m.IncReceived()
	m.IncReceived()
	m.Drop("queue_full")
	m.SetCircuitState(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Published))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Received))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("queue_full")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState))
}

func TestRegisterChannelGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	subscribers := 3
	RegisterChannelGauges(reg, func() int { return subscribers }, 6)

	expected := `
# HELP chatrelay_broadcast_subscribers Open subscriptions on the broadcast channel.
# TYPE chatrelay_broadcast_subscribers gauge
chatrelay_broadcast_subscribers 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "chatrelay_broadcast_subscribers"))

	count, err := testutil.GatherAndCount(reg, "chatrelay_broadcast_capacity")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/version", func(c echo.Context) error { return c.String(http.StatusOK, "v") })
	e.GET("/health/live", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	for _, path := range []string{"/version", "/health/live"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/version", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestsTotal), "health probes must not be recorded")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
}

func TestHTTPMetrics_StatusFromReturnedError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/gone", func(echo.Context) error { return echo.NewHTTPError(http.StatusGone, "gone") })
	e.GET("/boom", func(echo.Context) error { return errors.New("boom") })

	for _, path := range []string{"/gone", "/boom"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/gone", "410")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/boom", "500")))
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := NewRegistry()
	NewConnectionMetrics(reg).Handshake(HandshakeAccepted)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatrelay_websocket_active_connections 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Contains(t, rec.Body.String(), `chatrelay_build_info{commit="unknown"`)
}
