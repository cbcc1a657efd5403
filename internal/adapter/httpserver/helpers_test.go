package httpserver

import (
	"net/http"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/chatrelay/internal/platform/config"
)

// fakeRelay records connections instead of upgrading them.
type fakeRelay struct {
	mu       sync.Mutex
	calls    int
	onCloses []func()
	status   int
	err      error
}

func (f *fakeRelay) Upgrade(w http.ResponseWriter, _ *http.Request, onClose func()) error {
	f.mu.Lock()
	f.calls++
	f.onCloses = append(f.onCloses, onClose)
	f.mu.Unlock()

	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	return f.err
}

// closeAll simulates every accepted connection going away.
func (f *fakeRelay) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, onClose := range f.onCloses {
		onClose()
	}
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "development",
		Host:                    "127.0.0.1",
		Port:                    "0",
		ChannelCapacity:         6,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     10,
		ConnectionRatePerSecond: 100,
		ConnectionBurst:         100,
	}
}

func newTestServer(t *testing.T, relay connectionHandler, opts ...Option) *Server {
	t.Helper()

	cfg := testConfig()
	clock := clockwork.NewFakeClock()
	limits := NewConnectionLimits(clock, int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.ConnectionRatePerSecond, cfg.ConnectionBurst)

	return NewServer(cfg, relay, limits, append([]Option{WithClock(clock)}, opts...)...)
}
