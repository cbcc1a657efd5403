package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/broadcast"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/platform/correlation"
	"github.com/pscheid92/chatrelay/internal/platform/logging"
)

const shutdownCloseTimeout = time.Second

// ErrShuttingDown is returned by Serve for connections that finish the
// handshake after Shutdown has started.
var ErrShuttingDown = errors.New("relay is shutting down")

// Config holds the per-connection timing knobs.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration // zero disables keepalive pings
	CheckOrigin      func(r *http.Request) bool
}

type Option func(*Handler)

// WithPublisher routes listener output through p instead of straight into the channel.
func WithPublisher(p domain.Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

func WithClock(clock clockwork.Clock) Option {
	return func(h *Handler) { h.clock = clock }
}

func WithMetrics(m *metrics.ConnectionMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// Handler upgrades HTTP requests and supervises the resulting connections.
// Each connection gets an identity handshake, then a listener and a messager
// running independently against the shared broadcast channel.
type Handler struct {
	upgrader  ws.Upgrader
	channel   *broadcast.Channel[string]
	publisher domain.Publisher
	clock     clockwork.Clock
	cfg       Config
	metrics   *metrics.ConnectionMetrics

	mu           sync.Mutex
	conns        map[string]*ws.Conn
	shuttingDown bool
	wg           sync.WaitGroup
}

func NewHandler(channel *broadcast.Channel[string], cfg Config, opts ...Option) *Handler {
	h := &Handler{
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		channel:   channel,
		publisher: channel,
		clock:     clockwork.NewRealClock(),
		cfg:       cfg,
		conns:     make(map[string]*ws.Conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = h.Upgrade(w, r, nil)
}

// Upgrade switches r to the WebSocket protocol and hands the connection to Serve.
// onClose runs exactly once when the connection is gone, even if the upgrade fails.
func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request, onClose func()) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if onClose != nil {
			onClose()
		}
		return fmt.Errorf("websocket upgrade: %w", err)
	}

	// The request context ends when the HTTP handler returns; the connection outlives it.
	ctx, _ := correlation.FromRequest(r)
	return h.Serve(context.WithoutCancel(ctx), conn, onClose)
}

// Serve runs the identity handshake on conn and, on success, starts the
// connection's listener and messager. It returns once both are running; the
// socket is closed after both have finished.
func (h *Handler) Serve(ctx context.Context, conn *ws.Conn, onClose func()) error {
	connID := uuid.NewString()
	log := logging.WithConnection(connID, "").With("remote_addr", conn.RemoteAddr().String())
	started := h.clock.Now()

	identity, err := awaitIdentity(conn, h.cfg.HandshakeTimeout, h.clock)
	if err != nil {
		h.rejectHandshake(ctx, conn, err, log)
		if onClose != nil {
			onClose()
		}
		return err
	}
	h.metrics.Handshake(metrics.HandshakeAccepted)

	log = log.With("user", identity)

	if !h.track(connID, conn) {
		log.InfoContext(ctx, "Turning away connection during shutdown")
		h.goAway(conn)
		_ = conn.Close()
		h.metrics.ConnectionClosed(h.clock.Since(started))
		if onClose != nil {
			onClose()
		}
		return ErrShuttingDown
	}
	log.InfoContext(ctx, "User connected")

	// Subscribe before the listener runs so the sender sees its own first message.
	sub := h.channel.Subscribe()

	both := newHalves(conn, func() {
		h.untrack(connID)
		h.metrics.ConnectionClosed(h.clock.Since(started))
		log.InfoContext(ctx, "Connection closed")
		if onClose != nil {
			onClose()
		}
	})

	l := &listener{
		in:        conn,
		identity:  identity,
		publisher: h.publisher,
		metrics:   h.metrics,
		log:       log.With("half", "listener"),
	}
	m := &messager{
		out:          conn,
		sub:          sub,
		clock:        h.clock,
		writeTimeout: h.cfg.WriteTimeout,
		pingInterval: h.cfg.PingInterval,
		metrics:      h.metrics,
		log:          log.With("half", "messager"),
	}

	go func() {
		defer both.done()
		m.run(ctx)
	}()
	go func() {
		defer both.done()
		l.run(ctx)
	}()

	return nil
}

func (h *Handler) rejectHandshake(ctx context.Context, conn *ws.Conn, err error, log *slog.Logger) {
	defer func() { _ = conn.Close() }()

	var hsErr *handshakeError
	if !errors.As(err, &hsErr) {
		log.WarnContext(ctx, "Handshake failed", "error", err)
		h.metrics.Handshake(metrics.HandshakeAbandoned)
		return
	}
	h.metrics.Handshake(hsErr.result)

	if !hsErr.sendsClose() {
		log.DebugContext(ctx, "Client went away during handshake", "error", hsErr.err)
		return
	}

	log.WarnContext(ctx, "Handshake rejected", "code", hsErr.closeCode, "reason", hsErr.reason)
	frame := ws.FormatCloseMessage(hsErr.closeCode, hsErr.reason)
	if err := conn.WriteControl(ws.CloseMessage, frame, h.clock.Now().Add(h.cfg.WriteTimeout)); err != nil {
		log.DebugContext(ctx, "Failed to send close frame", "error", err)
	}
}

// track registers conn for Shutdown. It reports false once Shutdown has started.
func (h *Handler) track(connID string, conn *ws.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shuttingDown {
		return false
	}
	h.conns[connID] = conn
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; ok {
		delete(h.conns, connID)
		h.wg.Done()
	}
}

// Active returns the number of connections past the handshake.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown sends a going-away close frame to every live connection, closes
// the sockets and waits for their halves to finish or ctx to expire.
// Handshakes that complete afterwards are turned away the same way.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shuttingDown = true
	for _, conn := range h.conns {
		h.goAway(conn)
		_ = conn.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections to close: %w", ctx.Err())
	}
}

func (h *Handler) goAway(conn *ws.Conn) {
	frame := ws.FormatCloseMessage(ws.CloseGoingAway, "server shutting down")
	_ = conn.WriteControl(ws.CloseMessage, frame, h.clock.Now().Add(shutdownCloseTimeout))
}
