package websocket

import (
	"context"
	"errors"
	"log/slog"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/broadcast"
)

// subscription is the messager's view of the broadcast channel.
type subscription interface {
	Receive(ctx context.Context) (string, error)
	Close()
}

type delivery struct {
	msg string
	err error
}

// messager forwards every broadcast message to one client as a text frame.
type messager struct {
	out          outbound
	sub          subscription
	clock        clockwork.Clock
	writeTimeout time.Duration
	pingInterval time.Duration
	metrics      *metrics.ConnectionMetrics
	log          *slog.Logger
}

// run returns when the channel is closed, a write fails, or ctx is done.
// A lagged subscription is logged and the messager keeps going.
func (m *messager) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		m.sub.Close()
	}()

	deliveries := make(chan delivery)
	go m.pump(ctx, deliveries)

	var pings <-chan time.Time
	if m.pingInterval > 0 {
		ticker := m.clock.NewTicker(m.pingInterval)
		defer ticker.Stop()
		pings = ticker.Chan()
	}

	for {
		select {
		case d := <-deliveries:
			if !m.deliver(ctx, d) {
				return
			}
		case <-pings:
			deadline := m.clock.Now().Add(m.writeTimeout)
			if err := m.out.WriteControl(ws.PingMessage, nil, deadline); err != nil {
				m.log.WarnContext(ctx, "Keepalive ping failed", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// deliver handles one result from the subscription and reports whether to continue.
func (m *messager) deliver(ctx context.Context, d delivery) bool {
	var lagged *broadcast.LaggedError
	if errors.As(d.err, &lagged) {
		m.log.WarnContext(ctx, "Subscriber lagged behind", "lost", lagged.Count)
		m.metrics.Lagged(lagged.Count)
		return true
	}
	if errors.Is(d.err, broadcast.ErrClosed) {
		m.log.InfoContext(ctx, "Broadcast channel closed")
		return false
	}
	if d.err != nil {
		return false
	}

	start := m.clock.Now()
	if err := m.out.SetWriteDeadline(start.Add(m.writeTimeout)); err != nil {
		m.log.WarnContext(ctx, "Failed to set write deadline", "error", err)
		return false
	}
	if err := m.out.WriteMessage(ws.TextMessage, []byte(d.msg)); err != nil {
		m.log.WarnContext(ctx, "Failed to send message", "error", err)
		return false
	}
	m.metrics.Sent(m.clock.Since(start))
	return true
}

// pump moves subscription results onto deliveries so run can interleave them with pings.
func (m *messager) pump(ctx context.Context, deliveries chan<- delivery) {
	for {
		msg, err := m.sub.Receive(ctx)
		if ctx.Err() != nil {
			return
		}

		select {
		case deliveries <- delivery{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}

		if err != nil && !isLagged(err) {
			return
		}
	}
}

func isLagged(err error) bool {
	var lagged *broadcast.LaggedError
	return errors.As(err, &lagged)
}
