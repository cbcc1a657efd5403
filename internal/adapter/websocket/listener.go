package websocket

import (
	"context"
	"log/slog"

	ws "github.com/gorilla/websocket"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/domain"
)

// listener reads text frames from one client and publishes them under the
// client's identity.
type listener struct {
	in        inbound
	identity  string
	publisher domain.Publisher
	metrics   *metrics.ConnectionMetrics
	log       *slog.Logger
}

// run returns when the peer goes away or the channel refuses a message.
// Non-text frames are skipped.
func (l *listener) run(ctx context.Context) {
	for {
		messageType, data, err := l.in.ReadMessage()
		if err != nil {
			if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway, ws.CloseNoStatusReceived) {
				l.log.InfoContext(ctx, "Socket closed by peer")
			} else {
				l.log.WarnContext(ctx, "Socket closed", "error", err)
			}
			return
		}

		if messageType != ws.TextMessage {
			l.log.WarnContext(ctx, "Received non-text data", "message_type", messageType)
			l.metrics.SkippedNonText()
			continue
		}

		msg := domain.Message{Identity: l.identity, Text: string(data)}
		if err := l.publisher.Publish(msg.String()); err != nil {
			l.log.WarnContext(ctx, "Failed to broadcast message", "error", err)
			return
		}
		l.metrics.Received()
	}
}
