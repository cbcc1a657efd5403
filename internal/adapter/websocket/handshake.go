package websocket

import (
	"errors"
	"fmt"
	"net"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
)

// CloseHandshakeTimeout is the application close code sent when no identity
// arrives before the handshake deadline.
const CloseHandshakeTimeout = 3008

// handshakeError describes why a connection never got an identity.
// A zero closeCode means the peer is already gone and no close frame is sent.
type handshakeError struct {
	result    string
	closeCode int
	reason    string
	err       error
}

func (e *handshakeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("handshake %s: %v", e.result, e.err)
	}
	return fmt.Sprintf("handshake %s: %s", e.result, e.reason)
}

func (e *handshakeError) Unwrap() error {
	return e.err
}

// sendsClose reports whether the peer should get a close frame.
func (e *handshakeError) sendsClose() bool {
	return e.closeCode != 0
}

// awaitIdentity reads exactly one message within timeout and returns it as the
// connection's identity. Any text is accepted, including an empty string.
func awaitIdentity(in inbound, timeout time.Duration, clock clockwork.Clock) (string, error) {
	if err := in.SetReadDeadline(clock.Now().Add(timeout)); err != nil {
		return "", &handshakeError{result: metrics.HandshakeAbandoned, err: err}
	}

	messageType, data, err := in.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", &handshakeError{
				result:    metrics.HandshakeTimeout,
				closeCode: CloseHandshakeTimeout,
				reason:    fmt.Sprintf("no user in %s", timeout),
				err:       err,
			}
		}
		return "", &handshakeError{result: metrics.HandshakeAbandoned, err: err}
	}

	if messageType != ws.TextMessage {
		return "", &handshakeError{
			result:    metrics.HandshakeUnsupported,
			closeCode: ws.CloseUnsupportedData,
			reason:    "expected a `text` message",
		}
	}

	if err := in.SetReadDeadline(time.Time{}); err != nil {
		return "", &handshakeError{result: metrics.HandshakeAbandoned, err: err}
	}

	return string(data), nil
}
