package websocket

import (
	"io"
	"sync/atomic"
	"time"
)

// inbound is the read half of a connection. After the handshake it is owned by the listener.
type inbound interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
}

// outbound is the write half of a connection. After the handshake it is owned by the messager.
type outbound interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
}

// halves closes the socket once both the listener and the messager have returned.
// Neither half waits for or cancels the other.
type halves struct {
	remaining atomic.Int32
	socket    io.Closer
	onClosed  func()
}

func newHalves(socket io.Closer, onClosed func()) *halves {
	h := &halves{socket: socket, onClosed: onClosed}
	h.remaining.Store(2)
	return h
}

func (h *halves) done() {
	if h.remaining.Add(-1) != 0 {
		return
	}
	_ = h.socket.Close()
	if h.onClosed != nil {
		h.onClosed()
	}
}
