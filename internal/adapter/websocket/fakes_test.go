package websocket

import (
	"errors"
	"io"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

type frame struct {
	messageType int
	data        []byte
}

// scriptedInbound replays frames and then fails with err (io.EOF if nil).
type scriptedInbound struct {
	mu        sync.Mutex
	frames    []frame
	err       error
	deadlines []time.Time
}

func (s *scriptedInbound) ReadMessage() (int, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		if s.err != nil {
			return 0, nil, s.err
		}
		return 0, nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f.messageType, f.data, nil
}

func (s *scriptedInbound) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlines = append(s.deadlines, t)
	return nil
}

func text(s string) frame   { return frame{messageType: ws.TextMessage, data: []byte(s)} }
func binary(b []byte) frame { return frame{messageType: ws.BinaryMessage, data: b} }

// recordingOutbound captures what a messager writes.
type recordingOutbound struct {
	mu      sync.Mutex
	texts   []string
	pings   int
	failing bool
}

var errBrokenPipe = errors.New("broken pipe")

func (r *recordingOutbound) WriteMessage(messageType int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errBrokenPipe
	}
	if messageType == ws.TextMessage {
		r.texts = append(r.texts, string(data))
	}
	return nil
}

func (r *recordingOutbound) WriteControl(messageType int, _ []byte, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errBrokenPipe
	}
	if messageType == ws.PingMessage {
		r.pings++
	}
	return nil
}

func (r *recordingOutbound) SetWriteDeadline(time.Time) error { return nil }

func (r *recordingOutbound) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func (r *recordingOutbound) pingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pings
}

// collectingPublisher records published messages and fails once err is set.
type collectingPublisher struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (p *collectingPublisher) Publish(msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
