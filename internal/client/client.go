// Package client is a line-oriented terminal client for the relay.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

var ErrNoUsername = errors.New("no username given")

// Run prompts for a username on out, joins the relay at serverURL and then
// sends every line read from in while printing every message received.
// It returns nil when in is exhausted, ctx ends, or the server closes normally.
func Run(ctx context.Context, serverURL string, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := bufio.NewScanner(in)

	if _, err := fmt.Fprint(out, "username: "); err != nil {
		return fmt.Errorf("failed to write prompt: %w", err)
	}
	if !lines.Scan() {
		if err := lines.Err(); err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		return ErrNoUsername
	}
	username := strings.TrimSpace(lines.Text())

	conn, resp, err := ws.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return fmt.Errorf("failed to connect to %s (HTTP %d): %w", serverURL, resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to %s: %w", serverURL, err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteMessage(ws.TextMessage, []byte(username)); err != nil {
		return fmt.Errorf("failed to send username: %w", err)
	}

	printer := &linePrinter{out: out}
	received := make(chan error, 1)
	go func() { received <- receive(conn, printer) }()

	typed := make(chan string)
	go scan(ctx, lines, typed)

	for {
		select {
		case line, ok := <-typed:
			if !ok {
				return hangUp(conn, received)
			}
			if err := conn.WriteMessage(ws.TextMessage, []byte(line)); err != nil {
				return fmt.Errorf("failed to send message: %w", err)
			}
		case err := <-received:
			return err
		case <-ctx.Done():
			return hangUp(conn, received)
		}
	}
}

// receive prints text frames until the connection ends.
func receive(conn *ws.Conn, printer *linePrinter) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				return nil
			}
			var closeErr *ws.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("server closed the connection (%d %s): %w", closeErr.Code, closeErr.Text, err)
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		if messageType != ws.TextMessage {
			continue
		}
		printer.println(string(data))
	}
}

func scan(ctx context.Context, lines *bufio.Scanner, typed chan<- string) {
	defer close(typed)
	for lines.Scan() {
		select {
		case typed <- lines.Text():
		case <-ctx.Done():
			return
		}
	}
}

// hangUp starts the closing handshake and waits briefly for the server's reply.
func hangUp(conn *ws.Conn, received <-chan error) error {
	msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
	if err := conn.WriteControl(ws.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil {
		return nil
	}

	select {
	case <-received:
	case <-time.After(closeGracePeriod):
	}
	return nil
}

type linePrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *linePrinter) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, s)
}
