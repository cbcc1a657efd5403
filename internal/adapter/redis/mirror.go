package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/google/uuid"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// envelope is the Redis wire format. Origin lets an instance skip its own messages.
type envelope struct {
	Origin  string `json:"origin"`
	Payload string `json:"payload"`
}

// Mirror joins the broadcast channels of several relay instances through Redis Pub/Sub.
// Local messages are published locally first and then forwarded asynchronously;
// messages from other instances are republished into the local channel.
// Redis trouble never blocks or fails a local publish.
type Mirror struct {
	rdb     *goredis.Client
	channel string
	local   domain.Publisher
	node    string
	queue   chan string
	cb      circuitbreaker.CircuitBreaker[any]
	metrics *metrics.MirrorMetrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ domain.Publisher = (*Mirror)(nil)

func NewMirror(rdb *goredis.Client, channel string, local domain.Publisher, bufferSize int, m *metrics.MirrorMetrics) *Mirror {
	mirror := &Mirror{
		rdb:     rdb,
		channel: channel,
		local:   local,
		node:    uuid.NewString(),
		queue:   make(chan string, bufferSize),
		metrics: m,
	}

	// 60% failures over at least 5 publishes in 10s opens the breaker for 30s.
	mirror.cb = circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "redis_mirror",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			m.SetCircuitState(stateToFloat(e.NewState))
		}).
		Build()

	return mirror
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// Node returns the id this instance stamps on outgoing envelopes.
func (m *Mirror) Node() string {
	return m.node
}

// Publish delivers msg to the local channel and queues it for Redis.
// Only the local publish can fail; a full queue drops the Redis copy.
func (m *Mirror) Publish(msg string) error {
	if err := m.local.Publish(msg); err != nil {
		return err
	}

	select {
	case m.queue <- msg:
	default:
		m.metrics.Drop(metrics.DropQueueFull)
		slog.Warn("Mirror queue full, message not forwarded", "channel", m.channel)
	}
	return nil
}

// Start subscribes to the Redis channel and starts forwarding in both directions.
// ctx bounds the subscription only; forwarding runs until Stop.
func (m *Mirror) Start(ctx context.Context) error {
	pubsub := m.rdb.Subscribe(ctx, m.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", m.channel, err)
	}

	ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.listen(ctx, pubsub)
	}()
	go func() {
		defer m.wg.Done()
		m.forward(ctx)
	}()

	slog.Info("Redis mirror started", "channel", m.channel, "node", m.node)
	return nil
}

// Stop ends both forwarding directions and waits for them to return.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Mirror) listen(ctx context.Context, pubsub *goredis.PubSub) {
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			m.handle(ctx, msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Mirror) handle(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		m.metrics.Drop(metrics.DropDecodeError)
		slog.WarnContext(ctx, "Malformed mirror message", "channel", m.channel, "error", err)
		return
	}

	if env.Origin == m.node {
		return
	}

	if err := m.local.Publish(env.Payload); err != nil {
		slog.DebugContext(ctx, "Dropping mirrored message", "origin", env.Origin, "error", err)
		return
	}
	m.metrics.IncReceived()
}

func (m *Mirror) forward(ctx context.Context) {
	for {
		select {
		case msg := <-m.queue:
			m.publish(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Mirror) publish(ctx context.Context, msg string) {
	data, err := json.Marshal(envelope{Origin: m.node, Payload: msg})
	if err != nil {
		m.metrics.Drop(metrics.DropPublishError)
		return
	}

	if !m.cb.TryAcquirePermit() {
		m.metrics.Drop(metrics.DropCircuitOpen)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := m.rdb.Publish(ctx, m.channel, data).Err(); err != nil {
		m.cb.RecordError(err)
		m.metrics.Drop(metrics.DropPublishError)
		slog.WarnContext(ctx, "Failed to mirror message to redis", "channel", m.channel, "error", err)
		return
	}

	m.cb.RecordSuccess()
	m.metrics.IncPublished()
}
