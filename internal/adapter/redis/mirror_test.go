package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/broadcast"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *broadcast.Subscription[string]) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.Receive(ctx)
	require.NoError(t, err)
	return msg
}

func encode(t *testing.T, origin, payload string) string {
	t.Helper()
	data, err := json.Marshal(envelope{Origin: origin, Payload: payload})
	require.NoError(t, err)
	return string(data)
}

func TestMirror_PublishDeliversLocallyAndQueues(t *testing.T) {
	local := broadcast.NewChannel[string](6)
	sub := local.Subscribe()
	mirror := NewMirror(nil, "chatrelay:test", local, 4, nil)

	require.NoError(t, mirror.Publish("alice: hi"))

	assert.Equal(t, "alice: hi", receive(t, sub))
	assert.Len(t, mirror.queue, 1)
}

func TestMirror_FullQueueDropsRemoteCopyOnly(t *testing.T) {
	m := metrics.NewMirrorMetrics(prometheus.NewRegistry())
	local := broadcast.NewChannel[string](6)
	sub := local.Subscribe()
	mirror := NewMirror(nil, "chatrelay:test", local, 1, m)

	require.NoError(t, mirror.Publish("one"))
	require.NoError(t, mirror.Publish("two"))

	assert.Equal(t, "one", receive(t, sub))
	assert.Equal(t, "two", receive(t, sub))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.DropQueueFull)))
}

func TestMirror_LocalFailureIsReturned(t *testing.T) {
	local := broadcast.NewChannel[string](6)
	local.Close()
	mirror := NewMirror(nil, "chatrelay:test", local, 4, nil)

	assert.ErrorIs(t, mirror.Publish("late"), broadcast.ErrClosed)
	assert.Empty(t, mirror.queue)
}

func TestMirror_Handle(t *testing.T) {
	m := metrics.NewMirrorMetrics(prometheus.NewRegistry())
	local := broadcast.NewChannel[string](6)
	sub := local.Subscribe()
	mirror := NewMirror(nil, "chatrelay:test", local, 4, m)
	ctx := context.Background()

	mirror.handle(ctx, encode(t, mirror.Node(), "own message"))
	mirror.handle(ctx, "not json")
	mirror.handle(ctx, encode(t, "other-node", "bob: yo"))

	assert.Equal(t, "bob: yo", receive(t, sub), "own and malformed messages are skipped")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Received))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.DropDecodeError)))
	assert.Empty(t, mirror.queue, "remote messages are not forwarded back")
}

func TestMirror_CircuitOpensWhenRedisIsDown(t *testing.T) {
	m := metrics.NewMirrorMetrics(prometheus.NewRegistry())
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	mirror := NewMirror(rdb, "chatrelay:test", broadcast.NewChannel[string](6), 4, m)
	for range 10 {
		mirror.publish(context.Background(), "alice: hi")
	}

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.DropPublishError)), 5.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.DropCircuitOpen)), 1.0)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState))
	assert.Zero(t, testutil.ToFloat64(m.Published))
}

func startMirror(t *testing.T, addr, channel string) (*broadcast.Channel[string], *Mirror) {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	local := broadcast.NewChannel[string](6)
	mirror := NewMirror(client, channel, local, 16, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, mirror.Start(ctx))
	cancel()
	t.Cleanup(mirror.Stop)

	return local, mirror
}

func TestMirror_OutlivesStartContext(t *testing.T) {
	srv := miniredis.RunT(t)
	_, a := startMirror(t, srv.Addr(), "chatrelay:start-ctx")
	localB, _ := startMirror(t, srv.Addr(), "chatrelay:start-ctx")
	subB := localB.Subscribe()

	require.NoError(t, a.Publish("alice: hi"))

	assert.Equal(t, "alice: hi", receive(t, subB))
	assert.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, 10*time.Millisecond)
}
