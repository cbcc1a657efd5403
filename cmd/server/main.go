package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/chatrelay/internal/adapter/httpserver"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/adapter/redis"
	"github.com/pscheid92/chatrelay/internal/adapter/websocket"
	"github.com/pscheid92/chatrelay/internal/broadcast"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/platform/config"
	"github.com/pscheid92/chatrelay/internal/platform/logging"
	"github.com/pscheid92/chatrelay/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func runGracefulShutdown(srv *httpserver.Server, relay *websocket.Handler, mirror *redis.Mirror, channel *broadcast.Channel[string]) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if mirror != nil {
			mirror.Stop()
		}

		// Messagers end now; listeners end at their next publish or when the socket closes below.
		channel.Close()

		if err := relay.Shutdown(shutdownCtx); err != nil {
			slog.Error("Connection shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config, clock clockwork.Clock, reg prometheus.Registerer) *goredis.Client {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	hook := redis.NewMetricsHook(metrics.NewRedisMetrics(reg), clock)
	client, err := redis.NewClient(ctx, cfg.RedisURL, hook)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupMirror joins this instance to the others on the Redis channel and
// returns the publisher listeners should use.
func setupMirror(cfg *config.Config, rdb *goredis.Client, channel *broadcast.Channel[string], reg prometheus.Registerer) *redis.Mirror {
	mirror := redis.NewMirror(rdb, cfg.RedisChannel, channel, cfg.MirrorBufferSize, metrics.NewMirrorMetrics(reg))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mirror.Start(ctx); err != nil {
		slog.Error("Failed to start Redis mirror", "error", err)
		os.Exit(1)
	}
	return mirror
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "version", version.Get().String(), "env", cfg.AppEnv, "addr", cfg.Addr())

	reg := metrics.NewRegistry()
	connMetrics := metrics.NewConnectionMetrics(reg)

	channel := broadcast.NewChannel[string](cfg.ChannelCapacity)
	metrics.RegisterChannelGauges(reg, channel.Subscribers, channel.Capacity())

	healthChecks := []httpserver.HealthCheck{{
		Name: "broadcast",
		Check: func(context.Context) error {
			if channel.Closed() {
				return broadcast.ErrClosed
			}
			return nil
		},
	}}

	var (
		publisher domain.Publisher = channel
		mirror    *redis.Mirror
	)
	if cfg.MirrorEnabled() {
		redisClient := setupRedis(context.Background(), cfg, clock, reg)
		defer func() { _ = redisClient.Close() }()

		mirror = setupMirror(cfg, redisClient, channel, reg)
		publisher = mirror
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	relay := websocket.NewHandler(channel,
		websocket.Config{
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			PingInterval:     cfg.PingInterval,
			CheckOrigin:      websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
		},
		websocket.WithPublisher(publisher),
		websocket.WithClock(clock),
		websocket.WithMetrics(connMetrics),
	)

	limits := httpserver.NewConnectionLimits(clock,
		int64(cfg.MaxWebSocketConnections),
		cfg.MaxConnectionsPerIP,
		cfg.ConnectionRatePerSecond,
		cfg.ConnectionBurst,
	)

	srv := httpserver.NewServer(cfg, relay, limits,
		httpserver.WithClock(clock),
		httpserver.WithHealthChecks(healthChecks...),
		httpserver.WithConnectionMetrics(connMetrics),
		httpserver.WithHTTPMetrics(metrics.NewHTTPMetrics(reg)),
		httpserver.WithMetricsHandler(metrics.Handler(reg)),
	)

	done := runGracefulShutdown(srv, relay, mirror, channel)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
