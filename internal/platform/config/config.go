package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	AppURL    string `env:"APP_URL"`
	Host      string `env:"HOST" default:"0.0.0.0"`
	Port      string `env:"PORT" default:"7123"`
	LogLevel  string `env:"LOG_LEVEL" default:"debug"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	ChannelCapacity  int           `env:"CHANNEL_CAPACITY" default:"6"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" default:"2s"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT" default:"5s"`
	PingInterval     time.Duration `env:"PING_INTERVAL" default:"30s"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRatePerSecond float64 `env:"CONNECTION_RATE_PER_SECOND" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`

	RedisURL         string `env:"REDIS_URL"`
	RedisChannel     string `env:"REDIS_CHANNEL" default:"chatrelay:broadcast"`
	MirrorBufferSize int    `env:"MIRROR_BUFFER_SIZE" default:"256"`
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// IsDevelopment reports whether the service runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// MirrorEnabled reports whether the Redis broadcast mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return c.RedisURL != ""
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Port == "" {
		return errors.New("PORT is required")
	}

	positive := []struct {
		name  string
		value int
	}{
		{"CHANNEL_CAPACITY", cfg.ChannelCapacity},
		{"MAX_WEBSOCKET_CONNECTIONS", cfg.MaxWebSocketConnections},
		{"MAX_CONNECTIONS_PER_IP", cfg.MaxConnectionsPerIP},
		{"CONNECTION_BURST", cfg.ConnectionBurst},
		{"MIRROR_BUFFER_SIZE", cfg.MirrorBufferSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	if cfg.ConnectionRatePerSecond <= 0 {
		return fmt.Errorf("CONNECTION_RATE_PER_SECOND must be positive, got %v", cfg.ConnectionRatePerSecond)
	}
	if cfg.HandshakeTimeout <= 0 {
		return fmt.Errorf("HANDSHAKE_TIMEOUT must be positive, got %v", cfg.HandshakeTimeout)
	}
	if cfg.WriteTimeout <= 0 {
		return fmt.Errorf("WRITE_TIMEOUT must be positive, got %v", cfg.WriteTimeout)
	}
	if cfg.PingInterval < 0 {
		return fmt.Errorf("PING_INTERVAL must not be negative, got %v", cfg.PingInterval)
	}

	if cfg.RedisURL != "" {
		u, err := url.Parse(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("REDIS_URL must use redis:// or rediss://, got %q", u.Scheme)
		}
		if cfg.RedisChannel == "" {
			return errors.New("REDIS_CHANNEL is required when REDIS_URL is set")
		}
	}

	return nil
}
