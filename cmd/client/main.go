package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pscheid92/chatrelay/internal/client"
	"github.com/pscheid92/chatrelay/internal/platform/logging"
	"go-simpler.org/env"
)

type clientConfig struct {
	ServerURL string `env:"SERVER_URL" default:"ws://127.0.0.1:7123/"`
	LogLevel  string `env:"LOG_LEVEL" default:"warn"`
}

func main() {
	_ = godotenv.Load()

	var cfg clientConfig
	if err := env.Load(&cfg, nil); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// stdout belongs to the chat; logs go to stderr.
	slog.SetDefault(logging.New(os.Stderr, cfg.LogLevel, "text"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Run(ctx, cfg.ServerURL, os.Stdin, os.Stdout); err != nil {
		slog.Error("Client stopped", "server_url", cfg.ServerURL, "error", err)
		stop()
		os.Exit(1)
	}
}
