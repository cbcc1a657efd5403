package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/platform/config"
)

// connectionHandler takes over an HTTP request as a relay connection.
// onClose runs once the connection is gone.
type connectionHandler interface {
	Upgrade(w http.ResponseWriter, r *http.Request, onClose func()) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	relay  connectionHandler
	limits *ConnectionLimits

	connMetrics    *metrics.ConnectionMetrics
	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler

	healthChecks []HealthCheck
	startTime    time.Time
}

type Option func(*Server)

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = append(s.healthChecks, checks...) }
}

func WithConnectionMetrics(m *metrics.ConnectionMetrics) Option {
	return func(s *Server) { s.connMetrics = m }
}

func WithHTTPMetrics(m *metrics.HTTPMetrics) Option {
	return func(s *Server) { s.httpMetrics = m }
}

// WithMetricsHandler exposes h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

func NewServer(cfg *config.Config, relay connectionHandler, limits *ConnectionLimits, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:   e,
		config: cfg,
		clock:  clockwork.NewRealClock(),
		relay:  relay,
		limits: limits,
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.startTime = srv.clock.Now()

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "addr", s.config.Addr())
	if err := s.echo.Start(s.config.Addr()); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
