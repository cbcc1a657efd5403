package httpserver

import (
	"log/slog"
	"sync"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/chatrelay/internal/platform/errors"
)

// handleConnect admits a client within the connection limits and hands the
// request to the relay. The limiter slots are held until the connection is gone.
func (s *Server) handleConnect(c echo.Context) error {
	ip := c.RealIP()

	if ok, reason := s.limits.Acquire(ip); !ok {
		s.connMetrics.Reject(string(reason))
		if reason == LimitReasonGlobal {
			return apperrors.UnavailableError("server is at connection capacity").
				WithField("reason", reason)
		}
		return apperrors.RateLimitedError("too many connections").
			WithField("reason", reason).
			WithField("ip", ip)
	}

	release := sync.OnceFunc(func() { s.limits.Release(ip) })

	// Upgrade failures have already been answered by the upgrader; handshake
	// failures happen after the connection left HTTP.
	if err := s.relay.Upgrade(c.Response(), c.Request(), release); err != nil {
		slog.DebugContext(c.Request().Context(), "Connection ended before joining", "remote_ip", ip, "error", err)
	}
	return nil
}
