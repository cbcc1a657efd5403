package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pscheid92/chatrelay/internal/platform/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleLiveness(t *testing.T) {
	srv := newTestServer(t, &fakeRelay{})

	rec := get(t, srv, "/health/live")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","uptime":0}`, rec.Body.String())
}

func TestHandleReadiness(t *testing.T) {
	srv := newTestServer(t, &fakeRelay{},
		WithHealthChecks(
			HealthCheck{Name: "broadcast", Check: healthOK},
			HealthCheck{Name: "redis", Check: healthOK},
		),
	)

	rec := get(t, srv, "/health/ready")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"broadcast":"ok","redis":"ok"}}`, rec.Body.String())
}

func TestHandleReadiness_RedisDown(t *testing.T) {
	srv := newTestServer(t, &fakeRelay{},
		WithHealthChecks(
			HealthCheck{Name: "broadcast", Check: healthOK},
			HealthCheck{Name: "redis", Check: healthErr("connection refused")},
		),
	)

	rec := get(t, srv, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"broadcast":"ok","redis":"connection refused"}}`, rec.Body.String())
}

func TestHandleReadiness_ReportsEveryFailure(t *testing.T) {
	srv := newTestServer(t, &fakeRelay{},
		WithHealthChecks(
			HealthCheck{Name: "broadcast", Check: healthErr("channel closed")},
			HealthCheck{Name: "redis", Check: healthErr("connection refused")},
		),
	)

	rec := get(t, srv, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"broadcast":"channel closed","redis":"connection refused"}}`, rec.Body.String())
}

func TestHandleReadiness_NoChecks(t *testing.T) {
	srv := newTestServer(t, &fakeRelay{})

	rec := get(t, srv, "/health/ready")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHandleVersion(t *testing.T) {
	srv := newTestServer(t, &fakeRelay{})

	rec := get(t, srv, "/version")

	require.Equal(t, http.StatusOK, rec.Code)
	var info version.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, version.Get(), info)
}
