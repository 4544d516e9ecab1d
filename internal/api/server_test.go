package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/linkcheck/internal/engine"
	"github.com/JakeFAU/linkcheck/internal/metrics"
)

type fakeSource struct {
	status engine.Status
}

func (f fakeSource) Status() engine.Status { return f.status }

func runningStatus() engine.Status {
	return engine.Status{
		Summary: engine.Summary{
			RunID:   "0190c2a4-7d2e-7000-8000-000000000001",
			Checked: 12,
			Cached:  3,
			Errors:  1,
		},
		Running:  true,
		Started:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Queued:   4,
		InFlight: 2,
	}
}

func TestServer_StatusReturnsRun(t *testing.T) {
	t.Parallel()

	server := NewServer(fakeSource{status: runningStatus()}, "", zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Run map[string]any `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "0190c2a4-7d2e-7000-8000-000000000001", body.Run["run_id"])
	require.InDelta(t, 12.0, body.Run["checked"], 1e-9)
	require.InDelta(t, 4.0, body.Run["queued"], 1e-9)
	require.Equal(t, true, body.Run["running"])
}

func TestServer_StatusWithoutRun(t *testing.T) {
	t.Parallel()

	server := NewServer(fakeSource{}, "", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	server = NewServer(nil, "", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(fakeSource{status: runningStatus()}, "secret", zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status?api_key=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics.Init()
	metrics.ObserveCacheHit()
	server := NewServer(fakeSource{}, "", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "linkcheck_cache_hits_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewServer(fakeSource{}, "", nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddlewareLogsPanic(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	h := recoverMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}

func TestServerServeAndShutdown(t *testing.T) {
	t.Parallel()

	server := NewServer(fakeSource{status: runningStatus()}, "", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, "127.0.0.1:0", ready) }()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.True(t, strings.Contains(string(body), "ok"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerServeRejectsBadAddress(t *testing.T) {
	t.Parallel()

	err := NewServer(nil, "", nil).Serve(context.Background(), "256.0.0.1:bad", nil)
	require.Error(t, err)
}
