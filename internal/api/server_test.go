package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scanfleet/internal/config"
	"github.com/JakeFAU/scanfleet/internal/scan"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeFleet{}), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_ReadyzReflectsFleetHealth(t *testing.T) {
	t.Parallel()

	fleet := &fakeFleet{status: scan.Summarize([]scan.WorkerState{
		{ID: "worker-0", Status: scan.StatusScanning},
		{ID: "worker-1", Status: scan.StatusFailed, FailureKind: scan.FailureFatal},
	}, false)}
	srv := newTestServer(fleet)

	rec := serve(srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"degraded":true`)

	fleet.setStatus(scan.Summarize([]scan.WorkerState{
		{ID: "worker-0", Status: scan.StatusFailed, FailureKind: scan.FailureExhausted},
		{ID: "worker-1", Status: scan.StatusFailed, FailureKind: scan.FailureFatal},
	}, false))
	rec = serve(srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_PauseResumeToggle(t *testing.T) {
	t.Parallel()

	fleet := &fakeFleet{}
	srv := newTestServer(fleet)

	rec := serve(srv, http.MethodPost, "/v1/search/pause")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"paused":true}`, rec.Body.String())
	require.True(t, fleet.Paused())

	rec = serve(srv, http.MethodPost, "/v1/search/pause")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, fleet.Paused())

	rec = serve(srv, http.MethodPost, "/v1/search/resume")
	require.JSONEq(t, `{"paused":false}`, rec.Body.String())
	require.False(t, fleet.Paused())

	rec = serve(srv, http.MethodPost, "/v1/search/toggle")
	require.JSONEq(t, `{"paused":true}`, rec.Body.String())
	rec = serve(srv, http.MethodPost, "/v1/search/toggle")
	require.JSONEq(t, `{"paused":false}`, rec.Body.String())
}

func TestServer_PauseRequiresPost(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeFleet{}), http.MethodGet, "/v1/search/pause")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StatusOmitsPasswords(t *testing.T) {
	t.Parallel()

	fleet := &fakeFleet{status: scan.Summarize([]scan.WorkerState{{
		ID:       "worker-0",
		Status:   scan.StatusScanning,
		Account:  scan.Account{Username: "ash", Password: "pikachu", Provider: "ptc"},
		Location: scan.Location{Latitude: 1, Longitude: 2},
	}}, true)}

	rec := serve(newTestServer(fleet), http.MethodGet, "/v1/search/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "pikachu")

	var status scan.FleetStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, 1, status.Total)
	require.True(t, status.Paused)
	require.Equal(t, 1, status.ByStatus[scan.StatusScanning])
	require.Equal(t, "ash", status.Workers[0].Account.Username)
}

func TestServer_NilFleetIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, config.Config{}, zap.NewNop())
	rec := serve(srv, http.MethodGet, "/v1/search/status")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = serve(srv, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Entities(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeFleet{}), http.MethodGet, "/v1/search/entities")
	require.Equal(t, http.StatusNotFound, rec.Code)

	srv := NewServer(&fakeFleet{}, config.Config{}, zap.NewNop(), WithInventory(func(context.Context) (any, error) {
		return map[string]int{"creatures": 3}, nil
	}))
	rec = serve(srv, http.MethodGet, "/v1/search/entities")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"entities":{"creatures":3}}`, rec.Body.String())

	srv = NewServer(&fakeFleet{}, config.Config{}, zap.NewNop(), WithInventory(func(context.Context) (any, error) {
		return nil, errors.New("boom")
	}))
	rec = serve(srv, http.MethodGet, "/v1/search/entities")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeFleet{})
	serve(srv, http.MethodGet, "/healthz")
	rec := serve(srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	srv := NewServer(&fakeFleet{}, cfg, zap.NewNop())

	rec := serve(srv, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(srv, http.MethodGet, "/healthz?api_key=secret")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeFleet{}), http.MethodGet, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	newTestServer(&fakeFleet{}).Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	require.NotNil(t, buf)
}

// --- helpers/fakes ---

type fakeFleet struct {
	mu     sync.Mutex
	paused bool
	status scan.FleetStatus
}

func (f *fakeFleet) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

func (f *fakeFleet) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
}

func (f *fakeFleet) Toggle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = !f.paused
	return f.paused
}

func (f *fakeFleet) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeFleet) Status() scan.FleetStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeFleet) setStatus(status scan.FleetStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(fleet Fleet) *Server {
	return NewServer(fleet, config.Config{}, zap.NewNop())
}

func serve(srv *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}
