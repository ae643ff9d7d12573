package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashgrove/supervisor/pkg/metrics"
	"github.com/ashgrove/supervisor/pkg/service"
)

type noopLogger struct{}

func (noopLogger) ServiceStarted(name string)                {}
func (noopLogger) ServiceStopped(name string)                {}
func (noopLogger) ServiceFailed(name string, depFailed bool) {}
func (noopLogger) Error(format string, args ...interface{})  {}
func (noopLogger) Info(format string, args ...interface{})   {}

func newTestServer(t *testing.T) (*Server, *service.ServiceSet) {
	t.Helper()
	set := service.NewServiceSet(noopLogger{})
	svc := service.NewInternalService(set, "web")
	set.AddService(svc)
	return New(set, metrics.New()), set
}

func TestListServices(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got []ServiceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "web", got[0].Name)
	require.Equal(t, "STOPPED", got[0].State)
}

func TestGetServiceNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/services/missing", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartService(t *testing.T) {
	srv, set := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/services/web/start", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	svc := set.FindService("web", false)
	require.Equal(t, service.StateStarted, svc.State())
}

func TestRestartNonStartedServiceConflicts(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/services/web/restart", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestShutdownWithoutWiringReturnsUnavailable(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/shutdown", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestShutdownInvokesWiredFunc(t *testing.T) {
	srv, _ := newTestServer(t)

	var got service.ShutdownType
	srv.ShutdownFunc = func(st service.ShutdownType) { got = st }

	req := httptest.NewRequest(http.MethodPost, "/api/v1/shutdown", strings.NewReader(`{"type":"reboot"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, service.ShutdownReboot, got)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "supervisor_")
}
