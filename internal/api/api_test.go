package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackwatch/sentinel/internal/alerting"
	"github.com/stackwatch/sentinel/internal/supervisor"
	"github.com/stackwatch/sentinel/pkg/config"
	"github.com/stackwatch/sentinel/pkg/health"
	"github.com/stackwatch/sentinel/pkg/resilience"
)

type staticProber struct {
	verdict health.Verdict
}

func (p *staticProber) Probe(ctx context.Context) health.Result {
	return health.Result{Verdict: p.verdict, CheckedAt: time.Now()}
}

func (p *staticProber) Kind() string { return "static" }

type noopOrchestrator struct{}

func (o *noopOrchestrator) Restart(ctx context.Context, target supervisor.Target) error {
	return nil
}

func newTestRouter(t *testing.T) (*StatusHandler, Deps, http.Handler) {
	t.Helper()

	sup := supervisor.New(supervisor.DefaultConfig(), &noopOrchestrator{}, nil, nil)
	sup.Register(supervisor.Target{ID: "web-1", Kind: "http"}, &staticProber{verdict: health.VerdictUp})
	sup.Register(supervisor.Target{ID: "web-2", Kind: "http"}, &staticProber{verdict: health.VerdictDown})
	sup.Tick(context.Background())

	registry := resilience.NewRegistry(resilience.Config{})
	registry.Get("payments")

	deps := Deps{
		Supervisor: sup,
		Breakers:   registry,
		Alerts:     alerting.NewManager(nil),
	}

	cfg := &config.Config{}
	cfg.Logging.Level = "info"
	router := NewRouter(cfg, deps)
	return NewStatusHandler(deps), deps, router
}

func doRequest(router http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthzAndReadyz(t *testing.T) {
	_, _, router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResponse(t, w).Success)

	w = doRequest(router, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListInstances(t *testing.T) {
	_, _, router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/instances")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	require.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var records []supervisor.HealthRecord
	require.NoError(t, json.Unmarshal(data, &records))

	require.Len(t, records, 2)
	assert.Equal(t, "web-1", records[0].InstanceID)
	assert.Equal(t, health.VerdictUp, records[0].Status)
	assert.Equal(t, "web-2", records[1].InstanceID)
	assert.Equal(t, health.VerdictDown, records[1].Status)
}

func TestGetInstance(t *testing.T) {
	_, _, router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/instances/web-1")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/instances/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestClearEscalation(t *testing.T) {
	_, _, router := newTestRouter(t)

	w := doRequest(router, http.MethodDelete, "/api/v1/instances/web-2/escalation")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodDelete, "/api/v1/instances/nope/escalation")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListBreakers(t *testing.T) {
	_, _, router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/breakers")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var snapshots []resilience.Snapshot
	require.NoError(t, json.Unmarshal(data, &snapshots))

	require.Len(t, snapshots, 1)
	assert.Equal(t, "payments", snapshots[0].Name)
	assert.Equal(t, "CLOSED", snapshots[0].State)
}

func TestListAlerts(t *testing.T) {
	_, deps, router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/alerts")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, []interface{}{}, resp.Data)

	deps.Alerts.Fire(context.Background(), alerting.FiredAlert{
		Rule:     "high-error-rate",
		Target:   "web-1",
		Severity: alerting.SeverityCritical,
		FiredAt:  time.Now(),
	})

	w = doRequest(router, http.MethodGet, "/api/v1/alerts")
	resp = decodeResponse(t, w)
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var alerts []alerting.FiredAlert
	require.NoError(t, json.Unmarshal(data, &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "high-error-rate", alerts[0].Rule)
}

func TestRequestIDPropagation(t *testing.T) {
	_, _, router := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-42", decodeResponse(t, w).RequestID)
}
