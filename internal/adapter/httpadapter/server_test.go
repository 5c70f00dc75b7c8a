package httpadapter_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/streetlight-crime-etl/internal/adapter/httpadapter"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/observability"
	"github.com/couchcryptid/streetlight-crime-etl/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRuns struct {
	err     error
	summary *pipeline.Summary
}

func (m *mockRuns) CheckReadiness(_ context.Context) error { return m.err }

func (m *mockRuns) LastRun() (pipeline.Summary, bool) {
	if m.summary == nil {
		return pipeline.Summary{}, false
	}
	return *m.summary, true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(runs *mockRuns) *httpadapter.Server {
	return httpadapter.NewServer(":0", runs, nil, discardLogger())
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthzReturns200(t *testing.T) {
	code, body := get(t, newTestServer(&mockRuns{}), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	code, body := get(t, newTestServer(&mockRuns{}), "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	code, body := get(t, newTestServer(&mockRuns{err: fmt.Errorf("not ready yet")}), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestStatus(t *testing.T) {
	t.Run("before first run", func(t *testing.T) {
		code, body := get(t, newTestServer(&mockRuns{}), "/status")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "running", body["status"])
	})

	t.Run("after success", func(t *testing.T) {
		summary := &pipeline.Summary{
			Crimes:  10,
			Matches: 4,
			Rows:    map[domain.Mode]int{domain.ModeWindow: 3},
			Dropped: map[string]domain.DropCounts{"crimes": {domain.DropMissingID: 2}},
		}
		code, body := get(t, newTestServer(&mockRuns{summary: summary}), "/status")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "succeeded", body["status"])

		run, ok := body["run"].(map[string]any)
		require.True(t, ok)
		assert.InDelta(t, 10.0, run["crimes"], 0)
		assert.Equal(t, map[string]any{"window": 3.0}, run["rows"])
		assert.Equal(t, map[string]any{"crimes": map[string]any{"missing_id": 2.0}}, run["dropped"])
	})

	t.Run("after failure", func(t *testing.T) {
		summary := &pipeline.Summary{Error: "load crimes: portal unavailable"}
		_, body := get(t, newTestServer(&mockRuns{summary: summary}), "/status")
		assert.Equal(t, "failed", body["status"])
		run := body["run"].(map[string]any)
		assert.Equal(t, "load crimes: portal unavailable", run["error"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsForTesting()
	reg.MustRegister(metrics.SpatialMatches)
	metrics.SpatialMatches.Add(7)

	srv := httpadapter.NewServer(":0", &mockRuns{}, reg, discardLogger())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "streetlight_etl_spatial_matches_total 7")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := newTestServer(&mockRuns{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln, time.Second) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
