package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporter_Counts(t *testing.T) {
	e := NewExporter(nil)

	e.ObserveRequest(201, false, 15*time.Millisecond, 42)
	e.ObserveRequest(201, false, 25*time.Millisecond, 8)
	e.ObserveRequest(500, true, 5*time.Millisecond, 0)
	e.ObserveCheck("status 200 or 201", true)
	e.ObserveCheck("status 200 or 201", true)
	e.ObserveCheck("status 200 or 201", false)
	e.ObserveIteration(510 * time.Millisecond)
	e.AddVUs(1)
	e.AddVUs(1)
	e.AddVUs(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(e.httpReqs.WithLabelValues("201", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.httpReqs.WithLabelValues("500", "true")))
	assert.Equal(t, 50.0, testutil.ToFloat64(e.dataReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.checks.WithLabelValues("status 200 or 201", "pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.checks.WithLabelValues("status 200 or 201", "fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.iterations))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.vus))

	families, err := e.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"orderload_http_reqs_total",
		"orderload_http_req_duration_seconds",
		"orderload_data_received_bytes_total",
		"orderload_checks_total",
		"orderload_iterations_total",
		"orderload_iteration_duration_seconds",
		"orderload_vus",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestExporter_Handler(t *testing.T) {
	e := NewExporter(nil)
	e.ObserveRequest(200, false, time.Millisecond, 1)

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `orderload_http_reqs_total{failed="false",status="200"} 1`)
}

func TestExporter_StartStop(t *testing.T) {
	e := NewExporter(nil)
	assert.Empty(t, e.Addr())

	require.NoError(t, e.Start("127.0.0.1:0"))
	require.NoError(t, e.Start("127.0.0.1:0"), "second start is a no-op")
	addr := e.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
	require.NoError(t, e.Stop(ctx))
	assert.Empty(t, e.Addr())
}

func TestExporter_StartBadAddr(t *testing.T) {
	e := NewExporter(nil)
	err := e.Start("not-an-address")
	assert.Error(t, err)
}
