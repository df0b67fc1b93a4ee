package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderload/internal/banner"
	"orderload/internal/cli"
	"orderload/internal/storage"
)

// cleanEnv isolates a test from the caller's environment and config files.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GATEWAY_URL", "K6_DURATION", "K6_VUS", "ORDERLOAD_OUT", "ORDERLOAD_HISTORY", "ORDERLOAD_METRICS_ADDR"} {
		t.Setenv(k, "")
	}
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func statusServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_InvalidEnvExits104(t *testing.T) {
	tests := map[string]string{
		"K6_VUS":      "abc",
		"K6_DURATION": "0",
		"GATEWAY_URL": "ftp://gateway",
	}
	for env, value := range tests {
		t.Run(env, func(t *testing.T) {
			cleanEnv(t)
			t.Setenv(env, value)

			code, _, stderr := execute(t)
			assert.Equal(t, cli.ExitInvalidConfig, code)
			assert.Contains(t, stderr, "invalid run configuration")
		})
	}
}

func TestRun_InvalidFlagExits104(t *testing.T) {
	cleanEnv(t)
	code, _, _ := execute(t, "--vus", "-3")
	assert.Equal(t, cli.ExitInvalidConfig, code)
}

func TestRun_MissingConfigFileExits104(t *testing.T) {
	cleanEnv(t)
	code, _, _ := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, cli.ExitInvalidConfig, code)
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		status int
		want   int
	}{
		{http.StatusCreated, cli.ExitOK},
		{http.StatusOK, cli.ExitOK},
		{http.StatusInternalServerError, cli.ExitThresholdsFailed},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			cleanEnv(t)
			srv := statusServer(t, tt.status)

			code, stdout, _ := execute(t, "--url", srv.URL, "--duration", "1", "--vus", "1", "--log-level", "error")
			assert.Equal(t, tt.want, code)
			assert.Contains(t, stdout, "LOAD TEST RESULTS")
		})
	}
}

func TestRun_EnvDrivesRun(t *testing.T) {
	cleanEnv(t)
	srv := statusServer(t, http.StatusCreated)
	t.Setenv("GATEWAY_URL", srv.URL)
	t.Setenv("K6_DURATION", "1")
	t.Setenv("K6_VUS", "2")

	code, stdout, _ := execute(t, "--log-level", "error")
	assert.Equal(t, cli.ExitOK, code)
	assert.Contains(t, stdout, "POST "+srv.URL+"/orders")
	assert.Contains(t, stdout, "VUs         : 2")
	assert.Contains(t, stdout, "Duration    : 1s")
}

func TestRun_ConfigFileThresholds(t *testing.T) {
	cleanEnv(t)
	srv := statusServer(t, http.StatusCreated)

	path := filepath.Join(t.TempDir(), "orderload.yaml")
	yaml := "gateway_url: " + srv.URL + "\n" +
		"k6_duration: 1\n" +
		"k6_vus: 1\n" +
		"thresholds:\n" +
		"  http_reqs:\n" +
		"    - count>100000\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	code, stdout, _ := execute(t, "--config", path, "--log-level", "error")
	assert.Equal(t, cli.ExitThresholdsFailed, code)
	assert.Contains(t, stdout, "✗ http_reqs: count>100000")
}

func TestHistoryCommand(t *testing.T) {
	cleanEnv(t)
	srv := statusServer(t, http.StatusCreated)
	path := filepath.Join(t.TempDir(), "history.db")

	code, _, _ := execute(t, "--url", srv.URL, "--duration", "1", "--vus", "1", "--history", path, "--log-level", "error")
	require.Equal(t, cli.ExitOK, code)

	code, stdout, _ := execute(t, "history", "--history", path)
	require.Equal(t, cli.ExitOK, code)
	assert.Contains(t, stdout, "THRESHOLDS")
	assert.Contains(t, stdout, "passed")

	store, err := storage.Open(path)
	require.NoError(t, err)
	items, err := store.List()
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, items, 1)

	code, stdout, _ = execute(t, "history", "--history", path, items[0].ID)
	require.Equal(t, cli.ExitOK, code)
	assert.Contains(t, stdout, `"id": "`+items[0].ID+`"`)

	code, _, stderr := execute(t, "history", "--history", path, "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")
}

func TestHelpShowsBanner(t *testing.T) {
	cleanEnv(t)
	code, stdout, _ := execute(t, "--help")
	assert.Equal(t, cli.ExitOK, code)
	assert.Contains(t, stdout, banner.Tagline)
	assert.Contains(t, stdout, "K6_VUS")
	assert.Contains(t, stdout, "--metrics-addr")
}

func TestDummyCommand_StopsOnCancel(t *testing.T) {
	cleanEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{"dummy", "--port", "0", "--log-level", "error"}, &stdout, &stderr)
	assert.Equal(t, cli.ExitOK, code, stderr.String())
}
