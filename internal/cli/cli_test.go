package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"orderload/internal/config"
	"orderload/internal/dummy"
	"orderload/internal/storage"
)

func testConfig(url string) config.Config {
	cfg := config.Default()
	cfg.TargetBaseURL = url
	cfg.DurationSeconds = 1
	cfg.VirtualUserCount = 2
	cfg.RequestTimeout = 2 * time.Second
	cfg.GracefulStop = 2 * time.Second
	return cfg
}

func statusServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_ThresholdsPass(t *testing.T) {
	srv := statusServer(t, http.StatusCreated)
	var out bytes.Buffer

	code := Run(context.Background(), testConfig(srv.URL), Options{Stdout: &out, Pause: 100 * time.Millisecond})

	assert.Equal(t, ExitOK, code)
	s := out.String()
	assert.Contains(t, s, "POST "+srv.URL+"/orders")
	assert.Contains(t, s, "✓ status 200 or 201")
	assert.Contains(t, s, "✓ http_req_failed: rate<0.1")
	assert.Contains(t, s, "✓ http_req_duration: p(95)<2000")
	assert.Contains(t, s, "thresholds: 2/2 passed")
}

func TestRun_ThresholdsFail(t *testing.T) {
	srv := statusServer(t, http.StatusInternalServerError)
	var out bytes.Buffer

	core, logs := observer.New(zap.ErrorLevel)
	code := Run(context.Background(), testConfig(srv.URL), Options{
		Stdout: &out,
		Logger: zap.New(core),
		Pause:  100 * time.Millisecond,
	})

	assert.Equal(t, ExitThresholdsFailed, code)
	s := out.String()
	assert.Contains(t, s, "✗ status 200 or 201")
	assert.Contains(t, s, "✗ http_req_failed: rate<0.1")
	assert.Contains(t, s, "HTTP 500")
	assert.Contains(t, s, "(1 FAILED)")
	assert.Equal(t, 1, logs.FilterMessage("thresholds crossed").Len())
}

func TestRun_UnreachableTargetFails(t *testing.T) {
	srv := statusServer(t, http.StatusCreated)
	url := srv.URL
	srv.Close()

	cfg := testConfig(url)
	cfg.VirtualUserCount = 1
	code := Run(context.Background(), cfg, Options{Stdout: &bytes.Buffer{}, Pause: 100 * time.Millisecond})
	assert.Equal(t, ExitThresholdsFailed, code)
}

func TestRun_AgainstDummyWithReportsAndHistory(t *testing.T) {
	store := dummy.NewMemoryStore()
	srv := httptest.NewServer(dummy.NewHandler(dummy.ServerConfig{}, store, nil))
	defer srv.Close()

	dir := t.TempDir()
	cfg := testConfig(srv.URL)
	cfg.OutPrefix = filepath.Join(dir, "run")
	cfg.HistoryPath = filepath.Join(dir, "history.json")
	cfg.MetricsAddr = "127.0.0.1:0"

	var out bytes.Buffer
	code := Run(context.Background(), cfg, Options{Stdout: &out, Pause: 100 * time.Millisecond})
	require.Equal(t, ExitOK, code, out.String())

	for _, name := range []string{"run.csv", "run.json", "run_summary.json", "run_timeline.json"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.Greater(t, store.Len(), 0)

	hs, err := storage.Open(cfg.HistoryPath)
	require.NoError(t, err)
	defer hs.Close()

	items, err := hs.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Summary.ThresholdsPassed)
	assert.Equal(t, srv.URL+"/orders", items[0].Config.URL)
	assert.Equal(t, uint64(store.Len()), items[0].Summary.TotalRequests, "every key is fresh")
	assert.Equal(t, items[0].Summary.TotalRequests, items[0].Summary.ChecksPassed)
}

func TestRun_ParentCancel(t *testing.T) {
	srv := statusServer(t, http.StatusCreated)

	cfg := testConfig(srv.URL)
	cfg.DurationSeconds = 60

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	Run(ctx, cfg, Options{Stdout: &bytes.Buffer{}, Pause: 50 * time.Millisecond})
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[----]", progressBar(0, 4))
	assert.Equal(t, "[██--]", progressBar(0.5, 4))
	assert.Equal(t, "[████]", progressBar(2, 4))
	assert.Equal(t, "[----]", progressBar(-1, 4))
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	PrintHistory(&out, nil)
	assert.Equal(t, "no runs recorded\n", out.String())

	out.Reset()
	PrintHistory(&out, []storage.HistoryItem{{
		ID:        "abc",
		Timestamp: time.Now(),
		Config:    storage.RunConfig{VUs: 5, DurationSeconds: 60},
		Summary:   storage.RunSummary{TotalRequests: 600, Failed: 3, P95LatencyMs: 12.5},
	}})
	s := out.String()
	assert.Contains(t, s, "THRESHOLDS")
	assert.Contains(t, s, "abc")
	assert.Contains(t, s, "600")
	assert.Contains(t, s, "FAILED")
	assert.Contains(t, s, "12.50")
}

func TestRunConfigOf(t *testing.T) {
	cfg := config.Default()
	rc := RunConfigOf(cfg)

	assert.Equal(t, "http://localhost:8080/orders", rc.URL)
	assert.Equal(t, 60, rc.DurationSeconds)
	assert.Equal(t, 5, rc.VUs)
	assert.Equal(t, []string{"http_req_duration: p(95)<2000", "http_req_failed: rate<0.1"}, rc.Thresholds)
}
