package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderload/internal/runner"
	"orderload/internal/stats"
	"orderload/internal/threshold"
)

func sampleResults() []runner.Result {
	ts := time.UnixMilli(1700000000000)
	return []runner.Result{
		{TimeStamp: ts, Latency: 12 * time.Millisecond, Method: "POST", URL: "http://gw/orders", Status: 201, Bytes: 40, VU: 1},
		{TimeStamp: ts.Add(time.Second), Latency: 30 * time.Millisecond, Method: "POST", URL: "http://gw/orders", Status: 500, Failed: true, VU: 2},
		{TimeStamp: ts.Add(2 * time.Second), Latency: 5 * time.Millisecond, Method: "POST", URL: "http://gw/orders", Failed: true, VU: 1, Error: "connection refused"},
	}
}

func TestExportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	require.NoError(t, ExportCSV(sampleResults(), 2, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, "timeStamp", rows[0][0])
	assert.Len(t, rows[0], 17)

	assert.Equal(t, []string{
		"1700000000000", "12", "POST /orders", "201", "Created", "VU 1", "text", "true", "",
		"40", "0", "2", "2", "http://gw/orders", "12", "0", "0",
	}, rows[1])
	assert.Equal(t, "Internal Server Error", rows[2][4])
	assert.Equal(t, "false", rows[2][7])
	assert.Equal(t, "0", rows[3][3])
	assert.Equal(t, "connection refused", rows[3][8])
}

func TestExportCSV_BadPath(t *testing.T) {
	err := ExportCSV(nil, 1, filepath.Join(t.TempDir(), "missing", "run.csv"))
	assert.Error(t, err)
}

func TestExportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, ExportJSON(sampleResults(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got []runner.Result
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 3)
	assert.Equal(t, 201, got[0].Status)
	assert.Equal(t, "connection refused", got[2].Error)
}

func TestExportJSON_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, ExportJSON(nil, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func newStats() *stats.Stats {
	st := stats.NewStats()
	start := time.Now().Add(-10 * time.Second)
	st.Start(start)
	for i := 0; i < 9; i++ {
		st.AddRequest(201, false, 10, 20*time.Millisecond, nil)
		st.RecordCheck("status 200 or 201", true)
		st.AddIteration(520 * time.Millisecond)
	}
	st.AddRequest(500, true, 0, 40*time.Millisecond, nil)
	st.RecordCheck("status 200 or 201", false)
	st.AddIteration(540 * time.Millisecond)
	st.Stop(start.Add(10 * time.Second))
	return st
}

func TestBuildSummary(t *testing.T) {
	st := newStats()
	verdict := threshold.Evaluate(threshold.Default(), st)

	s := BuildSummary(st, verdict)

	assert.InDelta(t, 10.0, s.Duration, 0.001)
	assert.Equal(t, Counter{Count: 10, Rate: 1}, s.Metrics[stats.MetricHTTPReqs])
	assert.Equal(t, Counter{Count: 10, Rate: 1}, s.Metrics[stats.MetricIterations])
	assert.Equal(t, Counter{Count: 90, Rate: 9}, s.Metrics[stats.MetricDataReceived])

	failed, ok := s.Metrics[stats.MetricHTTPReqFailed].(Rate)
	require.True(t, ok)
	assert.InDelta(t, 0.1, failed.Rate, 1e-9)

	require.Len(t, s.Checks, 1)
	assert.Equal(t, CheckSummary{Name: "status 200 or 201", Passes: 9, Fails: 1}, s.Checks[0])

	// 0.1 is not < 0.1
	assert.False(t, s.Passed)
	require.Len(t, s.Breaches[stats.MetricHTTPReqFailed], 1)
	assert.False(t, s.Breaches[stats.MetricHTTPReqFailed][0].OK)
	assert.Equal(t, "rate<0.1", s.Breaches[stats.MetricHTTPReqFailed][0].Expression)
	require.Len(t, s.Breaches[stats.MetricHTTPReqDuration], 1)
	assert.True(t, s.Breaches[stats.MetricHTTPReqDuration][0].OK)

	assert.Equal(t, uint64(9), s.Status["201"])
	assert.Equal(t, uint64(1), s.Status["500"])
	assert.Equal(t, uint64(1), s.Errors["HTTP 500"])
}

func TestBuildSummary_ThresholdError(t *testing.T) {
	st := newStats()
	verdict := threshold.Results{Items: []threshold.Result{{
		Threshold: threshold.Threshold{Metric: "nope", Source: "rate<1"},
		Err:       errors.New("unknown metric: nope"),
	}}, FailedCount: 1}

	s := BuildSummary(st, verdict)
	require.Len(t, s.Breaches["nope"], 1)
	assert.Equal(t, "unknown metric: nope", s.Breaches["nope"][0].Error)
}

func TestExportAll(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "run")
	st := newStats()
	s := BuildSummary(st, threshold.Evaluate(threshold.Default(), st))

	require.NoError(t, ExportAll(prefix, sampleResults(), 2, s))

	for _, name := range []string{"run.csv", "run.json", "run_summary.json", "run_timeline.json"} {
		assert.FileExists(t, filepath.Join(filepath.Dir(prefix), name))
	}

	data, err := os.ReadFile(prefix + "_summary.json")
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "metrics")
	assert.Contains(t, raw["metrics"], "http_req_duration")
	assert.Equal(t, false, raw["thresholds_passed"])
}

func TestTimeline(t *testing.T) {
	buckets := Timeline(sampleResults())

	require.Len(t, buckets, 3)
	assert.Equal(t, TimeBucket{Timestamp: 1700000000, Requests: 1}, buckets[0])
	assert.Equal(t, TimeBucket{Timestamp: 1700000001, Requests: 1, Failed: 1}, buckets[1])
	assert.Equal(t, int64(1700000002), buckets[2].Timestamp)

	assert.Empty(t, Timeline(nil))
}
