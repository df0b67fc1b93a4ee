// Package report writes run results to disk.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"orderload/internal/runner"
	"orderload/internal/stats"
	"orderload/internal/threshold"
)

const label = "POST /orders"

// ExportCSV exports results to a JMeter-compatible CSV file.
// Schema: timeStamp,elapsed,label,responseCode,responseMessage,threadName,dataType,success,failureMessage,bytes,sentBytes,grpThreads,allThreads,URL,Latency,IdleTime,Connect
func ExportCSV(results []runner.Result, vus int, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filename, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{
		"timeStamp", "elapsed", "label", "responseCode", "responseMessage",
		"threadName", "dataType", "success", "failureMessage", "bytes",
		"sentBytes", "grpThreads", "allThreads", "URL", "Latency", "IdleTime", "Connect",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	threads := strconv.Itoa(vus)
	for _, res := range results {
		elapsed := strconv.FormatInt(res.Latency.Milliseconds(), 10)
		record := []string{
			strconv.FormatInt(res.TimeStamp.UnixMilli(), 10),
			elapsed,
			label,
			strconv.Itoa(res.Status),
			http.StatusText(res.Status),
			"VU " + strconv.Itoa(res.VU),
			"text",
			strconv.FormatBool(!res.Failed),
			res.Error,
			strconv.FormatInt(res.Bytes, 10),
			"0", // sent bytes are not tracked
			threads,
			threads,
			res.URL,
			elapsed,
			"0",
			"0",
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// ExportJSON exports results to a JSON file.
func ExportJSON(results []runner.Result, filename string) error {
	if results == nil {
		results = []runner.Result{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// Summary is the end of run report, shaped after the k6 summary export.
type Summary struct {
	Timestamp time.Time           `json:"timestamp"`
	Duration  float64             `json:"duration_seconds"`
	Metrics   map[string]any      `json:"metrics"`
	Checks    []CheckSummary      `json:"checks"`
	Passed    bool                `json:"thresholds_passed"`
	Breaches  map[string][]Breach `json:"thresholds"`
	Status    map[string]uint64   `json:"status_codes"`
	Errors    map[string]uint64   `json:"errors,omitempty"`
}

// CheckSummary is one named check with its tally.
type CheckSummary struct {
	Name   string `json:"name"`
	Passes uint64 `json:"passes"`
	Fails  uint64 `json:"fails"`
}

// Breach is a threshold expression and whether it held.
type Breach struct {
	Expression string  `json:"expression"`
	Actual     float64 `json:"actual"`
	OK         bool    `json:"ok"`
	Error      string  `json:"error,omitempty"`
}

// Counter is a count with its per second rate.
type Counter struct {
	Count uint64  `json:"count"`
	Rate  float64 `json:"rate"`
}

// Rate is a fraction of passing samples.
type Rate struct {
	Rate   float64 `json:"rate"`
	Passes uint64  `json:"passes"`
	Fails  uint64  `json:"fails"`
}

// Gauge is a sampled value and its peak.
type Gauge struct {
	Value int64 `json:"value"`
	Max   int64 `json:"max"`
}

// BuildSummary assembles a Summary from the final stats and verdict.
func BuildSummary(st *stats.Stats, verdict threshold.Results) Summary {
	elapsed := st.Elapsed().Seconds()
	rate := func(n uint64) float64 {
		if elapsed <= 0 {
			return 0
		}
		return float64(n) / elapsed
	}

	reqs := st.Requests
	failed := st.Failed

	var checkPasses, checkFails uint64
	checks := make([]CheckSummary, 0)
	for _, c := range st.Checks() {
		checks = append(checks, CheckSummary{Name: c.Name, Passes: c.Passes, Fails: c.Fails})
		checkPasses += c.Passes
		checkFails += c.Fails
	}

	s := Summary{
		Timestamp: time.Now(),
		Duration:  elapsed,
		Metrics: map[string]any{
			stats.MetricHTTPReqs:          Counter{Count: reqs, Rate: rate(reqs)},
			stats.MetricIterations:        Counter{Count: st.Iterations, Rate: rate(st.Iterations)},
			stats.MetricDataReceived:      Counter{Count: st.Bytes, Rate: rate(st.Bytes)},
			stats.MetricHTTPReqFailed:     Rate{Rate: st.FailureRate(), Passes: failed, Fails: reqs - failed},
			stats.MetricChecks:            Rate{Rate: st.CheckRate(), Passes: checkPasses, Fails: checkFails},
			stats.MetricHTTPReqDuration:   st.ReqDuration.Trend(),
			stats.MetricIterationDuration: st.IterationDuration.Trend(),
			stats.MetricVUs:               Gauge{Value: st.ActiveVUs(), Max: st.MaxVUs()},
		},
		Checks:   checks,
		Passed:   verdict.Passed,
		Breaches: make(map[string][]Breach),
		Status:   make(map[string]uint64),
		Errors:   st.GetErrorCounts(),
	}

	for metric, items := range verdict.ByMetric() {
		for _, item := range items {
			b := Breach{Expression: item.Threshold.Source, Actual: item.Actual, OK: item.Passed}
			if item.Err != nil {
				b.Error = item.Err.Error()
			}
			s.Breaches[metric] = append(s.Breaches[metric], b)
		}
	}
	for code, n := range st.GetStatusCodes() {
		s.Status[strconv.Itoa(code)] = n
	}

	return s
}

// ExportSummary writes the summary as indented JSON.
func ExportSummary(s Summary, filename string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// ExportAll writes <prefix>.csv, <prefix>.json, <prefix>_summary.json
// and <prefix>_timeline.json.
func ExportAll(prefix string, results []runner.Result, vus int, s Summary) error {
	if err := ExportCSV(results, vus, prefix+".csv"); err != nil {
		return fmt.Errorf("csv report: %w", err)
	}
	if err := ExportJSON(results, prefix+".json"); err != nil {
		return fmt.Errorf("json report: %w", err)
	}
	if err := ExportSummary(s, prefix+"_summary.json"); err != nil {
		return fmt.Errorf("summary report: %w", err)
	}
	if err := ExportTimeline(results, prefix+"_timeline.json"); err != nil {
		return fmt.Errorf("timeline report: %w", err)
	}
	return nil
}
