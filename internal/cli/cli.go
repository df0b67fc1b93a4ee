// Package cli drives one load run end to end and turns its verdict into
// an exit code.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"orderload/internal/config"
	"orderload/internal/metrics"
	"orderload/internal/order"
	"orderload/internal/report"
	"orderload/internal/runner"
	"orderload/internal/stats"
	"orderload/internal/storage"
	"orderload/internal/threshold"
	"orderload/internal/tui"
)

// Process exit codes, matching k6.
const (
	ExitOK               = 0
	ExitThresholdsFailed = 99
	ExitInvalidConfig    = 104
)

const rule = "======================================================================"

// Options are the run-time knobs that are not part of the run
// configuration.
type Options struct {
	Stdout io.Writer
	Logger *zap.Logger
	// TUI shows the live dashboard instead of the progress line.
	TUI bool
	// Pause overrides the per-iteration pause when positive.
	Pause     time.Duration
	Transport http.RoundTripper
}

// Run executes the load described by cfg and returns the exit code.
func Run(ctx context.Context, cfg config.Config, opts Options) int {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	printHeader(out, cfg)

	var observer runner.Observer
	if cfg.MetricsAddr != "" {
		exp := metrics.NewExporter(log)
		if err := exp.Start(cfg.MetricsAddr); err != nil {
			log.Warn("metrics exporter disabled", zap.Error(err))
		} else {
			observer = exp
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := exp.Stop(stopCtx); err != nil {
					log.Warn("stopping metrics exporter", zap.Error(err))
				}
			}()
		}
	}

	updates := make(runner.StatsUpdateChan, 100)
	r := runner.NewRunner(runner.Options{
		Timeout:      cfg.RequestTimeout,
		GracefulStop: cfg.GracefulStop,
		Observer:     observer,
		Logger:       log,
		Transport:    opts.Transport,
	}, updates)

	genOpts := []order.Option{order.WithLogger(log)}
	if opts.Pause > 0 {
		genOpts = append(genOpts, order.WithPause(opts.Pause))
	}
	gen := order.NewGenerator(cfg, r, r, genOpts...)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RunVirtualUsers(runCtx, cfg.VirtualUserCount, cfg.Duration(), gen.Iterate)
	}()

	if opts.TUI {
		p := tea.NewProgram(tui.NewModel(cfg, updates, done, cancel), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil {
			log.Warn("dashboard exited", zap.Error(err))
			cancel()
		}
		<-done
	} else {
		progressLoop(out, cfg, updates, done)
	}

	verdict := r.Thresholds(cfg.Thresholds)
	printSummary(out, r.Stats, verdict)

	handleAutoReport(out, log, r, cfg, verdict)
	saveHistory(log, r.Stats, cfg, verdict)

	if !verdict.Passed {
		log.Error("thresholds crossed", zap.Int("failed", verdict.FailedCount))
		return ExitThresholdsFailed
	}
	return ExitOK
}

func printHeader(w io.Writer, cfg config.Config) {
	fmt.Fprintf(w, "\n🚀 STARTING ORDER LOAD TEST\n")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Target URL  : POST %s\n", cfg.OrdersURL())
	fmt.Fprintf(w, "VUs         : %d\n", cfg.VirtualUserCount)
	fmt.Fprintf(w, "Duration    : %s (graceful stop %s)\n", cfg.DurationString(), cfg.GracefulStop)
	fmt.Fprintf(w, "Timeout     : %s\n", cfg.RequestTimeout)
	for _, t := range cfg.Thresholds {
		fmt.Fprintf(w, "Threshold   : %s\n", t)
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
}

func progressLoop(w io.Writer, cfg config.Config, updates <-chan runner.StatsSnapshot, done <-chan struct{}) {
	total := cfg.Duration()
	for {
		select {
		case snap := <-updates:
			pct := 0.0
			if total > 0 {
				pct = min(snap.Elapsed.Seconds()/total.Seconds(), 1)
			}
			rps := 0.0
			if snap.Elapsed > 0 {
				rps = float64(snap.Requests) / snap.Elapsed.Seconds()
			}

			if snap.Elapsed >= total && snap.VUs > 0 {
				fmt.Fprintf(w, "\r%s %3.0f%% | %s/%s | Stopping: %d VUs...                        ",
					progressBar(1, 20), 100.0,
					snap.Elapsed.Round(time.Second), total, snap.VUs)
				continue
			}
			fmt.Fprintf(w, "\r%s %3.0f%% | %s/%s | VUs: %3d | RPS: %.1f | Reqs: %d | Failed: %d",
				progressBar(pct, 20), pct*100,
				snap.Elapsed.Round(time.Second), total,
				snap.VUs, rps, snap.Requests, snap.Failed,
			)
		case <-done:
			fmt.Fprintln(w)
			return
		}
	}
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	filled = min(max(filled, 0), width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

func printSummary(w io.Writer, st *stats.Stats, verdict threshold.Results) {
	elapsed := st.Elapsed()
	rate := func(n uint64) float64 {
		if elapsed <= 0 {
			return 0
		}
		return float64(n) / elapsed.Seconds()
	}

	fmt.Fprintf(w, "\n📊 LOAD TEST RESULTS\n")
	fmt.Fprintln(w, rule)

	for _, c := range st.Checks() {
		total := c.Passes + c.Fails
		pct := 0.0
		if total > 0 {
			pct = float64(c.Passes) / float64(total) * 100
		}
		fmt.Fprintf(w, "  %s %s\n", mark(c.Fails == 0), c.Name)
		fmt.Fprintf(w, "    ↳ %.0f%%  ✓ %d / ✗ %d\n", pct, c.Passes, c.Fails)
	}
	fmt.Fprintln(w)

	req := st.ReqDuration.Trend()
	iter := st.IterationDuration.Trend()
	line := func(name, value string) {
		fmt.Fprintf(w, "    %s%s: %s\n", name, strings.Repeat(".", max(28-len(name), 1)), value)
	}
	line(stats.MetricChecks, fmt.Sprintf("%.2f%%", st.CheckRate()*100))
	line(stats.MetricDataReceived, fmt.Sprintf("%d B  %.0f B/s", st.Bytes, rate(st.Bytes)))
	line(stats.MetricHTTPReqDuration, trendLine(req))
	line(stats.MetricHTTPReqFailed, fmt.Sprintf("%.2f%%  ✓ %d ✗ %d", st.FailureRate()*100, st.Failed, st.Requests-st.Failed))
	line(stats.MetricHTTPReqs, fmt.Sprintf("%d  %.2f/s", st.Requests, rate(st.Requests)))
	line(stats.MetricIterationDuration, trendLine(iter))
	line(stats.MetricIterations, fmt.Sprintf("%d  %.2f/s", st.Iterations, rate(st.Iterations)))
	line("vus_max", fmt.Sprintf("%d", st.MaxVUs()))

	if errs := st.GetErrorCounts(); len(errs) > 0 {
		fmt.Fprintf(w, "\n❌ FAILURE SUMMARY\n")
		for errStr, count := range errs {
			fmt.Fprintf(w, "   %d x %s\n", count, errStr)
		}
	}

	fmt.Fprintf(w, "\n🎯 THRESHOLDS\n")
	for _, item := range verdict.Items {
		detail := fmt.Sprintf("actual %.4g", item.Actual)
		if item.Err != nil {
			detail = item.Err.Error()
		}
		fmt.Fprintf(w, "  %s %s (%s)\n", mark(item.Passed), item.Threshold, detail)
	}
	fmt.Fprintln(w, verdict.Summary())
	fmt.Fprintln(w, rule)
}

func trendLine(t stats.Trend) string {
	return fmt.Sprintf("avg=%.2fms min=%.2fms med=%.2fms max=%.2fms p(90)=%.2fms p(95)=%.2fms",
		t.Avg, t.Min, t.Med, t.Max, t.P90, t.P95)
}

func handleAutoReport(w io.Writer, log *zap.Logger, r *runner.Runner, cfg config.Config, verdict threshold.Results) {
	if cfg.OutPrefix == "" {
		return
	}

	fmt.Fprintf(w, "\n💾 Generating reports with prefix: %s\n", cfg.OutPrefix)
	sum := report.BuildSummary(r.Stats, verdict)
	if err := report.ExportAll(cfg.OutPrefix, r.Results(), cfg.VirtualUserCount, sum); err != nil {
		log.Error("report export failed", zap.String("prefix", cfg.OutPrefix), zap.Error(err))
		return
	}
	fmt.Fprintf(w, "✅ Reports saved to %s{.csv,.json,_summary.json,_timeline.json}\n", cfg.OutPrefix)
}

func saveHistory(log *zap.Logger, st *stats.Stats, cfg config.Config, verdict threshold.Results) {
	if cfg.HistoryPath == "" {
		return
	}

	store, err := storage.Open(cfg.HistoryPath)
	if err != nil {
		log.Error("opening history", zap.String("path", cfg.HistoryPath), zap.Error(err))
		return
	}
	defer store.Close()

	item := storage.NewItem(RunConfigOf(cfg), SummaryOf(st, verdict))
	if err := store.Save(item); err != nil {
		log.Error("saving history", zap.String("path", cfg.HistoryPath), zap.Error(err))
		return
	}
	log.Debug("history saved", zap.String("id", item.ID))
}

// RunConfigOf is the history view of cfg.
func RunConfigOf(cfg config.Config) storage.RunConfig {
	ts := make([]string, 0, len(cfg.Thresholds))
	for _, t := range cfg.Thresholds {
		ts = append(ts, t.String())
	}
	return storage.RunConfig{
		URL:             cfg.OrdersURL(),
		DurationSeconds: cfg.DurationSeconds,
		VUs:             cfg.VirtualUserCount,
		Thresholds:      ts,
	}
}

// SummaryOf is the history view of a finished run.
func SummaryOf(st *stats.Stats, verdict threshold.Results) storage.RunSummary {
	sum := storage.RunSummary{
		TotalRequests:    st.Requests,
		Failed:           st.Failed,
		Iterations:       st.Iterations,
		AvgLatencyMs:     st.ReqDuration.MeanMs(),
		P95LatencyMs:     st.ReqDuration.QuantileMs(95),
		P99LatencyMs:     st.ReqDuration.QuantileMs(99),
		ThresholdsPassed: verdict.Passed,
	}
	for _, c := range st.Checks() {
		sum.ChecksPassed += c.Passes
		sum.ChecksFailed += c.Fails
	}
	return sum
}

// PrintHistory lists stored runs, newest first.
func PrintHistory(w io.Writer, items []storage.HistoryItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	fmt.Fprintf(w, "%-36s  %-20s  %4s  %5s  %8s  %7s  %9s  %s\n",
		"ID", "TIME", "VUS", "DUR", "REQS", "FAILED", "P95(ms)", "THRESHOLDS")
	for _, it := range items {
		verdict := "passed"
		if !it.Summary.ThresholdsPassed {
			verdict = "FAILED"
		}
		fmt.Fprintf(w, "%-36s  %-20s  %4d  %4ds  %8d  %7d  %9.2f  %s\n",
			it.ID, it.Timestamp.Local().Format("2006-01-02 15:04:05"),
			it.Config.VUs, it.Config.DurationSeconds,
			it.Summary.TotalRequests, it.Summary.Failed, it.Summary.P95LatencyMs, verdict)
	}
}
