package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"orderload/internal/stats"
	"orderload/internal/threshold"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultGracefulStop = 30 * time.Second
	tickInterval        = 200 * time.Millisecond
)

var _ Harness = (*Runner)(nil)

type Runner struct {
	Stats   *stats.Stats
	Client  *http.Client
	Updates StatsUpdateChan

	opts     Options
	log      *zap.Logger
	observer Observer

	mu      sync.Mutex
	results []Result

	inflight int64
}

func NewRunner(opts Options, updates StatsUpdateChan) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.GracefulStop <= 0 {
		opts.GracefulStop = defaultGracefulStop
	}
	if opts.ExpectedStatus == nil {
		opts.ExpectedStatus = DefaultExpectedStatus
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConns = 2000
		t.MaxConnsPerHost = 2000
		t.MaxIdleConnsPerHost = 2000
		transport = t
	}

	if updates == nil {
		// Avoid nil panics if not provided
		updates = make(StatsUpdateChan, 10)
	}

	return &Runner{
		Stats: stats.NewStats(),
		Client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		Updates:  updates,
		opts:     opts,
		log:      opts.Logger.Named("runner"),
		observer: opts.Observer,
	}
}

// StartTickLoop starts a goroutine that pushes stats updates
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate()
			}
		}
	}()
}

// Snapshot captures the live counters.
func (r *Runner) Snapshot() StatsSnapshot {
	s := r.Stats
	return StatsSnapshot{
		Elapsed:     s.Elapsed(),
		Requests:    atomic.LoadUint64(&s.Requests),
		Failed:      atomic.LoadUint64(&s.Failed),
		Bytes:       atomic.LoadUint64(&s.Bytes),
		Iterations:  atomic.LoadUint64(&s.Iterations),
		Inflight:    atomic.LoadInt64(&r.inflight),
		VUs:         s.ActiveVUs(),
		FailureRate: s.FailureRate(),
		P50Ms:       s.ReqDuration.QuantileMs(50),
		P90Ms:       s.ReqDuration.QuantileMs(90),
		P95Ms:       s.ReqDuration.QuantileMs(95),
		P99Ms:       s.ReqDuration.QuantileMs(99),
		MaxMs:       s.ReqDuration.MaxMs(),
	}
}

func (r *Runner) sendUpdate() {
	// Non-blocking send
	select {
	case r.Updates <- r.Snapshot():
	default:
		// Drop update if channel full, UI acts as backpressure
	}
}

// RunVirtualUsers runs count virtual users, each looping fn until duration
// has elapsed, and returns once every virtual user has stopped. No new
// iteration starts after the duration; iterations still running get the
// graceful stop window before their context is cancelled.
func (r *Runner) RunVirtualUsers(ctx context.Context, count int, duration time.Duration, fn IterationFunc) {
	iterCtx, cancelIter := context.WithCancel(ctx)
	defer cancelIter()
	durCtx, cancelDur := context.WithTimeout(iterCtx, duration)
	defer cancelDur()

	go func() {
		select {
		case <-iterCtx.Done():
			return
		case <-durCtx.Done():
		}
		t := time.NewTimer(r.opts.GracefulStop)
		defer t.Stop()
		select {
		case <-t.C:
			r.log.Warn("graceful stop expired, interrupting iterations",
				zap.Duration("graceful_stop", r.opts.GracefulStop))
			cancelIter()
		case <-iterCtx.Done():
		}
	}()

	r.log.Info("starting virtual users",
		zap.Int("vus", count),
		zap.Duration("duration", duration),
	)

	r.Stats.Start(time.Now())
	r.StartTickLoop(iterCtx, tickInterval)

	var wg sync.WaitGroup
	for vu := 1; vu <= count; vu++ {
		wg.Add(1)
		go func(vu int) {
			defer wg.Done()
			r.runVU(durCtx, WithVU(iterCtx, vu), vu, fn)
		}(vu)
	}
	wg.Wait()

	r.Stats.Stop(time.Now())
	r.sendUpdate()

	r.log.Info("virtual users finished",
		zap.Uint64("iterations", atomic.LoadUint64(&r.Stats.Iterations)),
		zap.Uint64("requests", atomic.LoadUint64(&r.Stats.Requests)),
	)
}

func (r *Runner) runVU(durCtx, iterCtx context.Context, vu int, fn IterationFunc) {
	r.Stats.VUStarted()
	r.observeVUs(1)
	defer func() {
		r.Stats.VUStopped()
		r.observeVUs(-1)
	}()

	// Iterations within one virtual user are strictly sequential.
	for durCtx.Err() == nil {
		started := time.Now()
		r.iterate(iterCtx, vu, fn)
		d := time.Since(started)

		r.Stats.AddIteration(d)
		if r.observer != nil {
			r.observer.ObserveIteration(d)
		}
	}
}

func (r *Runner) iterate(ctx context.Context, vu int, fn IterationFunc) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("iteration panicked", zap.Int("vu", vu), zap.Any("panic", rec))
		}
	}()
	fn(ctx)
}

func (r *Runner) observeVUs(delta int64) {
	if r.observer != nil {
		r.observer.AddVUs(delta)
	}
}

// Do sends req and records it. The body is read in full before Do
// returns, so the recorded duration covers the whole exchange; the
// returned response carries the buffered body.
func (r *Runner) Do(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&r.inflight, 1)
	defer atomic.AddInt64(&r.inflight, -1)

	start := time.Now()
	resp, err := r.Client.Do(req)

	res := Result{
		TimeStamp: start,
		Method:    req.Method,
		URL:       req.URL.String(),
		VU:        VUFromContext(req.Context()),
	}

	if err == nil {
		var body []byte
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))

		res.Status = resp.StatusCode
		res.Bytes = int64(len(body))
		if err != nil {
			err = fmt.Errorf("reading response body: %w", err)
		}
	}
	res.Latency = time.Since(start)

	if err != nil {
		res.Failed = true
		res.Error = err.Error()
		r.log.Debug("request failed", zap.String("url", res.URL), zap.Error(err))
	} else {
		res.Failed = !r.opts.ExpectedStatus(res.Status)
	}

	r.Stats.AddRequest(res.Status, res.Failed, res.Bytes, res.Latency, err)
	if r.observer != nil {
		r.observer.ObserveRequest(res.Status, res.Failed, res.Latency, res.Bytes)
	}

	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// RecordCheck tallies a named check.
func (r *Runner) RecordCheck(name string, passed bool) {
	r.Stats.RecordCheck(name, passed)
	if r.observer != nil {
		r.observer.ObserveCheck(name, passed)
	}
}

// Thresholds evaluates the thresholds against everything recorded so far.
func (r *Runner) Thresholds(thresholds []threshold.Threshold) threshold.Results {
	return threshold.Evaluate(thresholds, r.Stats)
}

// EvaluateThresholds reports whether every threshold passed.
func (r *Runner) EvaluateThresholds(thresholds []threshold.Threshold) bool {
	return r.Thresholds(thresholds).Passed
}

// Results returns a copy of the per-request records.
func (r *Runner) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}

func (r *Runner) GetInflight() int64 {
	return atomic.LoadInt64(&r.inflight)
}
