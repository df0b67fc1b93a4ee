package stats

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"orderload/internal/threshold"
)

// Metric names.
const (
	MetricHTTPReqs          = "http_reqs"
	MetricHTTPReqFailed     = "http_req_failed"
	MetricHTTPReqDuration   = "http_req_duration"
	MetricIterations        = "iterations"
	MetricIterationDuration = "iteration_duration"
	MetricChecks            = "checks"
	MetricDataReceived      = "data_received"
	MetricVUs               = "vus"
)

// Stats holds real-time aggregated metrics
type Stats struct {
	Requests   uint64
	Failed     uint64
	Bytes      uint64
	Iterations uint64

	// Latency histograms (microseconds)
	ReqDuration       *SafeHistogram
	IterationDuration *SafeHistogram

	vus    int64
	maxVUs int64

	mu          sync.Mutex
	started     time.Time
	ended       time.Time
	checks      map[string]*CheckCounts
	checkOrder  []string
	statusCodes map[int]uint64
	errorCounts map[string]uint64
}

// CheckCounts is the tally of one named check.
type CheckCounts struct {
	Name   string `json:"name"`
	Passes uint64 `json:"passes"`
	Fails  uint64 `json:"fails"`
}

func NewStats() *Stats {
	return &Stats{
		ReqDuration:       NewSafeHistogram(),
		IterationDuration: NewSafeHistogram(),
		checks:            make(map[string]*CheckCounts),
		statusCodes:       make(map[int]uint64),
		errorCounts:       make(map[string]uint64),
	}
}

// Start marks the beginning of the measured window.
func (s *Stats) Start(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = at
	s.ended = time.Time{}
}

// Stop marks the end of the measured window.
func (s *Stats) Stop(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = at
}

// Elapsed is the length of the measured window so far.
func (s *Stats) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		return 0
	}
	if s.ended.IsZero() {
		return time.Since(s.started)
	}
	return s.ended.Sub(s.started)
}

// AddRequest records one HTTP request. status is 0 when no response was
// received.
func (s *Stats) AddRequest(status int, failed bool, bytes int64, d time.Duration, err error) {
	atomic.AddUint64(&s.Requests, 1)
	if failed {
		atomic.AddUint64(&s.Failed, 1)
	}
	if bytes > 0 {
		atomic.AddUint64(&s.Bytes, uint64(bytes))
	}
	s.ReqDuration.Record(d)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCodes[status]++
	if err != nil {
		s.errorCounts[err.Error()]++
	} else if failed {
		s.errorCounts[fmt.Sprintf("HTTP %d", status)]++
	}
}

// AddIteration records one completed iteration.
func (s *Stats) AddIteration(d time.Duration) {
	atomic.AddUint64(&s.Iterations, 1)
	s.IterationDuration.Record(d)
}

// RecordCheck tallies one check outcome.
func (s *Stats) RecordCheck(name string, passed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checks[name]
	if !ok {
		c = &CheckCounts{Name: name}
		s.checks[name] = c
		s.checkOrder = append(s.checkOrder, name)
	}
	if passed {
		c.Passes++
	} else {
		c.Fails++
	}
}

// Checks returns the check tallies in first-seen order.
func (s *Stats) Checks() []CheckCounts {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CheckCounts, 0, len(s.checkOrder))
	for _, name := range s.checkOrder {
		out = append(out, *s.checks[name])
	}
	return out
}

// VUStarted and VUStopped track the active virtual user gauge.
func (s *Stats) VUStarted() {
	n := atomic.AddInt64(&s.vus, 1)
	for {
		peak := atomic.LoadInt64(&s.maxVUs)
		if n <= peak || atomic.CompareAndSwapInt64(&s.maxVUs, peak, n) {
			return
		}
	}
}

func (s *Stats) VUStopped() {
	atomic.AddInt64(&s.vus, -1)
}

func (s *Stats) ActiveVUs() int64 {
	return atomic.LoadInt64(&s.vus)
}

func (s *Stats) MaxVUs() int64 {
	return atomic.LoadInt64(&s.maxVUs)
}

// FailureRate is the fraction (0-1) of failed requests.
func (s *Stats) FailureRate() float64 {
	reqs := atomic.LoadUint64(&s.Requests)
	if reqs == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.Failed)) / float64(reqs)
}

// CheckRate is the fraction (0-1) of passed checks over all checks.
func (s *Stats) CheckRate() float64 {
	var passes, total uint64
	for _, c := range s.Checks() {
		passes += c.Passes
		total += c.Passes + c.Fails
	}
	if total == 0 {
		return 0
	}
	return float64(passes) / float64(total)
}

func (s *Stats) GetP95Duration() float64 {
	return s.ReqDuration.QuantileMs(95)
}

// GetStatusCodes returns a copy of the status code distribution. Status 0
// counts requests that got no response.
func (s *Stats) GetStatusCodes() map[int]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]uint64, len(s.statusCodes))
	for k, v := range s.statusCodes {
		out[k] = v
	}
	return out
}

// GetErrorCounts returns failure reasons and their counts.
func (s *Stats) GetErrorCounts() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]uint64, len(s.errorCounts))
	for k, v := range s.errorCounts {
		out[k] = v
	}
	return out
}

// SortedStatusCodes returns the observed status codes in ascending order.
func (s *Stats) SortedStatusCodes() []int {
	codes := s.GetStatusCodes()
	out := make([]int, 0, len(codes))
	for code := range codes {
		out = append(out, code)
	}
	sort.Ints(out)
	return out
}

// Aggregate implements threshold.Metrics.
func (s *Stats) Aggregate(metric, agg string, p float64) (float64, error) {
	switch metric {
	case MetricHTTPReqFailed:
		return rateOnly(metric, agg, s.FailureRate())
	case MetricChecks:
		return rateOnly(metric, agg, s.CheckRate())
	case MetricHTTPReqDuration:
		return trend(metric, s.ReqDuration, agg, p)
	case MetricIterationDuration:
		return trend(metric, s.IterationDuration, agg, p)
	case MetricHTTPReqs:
		return s.counter(metric, atomic.LoadUint64(&s.Requests), agg)
	case MetricIterations:
		return s.counter(metric, atomic.LoadUint64(&s.Iterations), agg)
	case MetricDataReceived:
		return s.counter(metric, atomic.LoadUint64(&s.Bytes), agg)
	case MetricVUs:
		switch agg {
		case threshold.AggValue:
			return float64(s.ActiveVUs()), nil
		case threshold.AggMax:
			return float64(s.MaxVUs()), nil
		}
		return 0, unsupported(metric, agg)
	}
	return 0, fmt.Errorf("%w: %s", threshold.ErrUnknownMetric, metric)
}

func (s *Stats) counter(metric string, n uint64, agg string) (float64, error) {
	switch agg {
	case threshold.AggCount:
		return float64(n), nil
	case threshold.AggRate:
		secs := s.Elapsed().Seconds()
		if secs <= 0 {
			return 0, nil
		}
		return float64(n) / secs, nil
	}
	return 0, unsupported(metric, agg)
}

func rateOnly(metric, agg string, v float64) (float64, error) {
	if agg != threshold.AggRate {
		return 0, unsupported(metric, agg)
	}
	return v, nil
}

func trend(metric string, h *SafeHistogram, agg string, p float64) (float64, error) {
	switch agg {
	case threshold.AggAvg:
		return h.MeanMs(), nil
	case threshold.AggMin:
		return h.MinMs(), nil
	case threshold.AggMax:
		return h.MaxMs(), nil
	case threshold.AggMed:
		return h.QuantileMs(50), nil
	case threshold.AggPercentile:
		return h.QuantileMs(p), nil
	case threshold.AggCount:
		return float64(h.TotalCount()), nil
	}
	return 0, unsupported(metric, agg)
}

func unsupported(metric, agg string) error {
	return fmt.Errorf("%w: %s on %s", threshold.ErrUnsupportedAggregation, agg, metric)
}
