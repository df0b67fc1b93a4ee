package runner

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"orderload/internal/threshold"
)

// IterationFunc is the body a virtual user runs over and over. The
// context carries the virtual user id and is cancelled on interrupt or
// once the graceful stop window after the run duration has passed.
type IterationFunc func(ctx context.Context)

// Harness schedules virtual users, collects checks and judges the run.
type Harness interface {
	RunVirtualUsers(ctx context.Context, count int, duration time.Duration, fn IterationFunc)
	RecordCheck(name string, passed bool)
	EvaluateThresholds(thresholds []threshold.Threshold) bool
}

// Observer receives every sample as it is recorded.
type Observer interface {
	ObserveRequest(status int, failed bool, d time.Duration, bytes int64)
	ObserveCheck(name string, passed bool)
	ObserveIteration(d time.Duration)
	AddVUs(delta int64)
}

// Options tune a Runner. Zero values fall back to defaults.
type Options struct {
	Timeout      time.Duration
	GracefulStop time.Duration

	// ExpectedStatus reports whether a response status counts as a
	// successful request. Defaults to 200-399.
	ExpectedStatus func(status int) bool

	Observer  Observer
	Logger    *zap.Logger
	Transport http.RoundTripper
}

// Result is the record kept for every request.
type Result struct {
	TimeStamp time.Time     `json:"timestamp"`
	Latency   time.Duration `json:"latency_ns"`
	Method    string        `json:"method"`
	URL       string        `json:"url"`
	Status    int           `json:"status"`
	Failed    bool          `json:"failed"`
	Bytes     int64         `json:"bytes"`
	VU        int           `json:"vu"`
	Error     string        `json:"error,omitempty"`
}

// StatsSnapshot is sent over the channel
type StatsSnapshot struct {
	Elapsed    time.Duration
	Requests   uint64
	Failed     uint64
	Bytes      uint64
	Iterations uint64
	Inflight   int64
	VUs        int64

	FailureRate float64

	// Pre-calculated percentiles for the UI (cheap copy)
	P50Ms float64
	P90Ms float64
	P95Ms float64
	P99Ms float64
	MaxMs float64
}

// StatsUpdateChan is the channel type
type StatsUpdateChan chan StatsSnapshot

type vuKey struct{}

// WithVU returns a context tagged with a virtual user id.
func WithVU(ctx context.Context, vu int) context.Context {
	return context.WithValue(ctx, vuKey{}, vu)
}

// VUFromContext returns the virtual user id, or 0 outside a virtual user.
func VUFromContext(ctx context.Context) int {
	vu, _ := ctx.Value(vuKey{}).(int)
	return vu
}

// DefaultExpectedStatus accepts 2xx and 3xx responses.
func DefaultExpectedStatus(status int) bool {
	return status >= 200 && status < 400
}
