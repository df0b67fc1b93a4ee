// Package metrics exports live run metrics for Prometheus to scrape.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "orderload"

// Exporter mirrors every recorded sample into Prometheus collectors and
// serves them over HTTP.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Exporter struct {
	mu sync.Mutex

	registry *prometheus.Registry
	log      *zap.Logger

	httpReqs        *prometheus.CounterVec
	httpReqDuration prometheus.Histogram
	dataReceived    prometheus.Counter
	checks          *prometheus.CounterVec
	iterations      prometheus.Counter
	iterationTime   prometheus.Histogram
	vus             prometheus.Gauge

	server *http.Server
	ln     net.Listener
}

// NewExporter creates an exporter with its own registry.
func NewExporter(log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}

	e := &Exporter{
		registry: prometheus.NewRegistry(),
		log:      log.Named("metrics"),
		httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_reqs_total",
			Help:      "HTTP requests sent, by status code and whether they counted as failed.",
		}, []string{"status", "failed"}),
		httpReqDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_req_duration_seconds",
			Help:      "Duration of HTTP requests including the response body.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5, 10},
		}),
		dataReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_received_bytes_total",
			Help:      "Response body bytes received.",
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Check outcomes by check name and result.",
		}, []string{"check", "result"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed virtual user iterations.",
		}),
		iterationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Duration of a full iteration including the pause.",
			Buckets:   []float64{.1, .25, .5, .75, 1, 2.5, 5, 10},
		}),
		vus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vus",
			Help:      "Active virtual users.",
		}),
	}

	e.registry.MustRegister(
		e.httpReqs,
		e.httpReqDuration,
		e.dataReceived,
		e.checks,
		e.iterations,
		e.iterationTime,
		e.vus,
	)
	return e
}

// ObserveRequest records one HTTP request.
func (e *Exporter) ObserveRequest(status int, failed bool, d time.Duration, bytes int64) {
	e.httpReqs.WithLabelValues(strconv.Itoa(status), strconv.FormatBool(failed)).Inc()
	e.httpReqDuration.Observe(d.Seconds())
	if bytes > 0 {
		e.dataReceived.Add(float64(bytes))
	}
}

// ObserveCheck records one check outcome.
func (e *Exporter) ObserveCheck(name string, passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	e.checks.WithLabelValues(name, result).Inc()
}

// ObserveIteration records one completed iteration.
func (e *Exporter) ObserveIteration(d time.Duration) {
	e.iterations.Inc()
	e.iterationTime.Observe(d.Seconds())
}

// AddVUs moves the active virtual user gauge.
func (e *Exporter) AddVUs(delta int64) {
	e.vus.Add(float64(delta))
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Start serves /metrics on addr until Stop is called.
func (e *Exporter) Start(addr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("starting metrics exporter: %w", err)
	}
	e.ln = ln

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("metrics server stopped", zap.Error(err))
		}
	}(e.server)

	e.log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the address the exporter listens on, empty before Start.
func (e *Exporter) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return ""
	}
	return e.ln.Addr().String()
}

// Stop shuts the HTTP server down.
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server == nil {
		return nil
	}
	err := e.server.Shutdown(ctx)
	e.server = nil
	e.ln = nil
	return err
}
