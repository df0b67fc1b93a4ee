// Package threshold parses and evaluates pass/fail rules over the metrics
// aggregated during a run. Rules use the familiar "<aggregation> <op>
// <value>" form, for example "rate<0.1" or "p(95)<2000".
package threshold

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Aggregation names.
const (
	AggRate       = "rate"
	AggCount      = "count"
	AggAvg        = "avg"
	AggMin        = "min"
	AggMax        = "max"
	AggMed        = "med"
	AggValue      = "value"
	AggPercentile = "p"
)

var (
	// ErrInvalidExpression is returned for expressions that do not parse.
	ErrInvalidExpression = errors.New("invalid threshold expression")
	// ErrUnknownMetric is returned by a Metrics source for metric names it
	// does not track.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrUnsupportedAggregation is returned by a Metrics source when the
	// metric type cannot produce the requested aggregation.
	ErrUnsupportedAggregation = errors.New("unsupported aggregation")
)

var exprPattern = regexp.MustCompile(`^\s*(rate|count|avg|min|max|med|value|p\(\s*(\d+(?:\.\d+)?)\s*\))\s*(<=|>=|==|!=|<|>)\s*(-?\d+(?:\.\d+)?)\s*$`)

// Threshold is one parsed rule bound to a metric.
type Threshold struct {
	Metric      string
	Source      string
	Aggregation string
	Percentile  float64
	Op          string
	Value       float64
}

// String renders the rule as "metric: expression".
func (t Threshold) String() string {
	return t.Metric + ": " + t.Source
}

// Parse parses a single expression for metric.
func Parse(metric, expr string) (Threshold, error) {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return Threshold{}, fmt.Errorf("%w: empty metric name", ErrInvalidExpression)
	}

	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("%w: %s: %q", ErrInvalidExpression, metric, expr)
	}

	t := Threshold{
		Metric:      metric,
		Source:      strings.TrimSpace(expr),
		Aggregation: m[1],
		Op:          m[3],
	}

	if m[2] != "" {
		p, err := strconv.ParseFloat(m[2], 64)
		if err != nil || p < 0 || p > 100 {
			return Threshold{}, fmt.Errorf("%w: %s: percentile out of range in %q", ErrInvalidExpression, metric, expr)
		}
		t.Aggregation = AggPercentile
		t.Percentile = p
	}

	v, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("%w: %s: %q: %w", ErrInvalidExpression, metric, expr, err)
	}
	t.Value = v

	return t, nil
}

// ParseSet parses a metric -> expressions map. The result is ordered by
// metric name, expressions keep their order within a metric.
func ParseSet(set map[string][]string) ([]Threshold, error) {
	metrics := make([]string, 0, len(set))
	for name := range set {
		metrics = append(metrics, name)
	}
	sort.Strings(metrics)

	var out []Threshold
	for _, name := range metrics {
		for _, expr := range set[name] {
			t, err := Parse(name, expr)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// Default is the threshold set applied when none is configured: fewer
// than 10% failed requests and a p95 request duration under 2s.
func Default() []Threshold {
	return []Threshold{
		{Metric: "http_req_duration", Source: "p(95)<2000", Aggregation: AggPercentile, Percentile: 95, Op: "<", Value: 2000},
		{Metric: "http_req_failed", Source: "rate<0.1", Aggregation: AggRate, Op: "<", Value: 0.1},
	}
}

func compare(actual float64, op string, want float64) bool {
	switch op {
	case "<":
		return actual < want
	case "<=":
		return actual <= want
	case ">":
		return actual > want
	case ">=":
		return actual >= want
	case "==":
		return actual == want
	case "!=":
		return actual != want
	default:
		return false
	}
}
