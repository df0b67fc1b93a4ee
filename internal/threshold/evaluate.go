package threshold

import (
	"fmt"
	"strings"
)

// Metrics is the aggregated view thresholds are evaluated against.
type Metrics interface {
	Aggregate(metric, aggregation string, percentile float64) (float64, error)
}

// Result is the outcome of a single threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Passed    bool
	Err       error
}

// Results holds the outcome of a whole threshold set.
type Results struct {
	Items       []Result
	PassedCount int
	FailedCount int
	Passed      bool
}

// Evaluate checks every threshold against m. A threshold whose metric
// cannot be aggregated fails.
func Evaluate(thresholds []Threshold, m Metrics) Results {
	res := Results{Items: make([]Result, 0, len(thresholds))}

	for _, t := range thresholds {
		r := Result{Threshold: t}
		actual, err := m.Aggregate(t.Metric, t.Aggregation, t.Percentile)
		if err != nil {
			r.Err = err
		} else {
			r.Actual = actual
			r.Passed = compare(actual, t.Op, t.Value)
		}

		if r.Passed {
			res.PassedCount++
		} else {
			res.FailedCount++
		}
		res.Items = append(res.Items, r)
	}
	res.Passed = res.FailedCount == 0

	return res
}

// Failed returns the failed results.
func (r Results) Failed() []Result {
	var out []Result
	for _, item := range r.Items {
		if !item.Passed {
			out = append(out, item)
		}
	}
	return out
}

// ByMetric groups results by metric name, keeping their order.
func (r Results) ByMetric() map[string][]Result {
	out := make(map[string][]Result)
	for _, item := range r.Items {
		out[item.Threshold.Metric] = append(out[item.Threshold.Metric], item)
	}
	return out
}

// Summary is a one line verdict, e.g. "thresholds: 1/2 passed (1 FAILED)".
func (r Results) Summary() string {
	total := len(r.Items)
	if total == 0 {
		return "no thresholds configured"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "thresholds: %d/%d passed", r.PassedCount, total)
	if r.FailedCount > 0 {
		fmt.Fprintf(&sb, " (%d FAILED)", r.FailedCount)
	}
	return sb.String()
}
