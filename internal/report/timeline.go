package report

import (
	"encoding/json"
	"os"
	"sort"

	"orderload/internal/runner"
)

// TimeBucket counts the requests issued within one wall clock second.
type TimeBucket struct {
	Timestamp int64 `json:"timestamp"`
	Requests  int   `json:"requests"`
	Failed    int   `json:"failed"`
}

// Timeline buckets results per second, oldest first.
func Timeline(results []runner.Result) []TimeBucket {
	buckets := make(map[int64]*TimeBucket)
	for _, res := range results {
		ts := res.TimeStamp.Unix()
		b, ok := buckets[ts]
		if !ok {
			b = &TimeBucket{Timestamp: ts}
			buckets[ts] = b
		}
		b.Requests++
		if res.Failed {
			b.Failed++
		}
	}

	timeline := make([]TimeBucket, 0, len(buckets))
	for _, b := range buckets {
		timeline = append(timeline, *b)
	}
	sort.Slice(timeline, func(i, j int) bool {
		return timeline[i].Timestamp < timeline[j].Timestamp
	})
	return timeline
}

// ExportTimeline writes Timeline(results) as indented JSON.
func ExportTimeline(results []runner.Result, filename string) error {
	data, err := json.MarshalIndent(Timeline(results), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
