// Package perf summarizes the timing of a completed run.
package perf

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/UynajGI/yuusim/internal/results"
	"github.com/UynajGI/yuusim/internal/task"
)

// ErrNotReady is results.ErrNotReady; Analyze refuses incomplete runs.
var ErrNotReady = results.ErrNotReady

// Stats describes the distribution of per-unit durations.
type Stats struct {
	Min  time.Duration `json:"min"`
	Max  time.Duration `json:"max"`
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P90  time.Duration `json:"p90"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
}

type Report struct {
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Cancelled  int           `json:"cancelled"`
	Wall       time.Duration `json:"wall"`
	Durations  Stats         `json:"durations"`
	Throughput float64       `json:"throughput"` // units per second
}

// Analyze builds a report from a complete store.
func Analyze(store *results.Store) (Report, error) {
	units, err := store.Snapshot()
	if err != nil {
		return Report{}, err
	}
	return FromUnits(units), nil
}

// FromUnits builds a report from already-terminal units, such as those read
// back from a persisted snapshot.
func FromUnits(units []task.Unit) Report {
	r := Report{Total: len(units)}

	var (
		durations []time.Duration
		first     time.Time
		last      time.Time
	)
	for _, u := range units {
		switch u.Status {
		case task.Succeeded:
			r.Succeeded++
		case task.Failed:
			r.Failed++
		case task.Cancelled:
			r.Cancelled++
		}

		if !u.Ran() || u.End.IsZero() {
			continue
		}
		durations = append(durations, u.Duration())
		if first.IsZero() || u.Start.Before(first) {
			first = u.Start
		}
		if u.End.After(last) {
			last = u.End
		}
	}

	if len(durations) == 0 {
		return r
	}

	r.Wall = last.Sub(first)
	r.Durations = Summarize(durations)
	if r.Wall > 0 {
		r.Throughput = float64(len(durations)) / r.Wall.Seconds()
	}
	return r
}

// Summarize computes min, max, mean and nearest-rank percentiles.
func Summarize(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return Stats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: sum / time.Duration(len(sorted)),
		P50:  Percentile(sorted, 50),
		P90:  Percentile(sorted, 90),
		P95:  Percentile(sorted, 95),
		P99:  Percentile(sorted, 99),
	}
}

// Percentile returns the nearest-rank percentile of an ascending slice:
// the value at rank ceil(p/100 * N), clamped to [1, N].
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(n) / 100))
	rank = min(max(rank, 1), n)
	return sorted[rank-1]
}

func (r Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "tasks: %d (succeeded %d, failed %d, cancelled %d)\n", r.Total, r.Succeeded, r.Failed, r.Cancelled)
	fmt.Fprintf(&sb, "wall: %v\n", r.Wall)
	fmt.Fprintf(&sb, "throughput: %.2f tasks/s\n", r.Throughput)
	fmt.Fprintf(&sb, "duration: min %v, mean %v, max %v\n", r.Durations.Min, r.Durations.Mean, r.Durations.Max)
	fmt.Fprintf(&sb, "percentiles: p50 %v, p90 %v, p95 %v, p99 %v", r.Durations.P50, r.Durations.P90, r.Durations.P95, r.Durations.P99)
	return sb.String()
}
