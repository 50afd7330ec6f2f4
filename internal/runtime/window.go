package runtime

import (
	"slices"
	"time"
)

// latencyWindow keeps the most recent processing durations in a ring.
type latencyWindow struct {
	ring []time.Duration
	pos  int
	full bool
	last time.Duration
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{ring: make([]time.Duration, size)}
}

func (w *latencyWindow) Add(d time.Duration) {
	if w == nil || len(w.ring) == 0 {
		return
	}
	w.last = d
	w.ring[w.pos] = d
	w.pos++
	if w.pos == len(w.ring) {
		w.pos, w.full = 0, true
	}
}

func (w *latencyWindow) held() []time.Duration {
	if w.full {
		return slices.Clone(w.ring)
	}
	return slices.Clone(w.ring[:w.pos])
}

func (w *latencyWindow) Snapshot() LatencyMetrics {
	if w == nil {
		return LatencyMetrics{}
	}
	out := LatencyMetrics{LastNs: int64(w.last)}

	values := w.held()
	if len(values) == 0 {
		return out
	}
	slices.Sort(values)

	var total time.Duration
	for _, v := range values {
		total += v
	}
	out.SampleSize = len(values)
	out.AverageNs = int64(total) / int64(len(values))
	out.P50Ns = int64(quantile(values, 0.50))
	out.P95Ns = int64(quantile(values, 0.95))
	out.P99Ns = int64(quantile(values, 0.99))
	return out
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []time.Duration, q float64) time.Duration {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	rank := q * float64(n-1)
	lo := int(rank)
	if lo+1 >= n {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + time.Duration(frac*float64(sorted[lo+1]-sorted[lo]))
}

// throughputWindow counts completions within a sliding horizon.
type throughputWindow struct {
	horizon time.Duration
	stamps  []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon}
}

// AddAndSnapshot records a completion at now, drops completions older than
// the horizon and reports the rate over what is left.
func (w *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if w == nil {
		return throughputSnapshot{}
	}
	w.stamps = append(w.stamps, now)

	cutoff := now.Add(-w.horizon)
	if first := slices.IndexFunc(w.stamps, func(ts time.Time) bool { return !ts.Before(cutoff) }); first > 0 {
		w.stamps = slices.Delete(w.stamps, 0, first)
	}

	span := max(now.Sub(w.stamps[0]), time.Nanosecond)
	return throughputSnapshot{
		Count:         len(w.stamps),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(w.stamps)) / span.Seconds(),
	}
}
