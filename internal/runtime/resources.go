package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	metricCPUSeconds  = "/cpu/classes/total:cpu-seconds"
	metricHeapObjects = "/memory/classes/heap/objects:bytes"
	metricGoroutines  = "/sched/goroutines:goroutines"
)

// ResourceUsage is the process footprint reported alongside pipeline stats.
// CPUPercent is averaged over all cores since the previous sample.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// resourceTracker reads runtime/metrics, which does not stop the world.
type resourceTracker struct {
	mu      sync.Mutex
	samples []metrics.Sample
	cores   float64

	prevCPU float64
	prevAt  time.Time
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.samples == nil {
		r.samples = []metrics.Sample{
			{Name: metricCPUSeconds},
			{Name: metricHeapObjects},
			{Name: metricGoroutines},
		}
		r.cores = float64(runtime.NumCPU())
	}
	metrics.Read(r.samples)

	var usage ResourceUsage
	now := time.Now()
	for _, s := range r.samples {
		switch {
		case s.Name == metricCPUSeconds && s.Value.Kind() == metrics.KindFloat64:
			cpu := s.Value.Float64()
			if elapsed := now.Sub(r.prevAt).Seconds(); !r.prevAt.IsZero() && elapsed > 0 {
				usage.CPUPercent = (cpu - r.prevCPU) / elapsed / r.cores * 100
			}
			r.prevCPU, r.prevAt = cpu, now
		case s.Name == metricHeapObjects && s.Value.Kind() == metrics.KindUint64:
			usage.MemoryBytes = s.Value.Uint64()
		case s.Name == metricGoroutines && s.Value.Kind() == metrics.KindUint64:
			usage.Goroutines = int(s.Value.Uint64())
		}
	}
	return usage
}
