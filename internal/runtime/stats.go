package runtime

import (
	"fmt"
	"sync"
	"time"

	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
	"github.com/drblury/restbridge/internal/runtime/jsoncodec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// PipelineStats aggregates pipeline outcomes for the status API.
type PipelineStats struct {
	mu sync.Mutex

	inputTopic string
	deadLetter string
	downstream string

	MessagesProcessed      uint64    `json:"messages_processed"`
	MessagesDelivered      uint64    `json:"messages_delivered"`
	MessagesInvalid        uint64    `json:"messages_invalid"`
	MessagesDeliveryFailed uint64    `json:"messages_delivery_failed"`
	MessagesAbandoned      uint64    `json:"messages_abandoned"`
	DeadLetterFailures     uint64    `json:"dead_letter_failures"`
	CommitFailures         uint64    `json:"commit_failures"`
	TotalProcessingTime    int64     `json:"total_processing_time_ns"`
	LastProcessedAt        time.Time `json:"last_processed_at"`

	Latency      LatencyMetrics     `json:"latency"`
	Throughput   ThroughputMetrics  `json:"throughput"`
	Errors       ErrorBreakdown     `json:"errors"`
	Resource     ResourceUsage      `json:"resource"`
	Backlog      BacklogMetrics     `json:"backlog"`
	Dependencies []DependencyHealth `json:"dependencies"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
	resourceSampler  *resourceTracker
	dependencyIndex  map[string]int
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

// ErrorBreakdown counts dead-lettered messages by failure kind.
type ErrorBreakdown struct {
	SchemaViolation     uint64 `json:"schema_violation"`
	ConstraintViolation uint64 `json:"constraint_violation"`
	TerminalDelivery    uint64 `json:"terminal_delivery"`
	Unclassified        uint64 `json:"unclassified"`
	LastError           string `json:"last_error,omitempty"`
}

type BacklogMetrics struct {
	InFlight    uint64 `json:"in_flight"`
	MaxInFlight uint64 `json:"max_in_flight"`
}

type DependencyHealth struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Details     string    `json:"details,omitempty"`
}

const (
	DependencyStatusUnknown  = "unknown"
	DependencyStatusHealthy  = "healthy"
	DependencyStatusDegraded = "degraded"
)

func newPipelineStats(inputTopic, deadLetterTopic, downstream string, sampler *resourceTracker) *PipelineStats {
	stats := &PipelineStats{
		inputTopic:       inputTopic,
		deadLetter:       deadLetterTopic,
		downstream:       downstream,
		resourceSampler:  sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
		dependencyIndex:  make(map[string]int),
	}

	if inputTopic != "" {
		stats.addDependency(fmt.Sprintf("subscriber:%s", inputTopic))
	}
	if downstream != "" {
		stats.addDependency(fmt.Sprintf("downstream:%s", downstream))
	}
	if deadLetterTopic != "" {
		stats.addDependency(fmt.Sprintf("dead_letter:%s", deadLetterTopic))
	}

	return stats
}

func (h *PipelineStats) addDependency(name string) {
	h.Dependencies = append(h.Dependencies, DependencyHealth{
		Name:   name,
		Status: DependencyStatusUnknown,
	})
	if h.dependencyIndex == nil {
		h.dependencyIndex = make(map[string]int)
	}
	h.dependencyIndex[name] = len(h.Dependencies) - 1
}

func (h *PipelineStats) onMessageStart() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Backlog.InFlight++
	if h.Backlog.InFlight > h.Backlog.MaxInFlight {
		h.Backlog.MaxInFlight = h.Backlog.InFlight
	}
}

func (h *PipelineStats) onMessageFinish(report Report) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Backlog.InFlight > 0 {
		h.Backlog.InFlight--
	}

	h.MessagesProcessed++
	switch report.Outcome {
	case OutcomeDelivered:
		h.MessagesDelivered++
	case OutcomeInvalid:
		h.MessagesInvalid++
	case OutcomeDeliveryFailed:
		h.MessagesDeliveryFailed++
	case OutcomeAbandoned:
		h.MessagesAbandoned++
	}
	if report.DeadLetterErr != nil {
		h.DeadLetterFailures++
	}
	if report.CommitErr != nil {
		h.CommitFailures++
	}

	duration := report.Duration
	h.TotalProcessingTime += int64(duration)
	h.LastProcessedAt = time.Now().UTC()

	if h.latencyWindow != nil {
		h.latencyWindow.Add(duration)
		snapshot := h.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		if h.MessagesProcessed > 0 {
			snapshot.AverageNs = h.TotalProcessingTime / int64(h.MessagesProcessed)
		}
		h.Latency = snapshot
	}

	if h.throughputWindow != nil {
		snapshot := h.throughputWindow.AddAndSnapshot(time.Now())
		h.Throughput.CurrentRPS = snapshot.CurrentRPS
		h.Throughput.WindowSeconds = snapshot.WindowSeconds
		h.Throughput.MessagesInWindow = uint64(snapshot.Count)
	}
	h.Throughput.TotalMessages = h.MessagesProcessed

	h.Errors.Record(report.Cause)

	if h.resourceSampler != nil {
		h.Resource = h.resourceSampler.Snapshot()
	}

	h.setDependencyStatusLocked(fmt.Sprintf("subscriber:%s", h.inputTopic), DependencyStatusHealthy, "")
	if h.downstream != "" && report.Attempts > 0 {
		status, details := DependencyStatusHealthy, ""
		if report.Outcome == OutcomeDeliveryFailed {
			status = DependencyStatusDegraded
			details = errorText(report.Cause)
		}
		h.setDependencyStatusLocked(fmt.Sprintf("downstream:%s", h.downstream), status, details)
	}
	if h.deadLetter != "" && report.DeadLetterAttempted {
		status, details := DependencyStatusHealthy, ""
		if report.DeadLetterErr != nil {
			status = DependencyStatusDegraded
			details = report.DeadLetterErr.Error()
		}
		h.setDependencyStatusLocked(fmt.Sprintf("dead_letter:%s", h.deadLetter), status, details)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (h *PipelineStats) setDependencyStatusLocked(name, status, details string) {
	if name == "" {
		return
	}
	idx, ok := h.dependencyIndex[name]
	if !ok {
		h.Dependencies = append(h.Dependencies, DependencyHealth{Name: name})
		idx = len(h.Dependencies) - 1
		h.dependencyIndex[name] = idx
	}
	dep := h.Dependencies[idx]
	dep.Status = status
	dep.Details = details
	dep.LastChecked = time.Now().UTC()
	h.Dependencies[idx] = dep
}

func (h *PipelineStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias PipelineStats
	return jsoncodec.Marshal((*Alias)(h))
}

// Record counts err under its failure kind. A nil err is ignored.
func (e *ErrorBreakdown) Record(err error) {
	if err == nil {
		return
	}
	switch errspkg.KindOf(err) {
	case errspkg.KindSchemaViolation:
		e.SchemaViolation++
	case errspkg.KindConstraintViolation:
		e.ConstraintViolation++
	case errspkg.KindTerminalDelivery, errspkg.KindRetryableDelivery:
		e.TerminalDelivery++
	default:
		e.Unclassified++
	}
	e.LastError = err.Error()
}
