package deadletter

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks dead-letter statistics, both as Prometheus collectors and as
// an in-memory view served by the status API.
type Metrics struct {
	mu sync.RWMutex

	topicCounts map[string]*TopicMetrics

	messagesTotal   *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	ageSecondsHist  *prometheus.HistogramVec
	retryCountHist  *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
	now        func() time.Time
}

// TopicMetrics holds metrics for one dead-letter topic.
type TopicMetrics struct {
	MessagesRouted  uint64            `json:"messages_routed"`
	PublishFailures uint64            `json:"publish_failures"`
	ByErrorType     map[string]uint64 `json:"by_error_type"`
	OldestMessageAt time.Time         `json:"oldest_message_at,omitempty"`
	NewestMessageAt time.Time         `json:"newest_message_at,omitempty"`
	AvgRetryCount   float64           `json:"avg_retry_count"`
	LastUpdatedAt   time.Time         `json:"last_updated_at"`
}

func (t *TopicMetrics) clone() *TopicMetrics {
	c := *t
	c.ByErrorType = make(map[string]uint64, len(t.ByErrorType))
	for k, v := range t.ByErrorType {
		c.ByErrorType[k] = v
	}
	return &c
}

// Snapshot is a point-in-time view of dead-letter metrics.
type Snapshot struct {
	TotalMessages uint64                   `json:"total_messages"`
	TotalFailures uint64                   `json:"total_publish_failures"`
	TopicMetrics  map[string]*TopicMetrics `json:"topic_metrics"`
	CollectedAt   time.Time                `json:"collected_at"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "restbridge",
			Subsystem: "dlq",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "restbridge",
			Subsystem: "dlq",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewMetrics creates a dead-letter metrics collector. Call Register to expose
// the collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		topicCounts:     make(map[string]*TopicMetrics),
		registerer:      registerer,
		now:             time.Now,
		messagesTotal:   newCounterVec("messages_total", "Total number of messages routed to the dead letter topic", []string{"topic", "error_type"}),
		publishFailures: newCounterVec("publish_failures_total", "Dead letter publishes that failed or timed out", []string{"topic"}),
		ageSecondsHist:  newHistogramVec("message_age_seconds", "Time between receiving a message and dead-lettering it", []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300}, []string{"topic"}),
		retryCountHist:  newHistogramVec("retry_count", "Number of retries before a message was dead-lettered", []float64{0, 1, 2, 3, 5, 10}, []string{"topic"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.messagesTotal,
		m.publishFailures,
		m.ageSecondsHist,
		m.retryCountHist,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordRouted records a record published to topic.
func (m *Metrics) RecordRouted(topic, errorType string, retryCount int, age time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	metrics := m.getOrCreateTopicMetrics(topic)
	metrics.MessagesRouted++
	metrics.ByErrorType[errorType]++
	metrics.LastUpdatedAt = now
	if metrics.OldestMessageAt.IsZero() {
		metrics.OldestMessageAt = now
	}
	metrics.NewestMessageAt = now

	total := metrics.MessagesRouted
	metrics.AvgRetryCount = ((metrics.AvgRetryCount * float64(total-1)) + float64(retryCount)) / float64(total)

	m.messagesTotal.WithLabelValues(topic, errorType).Inc()
	m.retryCountHist.WithLabelValues(topic).Observe(float64(retryCount))
	if age > 0 {
		m.ageSecondsHist.WithLabelValues(topic).Observe(age.Seconds())
	}
}

// RecordPublishFailure records a dead-letter publish that did not succeed.
func (m *Metrics) RecordPublishFailure(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateTopicMetrics(topic)
	metrics.PublishFailures++
	metrics.LastUpdatedAt = m.now()

	m.publishFailures.WithLabelValues(topic).Inc()
}

// GetSnapshot returns a point-in-time snapshot of all dead-letter metrics.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := Snapshot{
		TopicMetrics: make(map[string]*TopicMetrics, len(m.topicCounts)),
		CollectedAt:  m.now(),
	}
	for topic, metrics := range m.topicCounts {
		snapshot.TopicMetrics[topic] = metrics.clone()
		snapshot.TotalMessages += metrics.MessagesRouted
		snapshot.TotalFailures += metrics.PublishFailures
	}
	return snapshot
}

// GetTopicMetrics returns a copy of the metrics for topic, or nil.
func (m *Metrics) GetTopicMetrics(topic string) *TopicMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if metrics, ok := m.topicCounts[topic]; ok {
		return metrics.clone()
	}
	return nil
}

func (m *Metrics) getOrCreateTopicMetrics(topic string) *TopicMetrics {
	if metrics, ok := m.topicCounts[topic]; ok {
		return metrics
	}
	metrics := &TopicMetrics{ByErrorType: make(map[string]uint64)}
	m.topicCounts[topic] = metrics
	return metrics
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topicCounts = make(map[string]*TopicMetrics)
	m.messagesTotal.Reset()
	m.publishFailures.Reset()
	m.ageSecondsHist.Reset()
	m.retryCountHist.Reset()
}
