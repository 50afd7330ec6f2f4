package delivery

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records per-attempt and per-delivery outcomes.
type Metrics struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	results         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer. A nil
// registerer uses the default Prometheus registry. Collectors that are already
// registered are reused.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restbridge",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "HTTP delivery attempts by outcome.",
		}, []string{"outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "restbridge",
			Subsystem: "delivery",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of single HTTP delivery attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restbridge",
			Subsystem: "delivery",
			Name:      "results_total",
			Help:      "Final delivery results after retries.",
		}, []string{"outcome"}),
	}

	var err error
	m.attempts, err = registerCounter(registerer, m.attempts)
	if err != nil {
		return nil, err
	}
	m.attemptDuration, err = registerHistogram(registerer, m.attemptDuration)
	if err != nil {
		return nil, err
	}
	m.results, err = registerCounter(registerer, m.results)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func registerCounter(r prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func registerHistogram(r prometheus.Registerer, h *prometheus.HistogramVec) (*prometheus.HistogramVec, error) {
	if err := r.Register(h); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return h, nil
}

func (m *Metrics) observeAttempt(kind OutcomeKind, d time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(kind.String()).Inc()
	m.attemptDuration.WithLabelValues(kind.String()).Observe(d.Seconds())
}

func (m *Metrics) observeResult(label string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(label).Inc()
}
