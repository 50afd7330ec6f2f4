package runtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
)

func TestPipelineStatsCountsOutcomes(t *testing.T) {
	stats := newPipelineStats("orders", "orders.dlq", "http://api.local/v1", nil)

	reports := []Report{
		{Outcome: OutcomeDelivered, Attempts: 1, Duration: 10 * time.Millisecond},
		{Outcome: OutcomeInvalid, Cause: errspkg.Newf(errspkg.KindSchemaViolation, "bad"), DeadLetterAttempted: true, Duration: 2 * time.Millisecond},
		{Outcome: OutcomeInvalid, Cause: errspkg.Newf(errspkg.KindConstraintViolation, "bad"), DeadLetterAttempted: true},
		{
			Outcome:             OutcomeDeliveryFailed,
			Attempts:            3,
			Cause:               errspkg.Newf(errspkg.KindTerminalDelivery, "HTTP 503"),
			DeadLetterAttempted: true,
			DeadLetterErr:       errors.New("broker down"),
			Duration:            30 * time.Millisecond,
		},
		{Outcome: OutcomeAbandoned, Attempts: 1},
		{Outcome: OutcomeDelivered, Attempts: 1, CommitErr: errors.New("rebalanced")},
	}
	for _, r := range reports {
		stats.onMessageStart()
		stats.onMessageFinish(r)
	}

	assert.EqualValues(t, 6, stats.MessagesProcessed)
	assert.EqualValues(t, 2, stats.MessagesDelivered)
	assert.EqualValues(t, 2, stats.MessagesInvalid)
	assert.EqualValues(t, 1, stats.MessagesDeliveryFailed)
	assert.EqualValues(t, 1, stats.MessagesAbandoned)
	assert.EqualValues(t, 1, stats.DeadLetterFailures)
	assert.EqualValues(t, 1, stats.CommitFailures)

	assert.EqualValues(t, 1, stats.Errors.SchemaViolation)
	assert.EqualValues(t, 1, stats.Errors.ConstraintViolation)
	assert.EqualValues(t, 1, stats.Errors.TerminalDelivery)
	assert.Equal(t, "HTTP 503", stats.Errors.LastError)

	assert.EqualValues(t, 0, stats.Backlog.InFlight)
	assert.EqualValues(t, 1, stats.Backlog.MaxInFlight)
	assert.Equal(t, 6, stats.Latency.SampleSize)
	assert.EqualValues(t, 6, stats.Throughput.TotalMessages)
}

func TestPipelineStatsDependencyHealth(t *testing.T) {
	stats := newPipelineStats("orders", "orders.dlq", "http://api.local/v1", nil)
	require.Len(t, stats.Dependencies, 3)
	for _, dep := range stats.Dependencies {
		assert.Equal(t, DependencyStatusUnknown, dep.Status)
	}

	stats.onMessageStart()
	stats.onMessageFinish(Report{
		Outcome:             OutcomeDeliveryFailed,
		Attempts:            3,
		Cause:               errors.New("HTTP 503"),
		DeadLetterAttempted: true,
		DeadLetterErr:       errors.New("broker down"),
	})

	byName := map[string]DependencyHealth{}
	for _, dep := range stats.Dependencies {
		byName[dep.Name] = dep
	}
	assert.Equal(t, DependencyStatusHealthy, byName["subscriber:orders"].Status)
	assert.Equal(t, DependencyStatusDegraded, byName["downstream:http://api.local/v1"].Status)
	assert.Equal(t, "HTTP 503", byName["downstream:http://api.local/v1"].Details)
	assert.Equal(t, DependencyStatusDegraded, byName["dead_letter:orders.dlq"].Status)
	assert.Equal(t, "broker down", byName["dead_letter:orders.dlq"].Details)

	stats.onMessageStart()
	stats.onMessageFinish(Report{Outcome: OutcomeDelivered, Attempts: 1})

	for _, dep := range stats.Dependencies {
		if dep.Name == "downstream:http://api.local/v1" {
			assert.Equal(t, DependencyStatusHealthy, dep.Status)
			assert.Empty(t, dep.Details)
		}
	}
}

func TestPipelineStatsMarshalJSON(t *testing.T) {
	stats := newPipelineStats("orders", "orders.dlq", "", newResourceTracker())
	stats.onMessageStart()
	stats.onMessageFinish(Report{Outcome: OutcomeDelivered, Attempts: 1, Duration: time.Millisecond})

	data, err := json.Marshal(stats)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 1, decoded["messages_processed"])
	assert.EqualValues(t, 1, decoded["messages_delivered"])
	assert.Contains(t, decoded, "latency")
	assert.Contains(t, decoded, "resource")
	assert.NotContains(t, decoded, "inputTopic")
	deps, ok := decoded["dependencies"].([]any)
	require.True(t, ok)
	assert.Len(t, deps, 2)
}

func TestErrorBreakdownIgnoresNil(t *testing.T) {
	var b ErrorBreakdown
	b.Record(nil)
	b.Record(errors.New("boom"))

	assert.EqualValues(t, 1, b.Unclassified)
	assert.Equal(t, "boom", b.LastError)
}

func TestLatencyWindowPercentiles(t *testing.T) {
	lw := newLatencyWindow(4)
	for _, ms := range []int{40, 10, 30, 20, 50} {
		lw.Add(time.Duration(ms) * time.Millisecond)
	}

	snap := lw.Snapshot()

	assert.Equal(t, 4, snap.SampleSize)
	assert.Equal(t, int64(50*time.Millisecond), snap.LastNs)
	assert.Equal(t, int64(27500*time.Microsecond), snap.AverageNs)
	assert.Equal(t, 50*time.Millisecond, quantile([]time.Duration{10 * time.Millisecond, 50 * time.Millisecond}, 1))
	assert.Equal(t, 30*time.Millisecond, quantile([]time.Duration{10 * time.Millisecond, 50 * time.Millisecond}, 0.5))
}

func TestThroughputWindowDropsOldSamples(t *testing.T) {
	tw := newThroughputWindow(time.Second)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tw.AddAndSnapshot(base)
	tw.AddAndSnapshot(base.Add(500 * time.Millisecond))
	snap := tw.AddAndSnapshot(base.Add(1200 * time.Millisecond))

	assert.Equal(t, 2, snap.Count)
	assert.InDelta(t, 0.7, snap.WindowSeconds, 0.0001)
}
