package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResourceTrackerSnapshot(t *testing.T) {
	tracker := newResourceTracker()

	first := tracker.Snapshot()
	assert.Zero(t, first.CPUPercent, "no baseline yet")
	assert.NotZero(t, first.MemoryBytes)
	assert.NotZero(t, first.Goroutines)

	time.Sleep(10 * time.Millisecond)

	second := tracker.Snapshot()
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)
}

func TestResourceTrackerNilAndEmpty(t *testing.T) {
	var tracker *resourceTracker
	assert.Equal(t, ResourceUsage{}, tracker.Snapshot())

	empty := &resourceTracker{}
	assert.NotZero(t, empty.Snapshot().MemoryBytes)
}
