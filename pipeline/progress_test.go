package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu      sync.Mutex
	updates []int
	err     error
}

func (r *recordingReporter) UpdateProgress(_ context.Context, _ string, processed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.updates = append(r.updates, processed)
	return nil
}

func TestBatchSize(t *testing.T) {
	tests := []struct {
		total, want int
	}{
		{400, 100},
		{1000, 150},
		{10000, 150},
		{100, 25},
		{10, 25},
		{0, 25},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, batchSize(tt.total), "total %d", tt.total)
	}
}

func TestProgressTrackerThrottles(t *testing.T) {
	reporter := &recordingReporter{}
	tracker := newProgressTracker(reporter, "t1", 400, 0, testLogger())

	for i := 1; i <= 400; i++ {
		tracker.observe(context.Background(), i)
	}

	assert.Equal(t, []int{100, 200, 300, 400}, reporter.updates)
}

func TestProgressTrackerFinalUpdateBelowBatch(t *testing.T) {
	reporter := &recordingReporter{}
	tracker := newProgressTracker(reporter, "t1", 7, 0, testLogger())

	for i := 1; i <= 7; i++ {
		tracker.observe(context.Background(), i)
	}

	// Total below the batch floor: only the completion update goes out.
	assert.Equal(t, []int{7}, reporter.updates)
}

func TestProgressTrackerBatchOverride(t *testing.T) {
	reporter := &recordingReporter{}
	tracker := newProgressTracker(reporter, "t1", 10, 2, testLogger())

	for i := 1; i <= 10; i++ {
		tracker.observe(context.Background(), i)
	}

	assert.Equal(t, []int{2, 4, 6, 8, 10}, reporter.updates)
}

// slowReporter widens the window between deciding to send and the send
// landing, the way a real HTTP round trip does.
type slowReporter struct {
	recordingReporter
}

func (r *slowReporter) UpdateProgress(ctx context.Context, taskID string, processed int) error {
	time.Sleep(time.Duration(processed%7) * time.Millisecond)
	return r.recordingReporter.UpdateProgress(ctx, taskID, processed)
}

func TestProgressTrackerConcurrentUpdatesStayMonotonic(t *testing.T) {
	reporter := &slowReporter{}
	tracker := newProgressTracker(reporter, "t1", 400, 0, testLogger())

	var wg sync.WaitGroup
	for i := 1; i <= 400; i++ {
		wg.Add(1)
		go func(completed int) {
			defer wg.Done()
			tracker.observe(context.Background(), completed)
		}(i)
	}
	wg.Wait()

	// Whatever subset of batch boundaries got through, the sequence the
	// registry observed must never decrease.
	require.NotEmpty(t, reporter.updates)
	for i := 1; i < len(reporter.updates); i++ {
		assert.Greater(t, reporter.updates[i], reporter.updates[i-1],
			"registry observed a regressing progress update")
	}
	assert.Equal(t, 400, reporter.updates[len(reporter.updates)-1])
}

func TestProgressTrackerSuppressesAfterFailure(t *testing.T) {
	reporter := &recordingReporter{err: fmt.Errorf("registry down")}
	tracker := newProgressTracker(reporter, "t1", 100, 25, testLogger())

	for i := 1; i <= 100; i++ {
		tracker.observe(context.Background(), i)
	}

	assert.Empty(t, reporter.updates)
	assert.True(t, tracker.suppressed)
}
