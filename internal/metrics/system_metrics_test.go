package metrics

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSystemMetrics(t *testing.T) {
	sm := NewSystemMetrics()

	require.NotNil(t, sm)
	assert.False(t, sm.startTime.IsZero())
	assert.GreaterOrEqual(t, sm.GetUptime(), int64(0))
}

func TestGetMemoryUsage(t *testing.T) {
	sm := NewSystemMetrics()

	stats, err := sm.GetMemoryUsage()
	require.NoError(t, err)
	assert.Greater(t, stats.TotalBytes, uint64(0))
	assert.GreaterOrEqual(t, stats.UsedPercent, 0.0)
	assert.LessOrEqual(t, stats.UsedPercent, 100.0)
}

func TestGetDiskUsage(t *testing.T) {
	sm := NewSystemMetrics()
	dir := t.TempDir()

	stats, err := sm.GetDiskUsage(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, stats.Path)
	assert.Greater(t, stats.TotalBytes, uint64(0))
	assert.LessOrEqual(t, stats.UsedBytes, stats.TotalBytes)
}

func TestGetRequestStats_NoRequests(t *testing.T) {
	sm := NewSystemMetrics()

	stats := sm.GetRequestStats()
	assert.Equal(t, uint64(0), stats.TotalRequests)
	assert.Equal(t, uint64(0), stats.TotalErrors)
	assert.Equal(t, 0.0, stats.AverageLatency)
	assert.Greater(t, stats.GoRoutines, 0)
}

func TestRecordRequest(t *testing.T) {
	sm := NewSystemMetrics()

	sm.RecordRequest(100, false)
	sm.RecordRequest(200, true)
	sm.RecordRequest(300, false)
	sm.RecordRequest(400, true)

	stats := sm.GetRequestStats()
	assert.Equal(t, uint64(4), stats.TotalRequests)
	assert.Equal(t, uint64(2), stats.TotalErrors)
	assert.Equal(t, 250.0, stats.AverageLatency)
}

func TestRecordRequest_ConcurrentSafety(t *testing.T) {
	sm := NewSystemMetrics()
	const numGoroutines = 10
	const requestsPerGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < requestsPerGoroutine; j++ {
				sm.RecordRequest(uint64(j+1), j%2 == 0)
			}
		}()
	}
	wg.Wait()

	expectedRequests := uint64(numGoroutines * requestsPerGoroutine)
	assert.Equal(t, expectedRequests, sm.requestCount.Load())
	assert.Equal(t, expectedRequests/2, sm.errorCount.Load())
	// each goroutine records 1..100
	assert.Equal(t, uint64(numGoroutines*5050), sm.totalLatencyMs.Load())
}
