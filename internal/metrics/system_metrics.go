package metrics

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetricsTracker tracks uptime, host resources and request counts
type SystemMetricsTracker struct {
	startTime      time.Time
	requestCount   atomic.Uint64
	errorCount     atomic.Uint64
	totalLatencyMs atomic.Uint64
}

// NewSystemMetrics creates a new SystemMetricsTracker instance
func NewSystemMetrics() *SystemMetricsTracker {
	return &SystemMetricsTracker{
		startTime: time.Now(),
	}
}

// GetUptime returns the gateway uptime in seconds
func (sm *SystemMetricsTracker) GetUptime() int64 {
	return int64(time.Since(sm.startTime).Seconds())
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	UsedPercent float64 `json:"used_percent"`
	UsedBytes   uint64  `json:"used_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
}

// GetMemoryUsage returns host memory usage
func (sm *SystemMetricsTracker) GetMemoryUsage() (*MemoryStats, error) {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	return &MemoryStats{
		UsedPercent: memInfo.UsedPercent,
		UsedBytes:   memInfo.Used,
		TotalBytes:  memInfo.Total,
		FreeBytes:   memInfo.Free,
	}, nil
}

// DiskStats represents disk usage statistics
type DiskStats struct {
	Path        string  `json:"path"`
	UsedPercent float64 `json:"used_percent"`
	UsedBytes   uint64  `json:"used_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
}

// GetDiskUsage returns usage of the volume holding path
func (sm *SystemMetricsTracker) GetDiskUsage(ctx context.Context, path string) (*DiskStats, error) {
	diskInfo, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return nil, err
	}

	return &DiskStats{
		Path:        path,
		UsedPercent: diskInfo.UsedPercent,
		UsedBytes:   diskInfo.Used,
		TotalBytes:  diskInfo.Total,
		FreeBytes:   diskInfo.Free,
	}, nil
}

// RequestStats represents request tracking statistics
type RequestStats struct {
	TotalRequests  uint64  `json:"total_requests"`
	TotalErrors    uint64  `json:"total_errors"`
	AverageLatency float64 `json:"average_latency_ms"`
	RequestsPerSec float64 `json:"requests_per_sec"`
	GoRoutines     int     `json:"goroutines"`
}

// GetRequestStats returns request tracking statistics
func (sm *SystemMetricsTracker) GetRequestStats() *RequestStats {
	totalRequests := sm.requestCount.Load()
	totalErrors := sm.errorCount.Load()
	totalLatency := sm.totalLatencyMs.Load()

	var avgLatency float64
	if totalRequests > 0 {
		avgLatency = float64(totalLatency) / float64(totalRequests)
	}

	uptime := time.Since(sm.startTime).Seconds()
	var reqPerSec float64
	if uptime > 0 {
		reqPerSec = float64(totalRequests) / uptime
	}

	return &RequestStats{
		TotalRequests:  totalRequests,
		TotalErrors:    totalErrors,
		AverageLatency: avgLatency,
		RequestsPerSec: reqPerSec,
		GoRoutines:     runtime.NumGoroutine(),
	}
}

// RecordRequest records a request with its latency
func (sm *SystemMetricsTracker) RecordRequest(latencyMs uint64, isError bool) {
	sm.requestCount.Add(1)
	sm.totalLatencyMs.Add(latencyMs)
	if isError {
		sm.errorCount.Add(1)
	}
}
