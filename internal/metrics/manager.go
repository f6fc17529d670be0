package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/blobgate/blobgate/internal/config"
)

// Manager defines the interface for metrics management
type Manager interface {
	// HTTP Metrics
	RecordHTTPRequest(method, route, status string, duration time.Duration)
	RecordHTTPRequestSize(method, route string, size int64)

	// Storage Metrics
	RecordStorageOperation(service, operation string, success bool, duration time.Duration)
	RecordBatch(operation string, items, failures int)

	// System Metrics
	WatchDisk(service, path string)
	UpdateSystemMetrics(ctx context.Context)

	GetMetricsHandler() http.Handler
	Middleware() func(http.Handler) http.Handler

	// Lifecycle
	Start(ctx context.Context) error
	Stop() error
	IsHealthy() bool
}

// RouteNamer returns the route template of a request, used as a low
// cardinality path label. Requests without a route are labelled "unmatched".
type RouteNamer func(r *http.Request) string

type metricsManager struct {
	interval time.Duration
	registry *prometheus.Registry
	system   *SystemMetricsTracker
	route    RouteNamer

	// HTTP Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec

	// Storage Metrics
	storageOperationsTotal   *prometheus.CounterVec
	storageOperationDuration *prometheus.HistogramVec
	batchItemsTotal          *prometheus.CounterVec
	batchFailuresTotal       *prometheus.CounterVec

	// System Metrics
	diskUsedBytes  *prometheus.GaugeVec
	diskTotalBytes *prometheus.GaugeVec
	memoryUsedPct  prometheus.Gauge
	uptimeSeconds  prometheus.Gauge

	disksMu sync.RWMutex
	disks   map[string]string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

const namespace = "blobgate"

// NewManager creates a new metrics manager. A disabled configuration yields a
// manager that records nothing.
func NewManager(cfg config.MetricsConfig, system *SystemMetricsTracker, route RouteNamer) Manager {
	if !cfg.Enable {
		return &noopManager{}
	}

	interval := time.Duration(cfg.Interval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if route == nil {
		route = func(r *http.Request) string { return "unmatched" }
	}
	if system == nil {
		system = NewSystemMetrics()
	}

	m := &metricsManager{
		interval: interval,
		registry: prometheus.NewRegistry(),
		system:   system,
		route:    route,
		disks:    make(map[string]string),
	}
	m.initializeMetrics()
	return m
}

func (m *metricsManager) initializeMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.httpRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_size_bytes",
			Help:      "HTTP request body size in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"method", "route"},
	)

	m.storageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Total number of blob store operations",
		},
		[]string{"service", "operation", "status"},
	)

	m.storageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Blob store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)

	m.batchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "items_total",
			Help:      "Items processed by batch operations",
		},
		[]string{"operation"},
	)

	m.batchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "failures_total",
			Help:      "Batch items that failed",
		},
		[]string{"operation"},
	)

	m.diskUsedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "disk",
			Name:      "used_bytes",
			Help:      "Used bytes on the volume of a local service root",
		},
		[]string{"service"},
	)

	m.diskTotalBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "disk",
			Name:      "total_bytes",
			Help:      "Total bytes on the volume of a local service root",
		},
		[]string{"service"},
	)

	m.memoryUsedPct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_used_percent",
			Help:      "Host memory usage in percent",
		},
	)

	m.uptimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "uptime_seconds",
			Help:      "Seconds since the gateway started",
		},
	)

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestSize,
		m.storageOperationsTotal,
		m.storageOperationDuration,
		m.batchItemsTotal,
		m.batchFailuresTotal,
		m.diskUsedBytes,
		m.diskTotalBytes,
		m.memoryUsedPct,
		m.uptimeSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func (m *metricsManager) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *metricsManager) RecordHTTPRequestSize(method, route string, size int64) {
	m.httpRequestSize.WithLabelValues(method, route).Observe(float64(size))
}

func (m *metricsManager) RecordStorageOperation(service, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.storageOperationsTotal.WithLabelValues(service, operation, status).Inc()
	m.storageOperationDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func (m *metricsManager) RecordBatch(operation string, items, failures int) {
	m.batchItemsTotal.WithLabelValues(operation).Add(float64(items))
	m.batchFailuresTotal.WithLabelValues(operation).Add(float64(failures))
}

// WatchDisk adds a local service root to the disk gauges
func (m *metricsManager) WatchDisk(service, path string) {
	m.disksMu.Lock()
	defer m.disksMu.Unlock()
	m.disks[service] = path
}

// UpdateSystemMetrics refreshes the disk, memory and uptime gauges
func (m *metricsManager) UpdateSystemMetrics(ctx context.Context) {
	m.uptimeSeconds.Set(float64(m.system.GetUptime()))

	if memStats, err := m.system.GetMemoryUsage(); err == nil {
		m.memoryUsedPct.Set(memStats.UsedPercent)
	}

	m.disksMu.RLock()
	defer m.disksMu.RUnlock()
	for service, path := range m.disks {
		stats, err := m.system.GetDiskUsage(ctx, path)
		if err != nil {
			logrus.WithError(err).WithField("service", service).Debug("Failed to read disk usage")
			continue
		}
		m.diskUsedBytes.WithLabelValues(service).Set(float64(stats.UsedBytes))
		m.diskTotalBytes.WithLabelValues(service).Set(float64(stats.TotalBytes))
	}
}

func (m *metricsManager) GetMetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriterWrapper{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := m.route(r)
			m.RecordHTTPRequest(r.Method, route, strconv.Itoa(wrapped.statusCode), duration)
			m.system.RecordRequest(uint64(duration.Milliseconds()), wrapped.statusCode >= 500)

			if r.ContentLength > 0 {
				m.RecordHTTPRequestSize(r.Method, route, r.ContentLength)
			}
		})
	}
}

// Start begins periodic system gauge updates until ctx is done or Stop is called
func (m *metricsManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("metrics manager already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.UpdateSystemMetrics(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.UpdateSystemMetrics(ctx)
			}
		}
	}()
	return nil
}

func (m *metricsManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return fmt.Errorf("metrics manager not started")
	}

	m.cancel()
	m.started = false
	return nil
}

func (m *metricsManager) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWrapper) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// noopManager is a no-op implementation when metrics are disabled
type noopManager struct{}

func (n *noopManager) RecordHTTPRequest(method, route, status string, duration time.Duration) {}
func (n *noopManager) RecordHTTPRequestSize(method, route string, size int64)                 {}
func (n *noopManager) RecordStorageOperation(service, operation string, success bool, duration time.Duration) {
}
func (n *noopManager) RecordBatch(operation string, items, failures int) {}
func (n *noopManager) WatchDisk(service, path string)                    {}
func (n *noopManager) UpdateSystemMetrics(ctx context.Context)           {}
func (n *noopManager) GetMetricsHandler() http.Handler                   { return http.NotFoundHandler() }
func (n *noopManager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}
func (n *noopManager) Start(ctx context.Context) error { return nil }
func (n *noopManager) Stop() error                     { return nil }
func (n *noopManager) IsHealthy() bool                 { return true }
