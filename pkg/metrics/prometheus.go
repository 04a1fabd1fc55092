// Package metrics provides Prometheus metrics for the Credo score service.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the Credo service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          atomic.Bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Authorization pipeline
	updatesAccepted    *prometheus.CounterVec
	updatesRejected    *prometheus.CounterVec
	batchSize          prometheus.Histogram
	authorizeLatency   prometheus.Histogram
	signatureRecovered *prometheus.CounterVec

	// Registry state
	registryWrites    *prometheus.CounterVec
	registryUsers     prometheus.Gauge
	registryActive    prometheus.Gauge
	registryOracles   prometheus.Gauge
	authorizedSigners prometheus.Gauge

	// Event bus and workers
	eventsPublished    *prometheus.CounterVec
	eventsConsumed     *prometheus.CounterVec
	eventPublishErrors prometheus.Counter
	workerCount        prometheus.Gauge
	workerLatency      prometheus.Histogram
	workerErrors       prometheus.Counter
	rankingSize        prometheus.Gauge
	rankingUpdates     prometheus.Counter

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRateLimited     prometheus.Counter

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "credo",
		subsystem:        "scores",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	m.enabled.Store(true)

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// RefreshInterval returns how often gauge updaters should sample.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Enabled reports whether metrics collection is on.
func (m *Manager) Enabled() bool { return m.enabled.Load() }

// SetEnabled turns recording on or off. Disabled record helpers are no-ops.
func (m *Manager) SetEnabled(enabled bool) { m.enabled.Store(enabled) }

// active returns the global manager, or nil while recording is disabled.
func active() *Manager {
	if !globalManager.Enabled() {
		return nil
	}
	return globalManager
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.updatesAccepted = m.counterVec("updates_accepted_total", "Signed updates accepted by the authorizer", "kind")
	m.updatesRejected = m.counterVec("updates_rejected_total", "Signed updates rejected by the authorizer", "kind", "reason")
	m.batchSize = m.histogram("batch_size", "Number of entries in accepted batch updates",
		[]float64{1, 5, 10, 25, 50, 75, 100})
	m.authorizeLatency = m.histogram("authorize_latency_milliseconds", "Time spent authorizing one submission", m.histogramBuckets)
	m.signatureRecovered = m.counterVec("signature_recoveries_total", "Signature recovery attempts by scheme and outcome", "scheme", "outcome")

	m.registryWrites = m.counterVec("registry_writes_total", "Registry mutations by operation", "operation")
	m.registryUsers = m.gauge("registry_users", "Number of subjects ever scored")
	m.registryActive = m.gauge("registry_active_scores", "Number of subjects with an active score")
	m.registryOracles = m.gauge("registry_oracles", "Number of authorized oracles")
	m.authorizedSigners = m.gauge("authorized_signers", "Number of authorized signers")

	m.eventsPublished = m.counterVec("events_published_total", "Protocol events published on the bus", "event")
	m.eventsConsumed = m.counterVec("events_consumed_total", "Protocol events consumed by workers", "event")
	m.eventPublishErrors = m.counter("event_publish_errors_total", "Events that could not be published")
	m.workerCount = m.gauge("worker_count", "Number of running event workers")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Worker time spent per event", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Events a worker failed to apply")
	m.rankingSize = m.gauge("ranking_size", "Subjects present in the ranking projection")
	m.rankingUpdates = m.counter("ranking_updates_total", "Ranking projection writes")

	m.storeLatency = m.histogramVec("store_latency_milliseconds", "State store operation latency", "backend", "operation")
	m.storeErrors = m.counterVec("store_errors_total", "State store operation failures", "backend", "operation")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")
	m.httpRateLimited = m.counter("http_rate_limited_total", "Requests rejected by the rate limiter")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordUpdateAccepted counts an accepted single or batch submission.
func RecordUpdateAccepted(kind string) {
	if m := active(); m != nil {
		m.updatesAccepted.WithLabelValues(kind).Inc()
	}
}

// RecordUpdateRejected counts a rejected submission with its reason.
func RecordUpdateRejected(kind, reason string) {
	if m := active(); m != nil {
		m.updatesRejected.WithLabelValues(kind, reason).Inc()
	}
}

// RecordBatchSize observes the size of an accepted batch.
func RecordBatchSize(n int) {
	if m := active(); m != nil {
		m.batchSize.Observe(float64(n))
	}
}

// RecordAuthorizeLatency records the time spent on one submission.
func RecordAuthorizeLatency(latencyMs float64) {
	if m := active(); m != nil {
		m.authorizeLatency.Observe(latencyMs)
	}
}

// RecordSignatureRecovery counts a recovery attempt.
func RecordSignatureRecovery(scheme string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	if m := active(); m != nil {
		m.signatureRecovered.WithLabelValues(scheme, outcome).Inc()
	}
}

// RecordRegistryWrite counts a registry mutation.
func RecordRegistryWrite(operation string) {
	if m := active(); m != nil {
		m.registryWrites.WithLabelValues(operation).Inc()
	}
}

// UpdateRegistryUsers sets the number of subjects ever scored.
func UpdateRegistryUsers(count int) {
	if m := active(); m != nil {
		m.registryUsers.Set(float64(count))
	}
}

// UpdateRegistryActive sets the number of active scores.
func UpdateRegistryActive(count int) {
	if m := active(); m != nil {
		m.registryActive.Set(float64(count))
	}
}

// UpdateRegistryOracles sets the number of authorized oracles.
func UpdateRegistryOracles(count int) {
	if m := active(); m != nil {
		m.registryOracles.Set(float64(count))
	}
}

// UpdateAuthorizedSigners sets the number of authorized signers.
func UpdateAuthorizedSigners(count int) {
	if m := active(); m != nil {
		m.authorizedSigners.Set(float64(count))
	}
}

// RecordEventPublished counts an event put on the bus.
func RecordEventPublished(event string) {
	if m := active(); m != nil {
		m.eventsPublished.WithLabelValues(event).Inc()
	}
}

// RecordEventConsumed counts an event applied by a worker.
func RecordEventConsumed(event string) {
	if m := active(); m != nil {
		m.eventsConsumed.WithLabelValues(event).Inc()
	}
}

// RecordEventPublishError counts a failed publish.
func RecordEventPublishError() {
	if m := active(); m != nil {
		m.eventPublishErrors.Inc()
	}
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	if m := active(); m != nil {
		m.workerCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if m := active(); m != nil {
		m.workerLatency.Observe(latencyMs)
	}
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if m := active(); m != nil {
		m.workerErrors.Inc()
	}
}

// UpdateRankingSize sets the number of ranked subjects.
func UpdateRankingSize(count int) {
	if m := active(); m != nil {
		m.rankingSize.Set(float64(count))
	}
}

// RecordRankingUpdate counts a ranking write.
func RecordRankingUpdate() {
	if m := active(); m != nil {
		m.rankingUpdates.Inc()
	}
}

// RecordStoreLatency records one store operation.
func RecordStoreLatency(backend, operation string, latencyMs float64) {
	if m := active(); m != nil {
		m.storeLatency.WithLabelValues(backend, operation).Observe(latencyMs)
	}
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(backend, operation string) {
	if m := active(); m != nil {
		m.storeErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if m := active(); m != nil {
		m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if m := active(); m != nil {
		m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// RecordHTTPRateLimited counts a request refused by the rate limiter.
func RecordHTTPRateLimited() {
	if m := active(); m != nil {
		m.httpRateLimited.Inc()
	}
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if m := active(); m != nil {
		m.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if m := active(); m != nil {
		m.systemGoroutineCount.Set(float64(count))
	}
}

// Global returns the process-wide manager.
func Global() *Manager {
	return globalManager
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Since returns the milliseconds elapsed since start.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
