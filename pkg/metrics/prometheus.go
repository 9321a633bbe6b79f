// Package metrics provides Prometheus metrics for the spiritrace service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
	defaultNamespace       = "spiritrace"
	defaultSubsystem       = "arena"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Matchmaking
	matchmakingJoins  *prometheus.CounterVec
	matchmakingLeaves *prometheus.CounterVec
	matchmakingDepth  *prometheus.GaugeVec
	matchesFormed     *prometheus.CounterVec
	matchWaitSeconds  *prometheus.HistogramVec

	// Resolution
	simulationDuration *prometheus.HistogramVec
	matchesResolved    *prometheus.CounterVec
	admissionFailures  *prometheus.CounterVec

	// Progression
	grantsApplied        prometheus.Counter
	duplicateSettlements prometheus.Counter
	itemsDropped         prometheus.Counter
	levelUps             prometheus.Counter
	conflictRetries      prometheus.Counter

	// Leaderboard
	leaderboardUpdates      prometheus.Counter
	leaderboardErrors       prometheus.Counter
	leaderboardPlayers      *prometheus.GaugeVec
	leaderboardSweeps       prometheus.Counter
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Group queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Workers
	workerActiveCount       prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton used by the package-level recorders

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // registry served on /metrics

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        defaultNamespace,
		subsystem:        defaultSubsystem,
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// Enabled reports whether recording is on.
func (m *Manager) Enabled() bool { return m.enabled }

// RefreshInterval is how often gauge updaters should run.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	if buckets == nil {
		buckets = m.histogramBuckets
	}
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: m.name(name), Help: help, ConstLabels: m.customLabels,
		Buckets: buckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)
	modeLabel := []string{"mode"}
	waitBuckets := []float64{1, 2, 5, 10, 20, 30, 60, 120, 300}

	m.matchmakingJoins = auto.NewCounterVec(m.counterOpts("matchmaking_joins_total", "Participants that joined a mode queue"), modeLabel)
	m.matchmakingLeaves = auto.NewCounterVec(m.counterOpts("matchmaking_leaves_total", "Participants that left a mode queue without a match"), modeLabel)
	m.matchmakingDepth = auto.NewGaugeVec(m.gaugeOpts("matchmaking_queue_depth", "Participants waiting per mode"), modeLabel)
	m.matchesFormed = auto.NewCounterVec(m.counterOpts("matches_formed_total", "Groups formed by the matchmaker"), modeLabel)
	m.matchWaitSeconds = auto.NewHistogramVec(m.histogramOpts("match_wait_seconds", "Time a participant waited before being grouped", waitBuckets), modeLabel)

	m.simulationDuration = auto.NewHistogramVec(m.histogramOpts("simulation_duration_milliseconds", "Wall time of one race simulation", nil), modeLabel)
	m.matchesResolved = auto.NewCounterVec(m.counterOpts("matches_resolved_total", "Matches simulated and settled"), modeLabel)
	m.admissionFailures = auto.NewCounterVec(m.counterOpts("admission_failures_total", "Entry cost deductions that were refused"), []string{"reason"})

	m.grantsApplied = auto.NewCounter(m.counterOpts("grants_applied_total", "Reward grants applied"))
	m.duplicateSettlements = auto.NewCounter(m.counterOpts("duplicate_settlements_total", "Reward grants rejected as already settled"))
	m.itemsDropped = auto.NewCounter(m.counterOpts("items_dropped_total", "Item capsules awarded"))
	m.levelUps = auto.NewCounter(m.counterOpts("level_ups_total", "Entrant levels gained"))
	m.conflictRetries = auto.NewCounter(m.counterOpts("record_conflict_retries_total", "Record store transactions retried after a conflict"))

	m.leaderboardUpdates = auto.NewCounter(m.counterOpts("leaderboard_updates_total", "Match outcomes folded into the leaderboard"))
	m.leaderboardErrors = auto.NewCounter(m.counterOpts("leaderboard_errors_total", "Leaderboard update failures"))
	m.leaderboardPlayers = auto.NewGaugeVec(m.gaugeOpts("leaderboard_players", "Ranked participants per scope"), []string{"scope"})
	m.leaderboardSweeps = auto.NewCounter(m.counterOpts("leaderboard_expired_windows_total", "Expired weekly windows dropped"))
	m.repositoryUpdateLatency = auto.NewHistogram(m.histogramOpts("repository_update_latency_milliseconds", "Leaderboard write latency", nil))
	m.repositoryQueryLatency = auto.NewHistogram(m.histogramOpts("repository_query_latency_milliseconds", "Leaderboard read latency", nil))

	httpLabels := []string{"endpoint", "method", "status_code"}
	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint and method"), httpLabels)
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration", nil), httpLabels)

	m.queueSize = auto.NewGauge(m.gaugeOpts("group_queue_size", "Groups waiting for a worker"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("group_queue_capacity", "Group queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("group_queue_utilization_ratio", "Group queue size over capacity"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("group_queue_enqueue_total", "Groups enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("group_queue_dequeue_total", "Groups dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("group_queue_enqueue_errors_total", "Groups that could not be enqueued"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogramOpts("group_queue_processing_latency_milliseconds", "Time spent in enqueue", nil))

	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Running resolver workers"))
	m.workerMessagesPerSecond = auto.NewGauge(m.gaugeOpts("worker_groups_per_second", "Groups resolved per second"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Time to resolve one group", nil))
	m.workerErrorRate = auto.NewCounter(m.counterOpts("worker_errors_total", "Groups whose resolution failed"))

	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total", "Errors by component"), []string{"component", "error_type"})
	m.errorRateByType = auto.NewCounterVec(m.counterOpts("errors_by_type_total", "Errors by type"), []string{"error_type", "severity"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total", "Errors by endpoint"), []string{"endpoint", "method", "error_type"})
	m.errorLatency = auto.NewHistogramVec(m.histogramOpts("error_latency_milliseconds", "Latency of failed operations", nil), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap in use"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// Matchmaking.

// RecordMatchmakingJoin counts a queue join.
func RecordMatchmakingJoin(mode string) {
	globalManager.matchmakingJoins.WithLabelValues(mode).Inc()
}

// RecordMatchmakingLeave counts a queue leave.
func RecordMatchmakingLeave(mode string) {
	globalManager.matchmakingLeaves.WithLabelValues(mode).Inc()
}

// UpdateMatchmakingDepth sets the number of waiting participants of a mode.
func UpdateMatchmakingDepth(mode string, n int) {
	globalManager.matchmakingDepth.WithLabelValues(mode).Set(float64(n))
}

// RecordMatchFormed counts a formed group.
func RecordMatchFormed(mode string) {
	globalManager.matchesFormed.WithLabelValues(mode).Inc()
}

// RecordMatchWaitSeconds observes how long a grouped participant waited.
func RecordMatchWaitSeconds(mode string, seconds float64) {
	globalManager.matchWaitSeconds.WithLabelValues(mode).Observe(seconds)
}

// Resolution.

// RecordSimulationDuration observes one simulation run.
func RecordSimulationDuration(mode string, ms float64) {
	globalManager.simulationDuration.WithLabelValues(mode).Observe(ms)
}

// RecordMatchResolved counts a fully settled match.
func RecordMatchResolved(mode string) {
	globalManager.matchesResolved.WithLabelValues(mode).Inc()
}

// RecordAdmissionFailure counts a refused entry cost deduction.
func RecordAdmissionFailure(reason string) {
	globalManager.admissionFailures.WithLabelValues(reason).Inc()
}

// Progression.

func RecordGrantApplied()        { globalManager.grantsApplied.Inc() }
func RecordDuplicateSettlement() { globalManager.duplicateSettlements.Inc() }
func RecordItemDropped()         { globalManager.itemsDropped.Inc() }
func RecordConflictRetry()       { globalManager.conflictRetries.Inc() }

// RecordLevelUps adds gained levels.
func RecordLevelUps(n int) {
	if n > 0 {
		globalManager.levelUps.Add(float64(n))
	}
}

// Leaderboard.

// RecordLeaderboardUpdate increments the leaderboard updates counter.
func RecordLeaderboardUpdate() { globalManager.leaderboardUpdates.Inc() }

// RecordLeaderboardError increments the leaderboard errors counter.
func RecordLeaderboardError() { globalManager.leaderboardErrors.Inc() }

// UpdateLeaderboardPlayers sets the ranked participant count of a scope.
func UpdateLeaderboardPlayers(scope string, n int) {
	globalManager.leaderboardPlayers.WithLabelValues(scope).Set(float64(n))
}

// RecordLeaderboardSweep adds dropped weekly windows.
func RecordLeaderboardSweep(n int) {
	if n > 0 {
		globalManager.leaderboardSweeps.Add(float64(n))
	}
}

// RecordRepositoryUpdateLatency records leaderboard write latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records leaderboard read latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Group queue.

func UpdateQueueSize(size int)                { globalManager.queueSize.Set(float64(size)) }
func UpdateQueueCapacity(capacity int)        { globalManager.queueCapacity.Set(float64(capacity)) }
func UpdateQueueUtilization(u float64)        { globalManager.queueUtilization.Set(u) }
func RecordQueueEnqueue()                     { globalManager.queueEnqueueRate.Inc() }
func RecordQueueDequeue()                     { globalManager.queueDequeueRate.Inc() }
func RecordQueueEnqueueError()                { globalManager.queueEnqueueErrors.Inc() }
func RecordQueueProcessingLatency(ms float64) { globalManager.queueProcessingLatency.Observe(ms) }

// Workers.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerMessagesPerSecond sets the groups resolved per second.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// RecordWorkerProcessingLatency records the time to resolve one group.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrorRate.Inc() }

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System.

// UpdateSystemMemoryUsage sets the heap in use in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the registry served on /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
