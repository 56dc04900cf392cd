// Package metrics provides Prometheus metrics for the racefeed ingestion service.
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

// Manager manages all Prometheus metrics for the racefeed service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          atomic.Bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Polling
	polls          *prometheus.CounterVec
	pollLatency    prometheus.Histogram
	pollNextDelay  *prometheus.GaugeVec
	forcedUpdates  *prometheus.CounterVec
	activeLoops    prometheus.Gauge
	rowsFetched    prometheus.Counter
	rowsRejected   prometheus.Counter
	parseErrorRows prometheus.Counter

	// Event store
	commitLatency  prometheus.Histogram
	recordsByEvent *prometheus.GaugeVec
	changeEvents   *prometheus.CounterVec
	listenerErrors prometheus.Counter

	// Fan-out
	subscribers    prometheus.Gauge
	batches        prometheus.Counter
	batchSize      prometheus.Histogram
	droppedEvents  prometheus.Counter
	replayedEvents prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
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
		namespace:        "racefeed",
		subsystem:        "ingest",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
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

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: buckets, ConstLabels: m.customLabels}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	// Polling
	m.polls = auto.NewCounterVec(m.counterOpts("polls_total", "Poll cycles by event and outcome"), []string{"event", "outcome"})
	m.pollLatency = auto.NewHistogram(m.histogramOpts("poll_latency_milliseconds", "Duration of one fetch+commit cycle in milliseconds", m.histogramBuckets))
	m.pollNextDelay = auto.NewGaugeVec(m.gaugeOpts("poll_next_delay_seconds", "Delay chosen for the next scheduled poll"), []string{"event"})
	m.forcedUpdates = auto.NewCounterVec(m.counterOpts("forced_updates_total", "Out-of-band poll requests by event"), []string{"event"})
	m.activeLoops = auto.NewGauge(m.gaugeOpts("active_poll_loops", "Number of running per-event poll loops"))
	m.rowsFetched = auto.NewCounter(m.counterOpts("rows_fetched_total", "Result rows extracted from source pages"))
	m.rowsRejected = auto.NewCounter(m.counterOpts("rows_rejected_total", "Rows excluded from commit because of parse errors"))
	m.parseErrorRows = auto.NewCounter(m.counterOpts("parse_error_rows_logged_total", "Distinct malformed rows logged"))

	// Event store
	m.commitLatency = auto.NewHistogram(m.histogramOpts("store_commit_latency_milliseconds", "Snapshot reconciliation latency in milliseconds",
		[]float64{0.05, 0.1, 0.5, 1, 5, 10, 50, 100}))
	m.recordsByEvent = auto.NewGaugeVec(m.gaugeOpts("store_records", "Records held per event snapshot"), []string{"event"})
	m.changeEvents = auto.NewCounterVec(m.counterOpts("change_events_total", "Change events emitted by kind"), []string{"kind"})
	m.listenerErrors = auto.NewCounter(m.counterOpts("listener_errors_total", "Change listener failures"))

	// Fan-out
	m.subscribers = auto.NewGauge(m.gaugeOpts("fanout_subscribers", "Open fan-out subscriptions"))
	m.batches = auto.NewCounter(m.counterOpts("fanout_batches_total", "Batch messages emitted to subscribers"))
	m.batchSize = auto.NewHistogram(m.histogramOpts("fanout_batch_size", "Change events per batch message",
		[]float64{1, 2, 5, 10, 25, 50, 100, 250, 500}))
	m.droppedEvents = auto.NewCounter(m.counterOpts("fanout_dropped_events_total", "Change events dropped because a subscriber buffer was full"))
	m.replayedEvents = auto.NewCounter(m.counterOpts("fanout_replayed_events_total", "History events replayed to new subscribers"))

	// HTTP
	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"})

	// Errors
	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total", "Total number of errors by component"),
		[]string{"component", "error_type"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total", "Total number of errors by endpoint"),
		[]string{"endpoint", "method", "error_type"})

	// System
	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// enabled reports whether recording functions update their series.
func enabled() bool { return globalManager.enabled.Load() }

// SetEnabled turns recording on or off at runtime. Series keep their last
// values while disabled.
func SetEnabled(on bool) { globalManager.enabled.Store(on) }

// Enabled reports whether metrics are being recorded.
func Enabled() bool { return enabled() }

// RefreshInterval is how often periodically sampled gauges, such as the
// system metrics, should be refreshed.
func RefreshInterval() time.Duration { return globalManager.refreshInterval }

// Polling.

// RecordPoll counts one poll cycle for event with outcome ok, fetch_error or canceled.
func RecordPoll(event, outcome string) {
	if !enabled() {
		return
	}
	globalManager.polls.WithLabelValues(event, outcome).Inc()
}

// RecordPollLatency records the duration of one poll cycle.
func RecordPollLatency(latencyMs float64) {
	if !enabled() {
		return
	}
	globalManager.pollLatency.Observe(latencyMs)
}

// UpdatePollNextDelay sets the delay chosen for the next poll of event.
func UpdatePollNextDelay(event string, d time.Duration) {
	if !enabled() {
		return
	}
	globalManager.pollNextDelay.WithLabelValues(event).Set(d.Seconds())
}

// RecordForcedUpdate counts an out-of-band poll request.
func RecordForcedUpdate(event string) {
	if !enabled() {
		return
	}
	globalManager.forcedUpdates.WithLabelValues(event).Inc()
}

// UpdateActiveLoops sets the number of running poll loops.
func UpdateActiveLoops(n int) {
	if !enabled() {
		return
	}
	globalManager.activeLoops.Set(float64(n))
}

// RecordRowsFetched adds n extracted rows.
func RecordRowsFetched(n int) {
	if !enabled() {
		return
	}
	globalManager.rowsFetched.Add(float64(n))
}

// RecordRowsRejected adds n rows dropped because of parse errors.
func RecordRowsRejected(n int) {
	if !enabled() {
		return
	}
	globalManager.rowsRejected.Add(float64(n))
}

// RecordParseErrorLogged counts a distinct malformed row that was logged.
func RecordParseErrorLogged() {
	if !enabled() {
		return
	}
	globalManager.parseErrorRows.Inc()
}

// Event store.

// RecordCommitLatency records snapshot reconciliation latency.
func RecordCommitLatency(latencyMs float64) {
	if !enabled() {
		return
	}
	globalManager.commitLatency.Observe(latencyMs)
}

// UpdateStoreRecords sets the number of records held for event.
func UpdateStoreRecords(event string, n int) {
	if !enabled() {
		return
	}
	globalManager.recordsByEvent.WithLabelValues(event).Set(float64(n))
}

// ResetStoreRecords drops all per-event record gauges.
func ResetStoreRecords() {
	globalManager.recordsByEvent.Reset()
}

// RecordChangeEvent counts one emitted change event by kind.
func RecordChangeEvent(kind string) {
	if !enabled() {
		return
	}
	globalManager.changeEvents.WithLabelValues(kind).Inc()
}

// RecordListenerError counts a failed change listener.
func RecordListenerError() {
	if !enabled() {
		return
	}
	globalManager.listenerErrors.Inc()
}

// Fan-out.

// UpdateSubscribers sets the number of open subscriptions.
func UpdateSubscribers(n int) {
	if !enabled() {
		return
	}
	globalManager.subscribers.Set(float64(n))
}

// RecordBatch counts one emitted batch with size items.
func RecordBatch(size int) {
	if !enabled() {
		return
	}
	globalManager.batches.Inc()
	globalManager.batchSize.Observe(float64(size))
}

// RecordDroppedEvent counts a change event dropped for a slow subscriber.
func RecordDroppedEvent() {
	if !enabled() {
		return
	}
	globalManager.droppedEvents.Inc()
}

// RecordReplayedEvents adds n history events replayed to a subscriber.
func RecordReplayedEvents(n int) {
	if !enabled() {
		return
	}
	globalManager.replayedEvents.Add(float64(n))
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !enabled() {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !enabled() {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if !enabled() {
		return
	}
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if !enabled() {
		return
	}
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !enabled() {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if !enabled() {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if !enabled() {
		return
	}
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
