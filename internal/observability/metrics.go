package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler metrics
	schedulerStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_cheer_scheduler_status",
		Help: "Scheduler status (0=idle, 1=running, 2=paused)",
	})

	playbackInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_cheer_playback_in_flight",
		Help: "1 while a playback cycle holds the single-flight guard",
	})

	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_cheer_cycles_total",
		Help: "Completed playback cycles",
	}, []string{"kind", "result"}) // kind: "timer" or "sample"

	cyclesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_cheer_cycles_dropped_total",
		Help: "Triggers dropped because a playback was already in flight",
	}, []string{"trigger"})

	cycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_cheer_cycle_duration_seconds",
		Help:    "Wall time of a full synthesize-download-play cycle",
		Buckets: []float64{1, 2, 5, 10, 20, 40, 80},
	}, []string{"kind"})

	// Synthesis metrics
	synthesisAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_cheer_synthesis_attempts_total",
		Help: "Individual synthesis attempts by outcome",
	}, []string{"outcome"})

	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_cheer_synthesis_requests_total",
		Help: "Synthesis calls including retries, by final status",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_cheer_synthesis_latency_seconds",
		Help:    "Synthesis latency including retries and readiness probes",
		Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21},
	})

	// Download metrics
	downloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_cheer_download_bytes_total",
		Help: "Audio bytes downloaded",
	})

	downloadRedirects = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_cheer_download_redirects",
		Help:    "Redirect hops followed per download",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	})

	downloadLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_cheer_download_latency_seconds",
		Help:    "Audio download latency",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"status"})

	// Playback metrics
	playbackDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_cheer_playback_duration_seconds",
		Help:    "Duration of platform playback commands",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16},
	}, []string{"status"})

	scratchCleanups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_cheer_scratch_cleanups_total",
		Help: "Scratch file deletions by result",
	}, []string{"result"})

	// Panel metrics
	panelConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_cheer_panel_connections",
		Help: "Connected panel sessions",
	})

	panelCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_cheer_panel_commands_total",
		Help: "Commands received from panels",
	}, []string{"type", "status"})

	catalogReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_cheer_catalog_reloads_total",
		Help: "Catalog file reloads",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_cheer_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_cheer_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_cheer_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// CycleMetrics tracks metrics for a single playback cycle
type CycleMetrics struct {
	cycleID            string
	kind               string
	startTime          time.Time
	synthesisStartTime time.Time
	downloadStartTime  time.Time
	playbackStartTime  time.Time
	mu                 sync.Mutex
}

// NewCycleMetrics creates a new metrics tracker for a cycle
func NewCycleMetrics(cycleID, kind string) *CycleMetrics {
	return &CycleMetrics{
		cycleID:   cycleID,
		kind:      kind,
		startTime: time.Now(),
	}
}

// RecordCycleEnd records the end of the cycle with its result label
func (m *CycleMetrics) RecordCycleEnd(result string) {
	cyclesTotal.WithLabelValues(m.kind, result).Inc()
	cycleDuration.WithLabelValues(m.kind).Observe(time.Since(m.startTime).Seconds())
}

// RecordSynthesisStart records the start of synthesis
func (m *CycleMetrics) RecordSynthesisStart() {
	m.mu.Lock()
	m.synthesisStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSynthesisEnd records the end of synthesis
func (m *CycleMetrics) RecordSynthesisEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synthesisStartTime.IsZero() {
		synthesisLatency.Observe(time.Since(m.synthesisStartTime).Seconds())
	}
	synthesisRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordDownloadStart records the start of an audio download
func (m *CycleMetrics) RecordDownloadStart() {
	m.mu.Lock()
	m.downloadStartTime = time.Now()
	m.mu.Unlock()
}

// RecordDownloadEnd records the end of an audio download
func (m *CycleMetrics) RecordDownloadEnd(bytes int64, redirects int, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.downloadStartTime.IsZero() {
		downloadLatency.WithLabelValues(statusLabel(success)).Observe(time.Since(m.downloadStartTime).Seconds())
	}
	if success {
		downloadBytes.Add(float64(bytes))
		downloadRedirects.Observe(float64(redirects))
	}
}

// RecordPlaybackStart records the start of platform playback
func (m *CycleMetrics) RecordPlaybackStart() {
	m.mu.Lock()
	m.playbackStartTime = time.Now()
	m.mu.Unlock()
}

// RecordPlaybackEnd records the end of platform playback
func (m *CycleMetrics) RecordPlaybackEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.playbackStartTime.IsZero() {
		playbackDuration.WithLabelValues(statusLabel(success)).Observe(time.Since(m.playbackStartTime).Seconds())
	}
}

// RecordError records an error
func (m *CycleMetrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordError records an error outside a cycle
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// SetSchedulerStatus publishes the scheduler status code
func SetSchedulerStatus(code int) {
	schedulerStatus.Set(float64(code))
}

// SetPlaybackInFlight publishes the single-flight guard
func SetPlaybackInFlight(inFlight bool) {
	if inFlight {
		playbackInFlight.Set(1)
		return
	}
	playbackInFlight.Set(0)
}

// RecordCycleDropped counts a trigger that found the guard held
func RecordCycleDropped(trigger string) {
	cyclesDropped.WithLabelValues(trigger).Inc()
}

// RecordSynthesisAttempt counts one request/probe round against the synthesis endpoint
func RecordSynthesisAttempt(outcome string) {
	synthesisAttempts.WithLabelValues(outcome).Inc()
}

// RecordScratchCleanup counts a scratch file deletion
func RecordScratchCleanup(result string) {
	scratchCleanups.WithLabelValues(result).Inc()
}

// PanelConnected adjusts the connected panel gauge
func PanelConnected(delta int) {
	panelConnections.Add(float64(delta))
}

// RecordPanelCommand counts a panel command
func RecordPanelCommand(commandType, status string) {
	panelCommands.WithLabelValues(commandType, status).Inc()
}

// RecordCatalogReload counts a catalog reload
func RecordCatalogReload(success bool) {
	catalogReloads.WithLabelValues(statusLabel(success)).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
