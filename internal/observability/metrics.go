package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "device_gateway_active_sessions",
		Help: "Number of connected devices",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_gateway_sessions_total",
		Help: "Total number of device sessions accepted",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "device_gateway_session_duration_seconds",
		Help:    "Duration of device sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Collaborator metrics, labelled by provider role (stt, tts, chat, vision, voiceprint)
	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_gateway_provider_requests_total",
		Help: "Total number of provider requests",
	}, []string{"provider", "status"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "device_gateway_provider_latency_seconds",
		Help:    "Provider latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"provider"})

	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_gateway_turns_total",
		Help: "Completed turns by route",
	}, []string{"route"}) // register, wake, vision, exit, chat, farewell

	utterancesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_gateway_utterances_discarded_total",
		Help: "Utterances dropped as too short",
	})

	wakeWordHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_gateway_wake_word_hits_total",
		Help: "Wake word matches by resolution",
	}, []string{"resolution"})

	idleTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_gateway_idle_timeouts_total",
		Help: "Sessions closed after prolonged silence",
	})

	playbackOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_gateway_playback_total",
		Help: "Playback outcomes",
	}, []string{"outcome"}) // completed, aborted, error

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "device_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single device session
type Metrics struct {
	startTime time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session and returns its duration
func (m *Metrics) RecordSessionEnd() time.Duration {
	d := time.Since(m.startTime)
	activeSessions.Dec()
	sessionDuration.Observe(d.Seconds())
	return d
}

// RecordTurn records a completed turn and the route it took
func (m *Metrics) RecordTurn(route string) {
	turnsTotal.WithLabelValues(route).Inc()
}

// RecordDiscarded records an utterance dropped as noise
func (m *Metrics) RecordDiscarded() {
	utterancesDiscarded.Inc()
}

// RecordWakeWord records a wake word match
func (m *Metrics) RecordWakeWord(resolution string) {
	wakeWordHits.WithLabelValues(resolution).Inc()
}

// RecordIdleTimeout records a session ended by silence
func (m *Metrics) RecordIdleTimeout() {
	idleTimeouts.Inc()
}

// RecordPlayback records how a playback ended
func (m *Metrics) RecordPlayback(outcome string) {
	playbackOutcomes.WithLabelValues(outcome).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// ObserveProvider records one provider call
func ObserveProvider(provider string, start time.Time, success bool) {
	providerLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	providerRequests.WithLabelValues(provider, status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
