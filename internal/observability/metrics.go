package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "listen_stream_active_sessions",
		Help: "Number of open streaming sessions",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listen_stream_sessions_total",
		Help: "Total number of streaming sessions by outcome",
	}, []string{"outcome"}) // outcome: "closed", "failed", "handshake_failed"

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "listen_stream_session_duration_seconds",
		Help:    "Duration of streaming sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Outbound metrics
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listen_stream_frames_sent_total",
		Help: "Total number of audio frames written to the socket",
	})

	audioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listen_stream_audio_bytes_sent_total",
		Help: "Total audio bytes written to the socket",
	})

	keepAlives = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listen_stream_keepalives_total",
		Help: "Total number of keep-alive messages by status",
	}, []string{"status"})

	// Inbound metrics
	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listen_stream_results_total",
		Help: "Total number of results delivered by message type",
	}, []string{"type"})

	resultPushWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "listen_stream_result_push_wait_seconds",
		Help:    "Time the receiver waited for the consumer to accept a result",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listen_stream_errors_total",
		Help: "Total number of errors",
	}, []string{"kind", "duty"})
)

// Metrics tracks metrics for a single streaming session
type Metrics struct {
	startTime time.Time
	ended     bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordSessionStart records a session that completed its handshake
func (m *Metrics) RecordSessionStart() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
	activeSessions.Inc()
}

// RecordSessionEnd records the end of an open session. Only the first call counts.
func (m *Metrics) RecordSessionEnd(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true

	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())

	outcome := "closed"
	if failed {
		outcome = "failed"
	}
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordHandshakeFailure records a session that never opened
func (m *Metrics) RecordHandshakeFailure() {
	sessionsTotal.WithLabelValues("handshake_failed").Inc()
	errorsTotal.WithLabelValues("handshake", "connect").Inc()
}

// RecordFrame records one audio frame written
func (m *Metrics) RecordFrame(bytes int) {
	framesSent.Inc()
	audioBytes.Add(float64(bytes))
}

// RecordKeepAlive records a keep-alive attempt
func (m *Metrics) RecordKeepAlive(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	keepAlives.WithLabelValues(status).Inc()
}

// RecordResult records a result delivered to the consumer
func (m *Metrics) RecordResult(msgType string, wait time.Duration) {
	if msgType == "" {
		msgType = "unknown"
	}
	resultsTotal.WithLabelValues(msgType).Inc()
	resultPushWait.Observe(wait.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(kind, duty string) {
	errorsTotal.WithLabelValues(kind, duty).Inc()
}
