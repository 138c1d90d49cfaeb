// Package metrics exposes Prometheus collectors for the radio daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	lockAcquisitions *prometheus.CounterVec   // by outcome
	tunesTotal       *prometheus.CounterVec   // by mode, result
	tuneDuration     *prometheus.HistogramVec // by mode
	listeners        *prometheus.GaugeVec     // by endpoint
	streamBytes      *prometheus.CounterVec   // by endpoint
	droppedChunks    prometheus.Counter
	playbackState    *prometheus.GaugeVec // 1 for the current state/mode pair
	sinkErrors       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		lockAcquisitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rtlsdr_tuner_lock_acquisitions_total",
			Help: "Tuner lock acquire attempts by outcome",
		}, []string{"outcome"}),
		tunesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rtlsdr_tunes_total",
			Help: "Tune attempts by mode and result",
		}, []string{"mode", "result"}),
		tuneDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rtlsdr_tune_duration_seconds",
			Help:    "Time from tune request to ready or failure",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 7.5, 10, 20, 30},
		}, []string{"mode"}),
		listeners: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtlsdr_stream_listeners",
			Help: "Connected audio listeners by endpoint",
		}, []string{"endpoint"}),
		streamBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rtlsdr_stream_bytes_total",
			Help: "Audio bytes written to listeners by endpoint",
		}, []string{"endpoint"}),
		droppedChunks: f.NewCounter(prometheus.CounterOpts{
			Name: "rtlsdr_stream_dropped_chunks_total",
			Help: "Audio chunks dropped for slow listeners",
		}),
		playbackState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtlsdr_playback_state",
			Help: "Current playback state and radio mode (1 = active)",
		}, []string{"state", "mode"}),
		sinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rtlsdr_sink_errors_total",
			Help: "Failed sink commands by sink type and command",
		}, []string{"sink", "command"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) RecordLockOutcome(outcome string) {
	if m == nil {
		return
	}
	m.lockAcquisitions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTune(mode string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tunesTotal.WithLabelValues(mode, result).Inc()
	m.tuneDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) ListenerConnected(endpoint string) {
	if m == nil {
		return
	}
	m.listeners.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) ListenerDisconnected(endpoint string) {
	if m == nil {
		return
	}
	m.listeners.WithLabelValues(endpoint).Dec()
}

func (m *Metrics) RecordStreamBytes(endpoint string, n int) {
	if m == nil {
		return
	}
	m.streamBytes.WithLabelValues(endpoint).Add(float64(n))
}

func (m *Metrics) RecordDroppedChunk() {
	if m == nil {
		return
	}
	m.droppedChunks.Inc()
}

// SetPlaybackState marks state/mode as the only active pair.
func (m *Metrics) SetPlaybackState(state, mode string) {
	if m == nil {
		return
	}
	m.playbackState.Reset()
	m.playbackState.WithLabelValues(state, mode).Set(1)
}

func (m *Metrics) RecordSinkError(sink, command string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink, command).Inc()
}
