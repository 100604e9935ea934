package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exports playback counters to Prometheus. A nil *Recorder is a
// valid no-op recorder.
type Recorder struct {
	registry      *prometheus.Registry
	eventsTotal   *prometheus.CounterVec
	framesTotal   *prometheus.CounterVec
	frame         *prometheus.GaugeVec
	sessionsTotal *prometheus.CounterVec
	droppedTotal  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	deriveLatency *prometheus.HistogramVec
}

// NewRecorder registers the collectors on a private registry so several
// recorders can coexist in one process.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ewsreplay_events_published_total",
				Help: "Events published on the bus",
			},
			[]string{"kind"},
		),
		framesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ewsreplay_frames_advanced_total",
				Help: "Frame advances per chart",
			},
			[]string{"chart"},
		),
		frame: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ewsreplay_chart_frame",
				Help: "Current frame per chart",
			},
			[]string{"chart"},
		),
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ewsreplay_sessions_total",
				Help: "Playback sessions started per chart and outcome",
			},
			[]string{"chart", "outcome"},
		),
		droppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ewsreplay_bus_dropped_total",
				Help: "Events dropped because a subscriber buffer was full",
			},
			[]string{"subscriber"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ewsreplay_errors_total",
				Help: "Errors by type",
			},
			[]string{"type"},
		),
		deriveLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ewsreplay_overlay_derive_seconds",
				Help:    "Overlay derivation latency",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"mode"},
		),
	}
}

func (r *Recorder) RecordEvent(kind string) {
	if r == nil {
		return
	}
	r.eventsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordFrame(chart string, frame int) {
	if r == nil {
		return
	}
	r.framesTotal.WithLabelValues(chart).Inc()
	r.frame.WithLabelValues(chart).Set(float64(frame))
}

func (r *Recorder) RecordSession(chart, outcome string) {
	if r == nil {
		return
	}
	r.sessionsTotal.WithLabelValues(chart, outcome).Inc()
	r.frame.WithLabelValues(chart).Set(1)
}

func (r *Recorder) RecordDrop(subscriber string) {
	if r == nil {
		return
	}
	r.droppedTotal.WithLabelValues(subscriber).Inc()
}

func (r *Recorder) RecordError(kind string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordDerive(mode string, seconds float64) {
	if r == nil {
		return
	}
	r.deriveLatency.WithLabelValues(mode).Observe(seconds)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
