package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder aggregates Prometheus counters and gauges for bridge session
// lifecycle, transcoder subprocess events, and viewer attach activity.
type Recorder struct {
	registry *prometheus.Registry

	sessionsStarted *prometheus.CounterVec
	sessionsStopped prometheus.Counter
	sessionsFailed  *prometheus.CounterVec
	activeSessions  prometheus.Gauge

	transcoderEvents *prometheus.CounterVec

	attachAttempts prometheus.Counter
	attachFailures prometheus.Counter
}

// New constructs a Recorder with a private registry so tests can create
// instances without colliding on the default global registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	sessionsStarted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_sessions_started_total",
		Help: "Total number of bridge sessions started, by media kind.",
	}, []string{"kind"})
	sessionsStopped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bridge_sessions_stopped_total",
		Help: "Total number of bridge sessions stopped.",
	})
	sessionsFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_sessions_failed_total",
		Help: "Total number of bridge session start failures, by reason.",
	}, []string{"reason"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_active_sessions",
		Help: "Number of currently registered bridge sessions.",
	})
	transcoderEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transcoder_events_total",
		Help: "Total number of transcoder lifecycle events, by event kind.",
	}, []string{"kind"})
	attachAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewer_attach_attempts_total",
		Help: "Total number of viewer consumer attach attempts.",
	})
	attachFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewer_attach_failures_total",
		Help: "Total number of viewer attach failures after retry exhaustion.",
	})

	registry.MustRegister(
		sessionsStarted,
		sessionsStopped,
		sessionsFailed,
		activeSessions,
		transcoderEvents,
		attachAttempts,
		attachFailures,
	)

	return &Recorder{
		registry:         registry,
		sessionsStarted:  sessionsStarted,
		sessionsStopped:  sessionsStopped,
		sessionsFailed:   sessionsFailed,
		activeSessions:   activeSessions,
		transcoderEvents: transcoderEvents,
		attachAttempts:   attachAttempts,
		attachFailures:   attachFailures,
	}
}

// SessionStarted records a successful bridge session start for the media kind.
func (r *Recorder) SessionStarted(kind string) {
	r.sessionsStarted.WithLabelValues(kind).Inc()
	r.activeSessions.Inc()
}

// SessionStopped records a bridge session teardown.
func (r *Recorder) SessionStopped() {
	r.sessionsStopped.Inc()
	r.activeSessions.Dec()
}

// SessionFailed records a start failure classified by reason.
func (r *Recorder) SessionFailed(reason string) {
	r.sessionsFailed.WithLabelValues(reason).Inc()
}

// TranscoderEvent records one transcoder lifecycle event by kind.
func (r *Recorder) TranscoderEvent(kind string) {
	r.transcoderEvents.WithLabelValues(kind).Inc()
}

// AttachAttempt records one viewer consumer creation attempt.
func (r *Recorder) AttachAttempt() {
	r.attachAttempts.Inc()
}

// AttachFailed records a viewer attach that exhausted its retry budget.
func (r *Recorder) AttachFailed() {
	r.attachFailures.Inc()
}

// Handler exposes the recorder's registry in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
