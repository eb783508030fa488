package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shield-moderation/shield-go/pkg/shield"
)

// Metrics are the guard runtime's Prometheus collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	eventsProcessed *prometheus.CounterVec
	eventErrors     *prometheus.CounterVec
	userChecks      *prometheus.CounterVec
	reports         *prometheus.CounterVec
	shieldErrors    *prometheus.CounterVec
	shieldDuration  *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	dedupHits       prometheus.Counter
	publishFailures prometheus.Counter
	rateRemaining   prometheus.Gauge
}

// New registers the collectors on a fresh registry alongside Go runtime and process metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWith(reg, reg)
}

// NewWith registers the collectors on reg and serves them from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: g,
		eventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_guard_events_processed",
			Help: "Number of guild events processed",
		}, []string{"type"}),
		eventErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_guard_event_errors",
			Help: "Number of guild events which failed processing",
		}, []string{"type"}),
		userChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_guard_user_checks",
			Help: "Number of completed user checks by risk level",
		}, []string{"risk_level"}),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_guard_reports",
			Help: "Number of moderation actions reported to the network",
		}, []string{"action"}),
		shieldErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_guard_api_errors",
			Help: "Number of failed Shield API calls by error kind",
		}, []string{"op", "kind"}),
		shieldDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shield_guard_api_duration_sec",
			Help:    "Duration of Shield API calls",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"op", "status"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_guard_api_retries",
			Help: "Number of retried Shield API calls",
		}, []string{"op"}),
		dedupHits: f.NewCounter(prometheus.CounterOpts{
			Name: "shield_guard_duplicate_reports_skipped",
			Help: "Number of action events skipped because they were already reported",
		}),
		publishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "shield_guard_publish_failures",
			Help: "Number of verdicts that at least one publisher failed to deliver",
		}),
		rateRemaining: f.NewGauge(prometheus.GaugeOpts{
			Name: "shield_guard_rate_limit_remaining",
			Help: "Remaining Shield requests in the current window, as last reported",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.gatherer
}

func (m *Metrics) EventProcessed(typ string) {
	if m != nil {
		m.eventsProcessed.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) EventFailed(typ string) {
	if m != nil {
		m.eventErrors.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) UserChecked(level shield.RiskLevel) {
	if m != nil {
		m.userChecks.WithLabelValues(string(level)).Inc()
	}
}

func (m *Metrics) ActionReported(action shield.ActionType) {
	if m != nil {
		m.reports.WithLabelValues(string(action)).Inc()
	}
}

func (m *Metrics) DuplicateSkipped() {
	if m != nil {
		m.dedupHits.Inc()
	}
}

func (m *Metrics) PublishFailed() {
	if m != nil {
		m.publishFailures.Inc()
	}
}

func (m *Metrics) Retried(op string) {
	if m != nil {
		m.retries.WithLabelValues(op).Inc()
	}
}

// ObserveCall records one Shield API round trip and its outcome.
func (m *Metrics) ObserveCall(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		kind := "unknown"
		var se *shield.Error
		if errors.As(err, &se) {
			kind = se.Kind.String()
		}
		m.shieldErrors.WithLabelValues(op, kind).Inc()
	}
	m.shieldDuration.WithLabelValues(op, status).Observe(elapsed.Seconds())
}

// ObserveRateLimit tracks the remaining quota when the backend reported one.
func (m *Metrics) ObserveRateLimit(rl *shield.RateLimitInfo) {
	if m == nil || rl == nil || rl.Remaining == nil {
		return
	}
	m.rateRemaining.Set(float64(*rl.Remaining))
}
