// Package metrics exports session activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MJE43/bart-task-go/internal/session"
)

const namespace = "bart"

// Metrics holds the collectors on a private registry. It implements
// session.Emitter so it can subscribe to any number of engines.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted  prometheus.Counter
	SessionsFinished prometheus.Counter
	Trials           *prometheus.CounterVec
	Pumps            *prometheus.CounterVec
	PumpReaction     prometheus.Histogram
	Earnings         prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New creates the collectors. withRuntime adds the Go and process
// collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions that presented their first balloon",
		}),
		SessionsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions that completed every trial",
		}),
		Trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_total",
			Help:      "Completed trials by block, balloon type and outcome",
		}, []string{"block", "balloon", "outcome"}),
		Pumps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pumps_total",
			Help:      "Pumps by balloon type, including the bursting pump",
		}, []string{"balloon"}),
		PumpReaction: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pump_reaction_seconds",
			Help:      "Time from the previous action to each pump",
			Buckets:   []float64{0.1, 0.2, 0.35, 0.5, 0.75, 1, 1.5, 2, 3, 5},
		}),
		Earnings: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_earnings",
			Help:      "Main block earnings of finished sessions",
			Buckets:   prometheus.LinearBuckets(0, 500, 10),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.SessionsStarted, m.SessionsFinished, m.Trials, m.Pumps,
		m.PumpReaction, m.Earnings, m.HTTPRequests, m.HTTPDuration,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Emit records one engine event.
func (m *Metrics) Emit(ev session.Event) {
	if m == nil {
		return
	}
	switch ev.Type {
	case session.EventTrialStarted:
		if ev.TrialIndex == 0 {
			m.SessionsStarted.Inc()
		}
	case session.EventPumpApplied:
		m.Pumps.WithLabelValues(string(ev.Balloon)).Inc()
		m.PumpReaction.Observe(float64(ev.ReactionMs) / 1000)
	case session.EventTrialEnded:
		m.Trials.WithLabelValues(string(ev.Block), string(ev.Balloon), string(ev.Outcome)).Inc()
	case session.EventSessionFinished:
		m.SessionsFinished.Inc()
		m.Earnings.Observe(float64(ev.TotalMoney))
	}
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
