package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "matchhub"

// Metrics holds the Prometheus collectors for the match hub.
//
// A nil *Metrics is valid; every recording method is then a no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	connections     prometheus.Gauge
	sessions        *prometheus.GaugeVec
	eventsDelivered *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	ticks           prometheus.Counter
	tickFailures    prometheus.Counter
	matchResults    *prometheus.CounterVec
	presenceFacts   *prometheus.CounterVec
	databaseUp      prometheus.Gauge
	databaseConns   *prometheus.GaugeVec
}

// NewMetrics registers all collectors with a fresh registry.
//
// Postcondition: Returns a Metrics whose Handler serves only these collectors
// plus the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of registered live connections",
		}),
		sessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "match_sessions",
			Help:      "Number of live match sessions by state",
		}, []string{"state"}),
		eventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events handed to a live connection",
		}, []string{"event"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the target was unreachable or its queue was full",
		}, []string{"event"}),
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulation_ticks_total",
			Help:      "Simulation ticks executed across all matches",
		}),
		tickFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulation_tick_failures_total",
			Help:      "Ticks whose update callback failed and was skipped",
		}),
		matchResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_results_total",
			Help:      "Finished match results by persistence outcome",
		}, []string{"outcome"}),
		presenceFacts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_facts_total",
			Help:      "Presence facts received by source",
		}, []string{"source"}),
		databaseUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_up",
			Help:      "1 if the last database ping succeeded",
		}),
		databaseConns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections",
			Help:      "Pooled database connections by state",
		}, []string{"state"}),
	}
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// SetConnections records the current live connection count.
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// SessionStateChanged moves one session between state gauges.
// An empty from or to skips that side.
func (m *Metrics) SessionStateChanged(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.sessions.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.sessions.WithLabelValues(to).Inc()
	}
}

// EventDelivered counts one delivery of event.
func (m *Metrics) EventDelivered(event string) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(event).Inc()
}

// EventDropped counts one dropped delivery of event.
func (m *Metrics) EventDropped(event string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(event).Inc()
}

// Tick counts one simulation tick.
func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

// TickFailed counts one skipped tick broadcast.
func (m *Metrics) TickFailed() {
	if m == nil {
		return
	}
	m.tickFailures.Inc()
}

// MatchResult counts one finished match by persistence outcome ("saved" or "failed").
func (m *Metrics) MatchResult(outcome string) {
	if m == nil {
		return
	}
	m.matchResults.WithLabelValues(outcome).Inc()
}

// PresenceFact counts one presence fact from source.
func (m *Metrics) PresenceFact(source string) {
	if m == nil {
		return
	}
	m.presenceFacts.WithLabelValues(source).Inc()
}

// SetDatabase records the last pool health observation.
func (m *Metrics) SetDatabase(up bool, acquired, idle int32) {
	if m == nil {
		return
	}
	if up {
		m.databaseUp.Set(1)
	} else {
		m.databaseUp.Set(0)
	}
	m.databaseConns.WithLabelValues("acquired").Set(float64(acquired))
	m.databaseConns.WithLabelValues("idle").Set(float64(idle))
}
