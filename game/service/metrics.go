package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wricardo/paper-client/game/protocol"
	"github.com/wricardo/paper-client/game/session"
)

const metricsNamespace = "paper_client"

// Metrics holds the Prometheus collectors for one client
type Metrics struct {
	events     *prometheus.CounterVec
	messages   *prometheus.CounterVec
	rejections *prometheus.CounterVec
	anomalies  prometheus.Counter
	games      *prometheus.CounterVec
	reconnects prometheus.Counter
	state      prometheus.Gauge
}

// NewMetrics registers the client collectors with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_events_total",
			Help:      "Session events emitted, by kind",
		}, []string{"kind"}),

		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Protocol messages by direction and type",
		}, []string{"direction", "type"}),

		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rejections_total",
			Help:      "Commands and messages refused in the current state, by action",
		}, []string{"action"}),

		anomalies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_anomalies_total",
			Help:      "Server messages received outside their valid states",
		}),

		games: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "games_total",
			Help:      "Finished games by result",
		}, []string{"result"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Automatic reconnect attempts",
		}),

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "session_state",
			Help:      "Current session state (0=logged_out ... 6=game_over)",
		}),
	}
}

// observe records one session event
func (m *Metrics) observe(ev session.Event, state session.State) {
	if m == nil {
		return
	}

	m.events.WithLabelValues(ev.Kind()).Inc()
	m.state.Set(float64(state))

	switch e := ev.(type) {
	case session.Issued:
		m.messages.WithLabelValues("out", e.Command.Type()).Inc()
	case session.Received:
		if e.Anomaly {
			m.anomalies.Inc()
		}
		tag := e.Message.Type()
		if se, ok := e.Message.(protocol.ServerError); ok && se.Local {
			tag = "undecodable"
		}
		m.messages.WithLabelValues("in", tag).Inc()
		if ge, ok := e.Message.(protocol.GameEnded); ok {
			m.games.WithLabelValues(string(ge.Result)).Inc()
		}
	case session.UnknownMessage:
		m.messages.WithLabelValues("in", "unknown").Inc()
	case session.Rejected:
		m.rejections.WithLabelValues(e.Action).Inc()
	}
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
