package ws

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	roomKindPersonal = "personal"
	roomKindChat     = "chat"

	dropMalformed    = "malformed"
	dropUnknownEvent = "unknown_event"
	dropQueueFull    = "queue_full"
	dropForbidden    = "forbidden"
)

// Metrics are the relay's prometheus collectors.
type Metrics struct {
	Emissions *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Sessions  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg, when given.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Emissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mechat",
			Subsystem: "relay",
			Name:      "emissions_total",
			Help:      "Room broadcasts performed by the relay, by room kind.",
		}, []string{"room"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mechat",
			Subsystem: "relay",
			Name:      "dropped_events_total",
			Help:      "Inbound events ignored or outbound frames dropped, by reason.",
		}, []string{"reason"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mechat",
			Subsystem: "relay",
			Name:      "sessions",
			Help:      "Live websocket sessions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Emissions, m.Dropped, m.Sessions)
	}
	return m
}
