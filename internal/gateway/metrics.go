package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the gateway-level Prometheus instruments. One instance is
// shared by the request and session gateways.
type Metrics struct {
	PaymentsVerified *prometheus.CounterVec
	PaymentsRejected *prometheus.CounterVec
	MatchFallbacks   prometheus.Counter
	Settlements      *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
}

// NewMetrics registers the gateway instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PaymentsVerified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xgate",
			Name:      "payments_verified_total",
			Help:      "Payments accepted by the facilitator, by resource kind.",
		}, []string{"kind"}),
		PaymentsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xgate",
			Name:      "payments_rejected_total",
			Help:      "Payments rejected before forwarding, by cause.",
		}, []string{"kind", "cause"}),
		MatchFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "xgate",
			Name:      "requirement_match_fallbacks_total",
			Help:      "Payments that matched no requirement and fell back to the first candidate.",
		}),
		Settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xgate",
			Name:      "settlements_total",
			Help:      "Settlement attempts after delivery, by status.",
		}, []string{"kind", "status"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "xgate",
			Name:      "active_sessions",
			Help:      "Currently open proxied websocket sessions.",
		}),
	}
}

// Rejection causes used as the "cause" label.
const (
	causeMissing   = "missing"
	causeMalformed = "malformed"
	causeInvalid   = "invalid"
)
