package activitypub

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats counts federation traffic. A nil *Stats records nothing.
type Stats struct {
	deliveries *prometheus.CounterVec
	skips      *prometheus.CounterVec
	inbound    *prometheus.CounterVec
}

func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mammut",
			Name:      "deliveries_total",
			Help:      "Outbound activity deliveries by result.",
		}, []string{"result"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mammut",
			Name:      "delivery_skips_total",
			Help:      "Deliveries skipped by host policy.",
		}, []string{"reason"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mammut",
			Name:      "inbound_activities_total",
			Help:      "Inbound activities by type and outcome.",
		}, []string{"type", "outcome"}),
	}
	reg.MustRegister(s.deliveries, s.skips, s.inbound)
	return s
}

func (s *Stats) delivered(ok bool) {
	if s == nil {
		return
	}
	if ok {
		s.deliveries.WithLabelValues("success").Inc()
	} else {
		s.deliveries.WithLabelValues("failure").Inc()
	}
}

func (s *Stats) skipped(reason string) {
	if s == nil {
		return
	}
	s.skips.WithLabelValues(reason).Inc()
}

// outcome is "ok", "skip" or "error".
func (s *Stats) received(activityType, outcome string) {
	if s == nil {
		return
	}
	s.inbound.WithLabelValues(activityType, outcome).Inc()
}
