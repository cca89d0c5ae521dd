package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors reported by the stream server.
type Metrics struct {
	subscribers   *prometheus.GaugeVec
	notifications *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	sequence      prometheus.Gauge
}

// NewMetrics creates the server collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "amm",
			Subsystem: "rpc",
			Name:      "subscribers",
			Help:      "Active stream subscriptions",
		}, []string{"stream"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amm",
			Subsystem: "rpc",
			Name:      "notifications_total",
			Help:      "Notifications sent to subscribers",
		}, []string{"stream", "type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amm",
			Subsystem: "rpc",
			Name:      "dropped_total",
			Help:      "Broadcasts a lagging subscriber missed",
		}, []string{"stream"}),
		sequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amm",
			Subsystem: "rpc",
			Name:      "state_sequence",
			Help:      "Sequence of the latest published state",
		}),
	}

	var err error
	if m.subscribers, err = register(reg, m.subscribers); err != nil {
		return nil, err
	}
	if m.notifications, err = register(reg, m.notifications); err != nil {
		return nil, err
	}
	if m.dropped, err = register(reg, m.dropped); err != nil {
		return nil, err
	}
	if m.sequence, err = register(reg, m.sequence); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
