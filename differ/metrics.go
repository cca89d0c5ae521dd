package differ

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors reported by StateDiffer.
type Metrics struct {
	diffDuration prometheus.Histogram
	diffErrors   prometheus.Counter
	poolChanges  *prometheus.CounterVec
}

// NewMetrics creates the differ collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		diffDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "amm",
			Subsystem: "differ",
			Name:      "diff_duration_seconds",
			Help:      "Time taken to diff two consecutive states",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		diffErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amm",
			Subsystem: "differ",
			Name:      "errors_total",
			Help:      "States that could not be diffed",
		}),
		poolChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amm",
			Subsystem: "differ",
			Name:      "pool_changes_total",
			Help:      "Pool additions, updates and deletions emitted in diffs",
		}, []string{"change"}),
	}

	var err error
	if m.diffDuration, err = register(reg, m.diffDuration); err != nil {
		return nil, err
	}
	if m.diffErrors, err = register(reg, m.diffErrors); err != nil {
		return nil, err
	}
	if m.poolChanges, err = register(reg, m.poolChanges); err != nil {
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
