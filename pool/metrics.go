package pool

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by every pool in a process.
type Metrics struct {
	operations          *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	swapVolume          *prometheus.CounterVec
	reserves            *prometheus.GaugeVec
	totalShares         *prometheus.GaugeVec
	providers           *prometheus.GaugeVec
	publishFailures     *prometheus.CounterVec
	journalFailures     *prometheus.CounterVec
	invariantViolations *prometheus.CounterVec
}

// NewMetrics creates the pool collectors and registers them with reg.
// Collectors already registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "amm",
				Subsystem: "pool",
				Name:      "operations_total",
				Help:      "Pool operations by outcome",
			},
			[]string{"pool_id", "operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "amm",
				Subsystem: "pool",
				Name:      "operation_duration_seconds",
				Help:      "Time spent inside pool operations, lock wait included",
				Buckets:   []float64{.000005, .00001, .000025, .00005, .0001, .00025, .0005, .001, .005, .01},
			},
			[]string{"operation"},
		),
		swapVolume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "amm",
				Subsystem: "pool",
				Name:      "swap_volume_total",
				Help:      "Swap input volume in base units",
			},
			[]string{"pool_id", "asset"},
		),
		reserves: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "amm",
				Subsystem: "pool",
				Name:      "reserves",
				Help:      "Current pool reserves in base units",
			},
			[]string{"pool_id", "asset"},
		),
		totalShares: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "amm",
				Subsystem: "pool",
				Name:      "total_shares",
				Help:      "Outstanding liquidity shares",
			},
			[]string{"pool_id"},
		),
		providers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "amm",
				Subsystem: "pool",
				Name:      "providers",
				Help:      "Providers holding a non-zero share balance",
			},
			[]string{"pool_id"},
		),
		publishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "amm",
				Subsystem: "pool",
				Name:      "event_publish_failures_total",
				Help:      "Committed events the publisher failed to accept",
			},
			[]string{"pool_id"},
		),
		journalFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "amm",
				Subsystem: "pool",
				Name:      "journal_write_failures_total",
				Help:      "Journal writes that failed and were queued for retry",
			},
			[]string{"pool_id"},
		),
		invariantViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "amm",
				Subsystem: "pool",
				Name:      "invariant_violations_total",
				Help:      "Operations aborted by an internal consistency check",
			},
			[]string{"pool_id"},
		),
	}

	var err error
	if m.operations, err = register(reg, m.operations); err != nil {
		return nil, err
	}
	if m.operationDuration, err = register(reg, m.operationDuration); err != nil {
		return nil, err
	}
	if m.swapVolume, err = register(reg, m.swapVolume); err != nil {
		return nil, err
	}
	if m.reserves, err = register(reg, m.reserves); err != nil {
		return nil, err
	}
	if m.totalShares, err = register(reg, m.totalShares); err != nil {
		return nil, err
	}
	if m.providers, err = register(reg, m.providers); err != nil {
		return nil, err
	}
	if m.publishFailures, err = register(reg, m.publishFailures); err != nil {
		return nil, err
	}
	if m.journalFailures, err = register(reg, m.journalFailures); err != nil {
		return nil, err
	}
	if m.invariantViolations, err = register(reg, m.invariantViolations); err != nil {
		return nil, err
	}
	return m, nil
}

// register returns the collector already registered under the same
// descriptor, if any, so several NewMetrics calls can share one registry.
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

func (m *Metrics) setState(poolID string, reserves Reserves, totalShares *uint256.Int, providers int) {
	m.reserves.WithLabelValues(poolID, "a").Set(reserves.A.Float64())
	m.reserves.WithLabelValues(poolID, "b").Set(reserves.B.Float64())
	m.totalShares.WithLabelValues(poolID).Set(totalShares.Float64())
	m.providers.WithLabelValues(poolID).Set(float64(providers))
}
