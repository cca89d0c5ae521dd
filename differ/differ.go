package differ

import (
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-amm-go/engine"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolDiffer computes the pool-level diff between two snapshots.
type PoolDiffer func(old, new []constantproduct.Pool) constantproduct.SystemDiff

// StateDifferConfig holds the differ function and dependencies.
type StateDifferConfig struct {
	// PoolDiffer defaults to constantproduct.Differ.
	PoolDiffer PoolDiffer
	Registry   prometheus.Registerer
	Logger     Logger
	// Clock stamps diffs. Nil means time.Now.
	Clock func() time.Time
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *StateDifferConfig) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// StateDiffer computes StateDiffs between consecutive published states.
type StateDiffer struct {
	metrics    *Metrics
	logger     Logger
	poolDiffer PoolDiffer
	now        func() time.Time
}

// NewStateDiffer constructs a new differ from a configuration, returning an error if the config is invalid.
func NewStateDiffer(cfg *StateDifferConfig) (*StateDiffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Registry)
	if err != nil {
		return nil, err
	}
	poolDiffer := cfg.PoolDiffer
	if poolDiffer == nil {
		poolDiffer = constantproduct.Differ
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &StateDiffer{
		metrics:    metrics,
		logger:     cfg.Logger,
		poolDiffer: poolDiffer,
		now:        now,
	}, nil
}

// Diff compares two states of the same schema. Neither state may carry an
// error, and new must come after old.
func (d *StateDiffer) Diff(old, new *engine.State) (*StateDiff, error) {
	totalTimer := prometheus.NewTimer(d.metrics.diffDuration)
	defer totalTimer.ObserveDuration()

	if old == nil || new == nil {
		d.metrics.diffErrors.Inc()
		return nil, errors.New("differ: nil state")
	}
	if old.HasErrors() || new.HasErrors() {
		d.metrics.diffErrors.Inc()
		return nil, errors.New("differ: received state with error")
	}
	if old.Schema != new.Schema {
		d.metrics.diffErrors.Inc()
		return nil, fmt.Errorf("differ: schema mismatch (old=%s, new=%s)", old.Schema, new.Schema)
	}
	if new.Sequence <= old.Sequence {
		d.metrics.diffErrors.Inc()
		return nil, fmt.Errorf("differ: sequence did not advance (old=%d, new=%d)", old.Sequence, new.Sequence)
	}

	pools := d.poolDiffer(old.Pools, new.Pools)
	d.metrics.poolChanges.WithLabelValues("addition").Add(float64(len(pools.Additions)))
	d.metrics.poolChanges.WithLabelValues("update").Add(float64(len(pools.Updates)))
	d.metrics.poolChanges.WithLabelValues("deletion").Add(float64(len(pools.Deletions)))

	d.logger.Debug("state diffed",
		"from_sequence", old.Sequence,
		"to_sequence", new.Sequence,
		"additions", len(pools.Additions),
		"updates", len(pools.Updates),
		"deletions", len(pools.Deletions),
	)

	return &StateDiff{
		Timestamp:    uint64(d.now().UnixNano()),
		FromSequence: old.Sequence,
		ToSequence:   new.Sequence,
		Schema:       new.Schema,
		Pools:        pools,
	}, nil
}
