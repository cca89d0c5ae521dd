package differ

import (
	"log/slog"
	"testing"
	"time"

	"github.com/defistate/defistate-amm-go/engine"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePool(id, reserveA, reserveB uint64) constantproduct.Pool {
	return constantproduct.Pool{
		ID:          id,
		ReserveA:    uint256.NewInt(reserveA),
		ReserveB:    uint256.NewInt(reserveB),
		TotalShares: uint256.NewInt(reserveA),
		FeeBps:      30,
	}
}

func makeState(seq uint64, pools ...constantproduct.Pool) *engine.State {
	return &engine.State{
		Sequence: seq,
		Schema:   constantproduct.Schema,
		Pools:    pools,
	}
}

func newTestDiffer(t *testing.T) *StateDiffer {
	t.Helper()
	d, err := NewStateDiffer(&StateDifferConfig{
		Registry: prometheus.NewRegistry(),
		Logger:   slog.New(slog.DiscardHandler),
		Clock:    func() time.Time { return time.Unix(0, 42) },
	})
	require.NoError(t, err)
	return d
}

func TestNewStateDiffer(t *testing.T) {
	_, err := NewStateDiffer(&StateDifferConfig{Logger: slog.New(slog.DiscardHandler)})
	assert.Error(t, err, "registry is required")

	_, err = NewStateDiffer(&StateDifferConfig{Registry: prometheus.NewRegistry()})
	assert.Error(t, err, "logger is required")

	reg := prometheus.NewRegistry()
	for i := 0; i < 2; i++ {
		_, err = NewStateDiffer(&StateDifferConfig{Registry: reg, Logger: slog.New(slog.DiscardHandler)})
		require.NoError(t, err, "collectors are reused on a shared registry")
	}
}

func TestStateDiffer_Diff(t *testing.T) {
	t.Run("should diff pools between sequences", func(t *testing.T) {
		d := newTestDiffer(t)
		old := makeState(1, makePool(1, 100, 100), makePool(2, 50, 50))
		new := makeState(2, makePool(1, 110, 91), makePool(3, 10, 10))

		diff, err := d.Diff(old, new)
		require.NoError(t, err)

		assert.Equal(t, uint64(1), diff.FromSequence)
		assert.Equal(t, uint64(2), diff.ToSequence)
		assert.Equal(t, uint64(42), diff.Timestamp)
		assert.Equal(t, engine.ProtocolSchema(constantproduct.Schema), diff.Schema)
		require.Len(t, diff.Pools.Additions, 1)
		assert.Equal(t, uint64(3), diff.Pools.Additions[0].ID)
		require.Len(t, diff.Pools.Updates, 1)
		assert.Equal(t, uint64(1), diff.Pools.Updates[0].ID)
		assert.Equal(t, []uint64{2}, diff.Pools.Deletions)

		assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.poolChanges.WithLabelValues("addition")))
		assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.poolChanges.WithLabelValues("update")))
		assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.poolChanges.WithLabelValues("deletion")))
	})

	t.Run("should produce an empty diff for identical pools", func(t *testing.T) {
		d := newTestDiffer(t)
		diff, err := d.Diff(makeState(1, makePool(1, 5, 5)), makeState(2, makePool(1, 5, 5)))
		require.NoError(t, err)
		assert.True(t, diff.IsEmpty())
	})

	t.Run("should reject invalid input", func(t *testing.T) {
		tests := []struct {
			name     string
			old, new *engine.State
		}{
			{name: "nil old", old: nil, new: makeState(2)},
			{name: "state with error", old: &engine.State{Sequence: 1, Schema: constantproduct.Schema, Error: "boom"}, new: makeState(2)},
			{name: "schema mismatch", old: &engine.State{Sequence: 1, Schema: "other"}, new: makeState(2)},
			{name: "sequence did not advance", old: makeState(2), new: makeState(2)},
		}
		d := newTestDiffer(t)
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := d.Diff(tc.old, tc.new)
				assert.Error(t, err)
			})
		}
		assert.Equal(t, float64(len(tests)), testutil.ToFloat64(d.metrics.diffErrors))
	})
}
