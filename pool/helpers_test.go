package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

func n(v uint64) *uint256.Int { return uint256.NewInt(v) }

// recorder collects published events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func testMetrics(t require.TestingT) *Metrics {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func newTestPool(t require.TestingT, mutate ...func(*Config)) *Pool {
	cfg := &Config{
		ID:      1,
		FeeBps:  30,
		Metrics: testMetrics(t),
		Logger:  slog.New(slog.DiscardHandler),
		Clock:   func() time.Time { return time.Unix(1_700_000_000, 0) },
	}
	for _, m := range mutate {
		m(cfg)
	}
	p, err := NewPool(cfg)
	require.NoError(t, err)
	return p
}

// seededPool returns a pool created by alice with 1_000_000 of each asset.
func seededPool(t require.TestingT, mutate ...func(*Config)) *Pool {
	p := newTestPool(t, mutate...)
	_, err := p.CreatePool(context.Background(), alice, n(1_000_000), n(1_000_000))
	require.NoError(t, err)
	return p
}
