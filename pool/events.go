package pool

import (
	"context"
	"errors"

	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind names the operation that produced an Event.
type EventKind string

const (
	EventCreatePool      EventKind = "create_pool"
	EventAddLiquidity    EventKind = "add_liquidity"
	EventRemoveLiquidity EventKind = "remove_liquidity"
	EventSwap            EventKind = "swap"
)

// Event records one committed mutation. AmountA and AmountB are the absolute
// amounts of each asset that moved; Direction says which way for swaps.
type Event struct {
	PoolID      uint64         `json:"poolId"`
	Sequence    uint64         `json:"sequence"`
	Kind        EventKind      `json:"kind"`
	Caller      common.Address `json:"caller"`
	Direction   string         `json:"direction,omitempty"`
	AmountA     *uint256.Int   `json:"amountA"`
	AmountB     *uint256.Int   `json:"amountB"`
	Shares      *uint256.Int   `json:"shares,omitempty"`
	ReserveA    *uint256.Int   `json:"reserveA"`
	ReserveB    *uint256.Int   `json:"reserveB"`
	TotalShares *uint256.Int   `json:"totalShares"`
	Timestamp   int64          `json:"timestamp"` // unix nanoseconds
}

// SwapAmounts returns (amountIn, amountOut) for a swap event.
func (e Event) SwapAmounts() (amountIn, amountOut *uint256.Int) {
	if e.Direction == constantproduct.BToA.String() {
		return e.AmountB, e.AmountA
	}
	return e.AmountA, e.AmountB
}

//go:generate mockgen -destination=mocks/publisher.go -package=mocks . Publisher

// Publisher receives events after they are committed. A failed Publish never
// rolls back the pool; the publisher owns retry and reconciliation, using
// (PoolID, Sequence) as the idempotency key.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// MultiPublisher fans an event out to every publisher, in order. All
// publishers are attempted; their errors are joined.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
