package journal

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/defistate/defistate-amm-go/pool"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrGap is matched by a *GapError.
var ErrGap = errors.New("journal gap")

// GapError reports a missing sequence. Events from Next on cannot be
// applied until the missing ones are recovered or quarantined.
type GapError struct {
	PoolID uint64
	After  uint64 // last contiguous sequence
	Next   uint64 // first sequence past the gap
}

func (e *GapError) Error() string {
	return fmt.Sprintf("pool %d: journal gap after sequence %d (next is %d)", e.PoolID, e.After, e.Next)
}

func (e *GapError) Is(target error) bool { return target == ErrGap }

// Replay folds the events of poolID into the pool's latest snapshot and
// returns it with the last applied sequence. A pool with no events replays
// to an empty snapshot at sequence 0.
//
// On a gap Replay returns a *GapError together with the snapshot of the
// contiguous prefix, so a caller can restore that prefix and quarantine the
// rest.
func (j *Journal) Replay(poolID uint64, feeBps uint16) (constantproduct.Pool, uint64, error) {
	snap := constantproduct.Pool{
		ID:          poolID,
		ReserveA:    new(uint256.Int),
		ReserveB:    new(uint256.Int),
		TotalShares: new(uint256.Int),
		FeeBps:      feeBps,
	}
	balances := make(map[common.Address]*uint256.Int)
	var last uint64

	var gap *GapError
	err := j.scan(poolID, 0, func(ev pool.Event) error {
		if ev.Sequence != last+1 {
			gap = &GapError{PoolID: poolID, After: last, Next: ev.Sequence}
			return errStopScan
		}
		if err := applyShares(balances, ev); err != nil {
			return fmt.Errorf("pool %d sequence %d: %w", poolID, ev.Sequence, err)
		}
		snap.ReserveA = ev.ReserveA
		snap.ReserveB = ev.ReserveB
		snap.TotalShares = ev.TotalShares
		last = ev.Sequence
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return constantproduct.Pool{}, 0, err
	}

	snap.Positions = make([]constantproduct.Position, 0, len(balances))
	for provider, shares := range balances {
		snap.Positions = append(snap.Positions, constantproduct.Position{Provider: provider, Shares: shares})
	}
	sort.Slice(snap.Positions, func(i, k int) bool {
		return bytes.Compare(snap.Positions[i].Provider[:], snap.Positions[k].Provider[:]) < 0
	})
	if gap != nil {
		return snap, last, gap
	}
	return snap, last, nil
}

func applyShares(balances map[common.Address]*uint256.Int, ev pool.Event) error {
	if ev.Kind != pool.EventSwap && ev.Shares == nil {
		return fmt.Errorf("%s event without shares", ev.Kind)
	}
	switch ev.Kind {
	case pool.EventCreatePool, pool.EventAddLiquidity:
		balance, ok := balances[ev.Caller]
		if !ok {
			balance = new(uint256.Int)
		}
		balances[ev.Caller] = new(uint256.Int).Add(balance, ev.Shares)
	case pool.EventRemoveLiquidity:
		balance, ok := balances[ev.Caller]
		if !ok || balance.Lt(ev.Shares) {
			return fmt.Errorf("burn of %s exceeds balance of %s", ev.Shares.Dec(), ev.Caller.Hex())
		}
		remaining := new(uint256.Int).Sub(balance, ev.Shares)
		if remaining.IsZero() {
			delete(balances, ev.Caller)
		} else {
			balances[ev.Caller] = remaining
		}
	case pool.EventSwap:
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}
