package pool

import (
	"fmt"

	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/holiman/uint256"
)

// Restore loads a previously persisted snapshot into a pool that has never
// been mutated. Later events continue from sequence.
func (p *Pool) Restore(snap constantproduct.Pool, sequence uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sequence != 0 || !p.state.reserves.IsZero() {
		return fmt.Errorf("%w: pool %d already has state", ErrAlreadyInitialized, p.id)
	}
	if snap.ID != p.id {
		return fmt.Errorf("restore: snapshot is for pool %d, not %d", snap.ID, p.id)
	}

	reserves := Reserves{A: orZero(snap.ReserveA), B: orZero(snap.ReserveB)}
	if reserves.A.IsZero() != reserves.B.IsZero() {
		return fmt.Errorf("%w: restore with reserves %s/%s", ErrInvariantViolation, reserves.A.Dec(), reserves.B.Dec())
	}

	ledger := NewLiquidityLedger()
	for _, pos := range snap.Positions {
		if err := ledger.Mint(pos.Provider, pos.Shares); err != nil {
			return fmt.Errorf("restore position %s: %w", pos.Provider.Hex(), err)
		}
	}
	if !ledger.total.Eq(orZero(snap.TotalShares)) {
		return fmt.Errorf("%w: positions sum to %s, supply is %s", ErrInvariantViolation, ledger.total.Dec(), orZero(snap.TotalShares).Dec())
	}
	if ledger.total.IsZero() != reserves.A.IsZero() {
		return fmt.Errorf("%w: supply %s against reserves %s/%s", ErrInvariantViolation, ledger.total.Dec(), reserves.A.Dec(), reserves.B.Dec())
	}

	p.state.commit(reserves)
	p.ledger = ledger
	p.sequence = sequence
	p.metrics.setState(p.label, p.state.reserves, p.ledger.total, p.ledger.Providers())
	p.logger.Info("pool restored", "pool", p.id, "sequence", sequence, "reserve_a", reserves.A.Dec(), "reserve_b", reserves.B.Dec())
	return nil
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x.Clone()
}
