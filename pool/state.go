package pool

import (
	"fmt"

	"github.com/defistate/defistate-amm-go/fixedpoint"
	"github.com/holiman/uint256"
)

// Reserves is a snapshot of the two reserve balances.
type Reserves struct {
	A *uint256.Int `json:"reserveA"`
	B *uint256.Int `json:"reserveB"`
}

// Clone returns a copy that shares no memory with r.
func (r Reserves) Clone() Reserves {
	return Reserves{A: r.A.Clone(), B: r.B.Clone()}
}

// IsZero reports whether both reserves are empty.
func (r Reserves) IsZero() bool {
	return r.A.IsZero() && r.B.IsZero()
}

// Change is a signed adjustment to one reserve.
type Change struct {
	Amount   *uint256.Int
	Negative bool
}

// Credit adds amount to a reserve.
func Credit(amount *uint256.Int) Change { return Change{Amount: amount} }

// Debit removes amount from a reserve.
func Debit(amount *uint256.Int) Change { return Change{Amount: amount, Negative: true} }

func (c Change) apply(reserve *uint256.Int) (*uint256.Int, error) {
	if c.Amount == nil {
		return reserve.Clone(), nil
	}
	if !c.Negative {
		return fixedpoint.Add(reserve, c.Amount)
	}
	if reserve.Lt(c.Amount) {
		return nil, fmt.Errorf("%w: %s - %s", ErrNegativeReserve, reserve.Dec(), c.Amount.Dec())
	}
	return new(uint256.Int).Sub(reserve, c.Amount), nil
}

// Delta adjusts both reserves together.
type Delta struct {
	A Change
	B Change
}

// poolState holds the reserves. It is not safe for concurrent use; the owning
// Pool serializes access.
type poolState struct {
	reserves Reserves
}

func newPoolState() *poolState {
	return &poolState{reserves: Reserves{A: new(uint256.Int), B: new(uint256.Int)}}
}

func (s *poolState) snapshot() Reserves {
	return s.reserves.Clone()
}

func (s *poolState) initialized() bool {
	return !s.reserves.A.IsZero() && !s.reserves.B.IsZero()
}

// preview computes the reserves after d without committing them. Either both
// reserves are empty or both are positive afterwards.
func (s *poolState) preview(d Delta) (Reserves, error) {
	a, err := d.A.apply(s.reserves.A)
	if err != nil {
		return Reserves{}, fmt.Errorf("reserveA: %w", err)
	}
	b, err := d.B.apply(s.reserves.B)
	if err != nil {
		return Reserves{}, fmt.Errorf("reserveB: %w", err)
	}
	if a.IsZero() != b.IsZero() {
		return Reserves{}, fmt.Errorf("%w: reserves would become %s/%s", ErrInvariantViolation, a.Dec(), b.Dec())
	}
	return Reserves{A: a, B: b}, nil
}

func (s *poolState) commit(r Reserves) {
	s.reserves = r
}

// applyDelta commits d to both reserves or to neither.
func (s *poolState) applyDelta(d Delta) error {
	next, err := s.preview(d)
	if err != nil {
		return err
	}
	s.commit(next)
	return nil
}
