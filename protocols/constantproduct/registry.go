package constantproduct

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Schema is the decode contract for a slice of Pool snapshots.
const Schema = "defistate/constant-product/poolView@v1"

// Direction selects which reserve a swap pays into.
type Direction uint8

const (
	// AToB swaps asset A in for asset B out.
	AToB Direction = iota
	// BToA swaps asset B in for asset A out.
	BToA
)

func (d Direction) String() string {
	switch d {
	case AToB:
		return "a_to_b"
	case BToA:
		return "b_to_a"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// ParseDirection accepts the String form of a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "a_to_b", "a2b", "AToB":
		return AToB, nil
	case "b_to_a", "b2a", "BToA":
		return BToA, nil
	default:
		return 0, fmt.Errorf("unknown swap direction %q", s)
	}
}

// Position is one provider's share balance.
type Position struct {
	Provider common.Address `json:"provider"`
	Shares   *uint256.Int   `json:"shares"`
}

// Pool is a read-only snapshot of a two-reserve pool and its share ledger.
type Pool struct {
	ID          uint64       `json:"id"`
	ReserveA    *uint256.Int `json:"reserveA"`
	ReserveB    *uint256.Int `json:"reserveB"`
	TotalShares *uint256.Int `json:"totalShares"`
	FeeBps      uint16       `json:"feeBps"` // i.e 30 for 0.3%
	// Positions is sorted by provider address and never holds zero balances.
	Positions []Position `json:"positions,omitempty"`
}

// Initialized reports whether both reserves are positive.
func (p Pool) Initialized() bool {
	return p.ReserveA != nil && p.ReserveB != nil && !p.ReserveA.IsZero() && !p.ReserveB.IsZero()
}

// Reserves returns (reserveIn, reserveOut) for a swap in the given direction.
func (p Pool) Reserves(dir Direction) (reserveIn, reserveOut *uint256.Int, err error) {
	switch dir {
	case AToB:
		return p.ReserveA, p.ReserveB, nil
	case BToA:
		return p.ReserveB, p.ReserveA, nil
	}
	return nil, nil, fmt.Errorf("pool %d: unknown direction %d", p.ID, dir)
}
