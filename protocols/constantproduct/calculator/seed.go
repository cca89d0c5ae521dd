package calculator

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-amm-go/fixedpoint"
	"github.com/holiman/uint256"
)

// SeedFunc decides the share supply minted by the first deposit into an
// empty pool.
type SeedFunc func(amountA, amountB *uint256.Int) (*uint256.Int, error)

// SeedAmountA seeds the supply with the deposited amount of asset A.
func SeedAmountA(amountA, amountB *uint256.Int) (*uint256.Int, error) {
	if err := notNil(amountA, amountB); err != nil {
		return nil, err
	}
	return amountA.Clone(), nil
}

// SeedGeometricMean seeds the supply with floor(sqrt(amountA * amountB)),
// which makes the initial share value independent of which asset is A.
func SeedGeometricMean(amountA, amountB *uint256.Int) (*uint256.Int, error) {
	if err := notNil(amountA, amountB); err != nil {
		return nil, err
	}
	product, overflow := new(uint256.Int).MulOverflow(amountA, amountB)
	if !overflow {
		return fixedpoint.Sqrt(product)
	}

	wide := new(big.Int).Mul(amountA.ToBig(), amountB.ToBig())
	root, overflow := uint256.FromBig(wide.Sqrt(wide))
	if overflow {
		// sqrt of a 512-bit value always fits in 256 bits
		return nil, fmt.Errorf("%w: sqrt(%s * %s)", fixedpoint.ErrArithmeticOverflow, amountA.Dec(), amountB.Dec())
	}
	return root, nil
}

// SeedByName resolves a seed function from its config name.
func SeedByName(name string) (SeedFunc, error) {
	switch name {
	case "", "amount_a":
		return SeedAmountA, nil
	case "geometric_mean":
		return SeedGeometricMean, nil
	default:
		return nil, fmt.Errorf("unknown share seed %q", name)
	}
}
