package pool

import (
	"fmt"

	"github.com/holiman/uint256"
)

// SlippageBound is the window a price-sensitive amount must land in.
// A nil Min means zero and a nil Max means no upper limit.
type SlippageBound struct {
	Min *uint256.Int `json:"min,omitempty"`
	Max *uint256.Int `json:"max,omitempty"`
}

// Unbounded accepts any amount.
func Unbounded() SlippageBound { return SlippageBound{} }

// MinOut accepts any amount of at least lo.
func MinOut(lo *uint256.Int) SlippageBound { return SlippageBound{Min: lo} }

// Between accepts amounts in [lo, hi].
func Between(lo, hi *uint256.Int) SlippageBound { return SlippageBound{Min: lo, Max: hi} }

// Check returns ErrSlippageExceeded when amount lies outside the bound.
func (b SlippageBound) Check(amount *uint256.Int) error {
	if b.Min != nil && amount.Lt(b.Min) {
		return fmt.Errorf("%w: %s below minimum %s", ErrSlippageExceeded, amount.Dec(), b.Min.Dec())
	}
	if b.Max != nil && b.Max.Lt(amount) {
		return fmt.Errorf("%w: %s above maximum %s", ErrSlippageExceeded, amount.Dec(), b.Max.Dec())
	}
	return nil
}

func (b SlippageBound) String() string {
	lo, hi := "0", "inf"
	if b.Min != nil {
		lo = b.Min.Dec()
	}
	if b.Max != nil {
		hi = b.Max.Dec()
	}
	return "[" + lo + ", " + hi + "]"
}
