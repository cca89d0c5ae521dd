package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Rounding selects how MulDiv resolves a non-zero remainder.
type Rounding uint8

const (
	// RoundDown truncates towards zero. Use it for amounts the pool pays out.
	RoundDown Rounding = iota
	// RoundUp rounds away from zero. Use it for amounts owed to the pool.
	RoundUp
)

func (r Rounding) String() string {
	switch r {
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return fmt.Sprintf("rounding(%d)", uint8(r))
	}
}

var (
	// ErrArithmeticOverflow is returned when a result does not fit in 256 bits.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	// ErrArithmeticUnderflow is returned when an unsigned subtraction would go below zero.
	ErrArithmeticUnderflow = errors.New("arithmetic underflow")
	// ErrDivisionByZero is returned when a denominator is zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrNilOperand is returned when any operand is a nil pointer.
	ErrNilOperand = errors.New("nil operand")
)

// MulDiv computes a*b/denom with a 512-bit intermediate product, so a*b may
// exceed 256 bits as long as the quotient does not.
// The inputs are never modified; the result is always a fresh value.
func MulDiv(a, b, denom *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if a == nil || b == nil || denom == nil {
		return nil, ErrNilOperand
	}
	if denom.IsZero() {
		return nil, ErrDivisionByZero
	}
	if a.IsZero() || b.IsZero() {
		return new(uint256.Int), nil
	}

	quotient, overflow := new(uint256.Int).MulDivOverflow(a, b, denom)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", ErrArithmeticOverflow, a.Dec(), b.Dec(), denom.Dec())
	}

	if rounding == RoundUp {
		remainder := new(uint256.Int).MulMod(a, b, denom)
		if !remainder.IsZero() {
			if _, carry := quotient.AddOverflow(quotient, uint256.NewInt(1)); carry {
				return nil, fmt.Errorf("%w: rounding %s * %s / %s up", ErrArithmeticOverflow, a.Dec(), b.Dec(), denom.Dec())
			}
		}
	}
	return quotient, nil
}

// Add returns a+b or ErrArithmeticOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil {
		return nil, ErrNilOperand
	}
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrArithmeticOverflow, a.Dec(), b.Dec())
	}
	return sum, nil
}

// Sub returns a-b or ErrArithmeticUnderflow when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil {
		return nil, ErrNilOperand
	}
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrArithmeticUnderflow, a.Dec(), b.Dec())
	}
	return diff, nil
}

// Mul returns a*b or ErrArithmeticOverflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	if a == nil || b == nil {
		return nil, ErrNilOperand
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrArithmeticOverflow, a.Dec(), b.Dec())
	}
	return product, nil
}

// Min returns a copy of the smaller operand.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// Sqrt returns floor(sqrt(x)).
func Sqrt(x *uint256.Int) (*uint256.Int, error) {
	if x == nil {
		return nil, ErrNilOperand
	}
	return new(uint256.Int).Sqrt(x), nil
}
