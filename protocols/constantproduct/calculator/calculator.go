package calculator

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-amm-go/fixedpoint"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/holiman/uint256"
)

// BasisPoints is 100% expressed in basis points.
const BasisPoints = 10000

// MaxDecimals is the largest exponent with 10^MaxDecimals below 2^256.
const MaxDecimals = 77

var (
	// basisPointDivisor is a constant representing 100% in basis points (10000).
	basisPointDivisor = uint256.NewInt(BasisPoints)

	// precomputed 10^dec for typical ERC20 decimals (0..18)
	precomputedScales [19]*uint256.Int

	// ErrNilAmount is returned when a nil pointer is passed for an amount or reserve.
	ErrNilAmount = errors.New("nil pointer passed as amount")
	// ErrInvalidAmount is returned when an amount is zero where a positive value is required.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidFee is returned when the fee is 100% or more.
	ErrInvalidFee = errors.New("fee must be below 10000 bps")
	// ErrInsufficientLiquidity is returned when a reserve is empty or a trade would drain one side.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrSharesExceedSupply is returned when more shares are redeemed than exist.
	ErrSharesExceedSupply = errors.New("shares exceed total supply")
	// ErrInvalidDecimals is returned for a scale above MaxDecimals.
	ErrInvalidDecimals = errors.New("decimals out of range")
)

func init() {
	ten := uint256.NewInt(10)
	precomputedScales[0] = uint256.NewInt(1)
	for i := 1; i < len(precomputedScales); i++ {
		precomputedScales[i] = new(uint256.Int).Mul(precomputedScales[i-1], ten)
	}
}

// GetScaledDecimal returns 10^dec. It returns a *uint256.Int that MUST NOT be modified.
// If dec <= 18 we return the precomputed immutable value.
func GetScaledDecimal(dec uint8) (*uint256.Int, error) {
	if int(dec) < len(precomputedScales) {
		return precomputedScales[dec], nil
	}
	if dec > MaxDecimals {
		return nil, fmt.Errorf("%w: 10^%d overflows 256 bits", ErrInvalidDecimals, dec)
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(dec))), nil
}

func feeMultiplier(feeBps uint16) (*uint256.Int, error) {
	if feeBps >= BasisPoints {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFee, feeBps)
	}
	return uint256.NewInt(uint64(BasisPoints - feeBps)), nil
}

func notNil(xs ...*uint256.Int) error {
	for _, x := range xs {
		if x == nil {
			return ErrNilAmount
		}
	}
	return nil
}

// GetAmountOut returns how much of the out-reserve a swap of amountIn buys.
// The fee is taken from the input side and the result rounds down:
//
//	amountOut = reserveOut * amountIn * (10000 - fee) / (reserveIn * 10000 + amountIn * (10000 - fee))
func GetAmountOut(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint16) (*uint256.Int, error) {
	if err := notNil(amountIn, reserveIn, reserveOut); err != nil {
		return nil, err
	}
	multiplier, err := feeMultiplier(feeBps)
	if err != nil {
		return nil, err
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, fmt.Errorf("%w: reserves %s/%s", ErrInsufficientLiquidity, reserveIn.Dec(), reserveOut.Dec())
	}
	if amountIn.IsZero() {
		return new(uint256.Int), nil
	}

	amountInWithFee, err := fixedpoint.Mul(amountIn, multiplier)
	if err != nil {
		return nil, err
	}
	denominator, err := fixedpoint.Mul(reserveIn, basisPointDivisor)
	if err != nil {
		return nil, err
	}
	if denominator, err = fixedpoint.Add(denominator, amountInWithFee); err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(reserveOut, amountInWithFee, denominator, fixedpoint.RoundDown)
}

// GetAmountIn returns the smallest input that buys at least amountOut.
// It rounds up so the pool is never undercharged:
//
//	amountIn = ceil(reserveIn * amountOut * 10000 / ((reserveOut - amountOut) * (10000 - fee)))
func GetAmountIn(amountOut, reserveIn, reserveOut *uint256.Int, feeBps uint16) (*uint256.Int, error) {
	if err := notNil(amountOut, reserveIn, reserveOut); err != nil {
		return nil, err
	}
	multiplier, err := feeMultiplier(feeBps)
	if err != nil {
		return nil, err
	}
	if reserveIn.IsZero() || reserveOut.IsZero() || !amountOut.Lt(reserveOut) {
		return nil, fmt.Errorf("%w: requested amountOut (%s) is >= reserveOut (%s)", ErrInsufficientLiquidity, amountOut.Dec(), reserveOut.Dec())
	}
	if amountOut.IsZero() {
		return new(uint256.Int), nil
	}

	numerator, err := fixedpoint.Mul(reserveIn, amountOut)
	if err != nil {
		return nil, err
	}
	remaining := new(uint256.Int).Sub(reserveOut, amountOut)
	denominator, err := fixedpoint.Mul(remaining, multiplier)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(numerator, basisPointDivisor, denominator, fixedpoint.RoundUp)
}

// ProportionalAmount returns knownAmount * otherReserve / knownReserve, the
// paired amount that keeps the pool price unchanged. Deposits should round up
// and withdrawals round down.
func ProportionalAmount(knownAmount, knownReserve, otherReserve *uint256.Int, rounding fixedpoint.Rounding) (*uint256.Int, error) {
	if err := notNil(knownAmount, knownReserve, otherReserve); err != nil {
		return nil, err
	}
	if knownReserve.IsZero() || otherReserve.IsZero() {
		return nil, fmt.Errorf("%w: reserves %s/%s", ErrInsufficientLiquidity, knownReserve.Dec(), otherReserve.Dec())
	}
	return fixedpoint.MulDiv(knownAmount, otherReserve, knownReserve, rounding)
}

// SharesForDeposit returns the shares minted for depositing amountA.
// An empty supply seeds shares = amountA; otherwise
// shares = totalSupply * amountA / reserveA, rounded down.
func SharesForDeposit(amountA, totalSupply, reserveA *uint256.Int) (*uint256.Int, error) {
	if err := notNil(amountA, totalSupply, reserveA); err != nil {
		return nil, err
	}
	if totalSupply.IsZero() {
		return amountA.Clone(), nil
	}
	if reserveA.IsZero() {
		return nil, fmt.Errorf("%w: %s shares outstanding against an empty reserve", ErrInsufficientLiquidity, totalSupply.Dec())
	}
	return fixedpoint.MulDiv(totalSupply, amountA, reserveA, fixedpoint.RoundDown)
}

// SharesForWithdrawal returns the shares that must be burned to withdraw
// amountA, rounded up so the provider never burns less than their claim.
func SharesForWithdrawal(amountA, totalSupply, reserveA *uint256.Int) (*uint256.Int, error) {
	if err := notNil(amountA, totalSupply, reserveA); err != nil {
		return nil, err
	}
	if totalSupply.IsZero() || reserveA.IsZero() {
		return nil, fmt.Errorf("%w: supply %s, reserveA %s", ErrInsufficientLiquidity, totalSupply.Dec(), reserveA.Dec())
	}
	if reserveA.Lt(amountA) {
		return nil, fmt.Errorf("%w: amountA %s exceeds reserveA %s", ErrInsufficientLiquidity, amountA.Dec(), reserveA.Dec())
	}
	return fixedpoint.MulDiv(amountA, totalSupply, reserveA, fixedpoint.RoundUp)
}

// AmountsForWithdrawal returns the reserves owed for burning sharesBurned,
// each rounded down.
func AmountsForWithdrawal(sharesBurned, totalSupply, reserveA, reserveB *uint256.Int) (amountA, amountB *uint256.Int, err error) {
	if err := notNil(sharesBurned, totalSupply, reserveA, reserveB); err != nil {
		return nil, nil, err
	}
	if totalSupply.IsZero() {
		return nil, nil, fmt.Errorf("%w: no shares outstanding", ErrInsufficientLiquidity)
	}
	if totalSupply.Lt(sharesBurned) {
		return nil, nil, fmt.Errorf("%w: %s > %s", ErrSharesExceedSupply, sharesBurned.Dec(), totalSupply.Dec())
	}
	if amountA, err = fixedpoint.MulDiv(reserveA, sharesBurned, totalSupply, fixedpoint.RoundDown); err != nil {
		return nil, nil, err
	}
	if amountB, err = fixedpoint.MulDiv(reserveB, sharesBurned, totalSupply, fixedpoint.RoundDown); err != nil {
		return nil, nil, err
	}
	return amountA, amountB, nil
}

// GetAmountOutForPool is GetAmountOut against a pool snapshot in the given direction.
func GetAmountOutForPool(amountIn *uint256.Int, dir constantproduct.Direction, pool constantproduct.Pool) (*uint256.Int, error) {
	reserveIn, reserveOut, err := pool.Reserves(dir)
	if err != nil {
		return nil, err
	}
	return GetAmountOut(amountIn, reserveIn, reserveOut, pool.FeeBps)
}

// SimulateSwap calculates the result of a swap without touching the input pool.
// The returned pool owns fresh reserve values.
func SimulateSwap(amountIn *uint256.Int, dir constantproduct.Direction, pool constantproduct.Pool) (*uint256.Int, constantproduct.Pool, error) {
	amountOut, err := GetAmountOutForPool(amountIn, dir, pool)
	if err != nil {
		return nil, constantproduct.Pool{}, err
	}

	reserveIn, reserveOut, _ := pool.Reserves(dir)
	newReserveIn, err := fixedpoint.Add(reserveIn, amountIn)
	if err != nil {
		return nil, constantproduct.Pool{}, err
	}
	// amountOut < reserveOut always holds for the formula above
	newReserveOut := new(uint256.Int).Sub(reserveOut, amountOut)

	newPoolState := constantproduct.DeepCopyPool(pool)
	if dir == constantproduct.AToB {
		newPoolState.ReserveA, newPoolState.ReserveB = newReserveIn, newReserveOut
	} else {
		newPoolState.ReserveA, newPoolState.ReserveB = newReserveOut, newReserveIn
	}
	return amountOut, newPoolState, nil
}

// Invariant returns K = reserveA * reserveB. The product of two 256-bit
// reserves needs up to 512 bits, so it is a big.Int.
func Invariant(reserveA, reserveB *uint256.Int) *big.Int {
	if reserveA == nil || reserveB == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(reserveA.ToBig(), reserveB.ToBig())
}

// SpotRate returns reserveOut / reserveIn scaled by 10^decimals, the
// marginal price before fees. It is meant for display layers.
func SpotRate(dir constantproduct.Direction, decimals uint8, pool constantproduct.Pool) (*uint256.Int, error) {
	reserveIn, reserveOut, err := pool.Reserves(dir)
	if err != nil {
		return nil, err
	}
	if err := notNil(reserveIn, reserveOut); err != nil {
		return nil, err
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, fmt.Errorf("%w: pool %d has an empty reserve", ErrInsufficientLiquidity, pool.ID)
	}
	scale, err := GetScaledDecimal(decimals)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(reserveOut, scale, reserveIn, fixedpoint.RoundDown)
}

// GetExchangeRate returns the executed rate for a trade of 1% of the input
// reserve, scaled by 10^decimalsIn. Unlike SpotRate it includes the fee and
// price impact.
func GetExchangeRate(dir constantproduct.Direction, decimalsIn uint8, pool constantproduct.Pool) (*uint256.Int, error) {
	scale, err := GetScaledDecimal(decimalsIn)
	if err != nil {
		return nil, err
	}
	reserveIn, _, err := pool.Reserves(dir)
	if err != nil {
		return nil, err
	}
	if reserveIn == nil || reserveIn.IsZero() {
		return nil, fmt.Errorf("%w: pool %d has an empty reserve", ErrInsufficientLiquidity, pool.ID)
	}

	amountIn := new(uint256.Int).Div(reserveIn, uint256.NewInt(100))
	if amountIn.IsZero() {
		return nil, fmt.Errorf("%w: reserve %s too small to sample", ErrInsufficientLiquidity, reserveIn.Dec())
	}

	amountOut, err := GetAmountOutForPool(amountIn, dir, pool)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(amountOut, scale, amountIn, fixedpoint.RoundDown)
}
