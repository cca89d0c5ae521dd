package pool

import (
	"errors"

	"github.com/defistate/defistate-amm-go/fixedpoint"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct/calculator"
)

// Errors raised by the arithmetic and pricing layers, re-exported so callers
// only need this package for errors.Is checks.
var (
	ErrArithmeticOverflow    = fixedpoint.ErrArithmeticOverflow
	ErrDivisionByZero        = fixedpoint.ErrDivisionByZero
	ErrInsufficientLiquidity = calculator.ErrInsufficientLiquidity
	ErrInvalidAmount         = calculator.ErrInvalidAmount
	ErrInvalidFee            = calculator.ErrInvalidFee
)

var (
	// ErrNegativeReserve is returned when a delta would take a reserve below zero.
	// It indicates a bug in the pricing math, not a caller mistake.
	ErrNegativeReserve = errors.New("negative reserve")
	// ErrSlippageExceeded is returned when a computed amount falls outside the caller's bound.
	ErrSlippageExceeded = errors.New("slippage exceeded")
	// ErrInsufficientShares is returned when a withdrawal exceeds the provider's balance.
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrAlreadyInitialized is returned by CreatePool on a pool that holds reserves.
	ErrAlreadyInitialized = errors.New("pool already initialized")
	// ErrNotInitialized is returned by operations that need an active pool.
	ErrNotInitialized = errors.New("pool not initialized")
	// ErrPoolBusy is returned under BusyReject when another operation holds the pool.
	ErrPoolBusy = errors.New("pool busy")
	// ErrJournalUnavailable is returned when earlier events are still waiting
	// for the journal. The operation changed nothing.
	ErrJournalUnavailable = errors.New("journal unavailable")
	// ErrInvariantViolation is returned when a swap would decrease K or leave
	// exactly one reserve empty.
	ErrInvariantViolation = errors.New("invariant violation")
)

// IsFatal reports whether err signals a bug in the pool core rather than an
// expected rejection. Fatal errors never leave partial state behind.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNegativeReserve) ||
		errors.Is(err, ErrArithmeticOverflow) ||
		errors.Is(err, fixedpoint.ErrArithmeticUnderflow) ||
		errors.Is(err, ErrInvariantViolation)
}

// Reason returns a short, stable label for err, used as a metric label and
// by the RPC layer.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrPoolBusy):
		return "pool_busy"
	case errors.Is(err, ErrJournalUnavailable):
		return "journal_unavailable"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, calculator.ErrNilAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidFee):
		return "invalid_fee"
	case errors.Is(err, ErrDivisionByZero):
		return "division_by_zero"
	case errors.Is(err, ErrNegativeReserve):
		return "negative_reserve"
	case errors.Is(err, ErrArithmeticOverflow), errors.Is(err, fixedpoint.ErrArithmeticUnderflow):
		return "arithmetic_overflow"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "internal"
	}
}
