package rpcerr

import (
	"errors"

	"github.com/defistate/defistate-amm-go/pool"
	"github.com/defistate/defistate-amm-go/protocols/poolregistry"
	"github.com/ethereum/go-ethereum/rpc"
)

// Error codes sent to RPC callers. The reason label travels as error data so
// clients can map it back to a sentinel.
const (
	CodeInvalidParams = -32602
	CodeInternal      = -32603

	CodeRejected    = -32010 // expected, recoverable outcome
	CodeBusy        = -32011
	CodeNotFound    = -32012
	CodeUnavailable = -32013
	CodeFatal       = -32020
)

const (
	reasonPoolNotFound  = "pool_not_found"
	reasonPoolExists    = "pool_exists"
	reasonInvalidParams = "invalid_params"
)

var sentinels = map[string]error{
	"slippage_exceeded":      pool.ErrSlippageExceeded,
	"insufficient_shares":    pool.ErrInsufficientShares,
	"insufficient_liquidity": pool.ErrInsufficientLiquidity,
	"already_initialized":    pool.ErrAlreadyInitialized,
	"not_initialized":        pool.ErrNotInitialized,
	"pool_busy":              pool.ErrPoolBusy,
	"journal_unavailable":    pool.ErrJournalUnavailable,
	"invalid_amount":         pool.ErrInvalidAmount,
	"invalid_fee":            pool.ErrInvalidFee,
	"division_by_zero":       pool.ErrDivisionByZero,
	"negative_reserve":       pool.ErrNegativeReserve,
	"arithmetic_overflow":    pool.ErrArithmeticOverflow,
	"invariant_violation":    pool.ErrInvariantViolation,
	reasonPoolNotFound:       poolregistry.ErrPoolNotFound,
	reasonPoolExists:         poolregistry.ErrPoolExists,
}

// Error is a JSON-RPC error carrying a stable reason label.
type Error struct {
	Code    int
	Reason  string
	Message string
}

var (
	_ rpc.Error     = (*Error)(nil)
	_ rpc.DataError = (*Error)(nil)
)

func (e *Error) Error() string { return e.Message }
func (e *Error) ErrorCode() int { return e.Code }
func (e *Error) ErrorData() any { return e.Reason }

// Unwrap returns the sentinel named by Reason, if any.
func (e *Error) Unwrap() error { return sentinels[e.Reason] }

// InvalidParams reports a malformed request argument.
func InvalidParams(err error) *Error {
	return &Error{Code: CodeInvalidParams, Reason: reasonInvalidParams, Message: err.Error()}
}

// FromError converts an error returned by the pool layer into an RPC error.
func FromError(err error) error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr
	}

	switch {
	case errors.Is(err, poolregistry.ErrPoolNotFound):
		return &Error{Code: CodeNotFound, Reason: reasonPoolNotFound, Message: err.Error()}
	case errors.Is(err, poolregistry.ErrPoolExists):
		return &Error{Code: CodeRejected, Reason: reasonPoolExists, Message: err.Error()}
	}

	reason := pool.Reason(err)
	code := CodeRejected
	switch {
	case reason == "pool_busy":
		code = CodeBusy
	case reason == "journal_unavailable":
		code = CodeUnavailable
	case pool.IsFatal(err), reason == "division_by_zero", reason == "negative_reserve":
		code = CodeFatal
	case reason == "internal":
		code = CodeInternal
	}
	return &Error{Code: code, Reason: reason, Message: err.Error()}
}

// ToError rebuilds a typed error from an error returned by an RPC call, so
// that errors.Is matches the pool sentinels. Other errors are returned as is.
func ToError(err error) error {
	if err == nil {
		return nil
	}
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return err
	}
	reason, ok := dataErr.ErrorData().(string)
	if !ok {
		return err
	}
	code := CodeInternal
	var codeErr rpc.Error
	if errors.As(err, &codeErr) {
		code = codeErr.ErrorCode()
	}
	return &Error{Code: code, Reason: reason, Message: err.Error()}
}
