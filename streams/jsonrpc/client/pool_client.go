package client

import (
	"context"
	"fmt"

	"github.com/defistate/defistate-amm-go/fixedpoint"
	"github.com/defistate/defistate-amm-go/pool"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct/calculator"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/rpcerr"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/server"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

// BoundFromQuote widens quote by maxSlippageBps on each side, rounding the
// floor down and the ceiling up.
func BoundFromQuote(quote *uint256.Int, maxSlippageBps uint16) (pool.SlippageBound, error) {
	if quote == nil {
		return pool.SlippageBound{}, fmt.Errorf("%w: nil quote", pool.ErrInvalidAmount)
	}
	if maxSlippageBps > calculator.BasisPoints {
		return pool.SlippageBound{}, fmt.Errorf("slippage of %d bps exceeds 100%%", maxSlippageBps)
	}
	bps := uint256.NewInt(calculator.BasisPoints)
	lo, err := fixedpoint.MulDiv(quote, uint256.NewInt(uint64(calculator.BasisPoints-maxSlippageBps)), bps, fixedpoint.RoundDown)
	if err != nil {
		return pool.SlippageBound{}, err
	}
	hi, err := fixedpoint.MulDiv(quote, uint256.NewInt(uint64(calculator.BasisPoints+uint64(maxSlippageBps))), bps, fixedpoint.RoundUp)
	if err != nil {
		return pool.SlippageBound{}, err
	}
	return pool.Between(lo, hi), nil
}

// PoolClient calls the amm namespace. Errors carrying a pool reason are
// converted back so errors.Is matches the pool sentinels.
type PoolClient struct {
	rpc *rpc.Client
}

// NewPoolClient wraps an already dialed rpc client.
func NewPoolClient(c *rpc.Client) *PoolClient {
	return &PoolClient{rpc: c}
}

// DialPoolClient connects to url.
func DialPoolClient(ctx context.Context, url string) (*PoolClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewPoolClient(c), nil
}

func (c *PoolClient) Close() {
	c.rpc.Close()
}

func (c *PoolClient) call(ctx context.Context, result any, method string, args ...any) error {
	return rpcerr.ToError(c.rpc.CallContext(ctx, result, server.RpcNamespace+"_"+method, args...))
}

// RegisterPool adds an empty pool; a nil id takes the next free one.
func (c *PoolClient) RegisterPool(ctx context.Context, id *uint64) (uint64, error) {
	var poolID uint64
	args := []any{}
	if id != nil {
		args = append(args, *id)
	}
	err := c.call(ctx, &poolID, "registerPool", args...)
	return poolID, err
}

func (c *PoolClient) Pools(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := c.call(ctx, &ids, "pools")
	return ids, err
}

func (c *PoolClient) CreatePool(ctx context.Context, poolID uint64, caller common.Address, amountA, amountB *uint256.Int) (*uint256.Int, error) {
	var shares *uint256.Int
	err := c.call(ctx, &shares, "createPool", poolID, caller, amountA, amountB)
	return shares, err
}

func (c *PoolClient) AddLiquidity(ctx context.Context, poolID uint64, caller common.Address, amountA *uint256.Int, bound pool.SlippageBound) (*server.LiquidityResult, error) {
	var res server.LiquidityResult
	if err := c.call(ctx, &res, "addLiquidity", poolID, caller, amountA, bound.Min, bound.Max); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *PoolClient) RemoveLiquidity(ctx context.Context, poolID uint64, caller common.Address, shares *uint256.Int, bound pool.SlippageBound) (*server.LiquidityResult, error) {
	var res server.LiquidityResult
	if err := c.call(ctx, &res, "removeLiquidity", poolID, caller, shares, bound.Min, bound.Max); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *PoolClient) RemoveAllLiquidity(ctx context.Context, poolID uint64, caller common.Address, bound pool.SlippageBound) (*server.LiquidityResult, error) {
	var res server.LiquidityResult
	if err := c.call(ctx, &res, "removeAllLiquidity", poolID, caller, bound.Min, bound.Max); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *PoolClient) RemoveLiquidityForAmountA(ctx context.Context, poolID uint64, caller common.Address, amountA *uint256.Int, bound pool.SlippageBound) (*server.LiquidityResult, error) {
	var res server.LiquidityResult
	if err := c.call(ctx, &res, "removeLiquidityForAmountA", poolID, caller, amountA, bound.Min, bound.Max); err != nil {
		return nil, err
	}
	return &res, nil
}

// Swap sells amountIn in direction dir for at least minOut.
func (c *PoolClient) Swap(ctx context.Context, poolID uint64, caller common.Address, dir constantproduct.Direction, amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	method := "swapAForB"
	if dir == constantproduct.BToA {
		method = "swapBForA"
	}
	var out *uint256.Int
	err := c.call(ctx, &out, method, poolID, caller, amountIn, minOut)
	return out, err
}

func (c *PoolClient) Quote(ctx context.Context, poolID uint64, amountIn *uint256.Int, dir constantproduct.Direction) (*uint256.Int, error) {
	var out *uint256.Int
	err := c.call(ctx, &out, "quote", poolID, amountIn, dir.String())
	return out, err
}

func (c *PoolClient) QuoteAmountIn(ctx context.Context, poolID uint64, amountOut *uint256.Int, dir constantproduct.Direction) (*uint256.Int, error) {
	var in *uint256.Int
	err := c.call(ctx, &in, "quoteAmountIn", poolID, amountOut, dir.String())
	return in, err
}

// SimulateSwap prices a swap against a copy of the pool and returns the
// reserves it would leave.
func (c *PoolClient) SimulateSwap(ctx context.Context, poolID uint64, amountIn *uint256.Int, dir constantproduct.Direction) (*server.SwapSimulation, error) {
	var sim server.SwapSimulation
	if err := c.call(ctx, &sim, "simulateSwap", poolID, amountIn, dir.String()); err != nil {
		return nil, err
	}
	return &sim, nil
}

func (c *PoolClient) PairedAmount(ctx context.Context, poolID uint64, amountA *uint256.Int) (*uint256.Int, error) {
	var amountB *uint256.Int
	err := c.call(ctx, &amountB, "pairedAmount", poolID, amountA)
	return amountB, err
}

func (c *PoolClient) Reserves(ctx context.Context, poolID uint64) (pool.Reserves, error) {
	var reserves pool.Reserves
	err := c.call(ctx, &reserves, "getReserves", poolID)
	return reserves, err
}

func (c *PoolClient) ShareBalance(ctx context.Context, poolID uint64, provider common.Address) (*uint256.Int, error) {
	var shares *uint256.Int
	err := c.call(ctx, &shares, "getShareBalance", poolID, provider)
	return shares, err
}

func (c *PoolClient) TotalShares(ctx context.Context, poolID uint64) (*uint256.Int, error) {
	var total *uint256.Int
	err := c.call(ctx, &total, "getTotalShares", poolID)
	return total, err
}

func (c *PoolClient) PoolState(ctx context.Context, poolID uint64) (*server.PoolState, error) {
	var state server.PoolState
	if err := c.call(ctx, &state, "getPoolState", poolID); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *PoolClient) Events(ctx context.Context, poolID, fromSequence uint64) ([]pool.Event, error) {
	var events []pool.Event
	err := c.call(ctx, &events, "events", poolID, fromSequence)
	return events, err
}

// SubscribeEvents streams committed events into ch. A nil poolID follows
// every pool.
func (c *PoolClient) SubscribeEvents(ctx context.Context, poolID *uint64, ch chan<- pool.Event) (*rpc.ClientSubscription, error) {
	args := []any{}
	if poolID != nil {
		args = append(args, *poolID)
	}
	sub, err := c.rpc.Subscribe(ctx, server.RpcNamespace, ch, append([]any{"subscribeEvents"}, args...)...)
	return sub, rpcerr.ToError(err)
}
