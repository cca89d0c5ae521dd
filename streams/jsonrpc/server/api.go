package server

import (
	"context"
	"fmt"

	"github.com/defistate/defistate-amm-go/pool"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct/calculator"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/rpcerr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

// LiquidityResult is returned by the liquidity operations.
type LiquidityResult struct {
	Shares  *uint256.Int `json:"shares"`
	AmountA *uint256.Int `json:"amountA"`
	AmountB *uint256.Int `json:"amountB"`
}

// PoolState is the full view of one pool returned by amm_getPoolState.
// Rates are scaled by 10^RateDecimals and left out while the pool is empty.
// The spot rates are reserve ratios; the execution rates price a trade of 1%
// of the input reserve, fee and price impact included.
type PoolState struct {
	constantproduct.Pool
	Status            string       `json:"status"`
	Sequence          uint64       `json:"sequence"`
	Invariant         *hexutil.Big `json:"invariant"`
	RateDecimals      uint8        `json:"rateDecimals"`
	RateAToB          *uint256.Int `json:"rateAToB,omitempty"`
	RateBToA          *uint256.Int `json:"rateBToA,omitempty"`
	ExecutionRateAToB *uint256.Int `json:"executionRateAToB,omitempty"`
	ExecutionRateBToA *uint256.Int `json:"executionRateBToA,omitempty"`
}

// SwapSimulation is the outcome of a swap priced against a copy of the pool.
type SwapSimulation struct {
	AmountOut *uint256.Int `json:"amountOut"`
	ReserveA  *uint256.Int `json:"reserveA"`
	ReserveB  *uint256.Int `json:"reserveB"`
	Invariant *hexutil.Big `json:"invariant"`
}

// API holds the methods served under the amm namespace. Callers identify
// themselves by address; authentication belongs to the transport in front.
type API struct {
	server *Server
}

func (api *API) pool(id uint64) (*pool.Pool, error) {
	p, err := api.server.registry.Get(id)
	if err != nil {
		return nil, rpcerr.FromError(err)
	}
	return p, nil
}

func parseDirection(s string) (constantproduct.Direction, error) {
	dir, err := constantproduct.ParseDirection(s)
	if err != nil {
		return 0, rpcerr.InvalidParams(err)
	}
	return dir, nil
}

// RegisterPool adds an empty pool. A nil id takes the next free one.
func (api *API) RegisterPool(id *uint64) (uint64, error) {
	var (
		p   *pool.Pool
		err error
	)
	if id == nil {
		p, err = api.server.registry.CreateNext()
	} else {
		p, err = api.server.registry.Create(*id)
	}
	if err != nil {
		return 0, rpcerr.FromError(err)
	}
	api.server.Refresh()
	return p.ID(), nil
}

// Pools lists the registered pool IDs.
func (api *API) Pools() []uint64 {
	return api.server.registry.IDs()
}

func (api *API) CreatePool(ctx context.Context, poolID uint64, caller common.Address, amountA, amountB *uint256.Int) (*uint256.Int, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	shares, err := p.CreatePool(ctx, caller, amountA, amountB)
	return shares, rpcerr.FromError(err)
}

// AddLiquidity deposits amountA and the matching B, which must land in
// [minB, maxB]. Either bound may be omitted.
func (api *API) AddLiquidity(ctx context.Context, poolID uint64, caller common.Address, amountA, minB, maxB *uint256.Int) (*LiquidityResult, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	shares, amountB, err := p.AddLiquidity(ctx, caller, amountA, pool.Between(minB, maxB))
	if err != nil {
		return nil, rpcerr.FromError(err)
	}
	return &LiquidityResult{Shares: shares, AmountA: amountA, AmountB: amountB}, nil
}

func (api *API) RemoveLiquidity(ctx context.Context, poolID uint64, caller common.Address, shares, minB, maxB *uint256.Int) (*LiquidityResult, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	amountA, amountB, err := p.RemoveLiquidity(ctx, caller, shares, pool.Between(minB, maxB))
	if err != nil {
		return nil, rpcerr.FromError(err)
	}
	return &LiquidityResult{Shares: shares, AmountA: amountA, AmountB: amountB}, nil
}

func (api *API) RemoveAllLiquidity(ctx context.Context, poolID uint64, caller common.Address, minB, maxB *uint256.Int) (*LiquidityResult, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	shares, amountA, amountB, err := p.RemoveAllLiquidity(ctx, caller, pool.Between(minB, maxB))
	if err != nil {
		return nil, rpcerr.FromError(err)
	}
	return &LiquidityResult{Shares: shares, AmountA: amountA, AmountB: amountB}, nil
}

func (api *API) RemoveLiquidityForAmountA(ctx context.Context, poolID uint64, caller common.Address, amountA, minB, maxB *uint256.Int) (*LiquidityResult, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	shares, amountB, err := p.RemoveLiquidityForAmountA(ctx, caller, amountA, pool.Between(minB, maxB))
	if err != nil {
		return nil, rpcerr.FromError(err)
	}
	return &LiquidityResult{Shares: shares, AmountA: amountA, AmountB: amountB}, nil
}

func (api *API) SwapAForB(ctx context.Context, poolID uint64, caller common.Address, amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	out, err := p.SwapAForB(ctx, caller, amountIn, minOut)
	return out, rpcerr.FromError(err)
}

func (api *API) SwapBForA(ctx context.Context, poolID uint64, caller common.Address, amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	out, err := p.SwapBForA(ctx, caller, amountIn, minOut)
	return out, rpcerr.FromError(err)
}

// Quote prices a swap of amountIn in direction ("a_to_b" or "b_to_a").
func (api *API) Quote(poolID uint64, amountIn *uint256.Int, direction string) (*uint256.Int, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	dir, err := parseDirection(direction)
	if err != nil {
		return nil, err
	}
	out, err := p.Quote(amountIn, dir)
	return out, rpcerr.FromError(err)
}

// QuoteAmountIn prices the input needed to receive amountOut.
func (api *API) QuoteAmountIn(poolID uint64, amountOut *uint256.Int, direction string) (*uint256.Int, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	dir, err := parseDirection(direction)
	if err != nil {
		return nil, err
	}
	in, err := p.QuoteAmountIn(amountOut, dir)
	return in, rpcerr.FromError(err)
}

// PairedAmount returns the B deposit AddLiquidity would take for amountA.
func (api *API) PairedAmount(poolID uint64, amountA *uint256.Int) (*uint256.Int, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	amountB, err := p.PairedAmount(amountA)
	return amountB, rpcerr.FromError(err)
}

func (api *API) GetReserves(poolID uint64) (*pool.Reserves, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	reserves := p.Reserves()
	return &reserves, nil
}

func (api *API) GetShareBalance(poolID uint64, provider common.Address) (*uint256.Int, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	return p.ShareBalance(provider), nil
}

func (api *API) GetTotalShares(poolID uint64) (*uint256.Int, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	return p.TotalShares(), nil
}

func (api *API) GetPoolState(poolID uint64) (*PoolState, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	snap := p.Snapshot()
	state := &PoolState{
		Pool:         snap,
		Status:       p.Status().String(),
		Sequence:     p.Sequence(),
		Invariant:    (*hexutil.Big)(calculator.Invariant(snap.ReserveA, snap.ReserveB)),
		RateDecimals: api.server.decimals,
	}
	if !snap.Initialized() {
		return state, nil
	}
	// a rate that cannot be priced, i.e. a reserve under 100 units, stays empty
	state.RateAToB, _ = calculator.SpotRate(constantproduct.AToB, api.server.decimals, snap)
	state.RateBToA, _ = calculator.SpotRate(constantproduct.BToA, api.server.decimals, snap)
	state.ExecutionRateAToB, _ = calculator.GetExchangeRate(constantproduct.AToB, api.server.decimals, snap)
	state.ExecutionRateBToA, _ = calculator.GetExchangeRate(constantproduct.BToA, api.server.decimals, snap)
	return state, nil
}

// SimulateSwap prices a swap of amountIn and reports the reserves it would
// leave, without changing the pool.
func (api *API) SimulateSwap(poolID uint64, amountIn *uint256.Int, direction string) (*SwapSimulation, error) {
	p, err := api.pool(poolID)
	if err != nil {
		return nil, err
	}
	dir, err := parseDirection(direction)
	if err != nil {
		return nil, err
	}
	snap := p.Snapshot()
	if !snap.Initialized() {
		return nil, rpcerr.FromError(fmt.Errorf("%w: pool %d", pool.ErrNotInitialized, poolID))
	}
	if amountIn == nil || amountIn.IsZero() {
		return nil, rpcerr.FromError(fmt.Errorf("%w: amountIn", pool.ErrInvalidAmount))
	}
	amountOut, next, err := calculator.SimulateSwap(amountIn, dir, snap)
	if err != nil {
		return nil, rpcerr.FromError(err)
	}
	return &SwapSimulation{
		AmountOut: amountOut,
		ReserveA:  next.ReserveA,
		ReserveB:  next.ReserveB,
		Invariant: (*hexutil.Big)(calculator.Invariant(next.ReserveA, next.ReserveB)),
	}, nil
}

// Events replays persisted events of poolID from fromSequence on.
func (api *API) Events(poolID uint64, fromSequence uint64) ([]pool.Event, error) {
	if api.server.events == nil {
		return nil, &rpcerr.Error{Code: rpcerr.CodeInternal, Reason: "internal", Message: "event journal is not enabled"}
	}
	if _, err := api.pool(poolID); err != nil {
		return nil, err
	}
	events, err := api.server.events.Events(poolID, fromSequence)
	if err != nil {
		return nil, rpcerr.FromError(err)
	}
	return events, nil
}

// SubscribeStateStream sends the current state, then a diff for every
// change. A subscriber that falls behind receives a fresh full state.
func (api *API) SubscribeStateStream(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	s := api.server
	rpcSub := notifier.CreateSubscription()
	state, sub := s.subscribeState()

	go func() {
		defer s.stateHub.unsubscribe(sub)
		s.metrics.subscribers.WithLabelValues("state").Inc()
		defer s.metrics.subscribers.WithLabelValues("state").Dec()

		sendFull := func(state any) error {
			full, err := newSubscriptionEvent(EventTypeFull, state, s.now())
			if err != nil {
				return err
			}
			s.metrics.notifications.WithLabelValues("state", EventTypeFull).Inc()
			return notifier.Notify(rpcSub.ID, full)
		}

		if err := sendFull(state); err != nil {
			s.logger.Warn("failed to send full state", "subscription", rpcSub.ID, "error", err)
			return
		}
		lastSequence := state.Sequence

		for {
			select {
			case update := <-sub.ch:
				if sub.lagged.Swap(false) {
					current := s.State()
					if err := sendFull(current); err != nil {
						s.logger.Warn("failed to resync subscriber", "subscription", rpcSub.ID, "error", err)
						return
					}
					lastSequence = current.Sequence
				}
				if update.toSequence <= lastSequence {
					continue
				}
				if err := notifier.Notify(rpcSub.ID, update.event); err != nil {
					s.logger.Warn("failed to notify subscriber", "subscription", rpcSub.ID, "error", err)
					return
				}
				s.metrics.notifications.WithLabelValues("state", EventTypeDiff).Inc()
				lastSequence = update.toSequence
			case <-rpcSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}

// SubscribeEvents streams committed pool events, optionally for one pool.
func (api *API) SubscribeEvents(ctx context.Context, poolID *uint64) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	if poolID != nil {
		if _, err := api.pool(*poolID); err != nil {
			return nil, err
		}
	}
	s := api.server
	rpcSub := notifier.CreateSubscription()
	sub := s.eventHub.subscribe()

	go func() {
		defer s.eventHub.unsubscribe(sub)
		s.metrics.subscribers.WithLabelValues("events").Inc()
		defer s.metrics.subscribers.WithLabelValues("events").Dec()

		for {
			select {
			case ev := <-sub.ch:
				if sub.lagged.Swap(false) {
					s.logger.Warn("event subscriber lagging, events were dropped", "subscription", rpcSub.ID)
				}
				if poolID != nil && ev.PoolID != *poolID {
					continue
				}
				if err := notifier.Notify(rpcSub.ID, ev); err != nil {
					s.logger.Warn("failed to notify subscriber", "subscription", rpcSub.ID, "error", err)
					return
				}
				s.metrics.notifications.WithLabelValues("events", string(ev.Kind)).Inc()
			case <-rpcSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}
