package server

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/defistate/defistate-amm-go/differ"
	"github.com/defistate/defistate-amm-go/pool"
	"github.com/defistate/defistate-amm-go/protocols/poolregistry"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/rpcerr"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/stateops"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type testEnv struct {
	server *Server
	ops    *stateops.StateOps
	client *rpc.Client
	events *fakeEvents
}

type fakeEvents struct {
	events []pool.Event
}

func (f *fakeEvents) Publish(_ context.Context, ev pool.Event) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEvents) Events(poolID, fromSequence uint64) ([]pool.Event, error) {
	var out []pool.Event
	for _, ev := range f.events {
		if ev.PoolID == poolID && ev.Sequence >= fromSequence {
			out = append(out, ev)
		}
	}
	return out, nil
}

func newTestEnv(t *testing.T, bufferSize int) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	reg := prometheus.NewRegistry()

	ops, err := stateops.NewStateOps(logger, reg)
	require.NoError(t, err)
	metrics, err := pool.NewMetrics(reg)
	require.NoError(t, err)

	env := &testEnv{ops: ops, events: &fakeEvents{}}
	registry, err := poolregistry.New(&poolregistry.Config{
		FeeBps:  30,
		Journal: env.events,
		Publisher: pool.PublisherFunc(func(ctx context.Context, ev pool.Event) error {
			return env.server.Publish(ctx, ev)
		}),
		Metrics: metrics,
		Logger:  logger,
	})
	require.NoError(t, err)
	_, err = registry.Create(1)
	require.NoError(t, err)

	env.server, err = New(&Config{
		Registry:   registry,
		Differ:     ops,
		Events:     env.events,
		Registerer: reg,
		Logger:     logger,
		BufferSize: bufferSize,
	})
	require.NoError(t, err)

	rpcServer := rpc.NewServer()
	require.NoError(t, env.server.Register(rpcServer))
	t.Cleanup(rpcServer.Stop)

	env.client = rpc.DialInProc(rpcServer)
	t.Cleanup(env.client.Close)
	return env
}

func (e *testEnv) call(t *testing.T, result any, method string, args ...any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.client.CallContext(ctx, result, RpcNamespace+"_"+method, args...)
}

func TestNew(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
}

func TestAPI_Operations(t *testing.T) {
	env := newTestEnv(t, 8)

	var shares *uint256.Int
	require.NoError(t, env.call(t, &shares, "createPool", 1, alice, uint256.NewInt(1_000_000), uint256.NewInt(1_000_000)))
	assert.Equal(t, uint64(1_000_000), shares.Uint64())

	var quote *uint256.Int
	require.NoError(t, env.call(t, &quote, "quote", 1, uint256.NewInt(1000), "a_to_b"))
	assert.Equal(t, uint64(996), quote.Uint64())

	var out *uint256.Int
	require.NoError(t, env.call(t, &out, "swapAForB", 1, bob, uint256.NewInt(1000), quote))
	assert.Equal(t, uint64(996), out.Uint64())

	var reserves pool.Reserves
	require.NoError(t, env.call(t, &reserves, "getReserves", 1))
	assert.Equal(t, uint64(1_001_000), reserves.A.Uint64())
	assert.Equal(t, uint64(999_004), reserves.B.Uint64())

	var added LiquidityResult
	require.NoError(t, env.call(t, &added, "addLiquidity", 1, bob, uint256.NewInt(10_000)))
	assert.False(t, added.Shares.IsZero())

	var balance *uint256.Int
	require.NoError(t, env.call(t, &balance, "getShareBalance", 1, bob))
	assert.True(t, balance.Eq(added.Shares))

	var removed LiquidityResult
	require.NoError(t, env.call(t, &removed, "removeAllLiquidity", 1, bob))
	assert.True(t, removed.Shares.Eq(added.Shares))
	burned := env.events.events[len(env.events.events)-1]
	assert.True(t, removed.Shares.Eq(burned.Shares), "reports the shares the pool burned")

	var state PoolState
	require.NoError(t, env.call(t, &state, "getPoolState", 1))
	assert.Equal(t, "active", state.Status)
	assert.Equal(t, uint64(4), state.Sequence)
	assert.Len(t, state.Positions, 1)

	var events []pool.Event
	require.NoError(t, env.call(t, &events, "events", 1, 2))
	require.Len(t, events, 3)
	assert.Equal(t, pool.EventSwap, events[0].Kind)
}

func TestAPI_PoolStateRates(t *testing.T) {
	env := newTestEnv(t, 8)

	t.Run("should omit rates while the pool is empty", func(t *testing.T) {
		var state PoolState
		require.NoError(t, env.call(t, &state, "getPoolState", 1))
		assert.Equal(t, uint8(18), state.RateDecimals)
		assert.Nil(t, state.RateAToB)
		assert.Nil(t, state.ExecutionRateBToA)
	})

	t.Run("should price both directions once seeded", func(t *testing.T) {
		require.NoError(t, env.call(t, nil, "createPool", 1, alice, uint256.NewInt(1_000_000), uint256.NewInt(1_000_000)))
		var state PoolState
		require.NoError(t, env.call(t, &state, "getPoolState", 1))

		one := uint256.MustFromDecimal("1000000000000000000")
		assert.True(t, state.RateAToB.Eq(one))
		assert.True(t, state.RateBToA.Eq(one))
		// 1% of the reserve buys 9871 after fee and impact
		assert.Equal(t, "987100000000000000", state.ExecutionRateAToB.Dec())
		assert.Equal(t, "987100000000000000", state.ExecutionRateBToA.Dec())
		assert.Equal(t, "1000000000000", state.Invariant.ToInt().String())
	})
}

func TestAPI_SimulateSwap(t *testing.T) {
	env := newTestEnv(t, 8)

	err := rpcerr.ToError(env.call(t, nil, "simulateSwap", 1, uint256.NewInt(2000), "a_to_b"))
	assert.ErrorIs(t, err, pool.ErrNotInitialized)

	require.NoError(t, env.call(t, nil, "createPool", 1, alice, uint256.NewInt(1_000_000), uint256.NewInt(1_000_000)))

	var sim SwapSimulation
	require.NoError(t, env.call(t, &sim, "simulateSwap", 1, uint256.NewInt(2000), "a_to_b"))
	assert.Equal(t, uint64(1990), sim.AmountOut.Uint64())
	assert.Equal(t, uint64(1_002_000), sim.ReserveA.Uint64())
	assert.Equal(t, uint64(998_010), sim.ReserveB.Uint64())

	var reserves pool.Reserves
	require.NoError(t, env.call(t, &reserves, "getReserves", 1))
	assert.Equal(t, uint64(1_000_000), reserves.A.Uint64(), "the pool is untouched")

	var out *uint256.Int
	require.NoError(t, env.call(t, &out, "swapAForB", 1, bob, uint256.NewInt(2000), sim.AmountOut))
	assert.True(t, out.Eq(sim.AmountOut))

	err = rpcerr.ToError(env.call(t, nil, "simulateSwap", 1, uint256.NewInt(0), "b_to_a"))
	assert.ErrorIs(t, err, pool.ErrInvalidAmount)
}

func TestAPI_Errors(t *testing.T) {
	env := newTestEnv(t, 8)
	require.NoError(t, env.call(t, nil, "createPool", 1, alice, uint256.NewInt(1_000_000), uint256.NewInt(1_000_000)))

	tests := []struct {
		name   string
		method string
		args   []any
		want   error
		code   int
	}{
		{name: "slippage", method: "swapAForB", args: []any{1, bob, uint256.NewInt(1000), uint256.NewInt(997)}, want: pool.ErrSlippageExceeded, code: rpcerr.CodeRejected},
		{name: "no shares", method: "removeAllLiquidity", args: []any{1, bob}, want: pool.ErrInsufficientShares, code: rpcerr.CodeRejected},
		{name: "already created", method: "createPool", args: []any{1, bob, uint256.NewInt(1), uint256.NewInt(1)}, want: pool.ErrAlreadyInitialized, code: rpcerr.CodeRejected},
		{name: "unknown pool", method: "getReserves", args: []any{9}, want: poolregistry.ErrPoolNotFound, code: rpcerr.CodeNotFound},
		{name: "missing amount", method: "swapBForA", args: []any{1, bob}, want: pool.ErrInvalidAmount, code: rpcerr.CodeRejected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := rpcerr.ToError(env.call(t, nil, tc.method, tc.args...))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			var rerr *rpcerr.Error
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tc.code, rerr.Code)
		})
	}

	err := env.call(t, nil, "quote", 1, uint256.NewInt(1), "sideways")
	var codeErr rpc.Error
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, rpcerr.CodeInvalidParams, codeErr.ErrorCode())
}

func TestAPI_RegisterPool(t *testing.T) {
	env := newTestEnv(t, 8)

	var id uint64
	require.NoError(t, env.call(t, &id, "registerPool"))
	assert.Equal(t, uint64(2), id)
	require.NoError(t, env.call(t, &id, "registerPool", 10))
	assert.Equal(t, uint64(10), id)

	err := rpcerr.ToError(env.call(t, &id, "registerPool", 10))
	assert.ErrorIs(t, err, poolregistry.ErrPoolExists)

	var ids []uint64
	require.NoError(t, env.call(t, &ids, "pools"))
	assert.Equal(t, []uint64{1, 2, 10}, ids)
	assert.Len(t, env.server.State().Pools, 3)
}

func receive(t *testing.T, ch <-chan *SubscriptionEvent) *SubscriptionEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
		return nil
	}
}

func TestSubscribeStateStream(t *testing.T) {
	env := newTestEnv(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan *SubscriptionEvent, 16)
	sub, err := env.client.Subscribe(ctx, RpcNamespace, ch, "subscribeStateStream")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	first := receive(t, ch)
	require.Equal(t, EventTypeFull, first.Type)
	mirror, err := env.ops.DecodeStateJSON(first.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), mirror.Sequence)

	require.NoError(t, env.call(t, nil, "createPool", 1, alice, uint256.NewInt(5000), uint256.NewInt(8000)))
	require.NoError(t, env.call(t, nil, "swapBForA", 1, bob, uint256.NewInt(100)))

	for i := 0; i < 2; i++ {
		ev := receive(t, ch)
		require.Equal(t, EventTypeDiff, ev.Type)
		diff, err := env.ops.DecodeStateDiffJSON(ev.Payload)
		require.NoError(t, err)
		mirror, err = env.ops.Patch(mirror, diff)
		require.NoError(t, err)
	}

	current := env.server.State()
	assert.Equal(t, current.Sequence, mirror.Sequence)
	assert.Equal(t, current.Pools, mirror.Pools)
}

func TestSubscribeStateStream_ResyncsLaggingSubscriber(t *testing.T) {
	env := newTestEnv(t, 1)
	s := env.server

	state, sub := s.subscribeState()
	defer s.stateHub.unsubscribe(sub)
	assert.Equal(t, uint64(1), state.Sequence)

	p, err := s.registry.Get(1)
	require.NoError(t, err)
	_, err = p.CreatePool(context.Background(), alice, uint256.NewInt(1000), uint256.NewInt(1000))
	require.NoError(t, err)
	_, err = p.SwapAForB(context.Background(), bob, uint256.NewInt(10), nil)
	require.NoError(t, err)

	// the second diff did not fit in the buffer
	assert.True(t, sub.lagged.Load())
	update := <-sub.ch
	assert.Equal(t, uint64(2), update.toSequence)
	assert.Equal(t, uint64(3), s.State().Sequence)
}

func TestSubscribeEvents(t *testing.T) {
	env := newTestEnv(t, 8)
	var id uint64
	require.NoError(t, env.call(t, &id, "registerPool"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan pool.Event, 16)
	sub, err := env.client.Subscribe(ctx, RpcNamespace, ch, "subscribeEvents", 1)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, env.call(t, nil, "createPool", id, alice, uint256.NewInt(10), uint256.NewInt(10)))
	require.NoError(t, env.call(t, nil, "createPool", 1, bob, uint256.NewInt(1000), uint256.NewInt(2000)))

	select {
	case ev := <-ch:
		assert.Equal(t, uint64(1), ev.PoolID)
		assert.Equal(t, pool.EventCreatePool, ev.Kind)
		assert.Equal(t, bob, ev.Caller)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	_, err = env.client.Subscribe(ctx, RpcNamespace, make(chan pool.Event), "subscribeEvents", 77)
	assert.ErrorIs(t, rpcerr.ToError(err), poolregistry.ErrPoolNotFound)
}

func TestPublishSkipsUnchangedState(t *testing.T) {
	env := newTestEnv(t, 8)
	before := env.server.State()
	env.server.Refresh()
	assert.Same(t, before, env.server.State())
}

var _ StateDiffer = (*differ.StateDiffer)(nil)
