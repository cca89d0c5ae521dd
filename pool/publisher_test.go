package pool_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/defistate/defistate-amm-go/pool"
	"github.com/defistate/defistate-amm-go/pool/mocks"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newPool(t *testing.T, publisher pool.Publisher) *pool.Pool {
	metrics, err := pool.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	p, err := pool.NewPool(&pool.Config{
		ID:        9,
		FeeBps:    30,
		Publisher: publisher,
		Metrics:   metrics,
		Logger:    slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	return p
}

func TestPublisher_CalledOncePerCommit(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	caller := common.HexToAddress("0x01")

	gomock.InOrder(
		publisher.EXPECT().Publish(gomock.Any(), gomock.Cond(func(x any) bool {
			ev := x.(pool.Event)
			return ev.Kind == pool.EventCreatePool && ev.Sequence == 1 && ev.PoolID == 9
		})).Return(nil),
		publisher.EXPECT().Publish(gomock.Any(), gomock.Cond(func(x any) bool {
			ev := x.(pool.Event)
			return ev.Kind == pool.EventSwap && ev.Sequence == 2 && ev.Caller == caller
		})).Return(errors.New("journal unavailable")),
	)

	p := newPool(t, publisher)
	_, err := p.CreatePool(context.Background(), caller, uint256.NewInt(1_000_000), uint256.NewInt(1_000_000))
	require.NoError(t, err)

	out, err := p.SwapAForB(context.Background(), caller, uint256.NewInt(1000), nil)
	require.NoError(t, err, "publish failures are not surfaced to the caller")
	assert.Equal(t, uint64(996), out.Uint64())

	// rejected operations never reach the publisher
	_, err = p.SwapAForB(context.Background(), caller, uint256.NewInt(1000), uint256.NewInt(1_000_000))
	require.ErrorIs(t, err, pool.ErrSlippageExceeded)
}

func TestPublisher_ReceivesCallerContext(t *testing.T) {
	type ctxKey struct{}
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)

	ctx := context.WithValue(context.Background(), ctxKey{}, "request-1")
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(got context.Context, _ pool.Event) error {
		assert.Equal(t, "request-1", got.Value(ctxKey{}))
		return nil
	})

	p := newPool(t, publisher)
	_, err := p.CreatePool(ctx, common.HexToAddress("0x02"), uint256.NewInt(10), uint256.NewInt(10))
	require.NoError(t, err)
}

func TestPublisher_DetachedFromCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(got context.Context, _ pool.Event) error {
		assert.NoError(t, got.Err())
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newPool(t, publisher)
	_, err := p.CreatePool(ctx, common.HexToAddress("0x03"), uint256.NewInt(10), uint256.NewInt(10))
	require.NoError(t, err)
}

func TestMultiPublisher(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := mocks.NewMockPublisher(ctrl)
	second := mocks.NewMockPublisher(ctrl)

	errFirst := errors.New("first")
	first.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errFirst)
	second.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	multi := pool.MultiPublisher{first, nil, second}
	err := multi.Publish(context.Background(), pool.Event{Sequence: 1})
	assert.ErrorIs(t, err, errFirst, "later publishers still run after a failure")
}
