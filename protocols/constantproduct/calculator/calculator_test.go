package calculator

import (
	"math/big"
	"reflect"
	"strings"
	"testing"

	"github.com/defistate/defistate-amm-go/fixedpoint"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

func testPool() constantproduct.Pool {
	return constantproduct.Pool{
		ID:          1,
		ReserveA:    uint256.NewInt(100_000_000),
		ReserveB:    u("50000000000000000000"),
		TotalShares: uint256.NewInt(100_000_000),
		FeeBps:      30,
	}
}

func TestGetAmountOut(t *testing.T) {
	testCases := []struct {
		name           string
		amountIn       *uint256.Int
		reserveIn      *uint256.Int
		reserveOut     *uint256.Int
		feeBps         uint16
		expectedAmount *uint256.Int
		expectedErr    error
	}{
		{
			name:           "balanced pool with 0.3% fee",
			amountIn:       uint256.NewInt(1000),
			reserveIn:      uint256.NewInt(1_000_000),
			reserveOut:     uint256.NewInt(1_000_000),
			feeBps:         30,
			expectedAmount: uint256.NewInt(996),
		},
		{
			name:           "balanced pool without fee",
			amountIn:       uint256.NewInt(1000),
			reserveIn:      uint256.NewInt(1_000_000),
			reserveOut:     uint256.NewInt(1_000_000),
			feeBps:         0,
			expectedAmount: uint256.NewInt(999),
		},
		{
			name:           "6 decimals in, 18 decimals out",
			amountIn:       uint256.NewInt(1_000_000),
			reserveIn:      uint256.NewInt(100_000_000),
			reserveOut:     u("50000000000000000000"),
			feeBps:         30,
			expectedAmount: u("493579017198530649"),
		},
		{
			name:           "18 decimals in, 6 decimals out",
			amountIn:       u("1000000000000000000"),
			reserveIn:      u("50000000000000000000"),
			reserveOut:     uint256.NewInt(100_000_000),
			feeBps:         30,
			expectedAmount: uint256.NewInt(1955016),
		},
		{
			name:           "1% fee",
			amountIn:       uint256.NewInt(1_000_000),
			reserveIn:      uint256.NewInt(100_000_000),
			reserveOut:     u("50000000000000000000"),
			feeBps:         100,
			expectedAmount: u("490147539360332706"),
		},
		{
			name:           "zero input buys nothing",
			amountIn:       new(uint256.Int),
			reserveIn:      uint256.NewInt(10),
			reserveOut:     uint256.NewInt(10),
			feeBps:         30,
			expectedAmount: new(uint256.Int),
		},
		{
			name:        "empty input reserve",
			amountIn:    uint256.NewInt(1_000_000),
			reserveIn:   new(uint256.Int),
			reserveOut:  u("50000000000000000000"),
			feeBps:      30,
			expectedErr: ErrInsufficientLiquidity,
		},
		{
			name:        "empty output reserve",
			amountIn:    uint256.NewInt(1),
			reserveIn:   uint256.NewInt(10),
			reserveOut:  new(uint256.Int),
			feeBps:      30,
			expectedErr: ErrInsufficientLiquidity,
		},
		{
			name:        "nil amount",
			reserveIn:   uint256.NewInt(10),
			reserveOut:  uint256.NewInt(10),
			expectedErr: ErrNilAmount,
		},
		{
			name:        "fee of 100%",
			amountIn:    uint256.NewInt(1),
			reserveIn:   uint256.NewInt(10),
			reserveOut:  uint256.NewInt(10),
			feeBps:      10000,
			expectedErr: ErrInvalidFee,
		},
		{
			name:        "input too large to weight by fee",
			amountIn:    new(uint256.Int).SetAllOne(),
			reserveIn:   uint256.NewInt(10),
			reserveOut:  uint256.NewInt(10),
			feeBps:      30,
			expectedErr: fixedpoint.ErrArithmeticOverflow,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			amountOut, err := GetAmountOut(tc.amountIn, tc.reserveIn, tc.reserveOut, tc.feeBps)

			if tc.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, amountOut)
			assert.True(t, tc.expectedAmount.Eq(amountOut), "Expected %s, but got %s", tc.expectedAmount.Dec(), amountOut.Dec())
		})
	}
}

func TestGetAmountIn(t *testing.T) {
	testCases := []struct {
		name           string
		amountOut      *uint256.Int
		reserveIn      *uint256.Int
		reserveOut     *uint256.Int
		feeBps         uint16
		expectedAmount *uint256.Int
		expectedErr    error
	}{
		{
			name:           "inverse of the balanced pool swap",
			amountOut:      uint256.NewInt(996),
			reserveIn:      uint256.NewInt(1_000_000),
			reserveOut:     uint256.NewInt(1_000_000),
			feeBps:         30,
			expectedAmount: uint256.NewInt(1000),
		},
		{
			name:           "6 decimals in, 18 decimals out",
			amountOut:      u("493579017198530649"),
			reserveIn:      uint256.NewInt(100_000_000),
			reserveOut:     u("50000000000000000000"),
			feeBps:         30,
			expectedAmount: uint256.NewInt(1_000_000),
		},
		{
			name:           "18 decimals in, 6 decimals out",
			amountOut:      uint256.NewInt(1955016),
			reserveIn:      u("50000000000000000000"),
			reserveOut:     uint256.NewInt(100_000_000),
			feeBps:         30,
			expectedAmount: u("999999498234537320"),
		},
		{
			name:        "output equal to the reserve drains the pool",
			amountOut:   uint256.NewInt(1_000_000),
			reserveIn:   uint256.NewInt(1_000_000),
			reserveOut:  uint256.NewInt(1_000_000),
			feeBps:      30,
			expectedErr: ErrInsufficientLiquidity,
		},
		{
			name:        "output above the reserve",
			amountOut:   u("60000000000000000000"),
			reserveIn:   uint256.NewInt(100_000_000),
			reserveOut:  u("50000000000000000000"),
			feeBps:      30,
			expectedErr: ErrInsufficientLiquidity,
		},
		{
			name:        "nil amount",
			reserveIn:   uint256.NewInt(10),
			reserveOut:  uint256.NewInt(10),
			expectedErr: ErrNilAmount,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			amountIn, err := GetAmountIn(tc.amountOut, tc.reserveIn, tc.reserveOut, tc.feeBps)

			if tc.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.expectedAmount.Eq(amountIn), "Expected %s, but got %s", tc.expectedAmount.Dec(), amountIn.Dec())

			// paying the quoted input must buy at least the requested output
			bought, err := GetAmountOut(amountIn, tc.reserveIn, tc.reserveOut, tc.feeBps)
			require.NoError(t, err)
			assert.False(t, bought.Lt(tc.amountOut))
		})
	}
}

func TestProportionalAmount(t *testing.T) {
	known := uint256.NewInt(1000)
	knownReserve := uint256.NewInt(3000)
	otherReserve := uint256.NewInt(2000)

	up, err := ProportionalAmount(known, knownReserve, otherReserve, fixedpoint.RoundUp)
	require.NoError(t, err)
	assert.Equal(t, uint64(667), up.Uint64(), "deposits round up")

	down, err := ProportionalAmount(known, knownReserve, otherReserve, fixedpoint.RoundDown)
	require.NoError(t, err)
	assert.Equal(t, uint64(666), down.Uint64(), "withdrawals round down")

	_, err = ProportionalAmount(known, new(uint256.Int), otherReserve, fixedpoint.RoundUp)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestSharesForDeposit(t *testing.T) {
	t.Run("empty supply seeds with amountA", func(t *testing.T) {
		shares, err := SharesForDeposit(uint256.NewInt(500), new(uint256.Int), new(uint256.Int))
		require.NoError(t, err)
		assert.Equal(t, uint64(500), shares.Uint64())
	})

	t.Run("proportional claim rounds down", func(t *testing.T) {
		shares, err := SharesForDeposit(uint256.NewInt(333), uint256.NewInt(1000), uint256.NewInt(1000))
		require.NoError(t, err)
		assert.Equal(t, uint64(333), shares.Uint64())

		shares, err = SharesForDeposit(uint256.NewInt(1), uint256.NewInt(1000), uint256.NewInt(3000))
		require.NoError(t, err)
		assert.True(t, shares.IsZero())
	})

	t.Run("outstanding supply against empty reserve", func(t *testing.T) {
		_, err := SharesForDeposit(uint256.NewInt(1), uint256.NewInt(1000), new(uint256.Int))
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})
}

func TestSharesForWithdrawal(t *testing.T) {
	shares, err := SharesForWithdrawal(uint256.NewInt(100), uint256.NewInt(1000), uint256.NewInt(3000))
	require.NoError(t, err)
	assert.Equal(t, uint64(34), shares.Uint64())

	_, err = SharesForWithdrawal(uint256.NewInt(3001), uint256.NewInt(1000), uint256.NewInt(3000))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = SharesForWithdrawal(uint256.NewInt(1), new(uint256.Int), uint256.NewInt(3000))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestAmountsForWithdrawal(t *testing.T) {
	t.Run("rounds both sides down", func(t *testing.T) {
		a, b, err := AmountsForWithdrawal(uint256.NewInt(250), uint256.NewInt(1000), uint256.NewInt(1001), uint256.NewInt(2003))
		require.NoError(t, err)
		assert.Equal(t, uint64(250), a.Uint64())
		assert.Equal(t, uint64(500), b.Uint64())
	})

	t.Run("full supply returns full reserves", func(t *testing.T) {
		a, b, err := AmountsForWithdrawal(uint256.NewInt(1000), uint256.NewInt(1000), uint256.NewInt(1001), uint256.NewInt(2003))
		require.NoError(t, err)
		assert.Equal(t, uint64(1001), a.Uint64())
		assert.Equal(t, uint64(2003), b.Uint64())
	})

	t.Run("more shares than supply", func(t *testing.T) {
		_, _, err := AmountsForWithdrawal(uint256.NewInt(1001), uint256.NewInt(1000), uint256.NewInt(1), uint256.NewInt(1))
		assert.ErrorIs(t, err, ErrSharesExceedSupply)
	})

	t.Run("no supply", func(t *testing.T) {
		_, _, err := AmountsForWithdrawal(uint256.NewInt(1), new(uint256.Int), uint256.NewInt(1), uint256.NewInt(1))
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})
}

func TestSeedFuncs(t *testing.T) {
	shares, err := SeedAmountA(uint256.NewInt(500), uint256.NewInt(2000))
	require.NoError(t, err)
	assert.Equal(t, uint64(500), shares.Uint64())

	shares, err = SeedGeometricMean(uint256.NewInt(500), uint256.NewInt(2000))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), shares.Uint64())

	t.Run("geometric mean beyond 256-bit product", func(t *testing.T) {
		maxAmount := new(uint256.Int).SetAllOne()
		shares, err := SeedGeometricMean(maxAmount, maxAmount)
		require.NoError(t, err)
		assert.True(t, maxAmount.Eq(shares))
	})

	t.Run("by name", func(t *testing.T) {
		_, err := SeedByName("geometric_mean")
		require.NoError(t, err)
		_, err = SeedByName("amount_a")
		require.NoError(t, err)
		_, err = SeedByName("bogus")
		assert.Error(t, err)
	})
}

func TestSimulateSwap(t *testing.T) {
	pool := testPool()
	amountIn := uint256.NewInt(1_000_000)

	amountOut, newPool, err := SimulateSwap(amountIn, constantproduct.AToB, pool)
	require.NoError(t, err)

	assert.Equal(t, "493579017198530649", amountOut.Dec())
	expectedReserveA := new(uint256.Int).Add(pool.ReserveA, amountIn)
	expectedReserveB := new(uint256.Int).Sub(pool.ReserveB, amountOut)
	assert.True(t, expectedReserveA.Eq(newPool.ReserveA))
	assert.True(t, expectedReserveB.Eq(newPool.ReserveB))

	t.Run("reverse direction credits reserve B", func(t *testing.T) {
		out, next, err := SimulateSwap(u("1000000000000000000"), constantproduct.BToA, pool)
		require.NoError(t, err)
		assert.Equal(t, uint64(1955016), out.Uint64())
		assert.Equal(t, "51000000000000000000", next.ReserveB.Dec())
		assert.Equal(t, uint64(100_000_000-1955016), next.ReserveA.Uint64())
	})

	t.Run("K never decreases", func(t *testing.T) {
		before := Invariant(pool.ReserveA, pool.ReserveB)
		after := Invariant(newPool.ReserveA, newPool.ReserveB)
		assert.GreaterOrEqual(t, after.Cmp(before), 0)
	})
}

// TestSimulateSwap_IdempotencyAndStateIsolation verifies that the simulation
// does not mutate its inputs and that the returned state owns its amounts.
func TestSimulateSwap_IdempotencyAndStateIsolation(t *testing.T) {
	originalPool := testPool()
	amountIn := uint256.NewInt(1_000_000)

	amountOut1, newPoolState1, err1 := SimulateSwap(amountIn, constantproduct.AToB, originalPool)
	require.NoError(t, err1, "First simulation should succeed")

	amountOut2, newPoolState2, err2 := SimulateSwap(amountIn, constantproduct.AToB, originalPool)
	require.NoError(t, err2, "Second simulation should succeed")

	t.Run("Idempotency Check", func(t *testing.T) {
		assert.Equal(t, amountOut1.Dec(), amountOut2.Dec(), "Amount out should be identical on consecutive runs")
		assert.True(t, reflect.DeepEqual(newPoolState1, newPoolState2), "The new pool state should be identical on consecutive runs")
	})

	t.Run("Deep Copy Check (Reserves)", func(t *testing.T) {
		assert.NotSame(t, originalPool.ReserveA, newPoolState1.ReserveA)
		assert.NotSame(t, originalPool.ReserveB, newPoolState1.ReserveB)
		assert.NotSame(t, originalPool.TotalShares, newPoolState1.TotalShares)
	})

	t.Run("Result Isolation Check", func(t *testing.T) {
		originalReserve2 := newPoolState2.ReserveA.Clone()
		newPoolState1.ReserveA.Add(newPoolState1.ReserveA, uint256.NewInt(12345))

		assert.NotEqual(t, newPoolState1.ReserveA.Dec(), newPoolState2.ReserveA.Dec(), "Modifying state 1 should not affect state 2")
		assert.True(t, originalReserve2.Eq(newPoolState2.ReserveA), "State 2's ReserveA should remain pristine")
	})
}

func TestInvariant(t *testing.T) {
	k := Invariant(uint256.NewInt(1_001_000), uint256.NewInt(999_004))
	assert.Zero(t, k.Cmp(big.NewInt(1_001_000*999_004)))

	maxAmount := new(uint256.Int).SetAllOne()
	wide := Invariant(maxAmount, maxAmount)
	assert.Equal(t, 512, wide.BitLen(), "K of two maximal reserves needs 512 bits")
}

func TestSpotRate(t *testing.T) {
	pool := constantproduct.Pool{
		ID:       7,
		ReserveA: u("2000000000000000000"),   // 2 WETH
		ReserveB: uint256.NewInt(6_000_000_000), // 6000 USDC
		FeeBps:   30,
	}

	rate, err := SpotRate(constantproduct.AToB, 18, pool)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000_000_000), rate.Uint64())

	executed, err := GetExchangeRate(constantproduct.AToB, 18, pool)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_961_474_100), executed.Uint64())
	assert.True(t, executed.Lt(rate), "executed rate includes the fee and price impact")

	_, err = SpotRate(constantproduct.AToB, 18, constantproduct.Pool{ReserveA: new(uint256.Int), ReserveB: uint256.NewInt(1)})
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = SpotRate(constantproduct.AToB, MaxDecimals+1, pool)
	assert.ErrorIs(t, err, ErrInvalidDecimals)
	_, err = GetExchangeRate(constantproduct.AToB, 255, pool)
	assert.ErrorIs(t, err, ErrInvalidDecimals)
}

func TestGetScaledDecimal(t *testing.T) {
	tests := []struct {
		name    string
		dec     uint8
		want    string
		wantErr bool
	}{
		{name: "precomputed", dec: 18, want: "1000000000000000000"},
		{name: "computed", dec: 20, want: "100000000000000000000"},
		{name: "largest", dec: MaxDecimals, want: "1" + strings.Repeat("0", MaxDecimals)},
		{name: "would wrap", dec: MaxDecimals + 1, wantErr: true},
		{name: "max uint8", dec: 255, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := GetScaledDecimal(tc.dec)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDecimals)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Dec())
		})
	}
}

// --- Benchmarks ---

// result is a package-level variable to ensure the compiler does not optimize away the benchmarked function call.
var result *uint256.Int
var resultPool constantproduct.Pool

func BenchmarkGetAmountOut(b *testing.B) {
	reserveIn := u("1000000000000000000000") // 1,000 WETH
	reserveOut := u("2000000000000")         // 2,000,000 USDC
	amountIn := u("1000000000000000000")

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		amountOut, _ := GetAmountOut(amountIn, reserveIn, reserveOut, 30)
		result = amountOut
	}
}

func BenchmarkGetAmountIn(b *testing.B) {
	reserveIn := u("1000000000000000000000")
	reserveOut := u("2000000000000")
	amountOut := u("1994000000") // ~1994 USDC

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		amountIn, _ := GetAmountIn(amountOut, reserveIn, reserveOut, 30)
		result = amountIn
	}
}

func BenchmarkSimulateSwap(b *testing.B) {
	pool := testPool()
	amountIn := uint256.NewInt(1_000_000)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		amountOut, newPool, _ := SimulateSwap(amountIn, constantproduct.AToB, pool)
		result = amountOut
		resultPool = newPool
	}
}
