package indexer

import (
	"testing"

	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexablePools(t *testing.T) {
	alice := common.HexToAddress("0xa11ce")
	bob := common.HexToAddress("0xb0b")

	testPools := []constantproduct.Pool{
		{
			ID: 101, ReserveA: uint256.NewInt(1000), ReserveB: uint256.NewInt(2000), TotalShares: uint256.NewInt(1000),
			Positions: []constantproduct.Position{{Provider: alice, Shares: uint256.NewInt(1000)}},
		},
		{
			ID: 102, ReserveA: uint256.NewInt(3000), ReserveB: uint256.NewInt(4000), TotalShares: uint256.NewInt(3000),
			Positions: []constantproduct.Position{
				{Provider: alice, Shares: uint256.NewInt(1000)},
				{Provider: bob, Shares: uint256.NewInt(2000)},
			},
		},
	}

	indexer := New().Index(testPools)
	require.NotNil(t, indexer)

	t.Run("Successful Lookups", func(t *testing.T) {
		pool, found := indexer.GetByID(101)
		assert.True(t, found, "Pool should be found by ID 101")
		assert.Equal(t, uint64(1000), pool.ReserveA.Uint64())
	})

	t.Run("Not Found Lookups", func(t *testing.T) {
		_, found := indexer.GetByID(999)
		assert.False(t, found, "Should not find a pool with ID 999")
	})

	t.Run("All Method", func(t *testing.T) {
		allPools := indexer.All()
		assert.Len(t, allPools, 2, "All() should return 2 pools")

		allPools[0].FeeBps = 99
		originalPool, _ := indexer.GetByID(101)
		assert.Equal(t, uint16(0), originalPool.FeeBps, "Modifying the returned slice should not affect the internal state")
	})

	t.Run("Positions by provider", func(t *testing.T) {
		positions := indexer.PositionsOf(alice)
		require.Len(t, positions, 2)
		assert.Equal(t, uint64(101), positions[0].PoolID)
		assert.Equal(t, uint64(102), positions[1].PoolID)

		positions = indexer.PositionsOf(bob)
		require.Len(t, positions, 1)
		assert.Equal(t, uint64(2000), positions[0].Shares.Uint64())

		assert.Empty(t, indexer.PositionsOf(common.Address{}))
	})

	t.Run("Edge Case - Nil Slice", func(t *testing.T) {
		nilIndexer := NewIndexablePools(nil)
		require.NotNil(t, nilIndexer)

		_, found := nilIndexer.GetByID(1)
		assert.False(t, found)

		allPools := nilIndexer.All()
		assert.Len(t, allPools, 0)
		assert.NotNil(t, allPools, "All() should return an empty slice, not nil")
	})
}
