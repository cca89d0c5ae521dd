package indexer

import (
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/ethereum/go-ethereum/common"
)

// IndexedPools defines the methods for accessing indexed constant-product pool data.
type IndexedPools interface {
	GetByID(id uint64) (constantproduct.Pool, bool)
	All() []constantproduct.Pool
	PositionsOf(provider common.Address) []ProviderPosition
}

// ProviderPosition is one provider's holding in one pool.
type ProviderPosition struct {
	PoolID uint64
	constantproduct.Position
}
