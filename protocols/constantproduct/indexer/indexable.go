package indexer

import (
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/ethereum/go-ethereum/common"
)

// Indexer is the constantproduct implementation used by stream consumers.
type Indexer struct{}

// New creates a new Indexer.
func New() *Indexer {
	return &Indexer{}
}

// Index creates an indexed pool set from a raw slice of pools.
func (i *Indexer) Index(pools []constantproduct.Pool) IndexedPools {
	return NewIndexablePools(pools)
}

// IndexablePools provides fast, indexed access to pool snapshots.
type IndexablePools struct {
	byID       map[uint64]constantproduct.Pool
	byProvider map[common.Address][]ProviderPosition
	all        []constantproduct.Pool
}

// NewIndexablePools creates a new index. The pools are not copied.
func NewIndexablePools(pools []constantproduct.Pool) *IndexablePools {
	byID := make(map[uint64]constantproduct.Pool, len(pools))
	byProvider := make(map[common.Address][]ProviderPosition)

	for _, p := range pools {
		byID[p.ID] = p
		for _, pos := range p.Positions {
			byProvider[pos.Provider] = append(byProvider[pos.Provider], ProviderPosition{PoolID: p.ID, Position: pos})
		}
	}

	return &IndexablePools{
		byID:       byID,
		byProvider: byProvider,
		all:        pools,
	}
}

// GetByID retrieves a pool by its unique ID.
func (ip *IndexablePools) GetByID(id uint64) (constantproduct.Pool, bool) {
	p, ok := ip.byID[id]
	return p, ok
}

// All returns a copy of the slice of all pools.
func (ip *IndexablePools) All() []constantproduct.Pool {
	allCopy := make([]constantproduct.Pool, len(ip.all))
	copy(allCopy, ip.all)
	return allCopy
}

// PositionsOf returns every pool position held by provider, in pool order.
func (ip *IndexablePools) PositionsOf(provider common.Address) []ProviderPosition {
	positions := ip.byProvider[provider]
	out := make([]ProviderPosition, len(positions))
	copy(out, positions)
	return out
}
