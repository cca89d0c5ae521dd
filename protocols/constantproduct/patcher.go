package constantproduct

import (
	"sort"

	"github.com/holiman/uint256"
)

func amountEqual(a, b *uint256.Int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Eq(b)
}

func cloneAmount(x *uint256.Int) *uint256.Int {
	if x == nil {
		return nil
	}
	return x.Clone()
}

// DeepCopyPool creates a new Pool with its own memory for every *uint256.Int
// and for the positions slice, so the copy never aliases the source.
func DeepCopyPool(p Pool) Pool {
	newPool := p
	newPool.ReserveA = cloneAmount(p.ReserveA)
	newPool.ReserveB = cloneAmount(p.ReserveB)
	newPool.TotalShares = cloneAmount(p.TotalShares)
	if p.Positions != nil {
		newPool.Positions = make([]Position, len(p.Positions))
		for i, pos := range p.Positions {
			newPool.Positions[i] = Position{Provider: pos.Provider, Shares: cloneAmount(pos.Shares)}
		}
	}
	return newPool
}

// Patcher constructs a new pool set by applying a diff to a previous one.
// prevState is never mutated; the result is sorted by pool ID.
func Patcher(prevState []Pool, diff SystemDiff) ([]Pool, error) {
	newStateMap := make(map[uint64]Pool, len(prevState))
	for _, pool := range prevState {
		newStateMap[pool.ID] = DeepCopyPool(pool)
	}

	for _, poolIDToDelete := range diff.Deletions {
		delete(newStateMap, poolIDToDelete)
	}

	for _, updatedPool := range diff.Updates {
		newStateMap[updatedPool.ID] = DeepCopyPool(updatedPool)
	}

	for _, addedPool := range diff.Additions {
		newStateMap[addedPool.ID] = DeepCopyPool(addedPool)
	}

	finalState := make([]Pool, 0, len(newStateMap))
	for _, pool := range newStateMap {
		finalState = append(finalState, pool)
	}
	sort.Slice(finalState, func(i, j int) bool { return finalState[i].ID < finalState[j].ID })

	return finalState, nil
}
