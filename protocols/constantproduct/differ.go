package constantproduct

import "sort"

type SystemDiff struct {
	Additions []Pool   `json:"additions,omitempty"`
	Updates   []Pool   `json:"updates,omitempty"`
	Deletions []uint64 `json:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d SystemDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

// Differ calculates the difference between two snapshots of the pool set.
// Both lists are keyed by pool ID; a pool is an update when its reserves,
// share supply or any provider position changed.
func Differ(old, new []Pool) SystemDiff {
	oldPoolsMap := make(map[uint64]Pool, len(old))
	for _, pool := range old {
		oldPoolsMap[pool.ID] = pool
	}

	newPoolsMap := make(map[uint64]Pool, len(new))
	for _, pool := range new {
		newPoolsMap[pool.ID] = pool
	}

	var additions []Pool
	var updates []Pool
	var deletions []uint64

	for newID, newPool := range newPoolsMap {
		oldPool, exists := oldPoolsMap[newID]
		if !exists {
			additions = append(additions, newPool)
			continue
		}
		if poolChanged(oldPool, newPool) {
			updates = append(updates, newPool)
		}
	}

	for oldID := range oldPoolsMap {
		if _, exists := newPoolsMap[oldID]; !exists {
			deletions = append(deletions, oldID)
		}
	}

	// map iteration order is random; keep the wire form stable
	sort.Slice(additions, func(i, j int) bool { return additions[i].ID < additions[j].ID })
	sort.Slice(updates, func(i, j int) bool { return updates[i].ID < updates[j].ID })
	sort.Slice(deletions, func(i, j int) bool { return deletions[i] < deletions[j] })

	return SystemDiff{
		Additions: additions,
		Updates:   updates,
		Deletions: deletions,
	}
}

// poolChanged is a manual field check; much faster than reflect.DeepEqual.
func poolChanged(a, b Pool) bool {
	if a.FeeBps != b.FeeBps {
		return true
	}
	if !amountEqual(a.ReserveA, b.ReserveA) || !amountEqual(a.ReserveB, b.ReserveB) || !amountEqual(a.TotalShares, b.TotalShares) {
		return true
	}
	if len(a.Positions) != len(b.Positions) {
		return true
	}
	for i := range a.Positions {
		if a.Positions[i].Provider != b.Positions[i].Provider || !amountEqual(a.Positions[i].Shares, b.Positions[i].Shares) {
			return true
		}
	}
	return false
}
