package engine

import (
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
)

// ProtocolSchema defines the decode contract for a state's pool data.
type ProtocolSchema string

// State is the main data structure broadcast to subscribers.
type State struct {
	// Sequence increases by one for every state the server publishes.
	Sequence  uint64 `json:"sequence"`
	Timestamp uint64 `json:"timestamp"` // unix nanoseconds

	// Schema is the decode contract for Pools.
	// Example:
	// "defistate/constant-product/poolView@v1"
	Schema ProtocolSchema         `json:"schema"`
	Pools  []constantproduct.Pool `json:"pools"`

	// Error is populated if the server could not produce a consistent view.
	Error string `json:"error,omitempty"`
}

func (state *State) HasErrors() bool {
	return state.Error != ""
}

// Pool returns the pool with the given ID.
func (state *State) Pool(id uint64) (constantproduct.Pool, bool) {
	for _, p := range state.Pools {
		if p.ID == id {
			return p, true
		}
	}
	return constantproduct.Pool{}, false
}
