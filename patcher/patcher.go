package patcher

import (
	"fmt"

	"github.com/defistate/defistate-amm-go/differ"
	"github.com/defistate/defistate-amm-go/engine"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
)

// PatcherFunc applies a pool diff to a previous pool list.
//
// CONTRACT:
// Implementations MUST NOT mutate prevState. They must create a copy.
type PatcherFunc func(prevState []constantproduct.Pool, diff constantproduct.SystemDiff) ([]constantproduct.Pool, error)

type StatePatcherConfig struct {
	// Patchers maps a schema to its patch function. Nil means only
	// constantproduct.Schema, patched by constantproduct.Patcher.
	Patchers map[engine.ProtocolSchema]PatcherFunc
}

func (c *StatePatcherConfig) validate() error {
	for schema, patcher := range c.Patchers {
		if patcher == nil {
			return fmt.Errorf("patcher for schema %q cannot be nil", schema)
		}
	}
	return nil
}

// StatePatcher rebuilds a state from its predecessor and a diff.
type StatePatcher struct {
	patchers map[engine.ProtocolSchema]PatcherFunc
}

// NewStatePatcher constructs a new patcher from a configuration.
func NewStatePatcher(cfg *StatePatcherConfig) (*StatePatcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	patchers := make(map[engine.ProtocolSchema]PatcherFunc, len(cfg.Patchers))
	for k, v := range cfg.Patchers {
		patchers[k] = v
	}
	if len(patchers) == 0 {
		patchers[constantproduct.Schema] = constantproduct.Patcher
	}

	return &StatePatcher{
		patchers: patchers,
	}, nil
}

// Patch creates a new State by applying the diff to oldState, which is left
// untouched. The diff must start at oldState's sequence.
func (p *StatePatcher) Patch(oldState *engine.State, diff *differ.StateDiff) (*engine.State, error) {
	if oldState == nil || diff == nil {
		return nil, fmt.Errorf("patcher: nil state or diff")
	}
	if oldState.Sequence != diff.FromSequence {
		return nil, fmt.Errorf("patcher: mismatch fromSequence (state=%d, diff=%d)", oldState.Sequence, diff.FromSequence)
	}
	if oldState.Schema != diff.Schema {
		return nil, fmt.Errorf("patcher: schema mismatch (state=%s, diff=%s)", oldState.Schema, diff.Schema)
	}

	patcherFunc, ok := p.patchers[diff.Schema]
	if !ok {
		return nil, fmt.Errorf("patcher: no patcher registered for schema %q", diff.Schema)
	}

	pools, err := patcherFunc(oldState.Pools, diff.Pools)
	if err != nil {
		return nil, fmt.Errorf("patcher: failed to patch sequence %d -> %d: %w", diff.FromSequence, diff.ToSequence, err)
	}

	return &engine.State{
		Sequence:  diff.ToSequence,
		Timestamp: diff.Timestamp,
		Schema:    diff.Schema,
		Pools:     pools,
	}, nil
}
