package stateops

import (
	"encoding/json"
	"fmt"

	"github.com/defistate/defistate-amm-go/differ"
	"github.com/defistate/defistate-amm-go/engine"
	"github.com/defistate/defistate-amm-go/patcher"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateOps is a facade over the two halves of state streaming:
// the differ used by the server and the patcher used by clients.
type StateOps struct {
	*differ.StateDiffer
	*patcher.StatePatcher
}

func NewStateOps(
	logger Logger,
	prometheusRegistry prometheus.Registerer,
) (*StateOps, error) {
	stateDiffer, err := differ.NewStateDiffer(&differ.StateDifferConfig{
		PoolDiffer: constantproduct.Differ,
		Logger:     logger,
		Registry:   prometheusRegistry,
	})
	if err != nil {
		return nil, err
	}

	statePatcher, err := patcher.NewStatePatcher(&patcher.StatePatcherConfig{
		Patchers: map[engine.ProtocolSchema]patcher.PatcherFunc{
			constantproduct.Schema: constantproduct.Patcher,
		},
	})
	if err != nil {
		return nil, err
	}

	return &StateOps{
		StateDiffer:  stateDiffer,
		StatePatcher: statePatcher,
	}, nil
}

// DecodeStateJSON decodes a full state and checks its schema is supported.
func (ops *StateOps) DecodeStateJSON(data json.RawMessage) (*engine.State, error) {
	var state engine.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if err := checkSchema(state.Schema); err != nil {
		return nil, err
	}
	return &state, nil
}

// DecodeStateDiffJSON decodes a state diff and checks its schema is supported.
func (ops *StateOps) DecodeStateDiffJSON(data json.RawMessage) (*differ.StateDiff, error) {
	var diff differ.StateDiff
	if err := json.Unmarshal(data, &diff); err != nil {
		return nil, fmt.Errorf("decode state diff: %w", err)
	}
	if err := checkSchema(diff.Schema); err != nil {
		return nil, err
	}
	return &diff, nil
}

func checkSchema(schema engine.ProtocolSchema) error {
	switch schema {
	case constantproduct.Schema:
		return nil
	default:
		return fmt.Errorf("unknown schema %q", schema)
	}
}
