package differ

import (
	"github.com/defistate/defistate-amm-go/engine"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateDiff represents a summary of changes FromSequence to ToSequence.
type StateDiff struct {
	Timestamp    uint64                     `json:"timestamp"`
	FromSequence uint64                     `json:"fromSequence"`
	ToSequence   uint64                     `json:"toSequence"`
	Schema       engine.ProtocolSchema      `json:"schema"`
	Pools        constantproduct.SystemDiff `json:"pools"`
}

// IsEmpty reports whether applying the diff would leave the pools unchanged.
func (d *StateDiff) IsEmpty() bool {
	return d.Pools.IsEmpty()
}
