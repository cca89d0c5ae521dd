package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/defistate/defistate-amm-go/differ"
	"github.com/defistate/defistate-amm-go/engine"
	"github.com/defistate/defistate-amm-go/pool"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct/calculator"
	"github.com/defistate/defistate-amm-go/protocols/poolregistry"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// RpcNamespace is the namespace under which the API is registered.
	RpcNamespace = "amm"

	EventTypeFull = "full"
	EventTypeDiff = "diff"

	defaultBufferSize   = 64
	defaultRateDecimals = 18
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateDiffer computes the diff between two consecutive states.
type StateDiffer interface {
	Diff(old, new *engine.State) (*differ.StateDiff, error)
}

// EventSource replays persisted pool events.
type EventSource interface {
	Events(poolID, fromSequence uint64) ([]pool.Event, error)
}

// SubscriptionEvent is the wrapper object sent on the state stream.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// Config configures a Server.
type Config struct {
	Registry *poolregistry.Registry
	Differ   StateDiffer
	// Events backs amm_events. Optional.
	Events     EventSource
	Registerer prometheus.Registerer
	Logger     Logger
	// BufferSize is the per-subscriber queue length. Zero means 64.
	BufferSize int
	// RateDecimals scales the exchange rates of amm_getPoolState. Zero means 18.
	RateDecimals uint8
	// Clock stamps states. Nil means time.Now.
	Clock func() time.Time
}

func (c *Config) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Differ == nil {
		return errors.New("config: Differ cannot be nil")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.BufferSize < 0 {
		return errors.New("config: BufferSize cannot be negative")
	}
	if c.RateDecimals > calculator.MaxDecimals {
		return fmt.Errorf("config: RateDecimals cannot exceed %d", calculator.MaxDecimals)
	}
	return nil
}

type stateUpdate struct {
	toSequence uint64
	event      *SubscriptionEvent
}

// Server publishes the pool registry over JSON-RPC. It implements
// pool.Publisher: every committed event advances the published state and is
// fanned out to subscribers.
type Server struct {
	registry *poolregistry.Registry
	differ   StateDiffer
	events   EventSource
	decimals uint8
	metrics  *Metrics
	logger   Logger
	now      func() time.Time

	mu    sync.Mutex
	state *engine.State

	stateHub *hub[stateUpdate]
	eventHub *hub[pool.Event]
}

var _ pool.Publisher = (*Server)(nil)

// New builds a server whose first state is the registry's current snapshot.
func New(cfg *Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}
	size := cfg.BufferSize
	if size == 0 {
		size = defaultBufferSize
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	decimals := cfg.RateDecimals
	if decimals == 0 {
		decimals = defaultRateDecimals
	}
	s := &Server{
		registry: cfg.Registry,
		differ:   cfg.Differ,
		events:   cfg.Events,
		decimals: decimals,
		metrics:  metrics,
		logger:   cfg.Logger,
		now:      now,
		stateHub: newHub[stateUpdate](size),
		eventHub: newHub[pool.Event](size),
	}
	s.state = &engine.State{
		Sequence:  1,
		Timestamp: uint64(now().UnixNano()),
		Schema:    constantproduct.Schema,
		Pools:     cfg.Registry.Snapshot(),
	}
	s.metrics.sequence.Set(1)
	return s, nil
}

// Register exposes the API on rpcServer under RpcNamespace.
func (s *Server) Register(rpcServer *rpc.Server) error {
	return rpcServer.RegisterName(RpcNamespace, &API{server: s})
}

// Publish implements pool.Publisher. It never fails; a state that cannot be
// diffed is logged and skipped, and the next event retries from the last
// good state.
func (s *Server) Publish(ctx context.Context, ev pool.Event) error {
	if dropped := s.eventHub.broadcast(ev); dropped > 0 {
		s.metrics.dropped.WithLabelValues("events").Add(float64(dropped))
	}
	s.Refresh()
	return nil
}

// State returns the latest published state. It must not be modified.
func (s *Server) State() *engine.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Refresh snapshots the registry and, if anything changed, publishes the
// next state as a diff.
func (s *Server) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &engine.State{
		Sequence:  s.state.Sequence + 1,
		Timestamp: uint64(s.now().UnixNano()),
		Schema:    s.state.Schema,
		Pools:     s.registry.Snapshot(),
	}
	diff, err := s.differ.Diff(s.state, next)
	if err != nil {
		s.logger.Error("failed to diff pool state", "sequence", next.Sequence, "error", err)
		return
	}
	if diff.IsEmpty() {
		return
	}

	ev, err := newSubscriptionEvent(EventTypeDiff, diff, s.now())
	if err != nil {
		s.logger.Error("failed to encode state diff", "sequence", next.Sequence, "error", err)
		return
	}
	s.state = next
	s.metrics.sequence.Set(float64(next.Sequence))
	if dropped := s.stateHub.broadcast(stateUpdate{toSequence: next.Sequence, event: ev}); dropped > 0 {
		s.metrics.dropped.WithLabelValues("state").Add(float64(dropped))
		s.logger.Warn("state subscribers lagging, will resync", "count", dropped, "sequence", next.Sequence)
	}
}

// subscribeState returns the current state and a subscription that starts
// right after it, so no diff is missed or repeated.
func (s *Server) subscribeState() (*engine.State, *subscriber[stateUpdate]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.stateHub.subscribe()
}

func newSubscriptionEvent(typ string, payload any, sentAt time.Time) (*SubscriptionEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return &SubscriptionEvent{Type: typ, Payload: raw, SentAt: sentAt.UnixNano()}, nil
}
