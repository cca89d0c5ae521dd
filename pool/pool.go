package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/defistate/defistate-amm-go/fixedpoint"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct/calculator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BusyPolicy decides what a mutating call does when another one holds the pool.
type BusyPolicy uint8

const (
	// BusyQueue waits for the pool.
	BusyQueue BusyPolicy = iota
	// BusyReject fails fast with ErrPoolBusy.
	BusyReject
)

func (b BusyPolicy) String() string {
	switch b {
	case BusyQueue:
		return "queue"
	case BusyReject:
		return "reject"
	default:
		return fmt.Sprintf("busyPolicy(%d)", uint8(b))
	}
}

// ParseBusyPolicy accepts the String form of a BusyPolicy.
func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch s {
	case "", "queue":
		return BusyQueue, nil
	case "reject":
		return BusyReject, nil
	default:
		return 0, fmt.Errorf("unknown busy policy %q", s)
	}
}

// Status is the pool's lifecycle state.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusActive
)

func (s Status) String() string {
	if s == StatusActive {
		return "active"
	}
	return "uninitialized"
}

const (
	opCreatePool         = "create_pool"
	opAddLiquidity       = "add_liquidity"
	opRemoveLiquidity    = "remove_liquidity"
	opRemoveAllLiquidity = "remove_all_liquidity"
	opRemoveForAmountA   = "remove_liquidity_for_amount_a"
	opSwapAForB          = "swap_a_for_b"
	opSwapBForA          = "swap_b_for_a"
)

// Config configures a Pool.
type Config struct {
	ID     uint64
	FeeBps uint16 // i.e 30 for 0.3%
	// Seed mints the first deposit's shares. Nil means calculator.SeedAmountA.
	Seed       calculator.SeedFunc
	BusyPolicy BusyPolicy
	// Publisher is optional; committed events are dropped when it is nil.
	Publisher Publisher
	// Journal is optional. It receives every event in sequence order while
	// the pool is held, detached from the caller's cancellation. A failed
	// write stays queued and is retried before the next mutation; until it
	// succeeds mutations fail with ErrJournalUnavailable.
	Journal Publisher
	Metrics   *Metrics
	Logger    Logger
	// Clock stamps events. Nil means time.Now.
	Clock func() time.Time
}

func (c *Config) validate() error {
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Metrics == nil {
		return errors.New("config: Metrics cannot be nil")
	}
	if c.FeeBps >= calculator.BasisPoints {
		return fmt.Errorf("config: %w: got %d", ErrInvalidFee, c.FeeBps)
	}
	if c.BusyPolicy > BusyReject {
		return fmt.Errorf("config: unknown busy policy %d", c.BusyPolicy)
	}
	return nil
}

// Pool is a two-reserve constant-product pool with its share ledger.
// Mutations are serialized by a single lock; reads share it and always see
// a consistent snapshot. Events are journaled in sequence order under the
// lock and published after it is released.
type Pool struct {
	id        uint64
	label     string
	feeBps    uint16
	seed      calculator.SeedFunc
	busy      BusyPolicy
	publisher Publisher
	journal   Publisher
	metrics   *Metrics
	logger    Logger
	now       func() time.Time

	mu       sync.RWMutex
	state    *poolState
	ledger   *LiquidityLedger
	sequence uint64
	// committed events the journal has not accepted yet, oldest first
	unjournaled []Event
}

// NewPool returns an uninitialized pool.
func NewPool(cfg *Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == nil {
		seed = calculator.SeedAmountA
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	label := strconv.FormatUint(cfg.ID, 10)
	p := &Pool{
		id:        cfg.ID,
		label:     label,
		feeBps:    cfg.FeeBps,
		seed:      seed,
		busy:      cfg.BusyPolicy,
		publisher: cfg.Publisher,
		journal:   cfg.Journal,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       now,
		state:     newPoolState(),
		ledger:    NewLiquidityLedger(),
	}
	p.metrics.setState(label, p.state.reserves, p.ledger.total, 0)
	return p, nil
}

// ID returns the pool's identifier.
func (p *Pool) ID() uint64 { return p.id }

// FeeBps returns the swap fee in basis points.
func (p *Pool) FeeBps() uint16 { return p.feeBps }

// CreatePool seeds an empty pool with amountA and amountB and mints the
// initial shares to caller.
func (p *Pool) CreatePool(ctx context.Context, caller common.Address, amountA, amountB *uint256.Int) (*uint256.Int, error) {
	if err := positive(amountA, amountB); err != nil {
		p.observe(opCreatePool, time.Now(), err)
		return nil, err
	}
	ev, err := p.mutate(ctx, opCreatePool, func() (Event, error) {
		if !p.state.reserves.IsZero() {
			return Event{}, fmt.Errorf("%w: reserves %s/%s", ErrAlreadyInitialized, p.state.reserves.A.Dec(), p.state.reserves.B.Dec())
		}
		shares, err := p.seed(amountA, amountB)
		if err != nil {
			return Event{}, err
		}
		if shares.IsZero() {
			return Event{}, fmt.Errorf("%w: seed minted no shares", ErrInvalidAmount)
		}
		next, err := p.state.preview(Delta{A: Credit(amountA), B: Credit(amountB)})
		if err != nil {
			return Event{}, err
		}
		if err := p.ledger.Mint(caller, shares); err != nil {
			return Event{}, err
		}
		p.state.commit(next)
		return Event{Kind: EventCreatePool, Caller: caller, AmountA: amountA.Clone(), AmountB: amountB.Clone(), Shares: shares}, nil
	})
	if err != nil {
		return nil, err
	}
	return ev.Shares.Clone(), nil
}

// AddLiquidity deposits amountADesired plus the proportional amount of B,
// rounded up. The B amount must fall inside bound.
func (p *Pool) AddLiquidity(ctx context.Context, caller common.Address, amountADesired *uint256.Int, bound SlippageBound) (shares, amountB *uint256.Int, err error) {
	if err := positive(amountADesired); err != nil {
		p.observe(opAddLiquidity, time.Now(), err)
		return nil, nil, err
	}
	ev, err := p.mutate(ctx, opAddLiquidity, func() (Event, error) {
		if !p.state.initialized() {
			return Event{}, fmt.Errorf("%w: pool %d", ErrNotInitialized, p.id)
		}
		reserves := p.state.reserves
		amountB, err := calculator.ProportionalAmount(amountADesired, reserves.A, reserves.B, fixedpoint.RoundUp)
		if err != nil {
			return Event{}, err
		}
		if err := bound.Check(amountB); err != nil {
			return Event{}, err
		}
		shares, err := calculator.SharesForDeposit(amountADesired, p.ledger.total, reserves.A)
		if err != nil {
			return Event{}, err
		}
		if shares.IsZero() {
			return Event{}, fmt.Errorf("%w: deposit of %s mints no shares", ErrInvalidAmount, amountADesired.Dec())
		}
		next, err := p.state.preview(Delta{A: Credit(amountADesired), B: Credit(amountB)})
		if err != nil {
			return Event{}, err
		}
		if err := p.ledger.Mint(caller, shares); err != nil {
			return Event{}, err
		}
		p.state.commit(next)
		return Event{Kind: EventAddLiquidity, Caller: caller, AmountA: amountADesired.Clone(), AmountB: amountB, Shares: shares}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return ev.Shares.Clone(), ev.AmountB.Clone(), nil
}

// RemoveLiquidity burns sharesToBurn of caller's shares for the proportional
// reserves, rounded down. The B amount must fall inside bound.
func (p *Pool) RemoveLiquidity(ctx context.Context, caller common.Address, sharesToBurn *uint256.Int, bound SlippageBound) (amountA, amountB *uint256.Int, err error) {
	if err := positive(sharesToBurn); err != nil {
		p.observe(opRemoveLiquidity, time.Now(), err)
		return nil, nil, err
	}
	ev, err := p.mutate(ctx, opRemoveLiquidity, func() (Event, error) {
		return p.removeLocked(caller, sharesToBurn, bound)
	})
	if err != nil {
		return nil, nil, err
	}
	return ev.AmountA.Clone(), ev.AmountB.Clone(), nil
}

// RemoveAllLiquidity burns caller's whole balance.
func (p *Pool) RemoveAllLiquidity(ctx context.Context, caller common.Address, bound SlippageBound) (sharesBurned, amountA, amountB *uint256.Int, err error) {
	ev, err := p.mutate(ctx, opRemoveAllLiquidity, func() (Event, error) {
		balance := p.ledger.balanceOf(caller)
		if balance.IsZero() {
			return Event{}, fmt.Errorf("%w: %s holds no shares", ErrInsufficientShares, caller.Hex())
		}
		return p.removeLocked(caller, balance.Clone(), bound)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return ev.Shares.Clone(), ev.AmountA.Clone(), ev.AmountB.Clone(), nil
}

// RemoveLiquidityForAmountA withdraws at least amountA of asset A, burning
// ceil(amountA * totalShares / reserveA) shares.
func (p *Pool) RemoveLiquidityForAmountA(ctx context.Context, caller common.Address, amountA *uint256.Int, bound SlippageBound) (sharesBurned, amountB *uint256.Int, err error) {
	if err := positive(amountA); err != nil {
		p.observe(opRemoveForAmountA, time.Now(), err)
		return nil, nil, err
	}
	ev, err := p.mutate(ctx, opRemoveForAmountA, func() (Event, error) {
		if !p.state.initialized() {
			return Event{}, fmt.Errorf("%w: pool %d", ErrNotInitialized, p.id)
		}
		shares, err := calculator.SharesForWithdrawal(amountA, p.ledger.total, p.state.reserves.A)
		if err != nil {
			return Event{}, err
		}
		return p.removeLocked(caller, shares, bound)
	})
	if err != nil {
		return nil, nil, err
	}
	return ev.Shares.Clone(), ev.AmountB.Clone(), nil
}

func (p *Pool) removeLocked(caller common.Address, shares *uint256.Int, bound SlippageBound) (Event, error) {
	balance := p.ledger.balanceOf(caller)
	if balance.Lt(shares) {
		return Event{}, fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientShares, caller.Hex(), balance.Dec(), shares.Dec())
	}
	reserves := p.state.reserves
	amountA, amountB, err := calculator.AmountsForWithdrawal(shares, p.ledger.total, reserves.A, reserves.B)
	if err != nil {
		return Event{}, err
	}
	if amountA.IsZero() && amountB.IsZero() {
		return Event{}, fmt.Errorf("%w: burning %s shares returns nothing", ErrInvalidAmount, shares.Dec())
	}
	if err := bound.Check(amountB); err != nil {
		return Event{}, err
	}
	next, err := p.state.preview(Delta{A: Debit(amountA), B: Debit(amountB)})
	if err != nil {
		return Event{}, err
	}
	if err := p.ledger.Burn(caller, shares); err != nil {
		return Event{}, err
	}
	p.state.commit(next)
	if next.IsZero() {
		p.logger.Info("pool drained, back to uninitialized", "pool", p.id, "provider", caller.Hex())
	}
	return Event{Kind: EventRemoveLiquidity, Caller: caller, AmountA: amountA, AmountB: amountB, Shares: shares.Clone()}, nil
}

// SwapAForB sells amountIn of A for at least minOut of B.
func (p *Pool) SwapAForB(ctx context.Context, caller common.Address, amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	return p.swap(ctx, opSwapAForB, caller, constantproduct.AToB, amountIn, MinOut(minOut))
}

// SwapBForA sells amountIn of B for at least minOut of A.
func (p *Pool) SwapBForA(ctx context.Context, caller common.Address, amountIn, minOut *uint256.Int) (*uint256.Int, error) {
	return p.swap(ctx, opSwapBForA, caller, constantproduct.BToA, amountIn, MinOut(minOut))
}

// Swap sells amountIn in direction dir; the output must fall inside bound.
func (p *Pool) Swap(ctx context.Context, caller common.Address, dir constantproduct.Direction, amountIn *uint256.Int, bound SlippageBound) (*uint256.Int, error) {
	op := opSwapAForB
	if dir == constantproduct.BToA {
		op = opSwapBForA
	}
	return p.swap(ctx, op, caller, dir, amountIn, bound)
}

func (p *Pool) swap(ctx context.Context, op string, caller common.Address, dir constantproduct.Direction, amountIn *uint256.Int, bound SlippageBound) (*uint256.Int, error) {
	if err := positive(amountIn); err != nil {
		p.observe(op, time.Now(), err)
		return nil, err
	}
	ev, err := p.mutate(ctx, op, func() (Event, error) {
		reserves := p.state.reserves
		reserveIn, reserveOut, err := p.reservesLocked(dir)
		if err != nil {
			return Event{}, err
		}
		amountOut, err := calculator.GetAmountOut(amountIn, reserveIn, reserveOut, p.feeBps)
		if err != nil {
			return Event{}, err
		}
		if amountOut.IsZero() {
			return Event{}, fmt.Errorf("%w: input %s buys nothing", ErrInvalidAmount, amountIn.Dec())
		}
		if err := bound.Check(amountOut); err != nil {
			return Event{}, err
		}

		delta := Delta{A: Credit(amountIn), B: Debit(amountOut)}
		if dir == constantproduct.BToA {
			delta = Delta{A: Debit(amountOut), B: Credit(amountIn)}
		}
		next, err := p.state.preview(delta)
		if err != nil {
			return Event{}, err
		}
		before := calculator.Invariant(reserves.A, reserves.B)
		after := calculator.Invariant(next.A, next.B)
		if after.Cmp(before) < 0 {
			return Event{}, fmt.Errorf("%w: K fell from %s to %s swapping %s %s", ErrInvariantViolation, before, after, amountIn.Dec(), dir)
		}
		p.state.commit(next)

		ev := Event{Kind: EventSwap, Caller: caller, Direction: dir.String(), AmountA: amountIn.Clone(), AmountB: amountOut}
		if dir == constantproduct.BToA {
			ev.AmountA, ev.AmountB = amountOut, amountIn.Clone()
		}
		return ev, nil
	})
	if err != nil {
		return nil, err
	}
	asset := "a"
	if dir == constantproduct.BToA {
		asset = "b"
	}
	p.metrics.swapVolume.WithLabelValues(p.label, asset).Add(amountIn.Float64())
	_, amountOut := ev.SwapAmounts()
	return amountOut.Clone(), nil
}

// mutate runs fn under the write lock and, when it succeeds, stamps and
// publishes its event. fn must either fail before changing anything or commit
// fully.
func (p *Pool) mutate(ctx context.Context, op string, fn func() (Event, error)) (Event, error) {
	start := time.Now()
	ev, err := p.mutateLocked(ctx, fn)
	p.observe(op, start, err)
	if err != nil {
		return Event{}, err
	}
	p.logger.Debug("pool operation committed", "pool", p.id, "operation", op, "sequence", ev.Sequence, "caller", ev.Caller.Hex())
	p.publish(ctx, ev)
	return ev, nil
}

func (p *Pool) mutateLocked(ctx context.Context, fn func() (Event, error)) (Event, error) {
	if err := p.lock(); err != nil {
		return Event{}, err
	}
	defer p.mu.Unlock()

	if err := p.flushJournalLocked(ctx); err != nil {
		return Event{}, err
	}
	ev, err := fn()
	if err != nil {
		return Event{}, err
	}
	p.sequence++
	ev.PoolID = p.id
	ev.Sequence = p.sequence
	ev.Timestamp = p.now().UnixNano()
	ev.ReserveA = p.state.reserves.A.Clone()
	ev.ReserveB = p.state.reserves.B.Clone()
	ev.TotalShares = p.ledger.TotalSupply()
	p.metrics.setState(p.label, p.state.reserves, p.ledger.total, p.ledger.Providers())

	if p.journal != nil {
		p.unjournaled = append(p.unjournaled, ev)
		if err := p.flushJournalLocked(ctx); err != nil {
			p.logger.Warn("event kept for the next journal write", "pool", p.id, "sequence", ev.Sequence, "error", err)
		}
	}
	return ev, nil
}

// flushJournalLocked writes the queued events in order and stops at the
// first failure, leaving it at the head of the queue.
func (p *Pool) flushJournalLocked(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	for len(p.unjournaled) > 0 {
		ev := p.unjournaled[0]
		if err := p.journal.Publish(ctx, ev); err != nil {
			p.metrics.journalFailures.WithLabelValues(p.label).Inc()
			return fmt.Errorf("%w: pool %d has %d unwritten event(s) from sequence %d: %w",
				ErrJournalUnavailable, p.id, len(p.unjournaled), ev.Sequence, err)
		}
		p.unjournaled[0] = Event{}
		p.unjournaled = p.unjournaled[1:]
	}
	p.unjournaled = nil
	return nil
}

// FlushJournal retries any events the journal has not accepted yet.
func (p *Pool) FlushJournal(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.journal == nil {
		return nil
	}
	return p.flushJournalLocked(ctx)
}

// Unjournaled returns how many committed events are waiting for the journal.
func (p *Pool) Unjournaled() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.unjournaled)
}

func (p *Pool) lock() error {
	if p.busy == BusyReject {
		if !p.mu.TryLock() {
			return fmt.Errorf("%w: pool %d", ErrPoolBusy, p.id)
		}
		return nil
	}
	p.mu.Lock()
	return nil
}

func (p *Pool) observe(op string, start time.Time, err error) {
	reason := Reason(err)
	p.metrics.operations.WithLabelValues(p.label, op, reason).Inc()
	p.metrics.operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}
	if IsFatal(err) {
		p.metrics.invariantViolations.WithLabelValues(p.label).Inc()
		p.logger.Error("pool operation aborted by consistency check", "pool", p.id, "operation", op, "reason", reason, "error", err)
		return
	}
	p.logger.Debug("pool operation rejected", "pool", p.id, "operation", op, "reason", reason, "error", err)
}

func (p *Pool) publish(ctx context.Context, ev Event) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		p.metrics.publishFailures.WithLabelValues(p.label).Inc()
		p.logger.Warn("failed to publish pool event", "pool", p.id, "sequence", ev.Sequence, "kind", ev.Kind, "error", err)
	}
}

// Quote returns the output of swapping amountIn in direction dir at the
// current reserves.
func (p *Pool) Quote(amountIn *uint256.Int, dir constantproduct.Direction) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	reserveIn, reserveOut, err := p.reservesLocked(dir)
	if err != nil {
		return nil, err
	}
	return calculator.GetAmountOut(amountIn, reserveIn, reserveOut, p.feeBps)
}

// QuoteAmountIn returns the input needed to receive amountOut in direction dir.
func (p *Pool) QuoteAmountIn(amountOut *uint256.Int, dir constantproduct.Direction) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	reserveIn, reserveOut, err := p.reservesLocked(dir)
	if err != nil {
		return nil, err
	}
	return calculator.GetAmountIn(amountOut, reserveIn, reserveOut, p.feeBps)
}

// PairedAmount returns the B amount AddLiquidity would require for amountA.
func (p *Pool) PairedAmount(amountA *uint256.Int) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.state.initialized() {
		return nil, fmt.Errorf("%w: pool %d", ErrNotInitialized, p.id)
	}
	return calculator.ProportionalAmount(amountA, p.state.reserves.A, p.state.reserves.B, fixedpoint.RoundUp)
}

// Reserves returns a consistent snapshot of both reserves.
func (p *Pool) Reserves() Reserves {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.snapshot()
}

// ShareBalance returns provider's share balance.
func (p *Pool) ShareBalance(provider common.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ledger.BalanceOf(provider)
}

// TotalShares returns the outstanding share supply.
func (p *Pool) TotalShares() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ledger.TotalSupply()
}

// Invariant returns K = reserveA * reserveB.
func (p *Pool) Invariant() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return calculator.Invariant(p.state.reserves.A, p.state.reserves.B)
}

// Status reports whether the pool holds reserves.
func (p *Pool) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state.initialized() {
		return StatusActive
	}
	return StatusUninitialized
}

// Sequence returns the sequence number of the last committed event.
func (p *Pool) Sequence() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sequence
}

// Snapshot returns a deep copy of the pool's reserves and ledger.
func (p *Pool) Snapshot() constantproduct.Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Pool) reservesLocked(dir constantproduct.Direction) (reserveIn, reserveOut *uint256.Int, err error) {
	switch dir {
	case constantproduct.AToB:
		return p.state.reserves.A, p.state.reserves.B, nil
	case constantproduct.BToA:
		return p.state.reserves.B, p.state.reserves.A, nil
	}
	return nil, nil, fmt.Errorf("pool %d: unknown direction %d", p.id, dir)
}

func (p *Pool) snapshotLocked() constantproduct.Pool {
	reserves := p.state.snapshot()
	return constantproduct.Pool{
		ID:          p.id,
		ReserveA:    reserves.A,
		ReserveB:    reserves.B,
		TotalShares: p.ledger.TotalSupply(),
		FeeBps:      p.feeBps,
		Positions:   p.ledger.Positions(),
	}
}

func positive(amounts ...*uint256.Int) error {
	for _, a := range amounts {
		if a == nil || a.IsZero() {
			return fmt.Errorf("%w: amounts must be non-nil and non-zero", ErrInvalidAmount)
		}
	}
	return nil
}
