package poolregistry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/defistate/defistate-amm-go/pool"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct/calculator"
)

var (
	ErrPoolExists   = errors.New("pool already exists")
	ErrPoolNotFound = errors.New("pool not found")
)

// Config holds the settings shared by every pool in the registry.
type Config struct {
	FeeBps     uint16
	Seed       calculator.SeedFunc
	BusyPolicy pool.BusyPolicy
	Publisher  pool.Publisher
	Journal    pool.Publisher
	Metrics    *pool.Metrics
	Logger     pool.Logger
	Clock      func() time.Time
}

func (c *Config) validate() error {
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Metrics == nil {
		return errors.New("config: Metrics cannot be nil")
	}
	if c.FeeBps >= calculator.BasisPoints {
		return fmt.Errorf("config: %w: got %d", pool.ErrInvalidFee, c.FeeBps)
	}
	return nil
}

// Registry holds independent pools keyed by ID. Each pool keeps its own lock;
// the registry lock only guards membership. The sorted ID list is cached
// behind an atomic pointer so readers never take the lock.
type Registry struct {
	cfg Config

	mu     sync.RWMutex
	pools  map[uint64]*pool.Pool
	nextID uint64

	cachedIDs atomic.Pointer[[]uint64]
}

// New returns an empty registry.
func New(cfg *Config) (*Registry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		cfg:    *cfg,
		pools:  make(map[uint64]*pool.Pool),
		nextID: 1,
	}
	r.cachedIDs.Store(&[]uint64{})
	return r, nil
}

// Create registers a new, uninitialized pool under id.
func (r *Registry) Create(id uint64) (*pool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(id)
}

// CreateNext registers a pool under the next unused ID.
func (r *Registry) CreateNext() (*pool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if _, taken := r.pools[r.nextID]; !taken {
			break
		}
		r.nextID++
	}
	return r.createLocked(r.nextID)
}

func (r *Registry) createLocked(id uint64) (*pool.Pool, error) {
	if _, exists := r.pools[id]; exists {
		return nil, fmt.Errorf("%w: %d", ErrPoolExists, id)
	}
	p, err := pool.NewPool(&pool.Config{
		ID:         id,
		FeeBps:     r.cfg.FeeBps,
		Seed:       r.cfg.Seed,
		BusyPolicy: r.cfg.BusyPolicy,
		Publisher:  r.cfg.Publisher,
		Journal:    r.cfg.Journal,
		Metrics:    r.cfg.Metrics,
		Logger:     r.cfg.Logger,
		Clock:      r.cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	r.pools[id] = p
	if id >= r.nextID {
		r.nextID = id + 1
	}
	r.updateCachedIDs()
	r.cfg.Logger.Info("pool registered", "pool_id", id, "fee_bps", r.cfg.FeeBps)
	return p, nil
}

// updateCachedIDs MUST be called with r.mu held for writing.
func (r *Registry) updateCachedIDs() {
	ids := make([]uint64, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	r.cachedIDs.Store(&ids)
}

// Get returns the pool registered under id.
func (r *Registry) Get(id uint64) (*pool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	return p, nil
}

// IDs returns the registered pool IDs in ascending order. The slice is shared
// and must not be modified.
func (r *Registry) IDs() []uint64 {
	return *r.cachedIDs.Load()
}

// All returns every pool ordered by ID.
func (r *Registry) All() []*pool.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := *r.cachedIDs.Load()
	out := make([]*pool.Pool, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.pools[id])
	}
	return out
}

// Len returns the number of registered pools.
func (r *Registry) Len() int {
	return len(*r.cachedIDs.Load())
}

// FeeBps returns the fee applied to every pool.
func (r *Registry) FeeBps() uint16 {
	return r.cfg.FeeBps
}

// Snapshot returns a view of every pool ordered by ID. Each pool is read
// under its own lock, so the view is consistent per pool but not across pools.
func (r *Registry) Snapshot() []constantproduct.Pool {
	pools := r.All()
	out := make([]constantproduct.Pool, len(pools))
	for i, p := range pools {
		out[i] = p.Snapshot()
	}
	return out
}
