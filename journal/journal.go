package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/defistate/defistate-amm-go/pool"
)

var ErrClosed = errors.New("journal is closed")

var errStopScan = errors.New("stop scan")

const (
	eventPrefix      byte = 'e'
	quarantinePrefix byte = 'q'
	keyLen                = 1 + 8 + 8
	quarantineKeyLen      = 1 + 8 + 8 + 8
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config configures a Journal.
type Config struct {
	// Path is the pebble data directory.
	Path string
	// FS overrides the filesystem, i.e vfs.NewMem() in tests.
	FS vfs.FS
	// Sync fsyncs every write before Publish returns.
	Sync   bool
	Logger Logger
}

func (c *Config) validate() error {
	if c.Path == "" {
		return errors.New("config: Path is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Journal is a pool.Publisher that stores every committed event in pebble,
// keyed by (pool ID, sequence). Publishing the same event twice overwrites
// it with identical bytes, so retries are safe.
type Journal struct {
	logger    Logger
	writeOpts *pebble.WriteOptions
	now       func() time.Time

	mu sync.RWMutex
	db *pebble.DB
}

var _ pool.Publisher = (*Journal)(nil)

// Open opens or creates the journal at cfg.Path.
func Open(cfg *Config) (*Journal, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts := &pebble.Options{}
	if cfg.FS != nil {
		opts.FS = cfg.FS
	}
	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", cfg.Path, err)
	}
	writeOpts := pebble.NoSync
	if cfg.Sync {
		writeOpts = pebble.Sync
	}
	cfg.Logger.Info("journal opened", "path", cfg.Path, "sync", cfg.Sync)
	return &Journal{
		logger:    cfg.Logger,
		writeOpts: writeOpts,
		now:       time.Now,
		db:        db,
	}, nil
}

func eventKey(poolID, sequence uint64) []byte {
	key := make([]byte, keyLen)
	key[0] = eventPrefix
	binary.BigEndian.PutUint64(key[1:9], poolID)
	binary.BigEndian.PutUint64(key[9:], sequence)
	return key
}

// poolBounds returns the [lower, upper) key range of one pool's events.
func poolBounds(poolID, fromSequence uint64) (lower, upper []byte) {
	lower = eventKey(poolID, fromSequence)
	upper = make([]byte, 9)
	upper[0] = eventPrefix
	binary.BigEndian.PutUint64(upper[1:], poolID+1)
	if poolID == ^uint64(0) {
		upper = []byte{eventPrefix + 1}
	}
	return lower, upper
}

// Publish stores ev. It implements pool.Publisher.
func (j *Journal) Publish(ctx context.Context, ev pool.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %d/%d: %w", ev.PoolID, ev.Sequence, err)
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return ErrClosed
	}
	if err := j.db.Set(eventKey(ev.PoolID, ev.Sequence), value, j.writeOpts); err != nil {
		return fmt.Errorf("write event %d/%d: %w", ev.PoolID, ev.Sequence, err)
	}
	return nil
}

// Events returns the events of poolID with sequence >= fromSequence, in order.
func (j *Journal) Events(poolID, fromSequence uint64) ([]pool.Event, error) {
	var events []pool.Event
	err := j.scan(poolID, fromSequence, func(ev pool.Event) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

func (j *Journal) scan(poolID, fromSequence uint64, fn func(pool.Event) error) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return ErrClosed
	}

	lower, upper := poolBounds(poolID, fromSequence)
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var ev pool.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return fmt.Errorf("decode event at key %x: %w", iter.Key(), err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return iter.Error()
}

// PoolIDs returns the IDs of every pool with at least one event, ascending.
func (j *Journal) PoolIDs() ([]uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return nil, ErrClosed
	}

	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{eventPrefix},
		UpperBound: []byte{eventPrefix + 1},
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []uint64
	for valid := iter.First(); valid; {
		key := iter.Key()
		if len(key) != keyLen {
			return nil, fmt.Errorf("malformed journal key %x", key)
		}
		id := binary.BigEndian.Uint64(key[1:9])
		ids = append(ids, id)
		if id == ^uint64(0) {
			break
		}
		next := make([]byte, 9)
		next[0] = eventPrefix
		binary.BigEndian.PutUint64(next[1:], id+1)
		valid = iter.SeekGE(next)
	}
	return ids, iter.Error()
}

// quarantineKey orders quarantined events by pool, then by the batch that
// moved them, then by sequence.
func quarantineKey(poolID, batch, sequence uint64) []byte {
	key := make([]byte, quarantineKeyLen)
	key[0] = quarantinePrefix
	binary.BigEndian.PutUint64(key[1:9], poolID)
	binary.BigEndian.PutUint64(key[9:17], batch)
	binary.BigEndian.PutUint64(key[17:], sequence)
	return key
}

// Quarantine moves the events of poolID with sequence >= fromSequence out of
// the replayed range, keeping them for manual reconciliation. It returns how
// many events were moved.
func (j *Journal) Quarantine(poolID, fromSequence uint64) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return 0, ErrClosed
	}

	lower, upper := poolBounds(poolID, fromSequence)
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	batchID := uint64(j.now().UnixNano())
	b := j.db.NewBatch()
	defer b.Close()
	moved := 0
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		sequence := binary.BigEndian.Uint64(key[9:])
		if err := b.Set(quarantineKey(poolID, batchID, sequence), iter.Value(), nil); err != nil {
			return 0, err
		}
		if err := b.Delete(key, nil); err != nil {
			return 0, err
		}
		moved++
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if moved == 0 {
		return 0, nil
	}
	if err := b.Commit(j.writeOpts); err != nil {
		return 0, fmt.Errorf("quarantine pool %d from %d: %w", poolID, fromSequence, err)
	}
	j.logger.Warn("journal events quarantined", "pool", poolID, "from_sequence", fromSequence, "events", moved)
	return moved, nil
}

// Quarantined returns every quarantined event of poolID, oldest batch first.
func (j *Journal) Quarantined(poolID uint64) ([]pool.Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return nil, ErrClosed
	}

	lower := make([]byte, 9)
	lower[0] = quarantinePrefix
	binary.BigEndian.PutUint64(lower[1:], poolID)
	upper := []byte{quarantinePrefix + 1}
	if poolID != ^uint64(0) {
		upper = make([]byte, 9)
		upper[0] = quarantinePrefix
		binary.BigEndian.PutUint64(upper[1:], poolID+1)
	}
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var events []pool.Event
	for iter.First(); iter.Valid(); iter.Next() {
		var ev pool.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode quarantined event at key %x: %w", iter.Key(), err)
		}
		events = append(events, ev)
	}
	return events, iter.Error()
}

// Close flushes and closes the underlying database. Further calls return
// ErrClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return ErrClosed
	}
	err := j.db.Close()
	j.db = nil
	return err
}
