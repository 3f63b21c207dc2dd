// Package checkpoint memoizes an expensive per-key derivation across runs.
// Values are snapshotted to a Store periodically so an interrupted fill
// resumes where it stopped.
package checkpoint

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultInterval is the number of insertions between snapshots.
const DefaultInterval = 100

// State is the lifecycle of a Cache.
type State int

const (
	StateEmpty State = iota
	StatePartial
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePartial:
		return "partial"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Entry is one derived value.
type Entry struct {
	Key   string
	Value string
}

// Store persists cache snapshots. Save receives the full map and the
// entries added since the previous successful Save; a store writes
// whichever it needs.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, all map[string]string, added []Entry) error
	Close() error
}

// DeriveFunc computes the value for key. An error leaves the key missing.
type DeriveFunc func(ctx context.Context, key string) (string, error)

// Options configures a Cache.
type Options struct {
	// Interval is the number of insertions between snapshots. Default: 100.
	Interval int
	// Workers bounds concurrent derivations. Default: 1.
	Workers int
}

// Cache maps keys to derived values. A key present in the cache is never
// derived again or overwritten.
type Cache struct {
	store    Store
	interval int
	workers  int

	mu      sync.Mutex
	values  map[string]string
	pending []Entry
	since   int
	state   State
}

// New creates a Cache over store.
func New(store Store, opts Options) *Cache {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Cache{
		store:    store,
		interval: opts.Interval,
		workers:  opts.Workers,
		values:   make(map[string]string),
	}
}

// State returns the current lifecycle state.
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Len returns the number of cached values.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Fill loads the persisted snapshot, derives every key not yet present,
// and snapshots every Interval insertions and once at the end. It returns
// a copy of the cache contents. A cancelled ctx stops the fill after a
// final snapshot and returns ctx's error.
func (c *Cache) Fill(ctx context.Context, keys []string, derive DeriveFunc) (map[string]string, error) {
	c.load(ctx)

	var missing []string
	c.mu.Lock()
	for _, k := range keys {
		if _, ok := c.values[k]; !ok {
			missing = append(missing, k)
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		zap.L().Info("checkpoint: all keys already derived", zap.Int("keys", len(keys)))
		c.setState(StateComplete)
		return c.snapshotCopy(), nil
	}
	zap.L().Info("checkpoint: deriving missing keys",
		zap.Int("missing", len(missing)),
		zap.Int("cached", c.Len()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, k := range missing {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			v, err := derive(gctx, k)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("checkpoint: derive failed", zap.String("key", k), zap.Error(err))
				return nil
			}
			c.insert(gctx, k, v)
			return nil
		})
	}
	err := g.Wait()

	c.mu.Lock()
	c.snapshotLocked(context.WithoutCancel(ctx))
	done := true
	for _, k := range keys {
		if _, ok := c.values[k]; !ok {
			done = false
			break
		}
	}
	if done {
		c.state = StateComplete
	} else if len(c.values) > 0 {
		c.state = StatePartial
	}
	c.mu.Unlock()

	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return c.snapshotCopy(), err
	}
	zap.L().Info("checkpoint: fill complete", zap.Int("values", c.Len()))
	return c.snapshotCopy(), nil
}

func (c *Cache) load(ctx context.Context) {
	loaded, err := c.store.Load(ctx)
	if err != nil {
		zap.L().Warn("checkpoint: snapshot unreadable, starting empty", zap.Error(err))
		loaded = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range loaded {
		if _, ok := c.values[k]; !ok {
			c.values[k] = v
		}
	}
	if len(c.values) > 0 {
		c.state = StatePartial
		zap.L().Info("checkpoint: loaded snapshot", zap.Int("values", len(c.values)))
	}
}

func (c *Cache) insert(ctx context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return
	}
	c.values[key] = value
	c.pending = append(c.pending, Entry{Key: key, Value: value})
	c.since++
	c.state = StatePartial
	if c.since >= c.interval {
		c.snapshotLocked(ctx)
	}
}

// snapshotLocked saves the cache. Failures are logged and the pending
// entries retried on the next snapshot.
func (c *Cache) snapshotLocked(ctx context.Context) {
	if len(c.pending) == 0 {
		return
	}
	if err := c.store.Save(ctx, c.values, c.pending); err != nil {
		zap.L().Warn("checkpoint: snapshot failed", zap.Error(err), zap.Int("pending", len(c.pending)))
		return
	}
	zap.L().Debug("checkpoint: saved snapshot", zap.Int("values", len(c.values)))
	c.pending = c.pending[:0]
	c.since = 0
}

func (c *Cache) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Cache) snapshotCopy() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
