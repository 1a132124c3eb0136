package cache

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/placefinder/internal/model"
)

// Entry is one cached payload with its TTL bookkeeping.
type Entry[V any] struct {
	Key            string           `json:"key"`
	Payload        V                `json:"payload"`
	Filter         model.FilterSpec `json:"filter"`
	CreatedAt      time.Time        `json:"created_at"`
	TTLMs          int64            `json:"ttl_ms"`
	AccessCount    int              `json:"access_count"`
	LastAccessedAt time.Time        `json:"last_accessed_at"`
}

// TTL returns the entry's current time-to-live.
func (e *Entry[V]) TTL() time.Duration {
	return time.Duration(e.TTLMs) * time.Millisecond
}

func (e *Entry[V]) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL()
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Size      int   `json:"size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Option configures a ResultCache.
type Option func(*options)

type options struct {
	snapshotter Snapshotter
	nowFunc     func() time.Time
}

// WithSnapshotter persists the cache to s after every Set and Clear.
func WithSnapshotter(s Snapshotter) Option {
	return func(o *options) {
		o.snapshotter = s
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.nowFunc = now
	}
}

// ResultCache is a bounded key→payload store with adaptive TTLs. All methods
// are safe for concurrent use; each read-modify-write runs under one mutex.
type ResultCache[V any] struct {
	name string
	cfg  Config

	mu      sync.Mutex
	entries map[string]*Entry[V]
	stats   Stats

	snapshotter Snapshotter
	nowFunc     func() time.Time

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates a ResultCache. name labels log lines and metrics.
func New[V any](name string, cfg Config, opts ...Option) (*ResultCache[V], error) {
	cfg, err := cfg.applyDefaults()
	if err != nil {
		return nil, err
	}
	o := options{nowFunc: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &ResultCache[V]{
		name:        name,
		cfg:         cfg,
		entries:     make(map[string]*Entry[V]),
		snapshotter: o.snapshotter,
		nowFunc:     o.nowFunc,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Config returns the effective configuration.
func (c *ResultCache[V]) Config() Config {
	return c.cfg
}

// Get returns the payload for key. Expired entries are deleted and reported
// as misses. Every ExtendEvery-th hit recomputes the entry's TTL.
func (c *ResultCache[V]) Get(key string) (V, bool) {
	var zero V
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.recordMiss()
		return zero, false
	}
	if e.expired(now) {
		delete(c.entries, key)
		c.recordMiss()
		c.stats.Evictions++
		cacheEvictions.WithLabelValues(c.name, "expired").Inc()
		return zero, false
	}

	e.AccessCount++
	e.LastAccessedAt = now
	if e.AccessCount%c.cfg.ExtendEvery == 0 {
		e.TTLMs = c.cfg.ComputeTTL(e.Filter.Complexity(), e.AccessCount).Milliseconds()
	}

	c.stats.Hits++
	cacheHits.WithLabelValues(c.name).Inc()
	return e.Payload, true
}

// Set stores payload under key. filter is the query that produced it; its
// complexity seeds the TTL and it is the metadata Invalidate matches on.
func (c *ResultCache[V]) Set(key string, payload V, filter model.FilterSpec) {
	now := c.nowFunc()

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxSize {
		c.evictLocked(now)
	}
	c.entries[key] = &Entry[V]{
		Key:            key,
		Payload:        payload,
		Filter:         filter,
		CreatedAt:      now,
		TTLMs:          c.cfg.ComputeTTL(filter.Complexity(), 1).Milliseconds(),
		AccessCount:    1,
		LastAccessedAt: now,
	}
	c.mu.Unlock()

	c.persist()
}

// Delete removes key. It reports whether the key was present.
func (c *ResultCache[V]) Delete(key string) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if ok {
		c.persist()
	}
	return ok
}

// Invalidate removes every entry whose filter matches pred and returns the
// number removed.
func (c *ResultCache[V]) Invalidate(pred func(model.FilterSpec) bool) int {
	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if pred(e.Filter) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.persist()
	}
	return removed
}

// Clear drops all entries.
func (c *ResultCache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry[V])
	c.mu.Unlock()

	c.persist()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *ResultCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the cache counters.
func (c *ResultCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	return s
}

// Sweep deletes expired entries and returns how many were removed.
func (c *ResultCache[V]) Sweep() int {
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		c.stats.Evictions += int64(removed)
		cacheEvictions.WithLabelValues(c.name, "expired").Add(float64(removed))
	}
	return removed
}

// Start launches the periodic sweep. It returns immediately; the janitor runs
// until ctx is done or Close is called. Calling Start twice is a no-op.
func (c *ResultCache[V]) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.janitor(ctx)
	})
}

// Close stops the janitor and writes a final snapshot.
func (c *ResultCache[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		started := true
		c.startOnce.Do(func() { started = false })
		if started {
			<-c.done
		}
		c.persist()
	})
}

func (c *ResultCache[V]) janitor(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				zap.L().Debug("cache sweep", zap.String("cache", c.name), zap.Int("removed", n))
			}
		}
	}
}

// evictLocked removes the lowest-scoring EvictFraction of entries.
// Caller must hold c.mu.
func (c *ResultCache[V]) evictLocked(now time.Time) {
	type scored struct {
		key   string
		score float64
	}
	all := make([]scored, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, scored{key: k, score: c.evictionScore(e, now)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score == all[j].score {
			return all[i].key < all[j].key
		}
		return all[i].score < all[j].score
	})

	n := int(math.Ceil(float64(len(all)) * c.cfg.EvictFraction))
	if n < 1 {
		n = 1
	}
	if n > len(all) {
		n = len(all)
	}
	for _, s := range all[:n] {
		delete(c.entries, s.key)
	}
	c.stats.Evictions += int64(n)
	cacheEvictions.WithLabelValues(c.name, "capacity").Add(float64(n))
}

func (c *ResultCache[V]) evictionScore(e *Entry[V], now time.Time) float64 {
	sinceMs := float64(now.Sub(e.LastAccessedAt).Milliseconds())
	return float64(e.AccessCount)*c.cfg.AccessWeight + sinceMs*c.cfg.RecencyWeight
}

func (c *ResultCache[V]) recordMiss() {
	c.stats.Misses++
	cacheMisses.WithLabelValues(c.name).Inc()
}
