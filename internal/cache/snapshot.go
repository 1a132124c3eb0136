package cache

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// snapshotTimeout bounds each snapshot write triggered by Set or Clear.
const snapshotTimeout = 5 * time.Second

// Snapshotter loads and saves a serialized cache blob. Load returns
// (nil, nil) when nothing has been saved yet.
type Snapshotter interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// MarshalSnapshot encodes the cache as a JSON array of [key, entry] pairs.
func (c *ResultCache[V]) MarshalSnapshot() ([]byte, error) {
	c.mu.Lock()
	pairs := make([][2]any, 0, len(c.entries))
	for k, e := range c.entries {
		pairs = append(pairs, [2]any{k, e})
	}
	c.mu.Unlock()

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i][0].(string) < pairs[j][0].(string)
	})

	data, err := json.Marshal(pairs)
	if err != nil {
		return nil, eris.Wrap(err, "cache: marshal snapshot")
	}
	return data, nil
}

// UnmarshalSnapshot replaces the cache contents with the pairs in data.
// Expired entries are skipped and, if the snapshot is larger than MaxSize,
// only the most recently accessed entries are kept.
func (c *ResultCache[V]) UnmarshalSnapshot(data []byte) error {
	var raw [][2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "cache: decode snapshot")
	}

	now := c.nowFunc()
	loaded := make([]*Entry[V], 0, len(raw))
	for i, pair := range raw {
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return eris.Wrapf(err, "cache: decode snapshot key %d", i)
		}
		var e Entry[V]
		if err := json.Unmarshal(pair[1], &e); err != nil {
			return eris.Wrapf(err, "cache: decode snapshot entry %q", key)
		}
		e.Key = key
		if e.TTLMs <= 0 || e.expired(now) {
			continue
		}
		e.TTLMs = clampMs(e.TTLMs, c.cfg.MinTTL, c.cfg.MaxTTL)
		loaded = append(loaded, &e)
	}

	sort.Slice(loaded, func(i, j int) bool {
		return loaded[i].LastAccessedAt.After(loaded[j].LastAccessedAt)
	})
	if len(loaded) > c.cfg.MaxSize {
		loaded = loaded[:c.cfg.MaxSize]
	}

	entries := make(map[string]*Entry[V], len(loaded))
	for _, e := range loaded {
		entries[e.Key] = e
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// Restore loads the snapshot from the configured Snapshotter. A missing
// snapshot is not an error. A corrupt snapshot is logged and the cache starts
// empty; only a failing Load is returned to the caller.
func (c *ResultCache[V]) Restore(ctx context.Context) error {
	if c.snapshotter == nil {
		return nil
	}
	data, err := c.snapshotter.Load(ctx)
	if err != nil {
		return eris.Wrap(err, "cache: load snapshot")
	}
	if len(data) == 0 {
		return nil
	}
	if err := c.UnmarshalSnapshot(data); err != nil {
		zap.L().Warn("cache snapshot corrupt, starting empty",
			zap.String("cache", c.name),
			zap.Error(err),
		)
		c.mu.Lock()
		c.entries = make(map[string]*Entry[V])
		c.mu.Unlock()
		return nil
	}
	zap.L().Info("cache snapshot restored", zap.String("cache", c.name), zap.Int("entries", c.Len()))
	return nil
}

// Persist writes the current contents to the Snapshotter, if any.
func (c *ResultCache[V]) Persist(ctx context.Context) error {
	if c.snapshotter == nil {
		return nil
	}
	data, err := c.MarshalSnapshot()
	if err != nil {
		return err
	}
	if err := c.snapshotter.Save(ctx, data); err != nil {
		return eris.Wrap(err, "cache: save snapshot")
	}
	return nil
}

// persist is the fire-and-log variant used after mutations.
func (c *ResultCache[V]) persist() {
	if c.snapshotter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := c.Persist(ctx); err != nil {
		zap.L().Warn("cache snapshot save failed", zap.String("cache", c.name), zap.Error(err))
	}
}

func clampMs(ms int64, lo, hi time.Duration) int64 {
	if ms < lo.Milliseconds() {
		return lo.Milliseconds()
	}
	if ms > hi.Milliseconds() {
		return hi.Milliseconds()
	}
	return ms
}
