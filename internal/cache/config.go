// Package cache provides the in-memory result cache that short-circuits
// repeated place searches. Entries carry an adaptive TTL that grows with use
// and are evicted by an access/recency score when the cache is full.
package cache

import (
	"time"

	"github.com/rotisserie/eris"
)

// ErrInvalidConfig is returned by New for configurations that can never
// produce a valid TTL.
var ErrInvalidConfig = eris.New("cache: invalid config")

// Config controls sizing, TTL policy and eviction weights.
type Config struct {
	// MaxSize is the entry count at which Set evicts before inserting. Default: 100.
	MaxSize int

	// DefaultTTL is the base TTL before complexity and access multipliers. Default: 30m.
	DefaultTTL time.Duration

	// MinTTL and MaxTTL bound every computed TTL. Defaults: 5m and 2h.
	MinTTL time.Duration
	MaxTTL time.Duration

	// ExtendEvery recomputes an entry's TTL every N hits. Default: 5.
	ExtendEvery int

	// AccessWeight and RecencyWeight weight the eviction score
	// accessCount*AccessWeight + msSinceLastAccess*RecencyWeight.
	// The recency term is raw milliseconds and is not normalized against the
	// access term. Defaults: 0.7 and 0.3.
	AccessWeight  float64
	RecencyWeight float64

	// EvictFraction is the share of entries removed per eviction pass,
	// rounded up to at least one entry. Default: 0.2.
	EvictFraction float64

	// SweepInterval is the janitor period for expired-entry cleanup. Default: 5m.
	SweepInterval time.Duration
}

// DefaultConfig returns the production cache settings.
func DefaultConfig() Config {
	return Config{
		MaxSize:       100,
		DefaultTTL:    30 * time.Minute,
		MinTTL:        5 * time.Minute,
		MaxTTL:        2 * time.Hour,
		ExtendEvery:   5,
		AccessWeight:  0.7,
		RecencyWeight: 0.3,
		EvictFraction: 0.2,
		SweepInterval: 5 * time.Minute,
	}
}

// applyDefaults fills zero values and rejects negative or inverted TTLs.
func (c Config) applyDefaults() (Config, error) {
	if c.DefaultTTL < 0 || c.MinTTL < 0 || c.MaxTTL < 0 {
		return c, eris.Wrap(ErrInvalidConfig, "negative ttl")
	}
	if c.MaxSize < 0 {
		return c, eris.Wrap(ErrInvalidConfig, "negative max size")
	}
	d := DefaultConfig()
	if c.MaxSize == 0 {
		c.MaxSize = d.MaxSize
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.MinTTL == 0 {
		c.MinTTL = d.MinTTL
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = d.MaxTTL
	}
	if c.MinTTL > c.MaxTTL {
		return c, eris.Wrapf(ErrInvalidConfig, "min ttl %s exceeds max ttl %s", c.MinTTL, c.MaxTTL)
	}
	if c.ExtendEvery <= 0 {
		c.ExtendEvery = d.ExtendEvery
	}
	if c.AccessWeight == 0 && c.RecencyWeight == 0 {
		c.AccessWeight = d.AccessWeight
		c.RecencyWeight = d.RecencyWeight
	}
	if c.EvictFraction <= 0 || c.EvictFraction > 1 {
		c.EvictFraction = d.EvictFraction
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c, nil
}

// ComputeTTL applies the TTL policy: simple filters (complexity <= 2) churn
// at half the default, complex ones (>= 4) live 1.5x longer, entries hit more
// than 5 times double and more than 10 times triple. The result is clamped to
// [MinTTL, MaxTTL].
func (c Config) ComputeTTL(complexity, accessCount int) time.Duration {
	ttl := float64(c.DefaultTTL)
	switch {
	case complexity <= 2:
		ttl *= 0.5
	case complexity >= 4:
		ttl *= 1.5
	}
	switch {
	case accessCount > 10:
		ttl *= 3
	case accessCount > 5:
		ttl *= 2
	}
	out := time.Duration(ttl)
	if out < c.MinTTL {
		out = c.MinTTL
	}
	if out > c.MaxTTL {
		out = c.MaxTTL
	}
	return out
}
