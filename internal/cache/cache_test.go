package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placefinder/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// moderate has complexity 3, which leaves DefaultTTL unscaled.
var moderate = model.FilterSpec{
	Category: model.CategoryFood,
	Mood:     80,
	Budget:   model.BudgetMid,
}

func newTestCache(t *testing.T, cfg Config, clock *fakeClock, opts ...Option) *ResultCache[string] {
	t.Helper()
	opts = append(opts, WithClock(clock.Now))
	c, err := New[string]("test", cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestSetGet_RepeatableUntilExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, DefaultConfig(), clock)

	c.Set("k", "v", moderate)
	for i := 0; i < 3; i++ {
		got, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v", got)
	}

	clock.Advance(31 * time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is deleted on read")
}

func TestGet_Miss(t *testing.T) {
	c := newTestCache(t, DefaultConfig(), newFakeClock())
	_, ok := c.Get("absent")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestComputeTTL(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name       string
		complexity int
		accesses   int
		want       time.Duration
	}{
		{"simple filter halves", 2, 1, 15 * time.Minute},
		{"moderate filter unchanged", 3, 1, 30 * time.Minute},
		{"complex filter 1.5x", 4, 1, 45 * time.Minute},
		{"popular doubles", 3, 6, 60 * time.Minute},
		{"very popular triples", 3, 11, 90 * time.Minute},
		{"clamped to max", 5, 11, 2 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.ComputeTTL(tt.complexity, tt.accesses))
		})
	}
}

func TestComputeTTL_AlwaysWithinBand(t *testing.T) {
	configs := []Config{
		DefaultConfig(),
		{DefaultTTL: time.Minute, MinTTL: 10 * time.Minute, MaxTTL: 20 * time.Minute},
		{DefaultTTL: 10 * time.Hour, MinTTL: time.Minute, MaxTTL: 3 * time.Hour},
	}
	for _, raw := range configs {
		cfg, err := raw.applyDefaults()
		require.NoError(t, err)
		for complexity := 0; complexity <= 5; complexity++ {
			for accesses := 0; accesses <= 30; accesses++ {
				ttl := cfg.ComputeTTL(complexity, accesses)
				assert.GreaterOrEqual(t, ttl, cfg.MinTTL)
				assert.LessOrEqual(t, ttl, cfg.MaxTTL)
			}
		}
	}
}

func TestGet_ExtendsTTLEveryFifthAccess(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, DefaultConfig(), clock)
	c.Set("k", "v", moderate)

	// Set counts as the first access; nine hits bring the count to 10.
	for i := 0; i < 9; i++ {
		_, ok := c.Get("k")
		require.True(t, ok)
	}

	clock.Advance(45 * time.Minute)
	_, ok := c.Get("k")
	assert.True(t, ok, "ttl should have been extended to 60m")
}

func TestSet_EvictionBound(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.MaxSize = 10
	c := newTestCache(t, cfg, clock)

	for i := 0; i < 57; i++ {
		clock.Advance(time.Second)
		c.Set(fmt.Sprintf("k%d", i), "v", moderate)
		assert.LessOrEqual(t, c.Len(), 10)
	}
	assert.Positive(t, c.Stats().Evictions)
}

func TestSet_EvictsLowestScore(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.MaxSize = 2
	c := newTestCache(t, cfg, clock)

	c.Set("a", "A", moderate)
	clock.Advance(time.Second)
	c.Set("b", "B", moderate)
	clock.Advance(time.Second)

	// a: 1*0.7 + 2000*0.3 = 600.7, b: 1*0.7 + 1000*0.3 = 300.7 -> b is evicted.
	c.Set("c", "C", moderate)

	assert.Equal(t, 2, c.Len())
	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
}

func TestSet_OverwriteDoesNotEvict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 2
	c := newTestCache(t, cfg, newFakeClock())

	c.Set("a", "1", moderate)
	c.Set("b", "1", moderate)
	c.Set("a", "2", moderate)

	assert.Equal(t, 2, c.Len())
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "2", got)
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t, DefaultConfig(), newFakeClock())

	activity := moderate
	activity.Category = model.CategoryActivity

	c.Set("food-1", "v", moderate)
	c.Set("food-2", "v", moderate)
	c.Set("act-1", "v", activity)

	n := c.Invalidate(func(f model.FilterSpec) bool { return f.Category == model.CategoryFood })
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())

	n = c.Invalidate(func(model.FilterSpec) bool { return true })
	assert.Equal(t, 1, n)
	assert.Zero(t, c.Len())
}

func TestSweep(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, DefaultConfig(), clock)

	simple := model.FilterSpec{Category: model.CategoryFood, Mood: model.NeutralMood}
	c.Set("short", "v", simple) // 15m
	c.Set("long", "v", moderate) // 30m

	clock.Advance(20 * time.Minute)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestStart_JanitorSweeps(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.SweepInterval = 5 * time.Millisecond
	c := newTestCache(t, cfg, clock)

	c.Set("k", "v", moderate)
	clock.Advance(time.Hour)

	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClose_WithoutStart(t *testing.T) {
	c := newTestCache(t, DefaultConfig(), newFakeClock())
	c.Close()
	c.Close()
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative default ttl", Config{DefaultTTL: -time.Second}},
		{"negative min ttl", Config{MinTTL: -time.Second}},
		{"min above max", Config{MinTTL: time.Hour, MaxTTL: time.Minute}},
		{"negative size", Config{MaxSize: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New[string]("bad", tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MaxSize = 20
	c, err := New[int]("concurrent", cfg)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%30)
			c.Set(key, i, moderate)
			c.Get(key)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 20)
}

func TestGet_ExpiredCountsAsEviction(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, DefaultConfig(), clock)

	c.Set("k", "v", moderate)
	clock.Advance(31 * time.Minute)
	_, ok := c.Get("k")
	require.False(t, ok)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Evictions)
	assert.Equal(t, int64(1), st.Misses)
	assert.Zero(t, st.Size)
}

func TestDelete_Persists(t *testing.T) {
	snap := &memSnapshotter{}
	c := newTestCache(t, DefaultConfig(), newFakeClock(), WithSnapshotter(snap))

	c.Set("a", "1", moderate)
	c.Set("b", "2", moderate)
	saves := snap.saves

	assert.True(t, c.Delete("a"))
	assert.Equal(t, saves+1, snap.saves)
	assert.False(t, c.Delete("a"))
	assert.Equal(t, saves+1, snap.saves, "deleting a missing key does not persist")

	restored := newTestCache(t, DefaultConfig(), newFakeClock(), WithSnapshotter(snap))
	require.NoError(t, restored.Restore(context.Background()))
	_, ok := restored.Get("a")
	assert.False(t, ok)
	got, ok := restored.Get("b")
	require.True(t, ok)
	assert.Equal(t, "2", got)
}
