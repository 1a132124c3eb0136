package recommend

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placefinder/internal/expand"
	"github.com/sells-group/placefinder/internal/model"
	"github.com/sells-group/placefinder/internal/mood"
	"github.com/sells-group/placefinder/internal/pool"
	"github.com/sells-group/placefinder/internal/relax"
)

var makati = model.LatLng{Lat: 14.5547, Lng: 121.0244}

func foodFilter() model.FilterSpec {
	return model.FilterSpec{
		Category:      model.CategoryFood,
		Mood:          model.NeutralMood,
		DistanceRange: 1,
		UserLocation:  makati,
	}
}

func places(n int) []model.Candidate {
	out := make([]model.Candidate, n)
	for i := range out {
		out[i] = model.Candidate{
			ID:          fmt.Sprintf("p%02d", i),
			Name:        fmt.Sprintf("Place %d", i),
			Rating:      model.Float(4.0 + float64(i%10)/10),
			ReviewCount: model.Int(100 + i),
			Location:    &model.LatLng{Lat: 14.555, Lng: 121.025},
		}
	}
	return out
}

// countingSearcher returns the same candidates on every call.
type countingSearcher struct {
	calls atomic.Int32
	cands []model.Candidate
	err   error
}

func (c *countingSearcher) Search(context.Context, expand.SearchRequest) ([]model.Candidate, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.cands, nil
}

type memSnapshot struct {
	mu   sync.Mutex
	data []byte
}

func (m *memSnapshot) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}

func (m *memSnapshot) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Expansion.TargetCount = 10
	cfg.Expansion.AttemptTimeout = time.Second
	cfg.Expansion.JitterMeters = 0
	return cfg
}

func newTestService(t *testing.T, searcher expand.Searcher, scorer mood.Scorer, opts ...Option) *Service {
	t.Helper()
	opts = append(opts,
		WithPoolOptions(pool.WithRand(rand.New(rand.NewPCG(7, 11)))),
		WithExpandOptions(expand.WithRand(rand.New(rand.NewPCG(3, 5)))),
	)
	s, err := New(testConfig(), searcher, scorer, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestRequestRecommendation_SearchThenPool(t *testing.T) {
	searcher := &countingSearcher{cands: places(12)}
	s := newTestService(t, searcher, nil)
	ctx := context.Background()

	first, err := s.RequestRecommendation(ctx, foodFilter(), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceSearch, first.Source)
	assert.Equal(t, StatusComplete, first.Status)
	assert.Equal(t, relax.StageStrict, first.Stage)
	assert.Len(t, first.Candidates, 12)
	require.NotNil(t, first.Selected)
	assert.NotEmpty(t, first.RequestID)
	assert.Equal(t, foodFilter().Key(), first.FilterKey)
	assert.Equal(t, 11, first.PoolStats.Candidates)
	assert.InDelta(t, 500, first.Radius, 1e-9)
	assert.Equal(t, int32(1), searcher.calls.Load(), "10 unique on attempt 0 reaches the target")

	second, err := s.RequestRecommendation(ctx, foodFilter(), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, SourcePool, second.Source)
	require.NotNil(t, second.Selected)
	assert.NotEqual(t, first.Selected.ID, second.Selected.ID)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, int32(1), searcher.calls.Load())
}

func TestRequestRecommendation_InvalidFilterSkipsSearch(t *testing.T) {
	searcher := &countingSearcher{cands: places(3)}
	s := newTestService(t, searcher, nil)

	bad := foodFilter()
	bad.Category = ""
	_, err := s.RequestRecommendation(context.Background(), bad, 5, nil)
	require.ErrorIs(t, err, model.ErrInvalidFilter)

	_, err = s.RequestRecommendation(context.Background(), foodFilter(), 0, nil)
	require.ErrorIs(t, err, ErrInvalidMinResults)

	assert.Zero(t, searcher.calls.Load())
}

func TestRequestRecommendation_Shortfall(t *testing.T) {
	cands := places(2)
	cands[1].Rating = model.Float(1.5)
	s := newTestService(t, &countingSearcher{cands: cands}, nil)

	rec, err := s.RequestRecommendation(context.Background(), foodFilter(), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusShortfall, rec.Status)
	assert.Equal(t, relax.StageQualityFloor, rec.Stage)
	require.Len(t, rec.Candidates, 1)
	assert.Equal(t, "p00", rec.Selected.ID)
	assert.Equal(t, 3, rec.Attempts)
}

func TestRequestRecommendation_DiscoveryFailed(t *testing.T) {
	boom := errors.New("places down")
	searcher := &countingSearcher{err: boom}
	s := newTestService(t, searcher, nil)

	var events []string
	_, err := s.RequestRecommendation(context.Background(), foodFilter(), 5, func(e expand.Event) {
		events = append(events, expand.EventName(e))
	})
	require.Error(t, err)
	require.ErrorIs(t, err, expand.ErrDiscoveryFailed)
	require.ErrorIs(t, err, boom)

	var dfe *expand.DiscoveryFailedError
	require.ErrorAs(t, err, &dfe)
	assert.Equal(t, 3, dfe.Attempts)
	assert.Equal(t, int32(3), searcher.calls.Load())
	assert.Equal(t, "failed", events[len(events)-1])
	assert.Zero(t, s.CacheStats().Size, "failures are not cached")
}

func TestRequestRecommendation_ResponseCacheSkipsSearch(t *testing.T) {
	searcher := &countingSearcher{cands: places(12)}
	s := newTestService(t, searcher, nil)
	ctx := context.Background()

	_, err := s.RequestRecommendation(ctx, foodFilter(), 5, nil)
	require.NoError(t, err)
	s.pool.Purge()

	rec, err := s.RequestRecommendation(ctx, foodFilter(), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, rec.Source)
	assert.NotNil(t, rec.Selected)
	assert.Equal(t, int32(1), searcher.calls.Load())
}

func TestRequestRecommendation_ScoresMood(t *testing.T) {
	cands := places(10)
	scorer := mood.ScorerFunc(func(_ context.Context, c model.Candidate) (float64, error) {
		if c.ID < "p05" {
			return 90, nil
		}
		return 10, nil
	})
	s := newTestService(t, &countingSearcher{cands: cands}, scorer)

	filter := foodFilter()
	filter.Mood = 85
	rec, err := s.RequestRecommendation(context.Background(), filter, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, relax.StageStrict, rec.Stage)
	require.Len(t, rec.Candidates, 5)
	for _, c := range rec.Candidates {
		assert.InDelta(t, 90, c.MoodScore, 1e-9)
	}
	assert.Zero(t, cands[0].MoodScore, "searcher results are not mutated")
}

func TestRequestRecommendation_CanceledWhileScoring(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var canceled atomic.Bool
	scorer := mood.ScorerFunc(func(sctx context.Context, _ model.Candidate) (float64, error) {
		if canceled.CompareAndSwap(false, true) {
			cancel()
		}
		if err := sctx.Err(); err != nil {
			return 0, err
		}
		return 90, nil
	})
	searcher := &countingSearcher{cands: places(10)}
	s := newTestService(t, searcher, scorer)

	rec, err := s.RequestRecommendation(ctx, foodFilter(), 5, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, rec)
	assert.Zero(t, s.CacheStats().Size, "a canceled run is not cached")
	_, pooled := s.PoolStats(foodFilter().Key())
	assert.False(t, pooled)

	again, err := s.RequestRecommendation(context.Background(), foodFilter(), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceSearch, again.Source)
	for _, c := range again.Candidates {
		assert.InDelta(t, 90, c.MoodScore, 1e-9)
	}
}

func TestGetNextFromPool(t *testing.T) {
	s := newTestService(t, &countingSearcher{cands: places(6)}, nil)

	rec, err := s.RequestRecommendation(context.Background(), foodFilter(), 3, nil)
	require.NoError(t, err)

	seen := map[string]bool{rec.Selected.ID: true}
	for range 5 {
		c, ok := s.GetNextFromPool(rec.FilterKey)
		require.True(t, ok)
		assert.False(t, seen[c.ID])
		seen[c.ID] = true
	}
	_, ok := s.GetNextFromPool(rec.FilterKey)
	assert.False(t, ok)
	assert.True(t, s.NeedsRefresh(rec.FilterKey))

	_, ok = s.GetNextFromPool("unknown")
	assert.False(t, ok)
}

func TestMarkShown(t *testing.T) {
	s := newTestService(t, &countingSearcher{cands: places(6)}, nil)
	rec, err := s.RequestRecommendation(context.Background(), foodFilter(), 3, nil)
	require.NoError(t, err)

	stats, ok := s.PoolStats(rec.FilterKey)
	require.True(t, ok)
	require.Equal(t, 5, stats.Candidates)

	var other string
	for _, c := range rec.Candidates {
		if c.ID != rec.Selected.ID {
			other = c.ID
			break
		}
	}
	assert.True(t, s.MarkShown(rec.FilterKey, other))
	assert.False(t, s.MarkShown(rec.FilterKey, other))

	stats, _ = s.PoolStats(rec.FilterKey)
	assert.Equal(t, 4, stats.Candidates)
}

func TestInvalidate(t *testing.T) {
	s := newTestService(t, &countingSearcher{cands: places(12)}, nil)
	ctx := context.Background()

	food, err := s.RequestRecommendation(ctx, foodFilter(), 5, nil)
	require.NoError(t, err)
	activity := foodFilter()
	activity.Category = model.CategoryActivity
	act, err := s.RequestRecommendation(ctx, activity, 5, nil)
	require.NoError(t, err)

	assert.Zero(t, s.Invalidate(model.CategorySomethingNew))
	assert.Equal(t, 1, s.Invalidate(model.CategoryFood))

	_, ok := s.PoolStats(food.FilterKey)
	assert.False(t, ok)
	_, ok = s.PoolStats(act.FilterKey)
	assert.True(t, ok)

	assert.Equal(t, 1, s.Invalidate(""))
	_, ok = s.PoolStats(act.FilterKey)
	assert.False(t, ok)
}

func TestForget(t *testing.T) {
	searcher := &countingSearcher{cands: places(12)}
	s := newTestService(t, searcher, nil)
	ctx := context.Background()

	rec, err := s.RequestRecommendation(ctx, foodFilter(), 5, nil)
	require.NoError(t, err)
	other := foodFilter()
	other.Category = model.CategoryActivity
	_, err = s.RequestRecommendation(ctx, other, 5, nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), searcher.calls.Load())

	assert.True(t, s.Forget(rec.FilterKey))
	assert.False(t, s.Forget(rec.FilterKey))
	_, ok := s.PoolStats(rec.FilterKey)
	assert.False(t, ok)
	assert.Equal(t, 1, s.CacheStats().Size, "other filters are kept")

	again, err := s.RequestRecommendation(ctx, foodFilter(), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceSearch, again.Source)
	assert.Equal(t, int32(3), searcher.calls.Load(), "cached attempts are dropped too")
}

func TestSnapshot_RestoredOnStart(t *testing.T) {
	snap := &memSnapshot{}
	ctx := context.Background()

	first := &countingSearcher{cands: places(12)}
	s1 := newTestService(t, first, nil, WithSnapshotter(snap))
	_, err := s1.RequestRecommendation(ctx, foodFilter(), 5, nil)
	require.NoError(t, err)
	s1.Close()

	second := &countingSearcher{cands: places(12)}
	s2 := newTestService(t, second, nil, WithSnapshotter(snap))
	require.NoError(t, s2.Start(ctx))

	rec, err := s2.RequestRecommendation(ctx, foodFilter(), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, rec.Source)
	assert.Zero(t, second.calls.Load())
}

func TestClear(t *testing.T) {
	searcher := &countingSearcher{cands: places(12)}
	s := newTestService(t, searcher, nil)
	ctx := context.Background()

	_, err := s.RequestRecommendation(ctx, foodFilter(), 5, nil)
	require.NoError(t, err)
	s.Clear()

	rec, err := s.RequestRecommendation(ctx, foodFilter(), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceSearch, rec.Source)
}
