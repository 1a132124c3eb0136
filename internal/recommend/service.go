// Package recommend is the discovery service. It owns the result caches,
// the candidate pool, the relaxation engine and the expansion controller,
// and answers "find me a place" and "show me another" requests.
package recommend

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placefinder/internal/cache"
	"github.com/sells-group/placefinder/internal/expand"
	"github.com/sells-group/placefinder/internal/model"
	"github.com/sells-group/placefinder/internal/mood"
	"github.com/sells-group/placefinder/internal/pool"
	"github.com/sells-group/placefinder/internal/relax"
	"github.com/sells-group/placefinder/internal/search"
)

// ErrInvalidMinResults is returned when minResults is below 1.
var ErrInvalidMinResults = eris.New("recommend: minResults must be at least 1")

// Status tells the caller whether the result met the requested minimum.
type Status string

const (
	StatusComplete  Status = "complete"
	StatusShortfall Status = "shortfall"
)

// Source is where a recommendation's candidates came from.
type Source string

const (
	SourcePool   Source = "pool"
	SourceCache  Source = "cache"
	SourceSearch Source = "search"
)

// Recommendation is the answer to one RequestRecommendation call.
type Recommendation struct {
	RequestID   string            `json:"request_id"`
	FilterKey   string            `json:"filter_key"`
	Selected    *model.Candidate  `json:"selected"`
	Candidates  []model.Candidate `json:"candidates,omitempty"`
	Stage       relax.Stage       `json:"stage,omitempty"`
	Applied     []string          `json:"applied,omitempty"`
	StageCounts []int             `json:"stage_counts,omitempty"`
	Status      Status            `json:"status"`
	Attempts    int               `json:"attempts"`
	Radius      float64           `json:"radius_meters"`
	PoolStats   pool.Stats        `json:"pool_stats"`
	Source      Source            `json:"source"`
}

// Gathered is the response-cache payload: mood-scored candidates from one
// expansion run.
type Gathered struct {
	Candidates []model.Candidate `json:"candidates"`
	Attempts   int               `json:"attempts"`
	Radius     float64           `json:"radius_meters"`
}

// Config bundles the settings of every owned component.
type Config struct {
	Cache     cache.Config
	Pool      pool.Config
	Relax     relax.Config
	Expansion expand.Config
	// MoodConcurrency bounds concurrent scorer calls. Default: 8.
	MoodConcurrency int
}

// DefaultConfig returns production settings for every component.
func DefaultConfig() Config {
	return Config{
		Cache:           cache.DefaultConfig(),
		Pool:            pool.DefaultConfig(),
		Relax:           relax.DefaultConfig(),
		Expansion:       expand.DefaultConfig(),
		MoodConcurrency: 8,
	}
}

// Option configures a Service.
type Option func(*options)

type options struct {
	snapshotter cache.Snapshotter
	cacheOpts   []cache.Option
	poolOpts    []pool.Option
	expandOpts  []expand.Option
}

// WithSnapshotter persists the response cache.
func WithSnapshotter(s cache.Snapshotter) Option {
	return func(o *options) { o.snapshotter = s }
}

// WithCacheOptions passes options to both result caches.
func WithCacheOptions(opts ...cache.Option) Option {
	return func(o *options) { o.cacheOpts = append(o.cacheOpts, opts...) }
}

// WithPoolOptions passes options to the candidate pool.
func WithPoolOptions(opts ...pool.Option) Option {
	return func(o *options) { o.poolOpts = append(o.poolOpts, opts...) }
}

// WithExpandOptions passes options to the expansion controller.
func WithExpandOptions(opts ...expand.Option) Option {
	return func(o *options) { o.expandOpts = append(o.expandOpts, opts...) }
}

// Service is safe for concurrent use. Concurrent requests for the same
// filter are not coalesced and may both search.
type Service struct {
	cfg        Config
	responses  *cache.ResultCache[Gathered]
	attempts   *cache.ResultCache[[]model.Candidate]
	pool       *pool.Pool
	engine     *relax.Engine
	controller *expand.Controller
	scorer     mood.Scorer

	mu         sync.Mutex
	categories map[string]model.Category
}

// New wires a Service around searcher and scorer. A nil scorer uses
// mood.KeywordScorer.
func New(cfg Config, searcher expand.Searcher, scorer mood.Scorer, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if scorer == nil {
		scorer = mood.NewKeywordScorer()
	}
	if cfg.MoodConcurrency <= 0 {
		cfg.MoodConcurrency = DefaultConfig().MoodConcurrency
	}

	respOpts := append([]cache.Option(nil), o.cacheOpts...)
	if o.snapshotter != nil {
		respOpts = append(respOpts, cache.WithSnapshotter(o.snapshotter))
	}
	responses, err := cache.New[Gathered]("responses", cfg.Cache, respOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: response cache")
	}
	attempts, err := cache.New[[]model.Candidate]("attempts", cfg.Cache, o.cacheOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: attempt cache")
	}
	p, err := pool.New(cfg.Pool, o.poolOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: pool")
	}

	expandOpts := append([]expand.Option{expand.WithAttemptCache(attempts)}, o.expandOpts...)
	return &Service{
		cfg:        cfg,
		responses:  responses,
		attempts:   attempts,
		pool:       p,
		engine:     relax.NewEngine(cfg.Relax),
		controller: expand.New(searcher, cfg.Expansion, expandOpts...),
		scorer:     scorer,
		categories: make(map[string]model.Category),
	}, nil
}

// Start restores the response cache snapshot and starts the cache
// janitors. They stop when ctx is done or Close is called.
func (s *Service) Start(ctx context.Context) error {
	if err := s.responses.Restore(ctx); err != nil {
		return err
	}
	s.responses.Start(ctx)
	s.attempts.Start(ctx)
	return nil
}

// Close stops the janitors and saves the response cache snapshot.
func (s *Service) Close() {
	s.responses.Close()
	s.attempts.Close()
}

// RequestRecommendation returns one selected candidate for filter plus the
// relaxed candidate set it came from. An invalid filter is rejected before
// any search. A pooled entry that does not need refreshing is served
// without searching; otherwise gathered candidates come from the response
// cache or from a new expansion run. When every search attempt fails the
// error is an *expand.DiscoveryFailedError.
func (s *Service) RequestRecommendation(ctx context.Context, filter model.FilterSpec, minResults int, observer expand.Observer) (*Recommendation, error) {
	filter, err := model.NewFilterSpec(filter)
	if err != nil {
		return nil, err
	}
	if minResults < 1 {
		return nil, ErrInvalidMinResults
	}

	key := filter.Key()
	rec := &Recommendation{
		RequestID: uuid.New().String(),
		FilterKey: key,
	}
	log := zap.L().With(
		zap.String("component", "recommend"),
		zap.String("request_id", rec.RequestID),
		zap.String("filter_key", key),
	)

	if !s.pool.NeedsRefresh(key) {
		if c, ok := s.take(key); ok {
			rec.Selected = &c
			rec.Status = StatusComplete
			rec.Source = SourcePool
			rec.PoolStats, _ = s.pool.Stats(key)
			log.Debug("served from pool", zap.String("candidate", c.ID))
			return rec, nil
		}
	}

	gathered, fromCache := s.responses.Get(key)
	if fromCache {
		rec.Source = SourceCache
		log.Debug("response cache hit", zap.Int("candidates", len(gathered.Candidates)))
	} else {
		rec.Source = SourceSearch
		gathered, err = s.gather(ctx, filter, observer)
		if err != nil {
			return nil, err
		}
		s.responses.Set(key, gathered, filter)
	}
	rec.Attempts = gathered.Attempts
	rec.Radius = gathered.Radius

	result := s.engine.ApplyWithin(gathered.Candidates, filter, minResults, gathered.Radius)
	rec.Candidates = result.Candidates
	rec.Stage = result.Stage
	rec.Applied = result.Applied
	rec.StageCounts = result.StageCounts
	rec.Status = StatusComplete
	if !result.Satisfied(minResults) {
		rec.Status = StatusShortfall
	}

	s.storePool(key, filter.Category, result.Candidates)
	if c, ok := s.take(key); ok {
		rec.Selected = &c
	}
	rec.PoolStats, _ = s.pool.Stats(key)

	log.Info("recommendation ready",
		zap.String("source", string(rec.Source)),
		zap.String("stage", rec.Stage.String()),
		zap.Int("candidates", len(rec.Candidates)),
		zap.String("status", string(rec.Status)),
	)
	return rec, nil
}

func (s *Service) gather(ctx context.Context, filter model.FilterSpec, observer expand.Observer) (Gathered, error) {
	out, err := s.controller.Run(ctx, expand.Request{
		Filter:        filter,
		CategoryTypes: search.CategoryTypes(filter.Category),
		PriceBounds:   search.PriceBoundsFor(filter.Budget),
		Observer:      observer,
	})
	if err != nil {
		return Gathered{}, err
	}
	scored, err := mood.ScoreAll(ctx, s.scorer, out.Candidates, s.cfg.MoodConcurrency)
	if err != nil {
		return Gathered{}, err
	}
	return Gathered{
		Candidates: scored,
		Attempts:   out.Attempts,
		Radius:     out.Radius(),
	}, nil
}

// GetNextFromPool returns another candidate for filterKey without
// searching and removes it from the pool. ok is false when the pool has
// nothing left for the key.
func (s *Service) GetNextFromPool(filterKey string) (model.Candidate, bool) {
	return s.take(filterKey)
}

// MarkShown removes candidateID from the filterKey pool and records it as
// shown so later selections avoid it.
func (s *Service) MarkShown(filterKey, candidateID string) bool {
	return s.pool.RemoveUsed(filterKey, candidateID)
}

// NeedsRefresh reports whether the pool for filterKey is missing or low.
func (s *Service) NeedsRefresh(filterKey string) bool {
	return s.pool.NeedsRefresh(filterKey)
}

// PoolStats returns the pool summary for filterKey.
func (s *Service) PoolStats(filterKey string) (pool.Stats, bool) {
	return s.pool.Stats(filterKey)
}

// Invalidate drops cached responses, cached attempts and pools for
// category. An empty category drops everything. It returns the number of
// response cache entries removed.
func (s *Service) Invalidate(category model.Category) int {
	match := func(f model.FilterSpec) bool {
		return category == "" || f.Category == category
	}
	n := s.responses.Invalidate(match)
	s.attempts.Invalidate(match)

	live := make(map[string]struct{})
	for _, k := range s.pool.Keys() {
		live[k] = struct{}{}
	}

	s.mu.Lock()
	var drop []string
	for k, c := range s.categories {
		if _, ok := live[k]; !ok {
			delete(s.categories, k)
			continue
		}
		if category == "" || c == category {
			drop = append(drop, k)
			delete(s.categories, k)
		}
	}
	s.mu.Unlock()

	for _, k := range drop {
		s.pool.Drop(k)
	}
	zap.L().Info("invalidated",
		zap.String("category", string(category)),
		zap.Int("responses", n),
		zap.Int("pools", len(drop)),
	)
	return n
}

// Forget drops everything held for one filter key: the cached response,
// its cached search attempts and its pool. The next request for the filter
// searches again. It reports whether anything was removed.
func (s *Service) Forget(filterKey string) bool {
	removed := s.responses.Delete(filterKey)
	if s.attempts.Invalidate(func(f model.FilterSpec) bool { return f.Key() == filterKey }) > 0 {
		removed = true
	}
	if s.pool.Drop(filterKey) {
		removed = true
	}
	s.mu.Lock()
	delete(s.categories, filterKey)
	s.mu.Unlock()
	return removed
}

// Clear empties both caches and the pool.
func (s *Service) Clear() {
	s.responses.Clear()
	s.attempts.Clear()
	s.pool.Purge()
	s.mu.Lock()
	s.categories = make(map[string]model.Category)
	s.mu.Unlock()
}

// CacheStats returns counters for the response cache.
func (s *Service) CacheStats() cache.Stats {
	return s.responses.Stats()
}

func (s *Service) storePool(key string, category model.Category, cands []model.Candidate) {
	s.pool.StoreRankedResults(key, cands)
	s.mu.Lock()
	s.categories[key] = category
	s.mu.Unlock()
}

func (s *Service) take(key string) (model.Candidate, bool) {
	return s.pool.Take(key)
}
