// Package pool holds pre-fetched candidates per filter combination and hands
// them out in small rating-sorted groups, rotating through the whole set so
// repeated "show me another" requests stay both good and varied.
package pool

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placefinder/internal/model"
)

// Config controls pool sizing.
type Config struct {
	// Capacity is the number of filter keys kept before the least recently
	// used entry is dropped. Default: 50.
	Capacity int
	// GroupSize is the ranked group size. Default: 5.
	GroupSize int
	// RefreshThreshold is the unused-candidate count below which an entry
	// needs a refresh. Default: 4.
	RefreshThreshold int
	// UsedIDsCap bounds the shown-id set. Default: 50.
	UsedIDsCap int
}

// DefaultConfig returns the production pool settings.
func DefaultConfig() Config {
	return Config{
		Capacity:         50,
		GroupSize:        5,
		RefreshThreshold: 4,
		UsedIDsCap:       50,
	}
}

// Entry is the pooled candidate set for one filter key.
type Entry struct {
	FilterKey         string
	Candidates        []model.Candidate
	RankedGroups      [][]model.Candidate
	CurrentGroupIndex int
	LastUsedAt        time.Time
}

// Stats summarizes an entry for callers and logs.
type Stats struct {
	Candidates   int `json:"candidates"`
	Groups       int `json:"groups"`
	CurrentGroup int `json:"current_group"`
	Unused       int `json:"unused"`
}

// Option configures a Pool.
type Option func(*Pool)

// WithRand sets the random source used for shuffling and selection.
func WithRand(r *rand.Rand) Option {
	return func(p *Pool) {
		p.rng = r
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.nowFunc = now
	}
}

// Pool is the process-wide candidate pool. A single mutex guards every
// read-modify-write so selections are atomic per call.
type Pool struct {
	cfg     Config
	mu      sync.Mutex
	entries *lru.Cache[string, *Entry]
	used    *UsedIDSet
	rng     *rand.Rand
	nowFunc func() time.Time
}

// New creates a Pool.
func New(cfg Config, opts ...Option) (*Pool, error) {
	d := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = d.Capacity
	}
	if cfg.GroupSize <= 0 {
		cfg.GroupSize = d.GroupSize
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = d.RefreshThreshold
	}
	if cfg.UsedIDsCap <= 0 {
		cfg.UsedIDsCap = d.UsedIDsCap
	}

	entries, err := lru.NewWithEvict[string, *Entry](cfg.Capacity, func(key string, _ *Entry) {
		zap.L().Debug("pool entry evicted", zap.String("filter_key", key))
	})
	if err != nil {
		return nil, eris.Wrap(err, "pool: create lru")
	}

	p := &Pool{
		cfg:     cfg,
		entries: entries,
		used:    NewUsedIDSet(cfg.UsedIDsCap),
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StoreRankedResults replaces the entry for filterKey. Candidates are
// deduplicated by id, shuffled uniformly, cut into GroupSize chunks and each
// chunk is sorted by rating then review count, both descending.
func (p *Pool) StoreRankedResults(filterKey string, candidates []model.Candidate) {
	unique := model.DedupByID(candidates)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.rng.Shuffle(len(unique), func(i, j int) {
		unique[i], unique[j] = unique[j], unique[i]
	})

	groups := make([][]model.Candidate, 0, (len(unique)+p.cfg.GroupSize-1)/p.cfg.GroupSize)
	for start := 0; start < len(unique); start += p.cfg.GroupSize {
		end := min(start+p.cfg.GroupSize, len(unique))
		group := make([]model.Candidate, end-start)
		copy(group, unique[start:end])
		sortGroup(group)
		groups = append(groups, group)
	}

	p.entries.Add(filterKey, &Entry{
		FilterKey:    filterKey,
		Candidates:   unique,
		RankedGroups: groups,
		LastUsedAt:   p.nowFunc(),
	})
}

// SelectNext picks a random candidate from the current group and advances
// the group index, wrapping to 0 after the last group. Candidates not yet
// shown are preferred within the group. The pick stays in the pool until
// RemoveUsed is called. ok is false when no entry or no candidates exist.
func (p *Pool) SelectNext(filterKey string) (model.Candidate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectLocked(filterKey)
}

// Take selects the next candidate and removes it in one step.
func (p *Pool) Take(filterKey string) (model.Candidate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.selectLocked(filterKey)
	if !ok {
		return model.Candidate{}, false
	}
	p.removeLocked(filterKey, c.ID)
	return c, true
}

func (p *Pool) selectLocked(filterKey string) (model.Candidate, bool) {
	e, ok := p.entries.Get(filterKey)
	if !ok || len(e.RankedGroups) == 0 {
		return model.Candidate{}, false
	}
	if e.CurrentGroupIndex >= len(e.RankedGroups) {
		e.CurrentGroupIndex = 0
	}

	group := e.RankedGroups[e.CurrentGroupIndex]
	if len(group) == 0 {
		return model.Candidate{}, false
	}

	choices := make([]model.Candidate, 0, len(group))
	for _, c := range group {
		if !p.used.Contains(c.ID) {
			choices = append(choices, c)
		}
	}
	if len(choices) == 0 {
		choices = group
	}
	picked := choices[p.rng.IntN(len(choices))]

	e.CurrentGroupIndex++
	if e.CurrentGroupIndex == len(e.RankedGroups) {
		e.CurrentGroupIndex = 0
	}
	e.LastUsedAt = p.nowFunc()
	return picked, true
}

// RemoveUsed deletes candidateID from the entry and records it as shown.
// A group left empty is removed and the group index is shifted so it keeps
// pointing at the same next group.
func (p *Pool) RemoveUsed(filterKey, candidateID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(filterKey, candidateID)
}

func (p *Pool) removeLocked(filterKey, candidateID string) bool {
	p.used.Add(candidateID)

	e, ok := p.entries.Peek(filterKey)
	if !ok {
		return false
	}

	removed := false
	kept := e.Candidates[:0]
	for _, c := range e.Candidates {
		if c.ID == candidateID {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	e.Candidates = kept
	if !removed {
		return false
	}

	for gi, group := range e.RankedGroups {
		idx := -1
		for i, c := range group {
			if c.ID == candidateID {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		group = append(group[:idx], group[idx+1:]...)
		if len(group) > 0 {
			e.RankedGroups[gi] = group
			break
		}
		e.RankedGroups = append(e.RankedGroups[:gi], e.RankedGroups[gi+1:]...)
		if gi < e.CurrentGroupIndex {
			e.CurrentGroupIndex--
		}
		if e.CurrentGroupIndex >= len(e.RankedGroups) {
			e.CurrentGroupIndex = 0
		}
		break
	}
	return true
}

// MarkUsed records id as shown without touching any entry.
func (p *Pool) MarkUsed(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used.Add(id)
}

// NeedsRefresh reports whether the entry is missing or has fewer unused
// candidates than the refresh threshold.
func (p *Pool) NeedsRefresh(filterKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries.Peek(filterKey)
	if !ok {
		return true
	}
	return p.unusedLocked(e) < p.cfg.RefreshThreshold
}

// Stats returns a summary of the entry for filterKey.
func (p *Pool) Stats(filterKey string) (Stats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries.Peek(filterKey)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Candidates:   len(e.Candidates),
		Groups:       len(e.RankedGroups),
		CurrentGroup: e.CurrentGroupIndex,
		Unused:       p.unusedLocked(e),
	}, true
}

// Entry returns a copy of the entry for filterKey.
func (p *Pool) Entry(filterKey string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries.Peek(filterKey)
	if !ok {
		return Entry{}, false
	}
	out := *e
	out.Candidates = append([]model.Candidate(nil), e.Candidates...)
	out.RankedGroups = make([][]model.Candidate, len(e.RankedGroups))
	for i, g := range e.RankedGroups {
		out.RankedGroups[i] = append([]model.Candidate(nil), g...)
	}
	return out, true
}

// Drop removes the entry for filterKey.
func (p *Pool) Drop(filterKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries.Remove(filterKey)
}

// Purge removes every entry. The shown-id set is kept.
func (p *Pool) Purge() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries.Purge()
}

// Keys returns the pooled filter keys, least recently used first.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries.Keys()
}

// Len returns the number of pooled filter keys.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries.Len()
}

func (p *Pool) unusedLocked(e *Entry) int {
	n := 0
	for _, c := range e.Candidates {
		if !p.used.Contains(c.ID) {
			n++
		}
	}
	return n
}

func sortGroup(group []model.Candidate) {
	sort.SliceStable(group, func(i, j int) bool {
		ri, rj := group[i].RatingValue(), group[j].RatingValue()
		if ri != rj {
			return ri > rj
		}
		return group[i].ReviewCountValue() > group[j].ReviewCountValue()
	})
}
