// Package expand gathers candidates for a filter by calling the place search
// repeatedly with a growing radius until enough have been collected or the
// attempt budget runs out.
package expand

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/placefinder/internal/cache"
	"github.com/sells-group/placefinder/internal/model"
	"github.com/sells-group/placefinder/internal/resilience"
)

// PriceBounds is an inclusive Places price-level range.
type PriceBounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// SearchRequest is one call to the place search.
type SearchRequest struct {
	Center        model.LatLng
	RadiusMeters  float64
	CategoryTypes []string
	PriceBounds   *PriceBounds
}

// Searcher is the external place search. An empty result is a valid
// outcome; an error fails only the current attempt.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]model.Candidate, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, req SearchRequest) ([]model.Candidate, error)

// Search calls f.
func (f SearcherFunc) Search(ctx context.Context, req SearchRequest) ([]model.Candidate, error) {
	return f(ctx, req)
}

// Growth selects how the radius grows between attempts.
type Growth string

const (
	// GrowthMultiplicative multiplies the radius by 1 + 0.5*attempt.
	GrowthMultiplicative Growth = "multiplicative"
	// GrowthTable moves to the next step of the distance table.
	GrowthTable Growth = "table"
)

// State is the controller's run state.
type State string

const (
	StateInitial   State = "initial"
	StateSearching State = "searching"
	StateExpanding State = "expanding"
	StateComplete  State = "complete"
	StateError     State = "error"
)

// Config controls the expansion loop.
type Config struct {
	// TargetCount stops the loop once this many unique candidates are gathered. Default: 100.
	TargetCount int
	// MaxAttempts bounds the number of search calls per run. Default: 3.
	MaxAttempts int
	// AttemptTimeout bounds each search call; a timeout fails only that attempt. Default: 12s.
	AttemptTimeout time.Duration
	// Growth is the radius policy. Default: multiplicative.
	Growth Growth
	// JitterMeters shifts the center by up to this distance on retries. 0 disables.
	JitterMeters float64
	// MaxRadius caps the radius. Default: 50000 (Places API limit).
	MaxRadius float64
	// RateLimit is search calls per second. 0 disables throttling.
	RateLimit float64
	// Breaker guards the search upstream.
	Breaker resilience.BreakerConfig
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		TargetCount:    100,
		MaxAttempts:    3,
		AttemptTimeout: 12 * time.Second,
		Growth:         GrowthMultiplicative,
		JitterMeters:   300,
		MaxRadius:      50000,
		Breaker:        resilience.NewBreakerConfig(5, 30*time.Second),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TargetCount <= 0 {
		c.TargetCount = d.TargetCount
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	if c.Growth != GrowthTable {
		c.Growth = GrowthMultiplicative
	}
	if c.JitterMeters < 0 {
		c.JitterMeters = 0
	}
	if c.MaxRadius <= 0 {
		c.MaxRadius = d.MaxRadius
	}
	return c
}

// Request is one expansion run.
type Request struct {
	Filter        model.FilterSpec
	CategoryTypes []string
	PriceBounds   *PriceBounds
	// Observer, if set, receives progress events synchronously.
	Observer Observer
}

// Outcome is the result of a run that gathered at least one candidate.
type Outcome struct {
	Candidates []model.Candidate
	Attempts   int
	Failures   int
	Radii      []float64
	State      State
}

// Radius returns the radius of the last attempt.
func (o Outcome) Radius() float64 {
	if len(o.Radii) == 0 {
		return 0
	}
	return o.Radii[len(o.Radii)-1]
}

// Option configures a Controller.
type Option func(*Controller)

// WithAttemptCache caches each attempt's results under
// filterKey:radius:attempt so retried expansions skip the network.
func WithAttemptCache(c *cache.ResultCache[[]model.Candidate]) Option {
	return func(ctl *Controller) {
		ctl.attempts = c
	}
}

// WithRand sets the random source for center jitter.
func WithRand(r *rand.Rand) Option {
	return func(ctl *Controller) {
		ctl.rng = r
	}
}

// WithBreaker replaces the breaker built from Config.Breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(ctl *Controller) {
		ctl.breaker = b
	}
}

// Controller runs expansion loops. It is safe for concurrent use; runs for
// the same filter are not coalesced.
type Controller struct {
	searcher Searcher
	cfg      Config
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	attempts *cache.ResultCache[[]model.Candidate]

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Controller.
func New(searcher Searcher, cfg Config, opts ...Option) *Controller {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	breakerCfg := cfg.Breaker
	breakerCfg.Trips = func(err error) bool { return !errors.Is(err, context.Canceled) }
	breakerCfg.OnStateChange = func(from, to resilience.State) {
		zap.L().Warn("search breaker state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	ctl := &Controller{
		searcher: searcher,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		breaker:  resilience.NewBreaker(breakerCfg),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
	for _, o := range opts {
		o(ctl)
	}
	return ctl
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Run gathers candidates for req. Per-attempt errors and timeouts are
// logged and absorbed. When every attempt fails, or all succeed with zero
// results, Run returns a *DiscoveryFailedError. Cancellation of ctx stops
// the loop and returns ctx.Err().
func (c *Controller) Run(ctx context.Context, req Request) (Outcome, error) {
	filterKey := req.Filter.Key()
	log := zap.L().With(zap.String("component", "expand"), zap.String("filter_key", filterKey))
	emit := func(e Event) {
		if req.Observer != nil {
			req.Observer(e)
		}
	}

	out := Outcome{State: StateInitial}
	radius := math.Min(req.Filter.InitialRadius(), c.cfg.MaxRadius)
	seen := make(map[string]struct{})
	var lastErr error

	emit(SearchStarted{Radius: radius, Target: c.cfg.TargetCount})

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return c.canceled(out, emit, err)
		}
		out.State = StateSearching
		out.Attempts++
		out.Radii = append(out.Radii, radius)

		center := c.jitter(req.Filter.UserLocation, attempt)
		emit(StepStarted{Step: attempt, Radius: radius, Center: center, Count: len(out.Candidates)})

		found, cached, err := c.attempt(ctx, req, filterKey, center, radius, attempt)
		switch {
		case err != nil && ctx.Err() != nil:
			emit(StepFailed{Step: attempt, Radius: radius, Count: len(out.Candidates), Err: err})
			return c.canceled(out, emit, ctx.Err())
		case err != nil:
			lastErr = err
			out.Failures++
			attemptsTotal.WithLabelValues("error").Inc()
			log.Warn("search attempt failed",
				zap.Int("attempt", attempt),
				zap.Float64("radius", radius),
				zap.Error(err),
			)
			emit(StepFailed{Step: attempt, Radius: radius, Count: len(out.Candidates), Err: err})
		default:
			added := 0
			for _, cand := range found {
				if _, dup := seen[cand.ID]; dup {
					continue
				}
				seen[cand.ID] = struct{}{}
				out.Candidates = append(out.Candidates, cand)
				added++
			}
			if cached {
				attemptsTotal.WithLabelValues("cached").Inc()
			} else {
				attemptsTotal.WithLabelValues("ok").Inc()
			}
			log.Debug("search attempt complete",
				zap.Int("attempt", attempt),
				zap.Float64("radius", radius),
				zap.Int("returned", len(found)),
				zap.Int("new", added),
				zap.Bool("cached", cached),
			)
			emit(StepCompleted{Step: attempt, Radius: radius, New: added, Count: len(out.Candidates), Cached: cached})
		}

		if len(out.Candidates) >= c.cfg.TargetCount || attempt == c.cfg.MaxAttempts-1 {
			break
		}

		next := c.nextRadius(radius, attempt+1)
		out.State = StateExpanding
		emit(Expanding{Step: attempt, FromRadius: radius, ToRadius: next, Count: len(out.Candidates)})
		radius = next
	}

	gatheredCandidates.Observe(float64(len(out.Candidates)))

	if len(out.Candidates) == 0 {
		out.State = StateError
		cause := lastErr
		if out.Failures < out.Attempts || cause == nil {
			cause = ErrNoResults
		}
		failure := &DiscoveryFailedError{Attempts: out.Attempts, Cause: cause}
		runsTotal.WithLabelValues("failed").Inc()
		log.Warn("discovery failed", zap.Int("attempts", out.Attempts), zap.Error(cause))
		emit(Failed{Attempts: out.Attempts, Count: 0, Err: failure})
		return out, failure
	}

	out.State = StateComplete
	done := Completed{Attempts: out.Attempts, Radius: out.Radius(), Count: len(out.Candidates), Target: c.cfg.TargetCount}
	if done.Shortfall() {
		runsTotal.WithLabelValues("shortfall").Inc()
	} else {
		runsTotal.WithLabelValues("complete").Inc()
	}
	log.Info("discovery complete",
		zap.Int("attempts", out.Attempts),
		zap.Int("failures", out.Failures),
		zap.Int("candidates", len(out.Candidates)),
		zap.Float64("radius", out.Radius()),
	)
	emit(done)
	return out, nil
}

func (c *Controller) canceled(out Outcome, emit func(Event), err error) (Outcome, error) {
	out.State = StateError
	runsTotal.WithLabelValues("canceled").Inc()
	emit(Failed{Attempts: out.Attempts, Count: len(out.Candidates), Err: err})
	return out, err
}

// attempt performs one bounded search call, consulting the attempt cache first.
func (c *Controller) attempt(ctx context.Context, req Request, filterKey string, center model.LatLng, radius float64, attempt int) ([]model.Candidate, bool, error) {
	key := attemptKey(filterKey, radius, attempt)
	if c.attempts != nil {
		if found, ok := c.attempts.Get(key); ok {
			return found, true, nil
		}
	}

	actx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	if err := c.limiter.Wait(actx); err != nil {
		return nil, false, eris.Wrap(err, "expand: rate limit wait")
	}

	found, err := resilience.Call(actx, c.breaker, func(ctx context.Context) ([]model.Candidate, error) {
		return c.searcher.Search(ctx, SearchRequest{
			Center:        center,
			RadiusMeters:  radius,
			CategoryTypes: req.CategoryTypes,
			PriceBounds:   req.PriceBounds,
		})
	})
	if err != nil {
		return nil, false, eris.Wrapf(err, "expand: search attempt %d at %.0fm", attempt, radius)
	}

	if c.attempts != nil {
		c.attempts.Set(key, found, req.Filter)
	}
	return found, false, nil
}

// nextRadius never returns less than radius.
func (c *Controller) nextRadius(radius float64, nextAttempt int) float64 {
	var next float64
	switch c.cfg.Growth {
	case GrowthTable:
		next = model.NextStepRadius(radius)
	default:
		next = radius * (1 + 0.5*float64(nextAttempt))
	}
	next = math.Min(next, c.cfg.MaxRadius)
	return math.Max(next, radius)
}

// metersPerDegree is the length of one degree of latitude.
const metersPerDegree = 111320.0

// jitter shifts center by a random offset of up to JitterMeters on retries.
// The first attempt always uses the exact center.
func (c *Controller) jitter(center model.LatLng, attempt int) model.LatLng {
	if attempt == 0 || c.cfg.JitterMeters == 0 {
		return center
	}
	c.rngMu.Lock()
	dist := c.rng.Float64() * c.cfg.JitterMeters
	bearing := c.rng.Float64() * 2 * math.Pi
	c.rngMu.Unlock()

	dLat := dist * math.Cos(bearing) / metersPerDegree
	dLng := dist * math.Sin(bearing) / (metersPerDegree * math.Max(math.Cos(center.Lat*math.Pi/180), 0.01))
	return model.LatLng{
		Lat: math.Max(-90, math.Min(90, center.Lat+dLat)),
		Lng: math.Max(-180, math.Min(180, center.Lng+dLng)),
	}
}

func attemptKey(filterKey string, radius float64, attempt int) string {
	return fmt.Sprintf("%s:%.0f:%d", filterKey, radius, attempt)
}
