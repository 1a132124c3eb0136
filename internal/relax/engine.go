// Package relax narrows an accumulated candidate set to a user's filter,
// loosening mood and budget constraints stage by stage until enough
// candidates survive.
package relax

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/placefinder/internal/model"
)

// Stage identifies one relaxation level.
type Stage int

const (
	// StageStrict matches mood within the strict tolerance and the exact budget tier.
	StageStrict Stage = iota + 1
	// StageRelaxMood widens the mood tolerance.
	StageRelaxMood
	// StageRelaxBudget additionally admits one price tier above the budget.
	StageRelaxBudget
	// StageQualityFloor keeps only the rating floor.
	StageQualityFloor
)

// Stages lists every stage from strictest to loosest.
var Stages = []Stage{StageStrict, StageRelaxMood, StageRelaxBudget, StageQualityFloor}

func (s Stage) String() string {
	switch s {
	case StageStrict:
		return "strict"
	case StageRelaxMood:
		return "relax_mood"
	case StageRelaxBudget:
		return "relax_budget"
	case StageQualityFloor:
		return "quality_floor"
	default:
		return "unknown"
	}
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Applied filter names reported in Result.Applied.
const (
	FilterMoodStrict    = "mood_strict"
	FilterMoodRelaxed   = "mood_relaxed"
	FilterBudgetStrict  = "budget_strict"
	FilterBudgetRelaxed = "budget_relaxed"
	FilterQualityFloor  = "quality_floor"
	FilterSocialContext = "social_context"
	FilterTimeOfDay     = "time_of_day"
)

// Config holds relaxation thresholds.
type Config struct {
	StrictMoodTolerance  float64
	RelaxedMoodTolerance float64
	QualityFloor         float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		StrictMoodTolerance:  20,
		RelaxedMoodTolerance: 40,
		QualityFloor:         2.0,
	}
}

// Result is the outcome of Apply. Candidates may be empty; that is a valid
// outcome, not an error.
type Result struct {
	Candidates  []model.Candidate `json:"candidates"`
	Stage       Stage             `json:"stage"`
	Applied     []string          `json:"applied"`
	StageCounts []int             `json:"stage_counts"`
}

// Satisfied reports whether the result reached minResults.
func (r Result) Satisfied(minResults int) bool {
	return len(r.Candidates) >= minResults
}

// Engine runs the staged filter. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine. Zero or negative config values fall back to
// the defaults.
func NewEngine(cfg Config) *Engine {
	d := DefaultConfig()
	if cfg.StrictMoodTolerance <= 0 {
		cfg.StrictMoodTolerance = d.StrictMoodTolerance
	}
	if cfg.RelaxedMoodTolerance <= 0 {
		cfg.RelaxedMoodTolerance = d.RelaxedMoodTolerance
	}
	if cfg.RelaxedMoodTolerance < cfg.StrictMoodTolerance {
		cfg.RelaxedMoodTolerance = cfg.StrictMoodTolerance
	}
	if cfg.QualityFloor < 0 {
		cfg.QualityFloor = d.QualityFloor
	}
	return &Engine{cfg: cfg}
}

// Apply filters candidates against spec, stopping at the first stage that
// yields at least minResults. If even the quality floor falls short, the
// floor's survivors are returned. Survivors are ordered by composite score,
// with distance measured against the spec's initial radius.
func (e *Engine) Apply(candidates []model.Candidate, spec model.FilterSpec, minResults int) Result {
	return e.ApplyWithin(candidates, spec, minResults, 0)
}

// ApplyWithin is Apply for candidates gathered within searchRadius meters,
// which may exceed the initial radius after expansion.
func (e *Engine) ApplyWithin(candidates []model.Candidate, spec model.FilterSpec, minResults int, searchRadius float64) Result {
	if minResults < 1 {
		minResults = 1
	}

	var (
		kept   []model.Candidate
		stage  Stage
		counts = make([]int, 0, len(Stages))
	)
	for _, stage = range Stages {
		kept = e.Filter(candidates, spec, stage)
		counts = append(counts, len(kept))
		if len(kept) >= minResults {
			break
		}
	}

	ranked := Ranker{Radius: searchRadius}.Rank(kept, spec)

	zap.L().Debug("relaxation complete",
		zap.String("stage", stage.String()),
		zap.Ints("stage_counts", counts),
		zap.Int("min_results", minResults),
		zap.Int("input", len(candidates)),
	)

	return Result{
		Candidates:  ranked,
		Stage:       stage,
		Applied:     e.applied(spec, stage),
		StageCounts: counts,
	}
}

// Filter returns the candidates that pass the given stage, in input order.
// Every stage applies the quality floor, so each stage's output contains
// the previous stage's output.
func (e *Engine) Filter(candidates []model.Candidate, spec model.FilterSpec, stage Stage) []model.Candidate {
	out := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if e.passes(c, spec, stage) {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) passes(c model.Candidate, spec model.FilterSpec, stage Stage) bool {
	if c.Rating != nil && *c.Rating < e.cfg.QualityFloor {
		return false
	}
	switch stage {
	case StageStrict:
		return e.moodMatches(c, spec, e.cfg.StrictMoodTolerance) && budgetMatches(c, spec.Budget, false)
	case StageRelaxMood:
		return e.moodMatches(c, spec, e.cfg.RelaxedMoodTolerance) && budgetMatches(c, spec.Budget, false)
	case StageRelaxBudget:
		return e.moodMatches(c, spec, e.cfg.RelaxedMoodTolerance) && budgetMatches(c, spec.Budget, true)
	default:
		return true
	}
}

// moodMatches accepts a score within tolerance of the requested mood or in
// the same chill/neutral/hype bucket.
func (e *Engine) moodMatches(c model.Candidate, spec model.FilterSpec, tolerance float64) bool {
	want := float64(spec.Mood)
	if math.Abs(c.MoodScore-want) <= tolerance {
		return true
	}
	return model.MoodCategoryOf(c.MoodScore) == model.MoodCategoryOf(want)
}

// budgetMatches checks the price level against the budget tier. With relaxed
// set the next tier up is admitted along with unknown prices.
func budgetMatches(c model.Candidate, budget model.Budget, relaxed bool) bool {
	lo, hi, ok := budget.PriceRange()
	if !ok {
		return true
	}
	if c.PriceLevel == nil {
		return relaxed
	}
	if relaxed {
		_, hi, _ = budget.Next().PriceRange()
	}
	p := *c.PriceLevel
	return p >= lo && p <= hi
}

func (e *Engine) applied(spec model.FilterSpec, stage Stage) []string {
	var out []string
	switch stage {
	case StageStrict:
		out = append(out, FilterMoodStrict)
	case StageRelaxMood, StageRelaxBudget:
		out = append(out, FilterMoodRelaxed)
	}
	if spec.Budget != model.BudgetNone {
		switch stage {
		case StageStrict, StageRelaxMood:
			out = append(out, FilterBudgetStrict)
		case StageRelaxBudget:
			out = append(out, FilterBudgetRelaxed)
		}
	}
	out = append(out, FilterQualityFloor)
	if spec.SocialContext != model.SocialNone {
		out = append(out, FilterSocialContext)
	}
	if spec.TimeOfDay != model.TimeNone {
		out = append(out, FilterTimeOfDay)
	}
	return out
}
