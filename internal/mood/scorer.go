// Package mood supplies the external mood score the relaxation engine
// filters on. Scores are 0 (quiet) to 100 (lively).
package mood

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/placefinder/internal/model"
)

// Scorer rates the atmosphere of one candidate.
type Scorer interface {
	Score(ctx context.Context, c model.Candidate) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, c model.Candidate) (float64, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, c model.Candidate) (float64, error) {
	return f(ctx, c)
}

// ScoreAll returns copies of cands with MoodScore populated, scoring up to
// limit candidates at a time. A candidate whose score fails gets
// model.NeutralMood. If ctx is done before every candidate is scored,
// ScoreAll returns ctx.Err() and no candidates. The input slice is not
// modified.
func ScoreAll(ctx context.Context, s Scorer, cands []model.Candidate, limit int) ([]model.Candidate, error) {
	out := make([]model.Candidate, len(cands))
	if len(cands) == 0 {
		return out, ctx.Err()
	}
	if limit <= 0 {
		limit = 8
	}

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)

	for i, c := range cands {
		if gCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			score, err := s.Score(gCtx, c)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				zap.L().Debug("mood score failed",
					zap.String("candidate", c.ID),
					zap.Error(err),
				)
				score = model.NeutralMood
			}
			out[i] = c.WithMoodScore(score)
			return nil //nolint:nilerr // one bad score doesn't fail the batch
		})
	}

	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
