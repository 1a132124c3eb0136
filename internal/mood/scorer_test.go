package mood

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placefinder/internal/model"
)

func TestScoreAll(t *testing.T) {
	cands := []model.Candidate{{ID: "a"}, {ID: "b"}, {ID: "fail"}, {ID: "d"}}
	var inFlight, peak atomic.Int32

	s := ScorerFunc(func(_ context.Context, c model.Candidate) (float64, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		if c.ID == "fail" {
			return 0, errors.New("boom")
		}
		return 80, nil
	})

	got, err := ScoreAll(context.Background(), s, cands, 2)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, c := range got {
		assert.Equal(t, cands[i].ID, c.ID)
	}
	assert.InDelta(t, 80, got[0].MoodScore, 1e-9)
	assert.InDelta(t, model.NeutralMood, got[2].MoodScore, 1e-9)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Zero(t, cands[0].MoodScore, "input must not be modified")
}

func TestScoreAll_ClampsAndEmpty(t *testing.T) {
	s := ScorerFunc(func(context.Context, model.Candidate) (float64, error) { return 140, nil })
	got, err := ScoreAll(context.Background(), s, []model.Candidate{{ID: "x"}}, 0)
	require.NoError(t, err)
	assert.InDelta(t, 100, got[0].MoodScore, 1e-9)

	got, err = ScoreAll(context.Background(), s, nil, 4)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScoreAll_CanceledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	s := ScorerFunc(func(ctx context.Context, _ model.Candidate) (float64, error) {
		calls.Add(1)
		cancel()
		return 0, ctx.Err()
	})

	cands := []model.Candidate{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	got, err := ScoreAll(ctx, s, cands, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)
	assert.Less(t, calls.Load(), int32(len(cands)), "scoring stops once the context is done")
}
