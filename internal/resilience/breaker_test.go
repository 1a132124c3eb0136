package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) (int, error) { return 0, errBoom }
func succeed(context.Context) (int, error) { return 1, nil }

func newTestBreaker(threshold int, now *time.Time) *Breaker {
	b := NewBreaker(NewBreakerConfig(threshold, time.Minute))
	b.nowFunc = func() time.Time { return *now }
	return b
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Unix(0, 0)
	b := newTestBreaker(3, &now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := Call(ctx, b, fail)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, Open, b.State())

	called := false
	_, err := Call(ctx, b, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	now := time.Unix(0, 0)
	b := newTestBreaker(3, &now)
	ctx := context.Background()

	_, _ = Call(ctx, b, fail)
	_, _ = Call(ctx, b, fail)
	assert.Equal(t, 2, b.Failures())

	v, err := Call(ctx, b, succeed)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Zero(t, b.Failures())
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Unix(0, 0)
	b := newTestBreaker(1, &now)
	ctx := context.Background()

	_, _ = Call(ctx, b, fail)
	require.Equal(t, Open, b.State())

	now = now.Add(time.Minute)
	assert.Equal(t, HalfOpen, b.State())

	_, err := Call(ctx, b, succeed)
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	b := newTestBreaker(2, &now)
	ctx := context.Background()

	_, _ = Call(ctx, b, fail)
	_, _ = Call(ctx, b, fail)
	now = now.Add(time.Minute)

	_, err := Call(ctx, b, fail)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, Open, b.State())

	_, err = Call(ctx, b, succeed)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_TripsFilter(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := NewBreakerConfig(1, time.Minute)
	cfg.Trips = IsTransient
	b := NewBreaker(cfg)
	b.nowFunc = func() time.Time { return now }

	_, _ = Call(context.Background(), b, fail)
	assert.Equal(t, Closed, b.State(), "non-transient errors do not trip")

	_, _ = Call(context.Background(), b, func(context.Context) (int, error) {
		return 0, NewTransientError(errBoom, 503)
	})
	assert.Equal(t, Open, b.State())
}

func TestBreaker_IgnoredErrorKeepsStreak(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := NewBreakerConfig(3, time.Minute)
	cfg.Trips = func(err error) bool { return !errors.Is(err, context.Canceled) }
	b := NewBreaker(cfg)
	b.nowFunc = func() time.Time { return now }
	ctx := context.Background()
	canceled := func(context.Context) (int, error) { return 0, context.Canceled }

	_, _ = Call(ctx, b, fail)
	_, _ = Call(ctx, b, fail)
	_, _ = Call(ctx, b, canceled)
	assert.Equal(t, 2, b.Failures())
	assert.Equal(t, Closed, b.State())

	_, _ = Call(ctx, b, fail)
	assert.Equal(t, Open, b.State())
}

func TestBreaker_CanceledHalfOpenCallStaysHalfOpen(t *testing.T) {
	now := time.Unix(0, 0)
	cfg := NewBreakerConfig(2, time.Minute)
	cfg.Trips = func(err error) bool { return !errors.Is(err, context.Canceled) }
	b := NewBreaker(cfg)
	b.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	_, _ = Call(ctx, b, fail)
	_, _ = Call(ctx, b, fail)
	require.Equal(t, Open, b.State())
	now = now.Add(time.Minute)

	_, err := Call(ctx, b, func(context.Context) (int, error) { return 0, context.Canceled })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, HalfOpen, b.State())
	assert.Equal(t, 2, b.Failures())

	called := false
	_, err = Call(ctx, b, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	require.NoError(t, err)
	assert.True(t, called, "next trial call is admitted")
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_StateChangesAndReset(t *testing.T) {
	now := time.Unix(0, 0)
	var seen []string
	cfg := NewBreakerConfig(1, time.Minute)
	cfg.OnStateChange = func(from, to State) { seen = append(seen, from.String()+">"+to.String()) }
	b := NewBreaker(cfg)
	b.nowFunc = func() time.Time { return now }

	_, _ = Call(context.Background(), b, fail)
	b.Reset()
	assert.Equal(t, []string{"closed>open", "open>closed"}, seen)
	assert.Equal(t, "unknown", State(9).String())
}
