package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placefinder/internal/cache"
	"github.com/sells-group/placefinder/internal/config"
	"github.com/sells-group/placefinder/internal/expand"
	"github.com/sells-group/placefinder/internal/model"
	"github.com/sells-group/placefinder/internal/mood"
	"github.com/sells-group/placefinder/internal/pool"
	"github.com/sells-group/placefinder/internal/recommend"
	"github.com/sells-group/placefinder/internal/relax"
	"github.com/sells-group/placefinder/internal/resilience"
	"github.com/sells-group/placefinder/internal/search"
	"github.com/sells-group/placefinder/internal/store"
	anthropicpkg "github.com/sells-group/placefinder/pkg/anthropic"
	"github.com/sells-group/placefinder/pkg/google"
)

// serviceEnv holds the discovery service and the resources it depends on.
type serviceEnv struct {
	Service  *recommend.Service
	KV       store.KV // may be nil
	Fallback *fallbackList
}

// Close saves the cache snapshot and releases the snapshot store.
func (e *serviceEnv) Close() {
	if e.Service != nil {
		e.Service.Close()
	}
	if e.KV != nil {
		_ = e.KV.Close()
	}
}

// initService validates config for mode, opens the snapshot store, builds
// the Places searcher and mood scorer, and starts the service. Callers
// should defer env.Close().
func initService(ctx context.Context, mode string) (*serviceEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	kv, err := store.Open(ctx, store.Options{
		Driver:        store.Driver(cfg.Snapshot.Driver),
		Path:          cfg.Snapshot.Path,
		RedisAddr:     cfg.Snapshot.RedisAddr,
		RedisPassword: cfg.Snapshot.RedisPassword,
		RedisDB:       cfg.Snapshot.RedisDB,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open snapshot store")
	}

	placesClient := google.NewClient(cfg.Google.Key,
		google.WithBaseURL(cfg.Google.BaseURL),
		google.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Google.TimeoutSecs) * time.Second}),
	)

	anthropicCfg := cfg.Anthropic
	if mode == "cache" {
		// Cache maintenance never scores.
		anthropicCfg.Enabled = false
	}
	scorer, err := initScorer(anthropicCfg)
	if err != nil {
		if kv != nil {
			_ = kv.Close()
		}
		return nil, err
	}

	var opts []recommend.Option
	if kv != nil {
		opts = append(opts, recommend.WithSnapshotter(store.NewSnapshot(kv, cfg.Snapshot.Key)))
	}
	svc, err := recommend.New(serviceConfig(cfg), search.NewPlaces(placesClient), scorer, opts...)
	if err != nil {
		if kv != nil {
			_ = kv.Close()
		}
		return nil, eris.Wrap(err, "build service")
	}

	env := &serviceEnv{Service: svc, KV: kv, Fallback: &fallbackList{}}
	if err := svc.Start(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "start service")
	}

	if cfg.Fallback.Path != "" {
		fb, err := loadFallback(cfg.Fallback.Path)
		if err != nil {
			zap.L().Warn("fallback list unavailable", zap.String("path", cfg.Fallback.Path), zap.Error(err))
		} else {
			env.Fallback = fb
		}
	}

	zap.L().Info("service ready",
		zap.String("snapshot_driver", cfg.Snapshot.Driver),
		zap.Bool("claude_mood", cfg.Anthropic.Enabled),
		zap.Int("cached_responses", svc.CacheStats().Size),
	)
	return env, nil
}

func initScorer(c config.AnthropicConfig) (mood.Scorer, error) {
	keyword := mood.NewKeywordScorer()
	if !c.Enabled {
		return keyword, nil
	}
	s, err := mood.NewClaudeScorer(anthropicpkg.NewClient(c.Key), mood.ClaudeConfig{
		Model:     c.Model,
		CacheSize: c.CacheSize,
		Retry:     resilience.DefaultRetryConfig(),
	}, keyword)
	if err != nil {
		return nil, eris.Wrap(err, "build claude scorer")
	}
	return s, nil
}

// serviceConfig maps application config onto the component configs.
func serviceConfig(c *config.Config) recommend.Config {
	return recommend.Config{
		Cache: cache.Config{
			MaxSize:       c.Cache.MaxSize,
			DefaultTTL:    c.Cache.DefaultTTL,
			MinTTL:        c.Cache.MinTTL,
			MaxTTL:        c.Cache.MaxTTL,
			ExtendEvery:   c.Cache.ExtendEvery,
			AccessWeight:  c.Cache.AccessWeight,
			RecencyWeight: c.Cache.RecencyWeight,
			EvictFraction: c.Cache.EvictFraction,
			SweepInterval: c.Cache.SweepInterval,
		},
		Pool: pool.Config{
			Capacity:         c.Pool.Capacity,
			GroupSize:        c.Pool.GroupSize,
			RefreshThreshold: c.Pool.RefreshThreshold,
			UsedIDsCap:       c.Pool.UsedIDsCap,
		},
		Relax: relax.Config{
			StrictMoodTolerance:  c.Relax.StrictMoodTolerance,
			RelaxedMoodTolerance: c.Relax.RelaxedMoodTolerance,
			QualityFloor:         c.Relax.QualityFloor,
		},
		Expansion: expand.Config{
			TargetCount:    c.Expansion.TargetCount,
			MaxAttempts:    c.Expansion.MaxAttempts,
			AttemptTimeout: time.Duration(c.Expansion.AttemptTimeoutSecs) * time.Second,
			Growth:         expand.Growth(c.Expansion.Growth),
			JitterMeters:   c.Expansion.JitterMeters,
			MaxRadius:      c.Expansion.MaxRadius,
			RateLimit:      c.Google.RateLimit,
			Breaker: resilience.NewBreakerConfig(c.Expansion.BreakerThreshold,
				time.Duration(c.Expansion.BreakerResetSecs)*time.Second),
		},
		MoodConcurrency: c.Mood.Concurrency,
	}
}

// categoryFilter parses an optional category flag or query value.
func categoryFilter(s string) (model.Category, error) {
	c := model.Category(s)
	switch c {
	case "", model.CategoryFood, model.CategoryActivity, model.CategorySomethingNew:
		return c, nil
	}
	return "", eris.Wrapf(model.ErrInvalidFilter, "unknown category %q", s)
}
