package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/placefinder/internal/store"
)

var cacheCategory string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the persisted result cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Invalidate cached results, optionally for one category",
	RunE: func(cmd *cobra.Command, args []string) error {
		category, err := categoryFilter(cacheCategory)
		if err != nil {
			return err
		}

		env, err := initService(cmd.Context(), "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		removed := env.Service.Invalidate(category)
		if category == "" && env.KV != nil {
			// Close first so the emptied cache is not saved back.
			env.Service.Close()
			if err := store.NewSnapshot(env.KV, cfg.Snapshot.Key).Delete(cmd.Context()); err != nil {
				return eris.Wrap(err, "delete snapshot")
			}
		}
		zap.L().Info("cache cleared", zap.String("category", string(category)), zap.Int("removed", removed))
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached results\n", removed)
		return err
	},
}

// snapshotStats describes the persisted snapshot. Hit and miss counters
// live only in a running server (GET /cache/stats).
type snapshotStats struct {
	Driver  string     `json:"driver"`
	Entries int        `json:"entries"`
	SavedAt *time.Time `json:"saved_at,omitempty"`
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the size of the persisted response cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initService(cmd.Context(), "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		out := snapshotStats{
			Driver:  cfg.Snapshot.Driver,
			Entries: env.Service.CacheStats().Size,
		}
		if env.KV != nil {
			at, ok, err := store.NewSnapshot(env.KV, cfg.Snapshot.Key).SavedAt(cmd.Context())
			if err != nil {
				return eris.Wrap(err, "snapshot saved_at")
			}
			if ok {
				out.SavedAt = &at
			}
		}
		return writeJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	cacheClearCmd.Flags().StringVar(&cacheCategory, "category", "", "only clear results for this category")
	cacheCmd.AddCommand(cacheClearCmd, cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
