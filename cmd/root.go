package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/placefinder/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "placefinder",
	Short: "Mood-aware place recommendations",
	Long:  "Searches nearby places, widens the radius when results are thin, relaxes mood and budget filters until enough remain, and hands out varied picks from a ranked pool.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
