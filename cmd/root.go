package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/config"
)

// cfg is loaded once per invocation, before any subcommand runs.
var cfg *config.Config

// logLevel overrides log.level for a single invocation.
var logLevel string

var rootCmd = &cobra.Command{
	Use:   "awaaz",
	Short: "MGNREGA district data sync service",
	Long: "Keeps a local store of per-district, per-month MGNREGA statistics in sync with data.gov.in " +
		"and serves the latest and historical records over HTTP.\n\n" +
		"Settings come from ./config.yaml and AEP_* environment variables.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("store", cfg.Store.Driver),
			zap.String("state", cfg.Upstream.State),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
