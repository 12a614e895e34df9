package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gardetrack/gardesync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "gardesync",
	Short: "Daycare data reconciliation pipeline",
	Long:  "Merges daycare facility data from the government portal dump, rendered page extraction, and LLM extraction into one canonical store, without touching workflow state.",
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
