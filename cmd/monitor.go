package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gardetrack/gardesync/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the sync log and alert on failures",
	Long:  "Periodically collects metrics from recent sync runs and the dead-letter file, and posts webhook alerts when runs fail, record failure rates climb, or dead letters pile up. Runs until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		collector := monitoring.NewCollector(st, cfg.Sync.DLQPath)
		alerter := monitoring.NewAlerter(cfg.Monitor)
		monitoring.NewChecker(collector, alerter, cfg.Monitor).Run(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
