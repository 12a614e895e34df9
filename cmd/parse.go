package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gardetrack/gardesync/internal/model"
	"github.com/gardetrack/gardesync/internal/source/llmx"
	"github.com/gardetrack/gardesync/internal/source/portal"
	"github.com/gardetrack/gardesync/internal/source/vitrine"
	"github.com/gardetrack/gardesync/pkg/anthropic"
)

var (
	parseDumpPath string
	parsePagesDir string
	parseWithLLM  bool
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse sources and print records without writing to the store",
	Long:  "Dry-run inspection of extractor output: prints the source records a sync would feed into the merge engine, as a JSON array on stdout.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if parseDumpPath == "" && parsePagesDir == "" {
			return eris.New("one of --dump or --pages is required")
		}

		var records []model.SourceRecord

		if parseDumpPath != "" {
			recs, err := portal.FromFile(parseDumpPath)
			if err != nil {
				return err
			}
			records = append(records, recs...)
		}

		if parsePagesDir != "" {
			if parseWithLLM {
				if cfg.Anthropic.Key == "" {
					return eris.New("anthropic key is required for --llm (GARDESYNC_ANTHROPIC_KEY)")
				}
				extractor := llmx.New(anthropic.NewClient(cfg.Anthropic.Key), llmx.Options{
					Model:           cfg.Anthropic.Model,
					MaxTokens:       cfg.Anthropic.MaxTokens,
					RequestsPerS:    cfg.Anthropic.RequestsPerS,
					PollInterval:    time.Duration(cfg.Anthropic.PollIntervalSecs) * time.Second,
					MaxRetries:      cfg.Anthropic.MaxRetries,
					BreakerFailures: cfg.Anthropic.BreakerFailures,
					BreakerReset:    time.Duration(cfg.Anthropic.BreakerResetSecs) * time.Second,
				})
				recs, err := extractor.LoadDir(ctx, parsePagesDir)
				if err != nil {
					return err
				}
				records = append(records, recs...)
			} else {
				recs, err := vitrine.LoadDir(parsePagesDir)
				if err != nil {
					return err
				}
				records = append(records, recs...)
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return eris.Wrap(err, "parse: encode output")
		}

		zap.L().Info("parse complete", zap.Int("records", len(records)))
		return nil
	},
}

func init() {
	parseCmd.Flags().StringVar(&parseDumpPath, "dump", "", "path to a saved portal dump JSON file")
	parseCmd.Flags().StringVar(&parsePagesDir, "pages", "", "directory of saved page texts")
	parseCmd.Flags().BoolVar(&parseWithLLM, "llm", false, "use LLM extraction instead of pattern extraction")
	rootCmd.AddCommand(parseCmd)
}
