package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gardetrack/gardesync/internal/fetcher"
	"github.com/gardetrack/gardesync/internal/model"
	"github.com/gardetrack/gardesync/internal/pipeline"
	"github.com/gardetrack/gardesync/internal/resolve"
	"github.com/gardetrack/gardesync/internal/source/llmx"
	"github.com/gardetrack/gardesync/internal/source/portal"
	"github.com/gardetrack/gardesync/internal/source/vitrine"
	"github.com/gardetrack/gardesync/pkg/anthropic"
)

var (
	syncDumpPath string
	syncDumpURL  string
	syncPagesDir string
	syncNoScrape bool
	syncNoLLM    bool
	syncLLMBatch bool
	syncDLQPath  string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the reconciliation pipeline",
	Long:  "Fetches all configured sources, resolves each record against the canonical store, merges by source precedence, and upserts. Workflow state (stage, position, owner) is never touched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		applySyncFlags()
		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		policy, err := loadPolicy()
		if err != nil {
			return err
		}

		sources, err := buildSources()
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			return eris.New("no sources enabled")
		}

		engine := pipeline.NewEngine(st, policy, resolve.Options{
			MaxNameMatchKM: cfg.Sync.MaxNameMatchKM,
		})
		if cfg.Sync.DLQPath != "" {
			engine = engine.WithDLQ(cfg.Sync.DLQPath)
		}
		run, err := engine.Run(ctx, sources)
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		zap.L().Info("sync finished",
			zap.String("run_id", run.ID),
			zap.Int("records", run.Counters.Records),
			zap.Int("created", run.Counters.Created),
			zap.Int("updated", run.Counters.Updated),
			zap.Int("unchanged", run.Counters.Unchanged),
			zap.Int("ambiguous", run.Counters.Ambiguous),
			zap.Int("failed", run.Counters.Failed),
		)
		return nil
	},
}

// applySyncFlags lets flags override the config file per invocation.
func applySyncFlags() {
	if syncDumpPath != "" {
		cfg.Sync.DumpPath = syncDumpPath
		cfg.Sync.DumpURL = ""
	}
	if syncDumpURL != "" {
		cfg.Sync.DumpURL = syncDumpURL
		cfg.Sync.DumpPath = ""
	}
	if syncPagesDir != "" {
		cfg.Sync.PagesDir = syncPagesDir
	}
	if syncDLQPath != "" {
		cfg.Sync.DLQPath = syncDLQPath
	}
}

// buildSources assembles the enabled sources in precedence-stable order:
// structured dump, rendered-page extraction, LLM extraction.
func buildSources() ([]pipeline.Source, error) {
	var sources []pipeline.Source

	switch {
	case cfg.Sync.DumpPath != "":
		path := cfg.Sync.DumpPath
		sources = append(sources, pipeline.SourceFunc{
			SourceName: "portal-dump",
			Fn: func(context.Context) ([]model.SourceRecord, error) {
				return portal.FromFile(path)
			},
		})
	case cfg.Sync.DumpURL != "":
		url := cfg.Sync.DumpURL
		httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:    cfg.HTTP.UserAgent,
			Timeout:      time.Duration(cfg.HTTP.TimeoutSecs) * time.Second,
			MaxRetries:   cfg.HTTP.MaxRetries,
			RateLimiters: fetcher.DefaultRateLimiters(),
		})
		sources = append(sources, pipeline.SourceFunc{
			SourceName: "portal-dump",
			Fn: func(ctx context.Context) ([]model.SourceRecord, error) {
				return portal.FromURL(ctx, httpFetcher, url)
			},
		})
	}

	if cfg.Sync.PagesDir != "" && !syncNoScrape {
		dir := cfg.Sync.PagesDir
		sources = append(sources, pipeline.SourceFunc{
			SourceName: "page-scrape",
			Fn: func(context.Context) ([]model.SourceRecord, error) {
				return vitrine.LoadDir(dir)
			},
		})
	}

	if cfg.Sync.PagesDir != "" && !syncNoLLM {
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("anthropic key is required for LLM extraction (GARDESYNC_ANTHROPIC_KEY), or pass --no-llm")
		}
		dir := cfg.Sync.PagesDir
		extractor := llmx.New(anthropic.NewClient(cfg.Anthropic.Key), llmx.Options{
			Model:           cfg.Anthropic.Model,
			MaxTokens:       cfg.Anthropic.MaxTokens,
			RequestsPerS:    cfg.Anthropic.RequestsPerS,
			PollInterval:    time.Duration(cfg.Anthropic.PollIntervalSecs) * time.Second,
			MaxRetries:      cfg.Anthropic.MaxRetries,
			BreakerFailures: cfg.Anthropic.BreakerFailures,
			BreakerReset:    time.Duration(cfg.Anthropic.BreakerResetSecs) * time.Second,
		})
		useBatch := syncLLMBatch || cfg.Anthropic.UseBatch
		sources = append(sources, pipeline.SourceFunc{
			SourceName: "llm-extract",
			Fn: func(ctx context.Context) ([]model.SourceRecord, error) {
				if useBatch {
					return extractor.ExtractBatch(ctx, dir)
				}
				return extractor.LoadDir(ctx, dir)
			},
		})
	}

	return sources, nil
}

func init() {
	syncCmd.Flags().StringVar(&syncDumpPath, "dump", "", "path to a saved portal dump JSON file")
	syncCmd.Flags().StringVar(&syncDumpURL, "dump-url", "", "URL to fetch the portal dump from")
	syncCmd.Flags().StringVar(&syncPagesDir, "pages", "", "directory of saved page texts (<installation-id>.txt)")
	syncCmd.Flags().BoolVar(&syncNoScrape, "no-scrape", false, "skip pattern extraction from page texts")
	syncCmd.Flags().BoolVar(&syncNoLLM, "no-llm", false, "skip LLM extraction")
	syncCmd.Flags().BoolVar(&syncLLMBatch, "llm-batch", false, "use the batch API for LLM extraction")
	syncCmd.Flags().StringVar(&syncDLQPath, "dlq", "", "append failed records to this JSONL dead-letter file")
	rootCmd.AddCommand(syncCmd)
}
