package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gardetrack/gardesync/internal/source/portal"
	"github.com/gardetrack/gardesync/internal/store"
)

var loadDumpPath string

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Bulk-load a portal dump straight into Postgres",
	Long:  "Seeds the facilities table from a structured dump with COPY, skipping the per-record resolve/merge path. Much faster than sync for a first load, but on conflict it rewrites the dump-owned columns. Postgres only.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		if cfg.Store.Driver != "postgres" {
			return eris.Errorf("load requires the postgres driver, got %s", cfg.Store.Driver)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pg, ok := st.(*store.PostgresStore)
		if !ok {
			return eris.New("load requires a postgres store")
		}

		recs, err := portal.FromFile(loadDumpPath)
		if err != nil {
			return err
		}

		n, err := pg.BulkLoadFacilities(ctx, recs)
		if err != nil {
			return eris.Wrap(err, "load")
		}

		zap.L().Info("bulk load complete",
			zap.String("file", loadDumpPath),
			zap.Int("parsed", len(recs)),
			zap.Int64("upserted", n),
		)
		return nil
	},
}

func init() {
	loadCmd.Flags().StringVar(&loadDumpPath, "dump", "", "path to a saved portal dump JSON file (required)")
	_ = loadCmd.MarkFlagRequired("dump")
	rootCmd.AddCommand(loadCmd)
}
