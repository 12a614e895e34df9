// Package pipeline orchestrates sync runs: fetch source records, resolve
// each against the canonical store, merge, and upsert.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gardetrack/gardesync/internal/merge"
	"github.com/gardetrack/gardesync/internal/model"
	"github.com/gardetrack/gardesync/internal/resilience"
	"github.com/gardetrack/gardesync/internal/resolve"
	"github.com/gardetrack/gardesync/internal/store"
)

// Source produces one extractor's record set for a run.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]model.SourceRecord, error)
}

// SourceFunc adapts a fetch function into a Source.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context) ([]model.SourceRecord, error)
}

func (s SourceFunc) Name() string { return s.SourceName }

func (s SourceFunc) Fetch(ctx context.Context) ([]model.SourceRecord, error) {
	return s.Fn(ctx)
}

// Engine drives resolve → merge → upsert for batches of source records.
type Engine struct {
	store       store.Store
	policy      *merge.Policy
	resolveOpts resolve.Options
	dlqPath     string
	log         *zap.Logger
}

// NewEngine creates a sync engine over the given store and merge policy.
func NewEngine(st store.Store, policy *merge.Policy, opts resolve.Options) *Engine {
	return &Engine{
		store:       st,
		policy:      policy,
		resolveOpts: opts,
		log:         zap.L().With(zap.String("component", "pipeline")),
	}
}

// WithDLQ makes the engine append failed records to a JSONL dead-letter file
// so they can be inspected or replayed after the run.
func (e *Engine) WithDLQ(path string) *Engine {
	e.dlqPath = path
	return e
}

// Run fetches all sources concurrently, then applies their records serially
// in the order the sources were given. A source that fails to materialize is
// logged and skipped; the run proceeds with what is available. Only a store
// connection failure aborts the batch.
func (e *Engine) Run(ctx context.Context, sources []Source) (*model.SyncRun, error) {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}

	if err := e.store.Ping(ctx); err != nil {
		return nil, eris.Wrap(err, "engine: store unavailable")
	}

	run, err := e.store.StartSyncRun(ctx, names)
	if err != nil {
		return nil, eris.Wrap(err, "engine: start sync run")
	}
	log := e.log.With(zap.String("run_id", run.ID))
	start := time.Now()

	records, fetchErrs := e.fetchAll(ctx, sources, log)
	if len(fetchErrs) == len(sources) {
		msgs := make([]string, len(fetchErrs))
		for i, fe := range fetchErrs {
			msgs[i] = fe.Error()
		}
		errMsg := "all sources failed: " + strings.Join(msgs, "; ")
		if logErr := e.store.FailSyncRun(ctx, run.ID, errMsg, run.Counters); logErr != nil {
			log.Error("failed to record run failure", zap.Error(logErr))
		}
		return run, eris.New(errMsg)
	}

	counters, dlq, runErr := e.apply(ctx, records, log)
	run.Counters = counters
	e.flushDLQ(run.ID, dlq, log)

	if runErr != nil {
		log.Error("run aborted", zap.Error(runErr), zap.Duration("elapsed", time.Since(start)))
		if logErr := e.store.FailSyncRun(ctx, run.ID, runErr.Error(), counters); logErr != nil {
			log.Error("failed to record run failure", zap.Error(logErr))
		}
		run.Status = model.SyncStatusFailed
		return run, runErr
	}

	if err := e.store.CompleteSyncRun(ctx, run.ID, counters); err != nil {
		log.Error("failed to record run completion", zap.Error(err))
	}
	run.Status = model.SyncStatusComplete

	log.Info("run complete",
		zap.Int("records", counters.Records),
		zap.Int("created", counters.Created),
		zap.Int("updated", counters.Updated),
		zap.Int("unchanged", counters.Unchanged),
		zap.Int("ambiguous", counters.Ambiguous),
		zap.Int("failed", counters.Failed),
		zap.Int("warnings", counters.Warnings),
		zap.Duration("elapsed", time.Since(start)),
	)
	return run, nil
}

// fetchAll runs every source concurrently and concatenates results in source
// order, so precedence between sources stays deterministic run to run.
func (e *Engine) fetchAll(ctx context.Context, sources []Source, log *zap.Logger) ([]model.SourceRecord, []error) {
	results := make([][]model.SourceRecord, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			recs, err := src.Fetch(gctx)
			if err != nil {
				// Partial-source operation is normal; record and move on.
				errs[i] = eris.Wrapf(err, "source %s", src.Name())
				return nil
			}
			results[i] = recs
			return nil
		})
	}
	_ = g.Wait()

	var records []model.SourceRecord
	var failed []error
	for i, src := range sources {
		if errs[i] != nil {
			log.Warn("source unavailable, continuing without it",
				zap.String("source", src.Name()),
				zap.Error(errs[i]),
			)
			failed = append(failed, errs[i])
			continue
		}
		log.Info("source fetched",
			zap.String("source", src.Name()),
			zap.Int("records", len(results[i])),
		)
		records = append(records, results[i]...)
	}
	return records, failed
}

// apply runs the serial resolve/merge/upsert loop.
func (e *Engine) apply(ctx context.Context, records []model.SourceRecord, log *zap.Logger) (model.SyncCounters, []resilience.DLQEntry, error) {
	var counters model.SyncCounters
	var dlq []resilience.DLQEntry

	entries, err := e.store.NameIndex(ctx)
	if err != nil {
		return counters, nil, eris.Wrap(err, "engine: load name index")
	}
	cands := make([]resolve.Candidate, len(entries))
	for i, entry := range entries {
		cands[i] = resolve.Candidate{
			FacilityID:     entry.ID,
			InstallationID: entry.InstallationID,
			Name:           entry.Name,
			Location:       resolve.Location(entry.Latitude, entry.Longitude),
		}
	}
	idx := resolve.NewIndex(cands)
	resolver := resolve.New(idx, e.resolveOpts)

	for _, rec := range records {
		if ctx.Err() != nil {
			return counters, dlq, eris.Wrap(ctx.Err(), "engine: cancelled")
		}
		counters.Records++

		err := e.applyRecord(ctx, resolver, idx, rec, &counters, log)
		switch {
		case err == nil:
		case errors.Is(err, resolve.ErrAmbiguous):
			counters.Ambiguous++
			log.Warn("record skipped as ambiguous",
				zap.String("name", rec.Name),
				zap.String("source", string(rec.Kind)),
				zap.Error(err),
			)
		case errors.Is(err, store.ErrConnection):
			// Aborting beats silently dropping every write after this one.
			return counters, dlq, eris.Wrap(err, "engine: store connection lost")
		default:
			// Driver errors do not all carry a connection marker. If the store
			// no longer answers a ping, this record failed because the store
			// went away, and so will every record after it.
			if pingErr := e.store.Ping(ctx); pingErr != nil {
				return counters, dlq, eris.Wrapf(pingErr, "engine: store connection lost applying %q", rec.Name)
			}
			counters.Failed++
			dlq = append(dlq, resilience.DLQEntry{
				Record:    rec,
				Error:     err.Error(),
				ErrorType: resilience.ClassifyError(err),
				FailedAt:  time.Now().UTC(),
			})
			log.Error("record failed",
				zap.String("name", rec.Name),
				zap.String("source", string(rec.Kind)),
				zap.Error(err),
			)
		}
	}
	return counters, dlq, nil
}

func (e *Engine) flushDLQ(runID string, entries []resilience.DLQEntry, log *zap.Logger) {
	if e.dlqPath == "" || len(entries) == 0 {
		return
	}
	for i := range entries {
		entries[i].RunID = runID
	}
	if err := resilience.AppendDLQ(e.dlqPath, entries); err != nil {
		log.Error("failed to write dead-letter entries",
			zap.String("path", e.dlqPath),
			zap.Int("entries", len(entries)),
			zap.Error(err),
		)
		return
	}
	log.Info("dead-letter entries written",
		zap.String("path", e.dlqPath),
		zap.Int("entries", len(entries)),
	)
}

func (e *Engine) applyRecord(ctx context.Context, resolver *resolve.Resolver, idx *resolve.Index, rec model.SourceRecord, counters *model.SyncCounters, log *zap.Logger) error {
	if rec.Name == "" && rec.InstallationID == "" {
		return eris.New("record has neither name nor installation ID")
	}

	match, err := resolver.Resolve(rec)
	if err != nil {
		return err
	}

	if match.Kind == resolve.MatchNone {
		return e.createFrom(ctx, idx, rec, counters, log)
	}

	if match.AdoptInstallationID {
		if err := e.store.AdoptInstallationID(ctx, match.FacilityID, rec.InstallationID); err != nil {
			if errors.Is(err, store.ErrInstallationIDConflict) {
				// A stable ID is permanent; a second distinct ID for the same
				// facility is a data error, not something to apply.
				return eris.Wrapf(resolve.ErrAmbiguous, "facility %d: %v", match.FacilityID, err)
			}
			return err
		}
		idx.AdoptInstallationID(match.FacilityID, rec.InstallationID)
	}

	current, err := e.store.GetFacility(ctx, match.FacilityID)
	if err != nil {
		return err
	}

	result := merge.Apply(e.policy, *current, rec)
	e.logWarnings(rec, result.Warnings, counters, log)

	if len(result.Changed) == 0 {
		counters.Unchanged++
		return nil
	}

	if err := e.store.UpdateFacilityFields(ctx, match.FacilityID, result.Facility, result.Changed); err != nil {
		return err
	}
	counters.Updated++
	log.Debug("facility updated",
		zap.Int64("facility_id", match.FacilityID),
		zap.Strings("fields", result.Changed),
		zap.String("source", string(rec.Kind)),
	)
	return nil
}

// createFrom seeds a new facility from a record via the merge engine, so
// even initial values carry provenance.
func (e *Engine) createFrom(ctx context.Context, idx *resolve.Index, rec model.SourceRecord, counters *model.SyncCounters, log *zap.Logger) error {
	seed := model.Facility{InstallationID: rec.InstallationID}
	result := merge.Apply(e.policy, seed, rec)
	e.logWarnings(rec, result.Warnings, counters, log)

	created, err := e.store.CreateFacility(ctx, result.Facility)
	if err != nil {
		return err
	}
	idx.Add(resolve.Candidate{
		FacilityID:     created.ID,
		InstallationID: created.InstallationID,
		Name:           created.Name,
		Location:       resolve.Location(created.Latitude, created.Longitude),
	})
	counters.Created++
	log.Info("facility created",
		zap.Int64("facility_id", created.ID),
		zap.String("name", created.Name),
		zap.String("source", string(rec.Kind)),
	)
	return nil
}

func (e *Engine) logWarnings(rec model.SourceRecord, warnings []string, counters *model.SyncCounters, log *zap.Logger) {
	for _, w := range warnings {
		counters.Warnings++
		log.Warn("field dropped",
			zap.String("name", rec.Name),
			zap.String("source", string(rec.Kind)),
			zap.String("reason", w),
		)
	}
}
