package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/edustats/internal/fetch"
	"github.com/ashita-ai/edustats/internal/model"
	"github.com/ashita-ai/edustats/internal/storage"
	"github.com/ashita-ai/edustats/internal/transform"
)

// bookkeepingTimeout bounds status writes made after the run context is gone.
const bookkeepingTimeout = 10 * time.Second

// runYear decides what year needs and does it. It never returns an error:
// every failure is captured in the result and, once a run row exists, in
// the run's status.
func (o *Orchestrator) runYear(ctx context.Context, year int, force bool) (res YearResult) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "ingest.year", trace.WithAttributes(attribute.Int("year", year)))
	res = YearResult{Year: year}
	defer func() {
		res.Duration = time.Since(start)
		span.SetAttributes(attribute.String("status", string(res.Status)))
		if res.Error != "" {
			span.SetStatus(codes.Error, res.Error)
		}
		span.End()
	}()
	log := o.logger.With("year", year)

	latest, ok, err := o.store.LatestRun(ctx, year)
	if err != nil {
		res.Status, res.FailedAt, res.Error = StatusFailed, StagePlan, err.Error()
		log.Error("ingest: read run history failed", "error", err)
		return res
	}
	if ok && !force {
		switch latest.Status {
		case model.RunStatusCommitted:
			res.Status = StatusSkipped
			res.RunID, res.Generation, res.Counts = latest.ID, latest.Generation, latest.Counts
			log.Info("ingest: year already committed, skipping", "run_id", latest.ID)
			return res
		case model.RunStatusSyncPending:
			log.Info("ingest: resuming catalog sync", "run_id", latest.ID)
			return o.resumeSync(ctx, log, res, latest)
		}
	}
	if ok && latest.Status == model.RunStatusInProgress {
		log.Warn("ingest: abandoning unfinished run", "run_id", latest.ID)
		o.bookkeep(ctx, log, latest.ID, storage.RunUpdate{
			Status:       model.RunStatusFailed,
			ErrorSummary: "abandoned: superseded by a later run",
		})
	}

	run, err := o.store.CreateRun(ctx, year, map[string]any{"force": force, "policy": o.opts.Policy})
	if err != nil {
		res.Status, res.FailedAt, res.Error = StatusFailed, StagePlan, err.Error()
		log.Error("ingest: create run failed", "error", err)
		return res
	}
	res.RunID = run.ID
	log = log.With("run_id", run.ID)
	return o.fullPipeline(ctx, log, res)
}

func (o *Orchestrator) fullPipeline(ctx context.Context, log *slog.Logger, res YearResult) YearResult {
	year := res.Year

	var (
		results []byte
		aux     map[string][]byte
	)
	err := o.stage(ctx, year, StageFetch, func() error {
		var err error
		results, aux, res.Missing, err = o.fetchYear(ctx, log, year, true)
		return err
	})
	if err != nil {
		return o.fail(ctx, log, res, StageFetch, err)
	}

	var tr *transform.Result
	var dir model.Directory
	err = o.stage(ctx, year, StageTransform, func() error {
		var err error
		if dir, err = o.engine.Directory(aux); err != nil {
			return err
		}
		tr, err = o.engine.Scores(year, results, dir)
		return err
	})
	if tr != nil {
		res.Generation, res.Counts, res.Sample = tr.Generation, tr.Counts, tr.Sample
		o.countRows(ctx, tr.Counts)
	}
	if err != nil {
		return o.fail(ctx, log, res, StageTransform, err)
	}
	log.Info("ingest: transformed",
		"generation", tr.Generation,
		"read", tr.Counts.Read,
		"accepted", tr.Counts.Accepted,
		"rejected", tr.Counts.Rejected,
		"duplicates", tr.Counts.Duplicates,
		"corrections", tr.Counts.Corrections)

	err = o.stage(ctx, year, StageLoad, func() error {
		if _, err := o.store.EnsureYear(ctx, year); err != nil {
			return err
		}
		lr, err := o.store.LoadYear(ctx, storage.LoadParams{
			Year:       year,
			RunID:      res.RunID,
			Generation: tr.Generation,
			Records:    tr.Records,
			Policy:     o.opts.Policy,
		})
		res.Load = lr
		return err
	})
	if err != nil {
		return o.fail(ctx, log, res, StageLoad, err)
	}

	// Facts are durable from here on; a sync failure leaves the year
	// sync_pending and the next run resumes at the catalog.
	counts := res.Counts
	o.bookkeep(ctx, log, res.RunID, storage.RunUpdate{
		Status:     model.RunStatusSyncPending,
		Generation: res.Generation,
		Counts:     &counts,
		Metadata:   map[string]any{"load": res.Load, "missing_optional": res.Missing},
	})
	return o.sync(ctx, log, res, dir)
}

// resumeSync finishes a year whose facts were committed by an earlier run.
func (o *Orchestrator) resumeSync(ctx context.Context, log *slog.Logger, res YearResult, run model.IngestionRun) YearResult {
	res.RunID, res.Generation, res.Counts = run.ID, run.Generation, run.Counts
	log = log.With("run_id", run.ID)

	var dir model.Directory
	err := o.stage(ctx, res.Year, StageFetch, func() error {
		_, aux, missing, err := o.fetchYear(ctx, log, res.Year, false)
		if err != nil {
			return err
		}
		res.Missing = missing
		dir, err = o.engine.Directory(aux)
		return err
	})
	if err != nil {
		return o.syncPending(ctx, log, res, err)
	}
	return o.sync(ctx, log, res, dir)
}

func (o *Orchestrator) sync(ctx context.Context, log *slog.Logger, res YearResult, dir model.Directory) YearResult {
	err := o.stage(ctx, res.Year, StageSync, func() error {
		sr, err := o.syncer.Sync(ctx, res.Year, dir)
		res.Sync = sr
		return err
	})
	if err != nil {
		return o.syncPending(ctx, log, res, err)
	}

	o.bookkeep(ctx, log, res.RunID, storage.RunUpdate{
		Status:   model.RunStatusCommitted,
		Metadata: map[string]any{"sync": res.Sync},
	})
	res.Status = StatusCommitted
	log.Info("ingest: year committed",
		"generation", res.Generation,
		"inserted", res.Load.Inserted,
		"updated", res.Load.Updated,
		"deleted", res.Load.Deleted,
		"catalog_indexed", res.Sync.Indexed)
	return res
}

// fetchYear retrieves the year's files. With results false only the
// optional categories are fetched. Optional files that do not exist are
// reported in missing; any other failure fails the year.
func (o *Orchestrator) fetchYear(ctx context.Context, log *slog.Logger, year int, results bool) ([]byte, map[string][]byte, []string, error) {
	var (
		data    []byte
		aux     = map[string][]byte{}
		missing []string
	)
	for _, c := range fetch.Categories {
		if c.Required() && !results {
			continue
		}
		p, err := o.fetcher.Fetch(ctx, year, c)
		if err != nil {
			if !c.Required() && errors.Is(err, fetch.ErrNotFound) {
				log.Warn("ingest: optional file not published", "category", c)
				missing = append(missing, string(c))
				continue
			}
			return nil, nil, missing, err
		}
		body, err := fetch.Extract(p)
		if err != nil {
			return nil, nil, missing, fmt.Errorf("ingest: extract %s %d: %w", c, year, err)
		}
		if c.Required() {
			data = body
		} else {
			aux[string(c)] = body
		}
	}
	return data, aux, missing, nil
}

// fail records a failed year. The status write survives cancellation of
// ctx so an interrupted run is never left in_progress.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, res YearResult, stage Stage, err error) YearResult {
	res.Status, res.FailedAt, res.Error = StatusFailed, stage, err.Error()
	log.Error("ingest: year failed", "stage", stage, "error", err)

	u := storage.RunUpdate{
		Status:       model.RunStatusFailed,
		Generation:   res.Generation,
		ErrorSummary: fmt.Sprintf("%s: %v", stage, err),
		Metadata:     map[string]any{"failed_stage": string(stage), "missing_optional": res.Missing},
	}
	if res.Counts.Read > 0 {
		counts := res.Counts
		u.Counts = &counts
	}
	if len(res.Sample) > 0 {
		u.Metadata["rejection_sample"] = res.Sample
	}
	o.bookkeep(ctx, log, res.RunID, u)
	return res
}

func (o *Orchestrator) syncPending(ctx context.Context, log *slog.Logger, res YearResult, err error) YearResult {
	res.Status, res.FailedAt, res.Error = StatusSyncPending, StageSync, err.Error()
	log.Warn("ingest: catalog sync incomplete, year left sync_pending", "error", err)
	o.bookkeep(ctx, log, res.RunID, storage.RunUpdate{
		Status:       model.RunStatusSyncPending,
		ErrorSummary: fmt.Sprintf("%s: %v", StageSync, err),
	})
	return res
}

// bookkeep writes a run update on a context detached from cancellation.
func (o *Orchestrator) bookkeep(ctx context.Context, log *slog.Logger, id uuid.UUID, u storage.RunUpdate) {
	if id == uuid.Nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if err := o.store.UpdateRun(wctx, id, u); err != nil {
		log.Error("ingest: update run status failed", "status", u.Status, "error", err)
	}
}

func (o *Orchestrator) countRows(ctx context.Context, c model.RunCounts) {
	for outcome, n := range map[string]int{
		"accepted":  c.Accepted,
		"rejected":  c.Rejected,
		"duplicate": c.Duplicates,
		"corrected": c.Corrections,
	} {
		if n > 0 {
			o.rows.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}
}
