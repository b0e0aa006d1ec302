package audit

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bqaudit-cli/internal/model"
	"github.com/sells-group/bqaudit-cli/internal/resilience"
	"github.com/sells-group/bqaudit-cli/internal/store"
	"github.com/sells-group/bqaudit-cli/pkg/bq"
)

// Auditor runs the full audit: concurrent region collection, dedup and
// ranking, and run-history recording. Export is left to the caller so the
// same result can feed multiple sinks.
type Auditor struct {
	client bq.Client
	store  store.Store
	retry  resilience.RetryConfig
}

// New creates an Auditor. st may be nil to skip run-history recording.
func New(client bq.Client, st store.Store) *Auditor {
	return &Auditor{
		client: client,
		store:  st,
		retry:  resilience.DefaultRetryConfig(),
	}
}

// Run executes one audit invocation. On success the result carries the
// ranked top-N records and a warning per excluded region; an auth failure
// or every region failing aborts with an error and no result.
func (a *Auditor) Run(ctx context.Context, req model.AuditRequest) (*model.AuditResult, error) {
	log := zap.L().With(
		zap.String("project", req.Project),
		zap.Strings("regions", req.Regions),
		zap.Int("top_n", req.TopN),
	)
	log.Info("audit: starting")

	var runID string
	if a.store != nil {
		run, err := a.store.CreateRun(ctx, req)
		if err != nil {
			log.Warn("audit: failed to record run", zap.Error(err))
		} else {
			runID = run.ID
		}
	}

	setStatus := func(status model.RunStatus) {
		if a.store == nil || runID == "" {
			return
		}
		if err := a.store.UpdateRunStatus(ctx, runID, status); err != nil {
			log.Warn("audit: failed to update run status", zap.Error(err))
		}
	}

	setStatus(model.RunStatusFetching)
	outcome, err := Collect(ctx, a.client, req, a.retry)
	if err != nil {
		a.failRun(ctx, runID, err)
		return nil, err
	}

	setStatus(model.RunStatusRanking)
	ranker := NewRanker(req.TopN)
	ranker.OfferAll(outcome.Records)

	result := &model.AuditResult{
		Jobs:     ranker.Ranked(),
		Warnings: outcome.Failures,
		Scanned:  ranker.Offered(),
	}

	for _, w := range result.Warnings {
		log.Warn("audit: region excluded",
			zap.String("region", w.Region),
			zap.String("reason", w.Reason),
		)
	}
	log.Info("audit: ranking complete",
		zap.Int("scanned", result.Scanned),
		zap.Int("distinct", ranker.Distinct()),
		zap.Int("ranked", len(result.Jobs)),
	)

	if a.store != nil && runID != "" {
		if err := a.store.CompleteRun(ctx, runID, result); err != nil {
			log.Warn("audit: failed to complete run record", zap.Error(err))
		}
	}
	return result, nil
}

func (a *Auditor) failRun(ctx context.Context, runID string, cause error) {
	if a.store == nil || runID == "" {
		return
	}
	if err := a.store.FailRun(ctx, runID, cause.Error()); err != nil {
		zap.L().Warn("audit: failed to record run failure", zap.Error(err))
	}
}

// Export writes the ranked records to path in the requested format
// ("csv" or "xlsx").
func Export(format, path string, jobs []model.JobRecord) error {
	switch format {
	case "csv", "":
		return WriteCSV(path, jobs)
	case "xlsx":
		return WriteXLSX(path, jobs)
	default:
		return eris.Errorf("export: unknown format %q", format)
	}
}
