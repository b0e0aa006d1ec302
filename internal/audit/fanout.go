package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/bqaudit-cli/internal/model"
	"github.com/sells-group/bqaudit-cli/internal/resilience"
	"github.com/sells-group/bqaudit-cli/pkg/bq"
)

// Outcome is the merged view over all configured regions once every
// pipeline has reached a terminal state.
type Outcome struct {
	// Records from successful regions, in configured region order then
	// within-region page order.
	Records []model.JobRecord

	// Failures lists regions that terminated in failure, in configured
	// region order.
	Failures []model.RegionFailure
}

// Collect fans the fetch out across req.Regions with at most
// req.Concurrency pipelines in flight, then merges results. It waits for
// every region to finish: partial failures become warnings, an auth
// failure cancels all in-flight pipelines and fails the run outright, and
// all regions failing yields ErrNoRegions.
func Collect(ctx context.Context, client bq.Client, req model.AuditRequest, retry resilience.RetryConfig) (*Outcome, error) {
	if len(req.Regions) == 0 {
		return nil, eris.Wrap(resilience.ErrNoRegions, "audit: no regions configured")
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = len(req.Regions)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	results := make([][]model.JobRecord, len(req.Regions))
	failures := make([]error, len(req.Regions))

	for i, region := range req.Regions {
		g.Go(func() error {
			recs, err := FetchRegion(gctx, client, RegionRequest{
				Project:      req.Project,
				Region:       region,
				LookbackDays: req.LookbackDays,
				RowLimit:     req.PerRegionLimit,
				PageSize:     pageSizeFor(req),
				Retry:        retry,
			})
			if err != nil {
				if resilience.IsFatal(err) {
					// Cancels the sibling pipelines via gctx.
					return err
				}
				failures[i] = err
				// Rows fetched before the failure are dropped: a failed
				// region contributes nothing to the ranking.
				if len(recs) > 0 {
					zap.L().Warn("discarding partial rows from failed region",
						zap.String("region", region),
						zap.Int("rows", len(recs)),
					)
				}
				return nil
			}
			results[i] = recs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "audit: fatal region failure")
	}

	out := &Outcome{}
	failed := 0
	for i, region := range req.Regions {
		if fErr := failures[i]; fErr != nil {
			failed++
			out.Failures = append(out.Failures, model.RegionFailure{
				Region: region,
				Reason: failureReason(fErr),
			})
			continue
		}
		out.Records = append(out.Records, results[i]...)
	}

	if failed == len(req.Regions) {
		return nil, eris.Wrap(resilience.ErrNoRegions, "audit: all regions failed")
	}
	return out, nil
}

func pageSizeFor(req model.AuditRequest) int {
	// The row limit bounds the page size so a single-page region never
	// over-fetches.
	const defaultPageSize = 500
	if req.PerRegionLimit > 0 && req.PerRegionLimit < defaultPageSize {
		return req.PerRegionLimit
	}
	return defaultPageSize
}

func failureReason(err error) string {
	var re *resilience.RegionError
	if errors.As(err, &re) {
		return fmt.Sprintf("%s: %v", re.Class, re.Err)
	}
	if class := resilience.ClassOf(err); class != "" {
		return fmt.Sprintf("%s: %v", class, err)
	}
	return err.Error()
}
