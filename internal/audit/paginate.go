package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/bqaudit-cli/internal/model"
	"github.com/sells-group/bqaudit-cli/internal/resilience"
	"github.com/sells-group/bqaudit-cli/pkg/bq"
)

// RegionRequest parameterizes one region's fetch.
type RegionRequest struct {
	Project      string
	Region       string
	LookbackDays int
	RowLimit     int
	PageSize     int
	Retry        resilience.RetryConfig
}

// FetchRegion drives the query client through successive pages for a single
// region until the continuation token is exhausted or RowLimit rows have
// been normalized, whichever first. Retryable failures get bounded retries;
// a terminal failure is returned together with whatever rows were already
// fetched. Malformed rows are dropped and logged, never failing the region.
func FetchRegion(ctx context.Context, client bq.Client, req RegionRequest) ([]model.JobRecord, error) {
	log := zap.L().With(zap.String("region", req.Region))

	retry := req.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(req.Region)
	}

	var records []model.JobRecord
	token := ""
	dropped := 0

	for {
		pageReq := bq.PageRequest{
			Project:      req.Project,
			Region:       req.Region,
			LookbackDays: req.LookbackDays,
			RowLimit:     req.RowLimit,
			PageSize:     req.PageSize,
			PageToken:    token,
		}

		page, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*bq.Page, error) {
			return client.QueryPage(ctx, pageReq)
		})
		if err != nil {
			log.Warn("region fetch terminated",
				zap.Int("rows_fetched", len(records)),
				zap.String("class", string(resilience.ClassOf(err))),
				zap.Error(err),
			)
			return records, err
		}

		for _, raw := range page.Rows {
			rec, nErr := Normalize(raw, req.Region)
			if nErr != nil {
				dropped++
				log.Warn("dropping malformed row", zap.Error(nErr))
				continue
			}
			records = append(records, rec)
			if len(records) >= req.RowLimit {
				break
			}
		}

		if len(records) >= req.RowLimit || page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	log.Debug("region fetch complete",
		zap.Int("rows", len(records)),
		zap.Int("dropped", dropped),
	)
	return records, nil
}
