package audit

import (
	"context"
	"strconv"
	"sync"

	"github.com/sells-group/bqaudit-cli/internal/model"
	"github.com/sells-group/bqaudit-cli/internal/resilience"
	"github.com/sells-group/bqaudit-cli/pkg/bq"
)

// pageResult scripts one QueryPage response.
type pageResult struct {
	page *bq.Page
	err  error
}

// fakeClient pops scripted responses per region, in order. Once a region's
// script is exhausted further calls return an empty final page.
type fakeClient struct {
	mu      sync.Mutex
	scripts map[string][]pageResult
	calls   map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		scripts: make(map[string][]pageResult),
		calls:   make(map[string]int),
	}
}

func (c *fakeClient) script(region string, results ...pageResult) {
	c.scripts[region] = append(c.scripts[region], results...)
}

func (c *fakeClient) callCount(region string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[region]
}

func (c *fakeClient) QueryPage(ctx context.Context, req bq.PageRequest) (*bq.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.Region]++

	queue := c.scripts[req.Region]
	if len(queue) == 0 {
		return &bq.Page{}, nil
	}
	next := queue[0]
	c.scripts[req.Region] = queue[1:]
	return next.page, next.err
}

var _ bq.Client = (*fakeClient)(nil)

// rawJob builds a raw row the way the metadata query delivers it.
func rawJob(id string, billed, slotMS int64) map[string]any {
	return map[string]any{
		"job_id":             id,
		"user_email":         id + "@example.com",
		"job_type":           "QUERY",
		"state":              "DONE",
		"total_bytes_billed": strconv.FormatInt(billed, 10),
		"total_slot_ms":      strconv.FormatInt(slotMS, 10),
	}
}

func page(token string, rows ...map[string]any) *bq.Page {
	return &bq.Page{Rows: rows, NextPageToken: token}
}

// job builds an already-normalized record for ranker-level tests.
func job(id, region string, billed, slotMS int64) model.JobRecord {
	return model.JobRecord{
		JobID:            id,
		Region:           region,
		TotalBytesBilled: billed,
		TotalSlotMS:      slotMS,
	}
}

func jobIDs(recs []model.JobRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.JobID
	}
	return ids
}

// fastRetry keeps retry loops snappy in tests.
func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: 1,
		MaxBackoff:     1,
		Multiplier:     1,
	}
}
