// Package bq provides a client over the BigQuery REST API for reading
// recent job metadata from a regional INFORMATION_SCHEMA view.
package bq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/bqaudit-cli/internal/resilience"
)

// Client defines the region metadata query operations.
type Client interface {
	// QueryPage runs (or continues) the job metadata query for one region
	// and returns a single page of raw rows. An empty NextPageToken in the
	// returned page means the result set is exhausted.
	QueryPage(ctx context.Context, req PageRequest) (*Page, error)
}

// PageRequest identifies one page of a region's job metadata.
type PageRequest struct {
	Project      string
	Region       string
	LookbackDays int
	RowLimit     int
	PageSize     int
	// PageToken continues a prior page's result set. Empty starts a new
	// query. The token is opaque to callers.
	PageToken string
}

// Page is one page of raw job rows plus the continuation token.
type Page struct {
	Rows          []map[string]any
	NextPageToken string
}

// Option configures the HTTP client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPageTimeout sets the per-page fetch deadline.
func WithPageTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.pageTimeout = d
	}
}

// WithRateLimit paces requests at qps with the given burst.
func WithRateLimit(qps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
}

type httpClient struct {
	token       string
	baseURL     string
	http        *http.Client
	limiter     *rate.Limiter
	pageTimeout time.Duration
}

// New creates a Client authenticating with the given bearer token.
func New(token string, opts ...Option) Client {
	c := &httpClient{
		token:       token,
		baseURL:     "https://bigquery.googleapis.com/bigquery/v2",
		http:        &http.Client{Timeout: 90 * time.Second},
		limiter:     rate.NewLimiter(5, 5),
		pageTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// jobsSQL builds the INFORMATION_SCHEMA projection for one region. Nested
// columns are wrapped in TO_JSON_STRING so every value arrives as a scalar.
func jobsSQL(region string, lookbackDays, rowLimit int) string {
	return fmt.Sprintf(
		"SELECT job_id, project_id, user_email, creation_time, start_time, end_time, "+
			"job_type, state, statement_type, priority, cache_hit, reservation_id, "+
			"total_bytes_processed, total_bytes_billed, total_slot_ms, "+
			"TO_JSON_STRING(destination_table) AS destination_table, "+
			"TO_JSON_STRING(referenced_tables) AS referenced_tables, "+
			"TO_JSON_STRING(referenced_routines) AS referenced_routines, "+
			"TO_JSON_STRING(error_result) AS error_result, "+
			"TO_JSON_STRING(labels) AS labels, "+
			"TO_JSON_STRING(job_stages) AS job_stages "+
			"FROM `region-%s`.INFORMATION_SCHEMA.JOBS_BY_PROJECT "+
			"WHERE job_type = \"QUERY\" "+
			"AND creation_time >= TIMESTAMP_SUB(CURRENT_TIMESTAMP(), INTERVAL %d DAY) "+
			"ORDER BY creation_time DESC LIMIT %d",
		strings.ToLower(region), lookbackDays, rowLimit,
	)
}

type queryRequest struct {
	Query        string `json:"query"`
	UseLegacySQL bool   `json:"useLegacySql"`
	Location     string `json:"location,omitempty"`
	MaxResults   int    `json:"maxResults,omitempty"`
	TimeoutMS    int64  `json:"timeoutMs,omitempty"`
}

type queryResponse struct {
	Schema struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	} `json:"schema"`
	JobReference struct {
		JobID string `json:"jobId"`
	} `json:"jobReference"`
	Rows []struct {
		F []struct {
			V any `json:"v"`
		} `json:"f"`
	} `json:"rows"`
	PageToken   string `json:"pageToken"`
	JobComplete *bool  `json:"jobComplete"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *httpClient) QueryPage(ctx context.Context, req PageRequest) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "bq: rate limit wait")
	}

	var resp *queryResponse
	var err error
	if req.PageToken == "" {
		resp, err = c.startQuery(ctx, req)
	} else {
		resp, err = c.continueQuery(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	// jobComplete=false means the query is still running server side; poll
	// the result endpoint until it finishes or the page deadline expires.
	for resp.JobComplete != nil && !*resp.JobComplete {
		select {
		case <-ctx.Done():
			return nil, resilience.NewRegionError(req.Region, resilience.ClassTransient,
				eris.Wrap(ctx.Err(), "bq: query incomplete at page deadline"))
		case <-time.After(500 * time.Millisecond):
		}
		cont := req
		cont.PageToken = continuationToken(resp.JobReference.JobID, resp.PageToken)
		resp, err = c.continueQuery(ctx, cont)
		if err != nil {
			return nil, err
		}
	}

	page := &Page{Rows: zipRows(resp)}
	if resp.PageToken != "" {
		page.NextPageToken = continuationToken(resp.JobReference.JobID, resp.PageToken)
	}
	return page, nil
}

// startQuery issues jobs.query for a fresh result set.
func (c *httpClient) startQuery(ctx context.Context, req PageRequest) (*queryResponse, error) {
	body := queryRequest{
		Query:        jobsSQL(req.Region, req.LookbackDays, req.RowLimit),
		UseLegacySQL: false,
		Location:     req.Region,
		MaxResults:   req.PageSize,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "bq: marshal query request")
	}

	u := fmt.Sprintf("%s/projects/%s/queries", c.baseURL, url.PathEscape(req.Project))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "bq: build query request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, req.Region)
}

// continueQuery fetches a subsequent page via jobs.getQueryResults.
func (c *httpClient) continueQuery(ctx context.Context, req PageRequest) (*queryResponse, error) {
	jobID, token, err := splitContinuationToken(req.PageToken)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("location", req.Region)
	if token != "" {
		q.Set("pageToken", token)
	}
	if req.PageSize > 0 {
		q.Set("maxResults", fmt.Sprintf("%d", req.PageSize))
	}

	u := fmt.Sprintf("%s/projects/%s/queries/%s?%s",
		c.baseURL, url.PathEscape(req.Project), url.PathEscape(jobID), q.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "bq: build results request")
	}

	return c.do(httpReq, req.Region)
}

func (c *httpClient) do(req *http.Request, region string) (*queryResponse, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewRegionError(region, resilience.ClassTransient,
			eris.Wrap(err, "bq: request"))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewRegionError(region, resilience.ClassTransient,
			eris.Wrap(err, "bq: read response"))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(region, resp.StatusCode, raw)
	}

	var out queryResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, resilience.NewRegionError(region, resilience.ClassTransient,
			eris.Wrap(err, "bq: decode response"))
	}
	return &out, nil
}

// classifyStatus maps a non-200 response to the failure taxonomy. A 400 or
// 404 on this fixed, known-valid SQL means the regional view is absent.
func classifyStatus(region string, status int, raw []byte) error {
	msg := fmt.Sprintf("status %d", status)
	var ae apiError
	if err := json.Unmarshal(raw, &ae); err == nil && ae.Error.Message != "" {
		msg = fmt.Sprintf("status %d: %s", status, ae.Error.Message)
	}

	class := resilience.ClassFromHTTPStatus(status)
	if class == "" {
		if status == 400 || status == 404 {
			class = resilience.ClassRegionUnsupported
		} else {
			class = resilience.ClassTransient
		}
	}
	return resilience.NewRegionError(region, class, eris.New("bq: "+msg))
}

// zipRows pairs schema field names with the positional f/v cell values.
func zipRows(resp *queryResponse) []map[string]any {
	names := make([]string, len(resp.Schema.Fields))
	for i, f := range resp.Schema.Fields {
		names[i] = f.Name
	}

	rows := make([]map[string]any, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		row := make(map[string]any, len(names))
		for i, cell := range r.F {
			if i < len(names) {
				row[names[i]] = cell.V
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Continuation tokens carry the server job ID alongside the page token so
// the driver can treat them as a single opaque string.
func continuationToken(jobID, pageToken string) string {
	return jobID + "#" + pageToken
}

func splitContinuationToken(tok string) (jobID, pageToken string, err error) {
	i := strings.IndexByte(tok, '#')
	if i < 0 {
		return "", "", eris.New("bq: malformed continuation token")
	}
	return tok[:i], tok[i+1:], nil
}
