package model

import "time"

// RunStatus represents the current state of an audit run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusFetching  RunStatus = "fetching"
	RunStatusRanking   RunStatus = "ranking"
	RunStatusExporting RunStatus = "exporting"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
)

// RegionFailure records a region that did not fully succeed and why.
type RegionFailure struct {
	Region string `json:"region"`
	Reason string `json:"reason"`
}

// AuditRequest describes one audit invocation: which project to scan, where,
// how far back, and how much to keep. The caller validates these before the
// engine sees them.
type AuditRequest struct {
	Project        string   `json:"project" yaml:"project"`
	Regions        []string `json:"regions" yaml:"regions"`
	LookbackDays   int      `json:"lookback_days" yaml:"lookback_days"`
	PerRegionLimit int      `json:"per_region_limit" yaml:"per_region_limit"`
	TopN           int      `json:"top_n" yaml:"top_n"`
	Concurrency    int      `json:"concurrency" yaml:"concurrency"`
}

// AuditResult is the outcome of a successful audit: the ranked top-N records
// plus warnings for any region that was excluded.
type AuditResult struct {
	Jobs     []JobRecord     `json:"jobs"`
	Warnings []RegionFailure `json:"warnings,omitempty"`
	Scanned  int             `json:"scanned"`
}

// Run represents one recorded audit invocation.
type Run struct {
	ID         string          `json:"id"`
	Request    AuditRequest    `json:"request"`
	Status     RunStatus       `json:"status"`
	Warnings   []RegionFailure `json:"warnings,omitempty"`
	TopJobs    []JobRecord     `json:"top_jobs,omitempty"`
	Scanned    int             `json:"scanned"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
