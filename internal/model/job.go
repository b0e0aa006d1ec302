package model

import (
	"strconv"
	"time"
)

// JobState is the platform-reported execution state of a job.
type JobState string

const (
	JobStatePending JobState = "PENDING"
	JobStateRunning JobState = "RUNNING"
	JobStateDone    JobState = "DONE"
)

// JobRecord is one audited query execution, flattened from the
// INFORMATION_SCHEMA jobs view. Nested substructures (destination_table,
// referenced_tables, labels, ...) are carried as canonical JSON text so
// downstream components never need to know their internal shape.
type JobRecord struct {
	JobID         string     `json:"job_id"`
	Region        string     `json:"region"`
	ProjectID     string     `json:"project_id"`
	UserEmail     string     `json:"user_email"`
	CreationTime  *time.Time `json:"creation_time,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	JobType       string     `json:"job_type"`
	State         JobState   `json:"state"`
	StatementType string     `json:"statement_type"`
	Priority      string     `json:"priority"`
	CacheHit      bool       `json:"cache_hit"`
	ReservationID string     `json:"reservation_id,omitempty"`

	TotalBytesProcessed int64 `json:"total_bytes_processed"`
	TotalBytesBilled    int64 `json:"total_bytes_billed"`
	TotalSlotMS         int64 `json:"total_slot_ms"`

	// Canonical JSON blobs; empty string when the source field was null.
	DestinationTable   string `json:"destination_table,omitempty"`
	ReferencedTables   string `json:"referenced_tables,omitempty"`
	ReferencedRoutines string `json:"referenced_routines,omitempty"`
	ErrorResult        string `json:"error_result,omitempty"`
	Labels             string `json:"labels,omitempty"`
	JobStages          string `json:"job_stages,omitempty"`
}

// JobKey is the composite identity of a record. A job_id is unique only
// within its region, so dedup must key on both.
type JobKey struct {
	JobID  string
	Region string
}

// Key returns the composite identity of the record.
func (r JobRecord) Key() JobKey {
	return JobKey{JobID: r.JobID, Region: r.Region}
}

// RankKey is the cost ordering tuple: billed bytes primary, slot-ms
// tie-break. Unbilled jobs carry zeros and sort last.
type RankKey struct {
	BytesBilled int64
	SlotMS      int64
}

// RankKey returns the record's cost ordering tuple.
func (r JobRecord) RankKey() RankKey {
	return RankKey{BytesBilled: r.TotalBytesBilled, SlotMS: r.TotalSlotMS}
}

// Compare returns -1, 0, or 1 as k orders below, equal to, or above other.
func (k RankKey) Compare(other RankKey) int {
	switch {
	case k.BytesBilled < other.BytesBilled:
		return -1
	case k.BytesBilled > other.BytesBilled:
		return 1
	case k.SlotMS < other.SlotMS:
		return -1
	case k.SlotMS > other.SlotMS:
		return 1
	}
	return 0
}

// ExportColumns is the fixed column order of the tabular export.
var ExportColumns = []string{
	"job_id",
	"region",
	"project_id",
	"user_email",
	"creation_time",
	"start_time",
	"end_time",
	"job_type",
	"state",
	"statement_type",
	"priority",
	"cache_hit",
	"reservation_id",
	"total_bytes_processed",
	"total_bytes_billed",
	"total_slot_ms",
	"destination_table",
	"referenced_tables",
	"referenced_routines",
	"error_result",
	"labels",
	"job_stages",
}

// ExportRow renders the record in ExportColumns order. Every column is
// present; nulls render as empty strings.
func (r JobRecord) ExportRow() []string {
	return []string{
		r.JobID,
		r.Region,
		r.ProjectID,
		r.UserEmail,
		formatTime(r.CreationTime),
		formatTime(r.StartTime),
		formatTime(r.EndTime),
		r.JobType,
		string(r.State),
		r.StatementType,
		r.Priority,
		strconv.FormatBool(r.CacheHit),
		r.ReservationID,
		strconv.FormatInt(r.TotalBytesProcessed, 10),
		strconv.FormatInt(r.TotalBytesBilled, 10),
		strconv.FormatInt(r.TotalSlotMS, 10),
		r.DestinationTable,
		r.ReferencedTables,
		r.ReferencedRoutines,
		r.ErrorResult,
		r.Labels,
		r.JobStages,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
