// Package audit implements the multi-region job audit engine: paginated
// metadata collection, normalization, concurrent fan-out, cost ranking,
// and tabular export.
package audit

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/bqaudit-cli/internal/model"
)

// MalformedRecordError marks a raw row that cannot become a JobRecord.
// Such rows are dropped and logged; they never fail their region.
type MalformedRecordError struct {
	Field string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record: missing %s", e.Field)
}

// Normalize maps one raw row into the canonical flat JobRecord. The raw
// row does not self-identify its region, so the query context supplies it.
func Normalize(raw map[string]any, region string) (model.JobRecord, error) {
	jobID := coerceString(raw["job_id"])
	if jobID == "" {
		return model.JobRecord{}, &MalformedRecordError{Field: "job_id"}
	}

	rec := model.JobRecord{
		JobID:         jobID,
		Region:        region,
		ProjectID:     coerceString(raw["project_id"]),
		UserEmail:     coerceString(raw["user_email"]),
		CreationTime:  coerceTime(raw["creation_time"]),
		StartTime:     coerceTime(raw["start_time"]),
		EndTime:       coerceTime(raw["end_time"]),
		JobType:       coerceString(raw["job_type"]),
		State:         model.JobState(coerceString(raw["state"])),
		StatementType: coerceString(raw["statement_type"]),
		Priority:      coerceString(raw["priority"]),
		CacheHit:      coerceBool(raw["cache_hit"]),
		ReservationID: coerceString(raw["reservation_id"]),

		// Ranking fields coerce to 0, never null, so the comparator
		// stays total.
		TotalBytesProcessed: coerceInt64(raw["total_bytes_processed"]),
		TotalBytesBilled:    coerceInt64(raw["total_bytes_billed"]),
		TotalSlotMS:         coerceInt64(raw["total_slot_ms"]),

		DestinationTable:   canonicalJSONField(raw["destination_table"]),
		ReferencedTables:   canonicalJSONField(raw["referenced_tables"]),
		ReferencedRoutines: canonicalJSONField(raw["referenced_routines"]),
		ErrorResult:        canonicalJSONField(raw["error_result"]),
		Labels:             canonicalJSONField(raw["labels"]),
		JobStages:          canonicalJSONField(raw["job_stages"]),
	}
	return rec, nil
}

// canonicalJSONField renders a nested substructure as canonical JSON text.
// The input is either JSON text (scalar projection from the metadata query)
// or an already-decoded structure; null maps to the empty string.
func canonicalJSONField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(x)
		if s == "" || s == "null" {
			return ""
		}
		out, err := CanonicalJSON(s)
		if err != nil {
			return s
		}
		return out
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		out, cErr := CanonicalJSON(string(b))
		if cErr != nil {
			return string(b)
		}
		return out
	}
}

// CanonicalJSON re-serializes JSON text with deterministic key ordering so
// identical content always yields byte-identical output. Numbers pass
// through verbatim.
func CanonicalJSON(s string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func coerceString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func coerceInt64(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return int64(f)
		}
		return 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
		return 0
	default:
		return 0
	}
}

func coerceBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return err == nil && b
	default:
		return false
	}
}

// coerceTime parses a timestamp cell. The REST transport delivers TIMESTAMP
// columns as epoch seconds with a fractional part (often in scientific
// notation); RFC 3339 text is accepted as well.
func coerceTime(v any) *time.Time {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		s = strings.TrimSpace(x)
	case json.Number:
		s = x.String()
	case float64:
		return epochToTime(x)
	default:
		return nil
	}
	if s == "" {
		return nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epochToTime(f)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999 MST", s); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}

func epochToTime(f float64) *time.Time {
	sec, frac := math.Modf(f)
	t := time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return &t
}
