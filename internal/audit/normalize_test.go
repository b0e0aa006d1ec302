package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFullRow(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"job_id":                "job_123",
		"project_id":            "proj-1",
		"user_email":            "analyst@example.com",
		"creation_time":         "1.7093013025E9",
		"start_time":            "1709301303.5",
		"end_time":              nil,
		"job_type":              "QUERY",
		"state":                 "RUNNING",
		"statement_type":        "SELECT",
		"priority":              "INTERACTIVE",
		"cache_hit":             "true",
		"reservation_id":        nil,
		"total_bytes_processed": "123456",
		"total_bytes_billed":    "234567",
		"total_slot_ms":         "890",
		"labels":                `{"env":"prod","team":"data"}`,
		"referenced_tables":     `[{"table_id":"t1","dataset_id":"d1","project_id":"p1"}]`,
		"destination_table":     "null",
	}

	rec, err := Normalize(raw, "us")
	require.NoError(t, err)

	assert.Equal(t, "job_123", rec.JobID)
	assert.Equal(t, "us", rec.Region, "region comes from query context")
	assert.Equal(t, "proj-1", rec.ProjectID)
	assert.True(t, rec.CacheHit)
	assert.Equal(t, int64(234567), rec.TotalBytesBilled)
	assert.Equal(t, int64(890), rec.TotalSlotMS)

	require.NotNil(t, rec.CreationTime)
	assert.Equal(t, time.Unix(1709301302, 0).UTC().Add(500*time.Millisecond), *rec.CreationTime)
	require.NotNil(t, rec.StartTime)
	assert.Nil(t, rec.EndTime, "running job has no end_time")

	assert.Equal(t, "", rec.DestinationTable, "JSON null collapses to empty")
	assert.JSONEq(t, `{"env":"prod","team":"data"}`, rec.Labels)
}

func TestNormalizeMissingJobID(t *testing.T) {
	t.Parallel()

	_, err := Normalize(map[string]any{"user_email": "x@example.com"}, "us")
	require.Error(t, err)

	var mErr *MalformedRecordError
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, "job_id", mErr.Field)
}

func TestNormalizeCoercesAbsentCostsToZero(t *testing.T) {
	t.Parallel()

	rec, err := Normalize(map[string]any{"job_id": "j1"}, "eu")
	require.NoError(t, err)

	assert.Equal(t, int64(0), rec.TotalBytesBilled)
	assert.Equal(t, int64(0), rec.TotalBytesProcessed)
	assert.Equal(t, int64(0), rec.TotalSlotMS)
	assert.False(t, rec.CacheHit)
}

func TestCanonicalJSONIsDeterministic(t *testing.T) {
	t.Parallel()

	a := `{"b":2,"a":{"z":true,"m":[1,2,3]},"c":"x"}`
	b := `{"c":"x","a":{"m":[1,2,3],"z":true},"b":2}`

	ca, err := CanonicalJSON(a)
	require.NoError(t, err)
	cb, err := CanonicalJSON(b)
	require.NoError(t, err)

	assert.Equal(t, ca, cb, "identical content in any key order normalizes identically")

	// Repeated canonicalization is a fixed point.
	again, err := CanonicalJSON(ca)
	require.NoError(t, err)
	assert.Equal(t, ca, again)
}

func TestCanonicalJSONPreservesNumbers(t *testing.T) {
	t.Parallel()

	out, err := CanonicalJSON(`{"big":12345678901234567890,"float":0.1}`)
	require.NoError(t, err)
	assert.Contains(t, out, "12345678901234567890")
	assert.Contains(t, out, "0.1")
}

func TestCanonicalJSONFieldPassthroughOnInvalid(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "not json", canonicalJSONField("not json"))
	assert.Equal(t, "", canonicalJSONField(nil))
	assert.Equal(t, "", canonicalJSONField("null"))
	assert.Equal(t, "", canonicalJSONField("  "))
}

func TestCoerceInt64(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want int64
	}{
		{"nil", nil, 0},
		{"decimal string", "42", 42},
		{"float string", "42.9", 42},
		{"scientific string", "1.5E3", 1500},
		{"number", json.Number("77"), 77},
		{"float64", float64(12.3), 12},
		{"garbage", "abc", 0},
		{"empty string", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, coerceInt64(tt.in))
		})
	}
}

func TestCoerceTime(t *testing.T) {
	t.Parallel()

	rfc := coerceTime("2026-03-14T09:26:53Z")
	require.NotNil(t, rfc)
	assert.Equal(t, 2026, rfc.Year())

	epoch := coerceTime("1709301302")
	require.NotNil(t, epoch)
	assert.Equal(t, int64(1709301302), epoch.Unix())

	assert.Nil(t, coerceTime(nil))
	assert.Nil(t, coerceTime(""))
	assert.Nil(t, coerceTime("yesterday"))
}
