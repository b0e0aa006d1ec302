package audit

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/bqaudit-cli/internal/model"
)

func exportFixture() []model.JobRecord {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	j1 := job("j1", "us", 1000, 20)
	j1.UserEmail = "analyst@example.com"
	j1.CreationTime = &created
	j1.Labels = `{"env":"prod"}`

	j2 := job("j2", "eu", 500, 10)
	return []model.JobRecord{j1, j2}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")

	require.NoError(t, WriteCSV(path, exportFixture()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, model.ExportColumns, rows[0])

	byCol := make(map[string]string, len(rows[0]))
	for i, col := range rows[0] {
		byCol[col] = rows[1][i]
	}
	assert.Equal(t, "j1", byCol["job_id"])
	assert.Equal(t, "us", byCol["region"])
	assert.Equal(t, "2026-03-14T09:26:53Z", byCol["creation_time"])
	assert.Equal(t, "1000", byCol["total_bytes_billed"])
	assert.Equal(t, `{"env":"prod"}`, byCol["labels"])

	assert.Equal(t, "j2", rows[2][0], "rows preserve ranked order")
}

func TestWriteCSVEmptyStillWritesHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, WriteCSV(path, nil))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.ExportColumns, rows[0])
}

func TestWriteCSVLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, WriteCSV(filepath.Join(dir, "out.csv"), exportFixture()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.csv", entries[0].Name())
}

func TestWriteCSVOverwritesExisting(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, WriteCSV(path, exportFixture()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "stale")
}

func TestWriteXLSX(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteXLSX(path, exportFixture()))

	wb, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 1)

	sheet := wb.Sheets[0]
	assert.Equal(t, "jobs", sheet.Name)
	require.Len(t, sheet.Rows, 3)

	header := make([]string, 0, len(model.ExportColumns))
	for _, cell := range sheet.Rows[0].Cells {
		header = append(header, cell.String())
	}
	assert.Equal(t, model.ExportColumns, header)
	assert.Equal(t, "j1", sheet.Rows[1].Cells[0].String())
	assert.Equal(t, "j2", sheet.Rows[2].Cells[0].String())
}
