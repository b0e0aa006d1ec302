package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bqaudit-cli/internal/model"
	"github.com/sells-group/bqaudit-cli/internal/resilience"
	"github.com/sells-group/bqaudit-cli/internal/store"
)

func newRunStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestAuditorRunRanksAcrossRegions(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.script("region-a", pageResult{page: page("",
		rawJob("J1", 500, 10),
		rawJob("J2", 1000, 5),
	)})
	client.script("region-b", pageResult{page: page("",
		rawJob("J3", 1000, 20),
		rawJob("J4", 100, 1),
	)})

	req := auditReq("region-a", "region-b")
	req.TopN = 2

	result, err := New(client, nil).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"J3", "J2"}, jobIDs(result.Jobs),
		"higher slot_ms wins the byte tie, then the next-highest billed")
	assert.Equal(t, 4, result.Scanned)
	assert.Empty(t, result.Warnings)
}

func TestAuditorRunRecordsHistory(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.script("us", pageResult{page: page("", rawJob("j1", 100, 5))})
	client.script("eu", pageResult{
		err: resilience.NewRegionError("eu", resilience.ClassRegionUnsupported, errors.New("404 not found")),
	})

	st := newRunStore(t)
	result, err := New(client, st).Run(context.Background(), auditReq("us", "eu"))
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 1, run.Scanned)
	require.Len(t, run.TopJobs, 1)
	assert.Equal(t, "j1", run.TopJobs[0].JobID)
	require.Len(t, run.Warnings, 1)
	assert.Equal(t, "eu", run.Warnings[0].Region)
	require.NotNil(t, run.FinishedAt)
}

func TestAuditorRunMarksFailure(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.script("us", pageResult{
		err: resilience.NewRegionError("us", resilience.ClassAuth, errors.New("401 invalid credentials")),
	})

	st := newRunStore(t)
	_, err := New(client, st).Run(context.Background(), auditReq("us"))
	require.Error(t, err)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "auth_failure")
}

func TestAuditorRunWithoutStore(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.script("us", pageResult{page: page("", rawJob("j1", 100, 5))})

	result, err := New(client, nil).Run(context.Background(), auditReq("us"))
	require.NoError(t, err)
	assert.Len(t, result.Jobs, 1)
}

func TestExportUnknownFormat(t *testing.T) {
	t.Parallel()

	err := Export("parquet", filepath.Join(t.TempDir(), "out"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}
