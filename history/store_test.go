package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simon020286/nightly/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Path(filepath.Join(t.TempDir(), "state")))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRun(id string, number int, conclusion models.Outcome) *models.RunResult {
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	return &models.RunResult{
		ID:         id,
		Number:     number,
		Workflow:   "conda_cron",
		Event:      models.EventSchedule,
		Ref:        "refs/heads/main",
		Conclusion: conclusion,
		StartedAt:  start,
		FinishedAt: start.Add(12 * time.Minute),
		Jobs: []models.JobResult{{
			ID:     "condacheck",
			Name:   "condacheck",
			Result: conclusion,
			Cells: []models.CellResult{
				{
					Job:        "condacheck",
					Name:       "condacheck (ubuntu-latest, 3.10)",
					Matrix:     map[string]string{"os": "ubuntu-latest", "python-version": "3.10"},
					RunsOn:     "ubuntu-latest",
					Conclusion: models.OutcomeSuccess,
					Steps: []models.StepResult{
						{ID: "tests", Name: "Run tests", Outcome: models.OutcomeFailure, Conclusion: models.OutcomeSuccess},
					},
					StartedAt:  start,
					FinishedAt: start.Add(10 * time.Minute),
				},
				{
					Job:        "condacheck",
					Name:       "condacheck (macos-latest, 3.12)",
					Matrix:     map[string]string{"os": "macos-latest", "python-version": "3.12"},
					RunsOn:     "macos-latest",
					Conclusion: conclusion,
					StartedAt:  start,
					FinishedAt: start.Add(12 * time.Minute),
				},
			},
		}},
	}
}

func TestOpen_CreatesNestedDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", FileName)
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	assert.FileExists(t, path)
	assert.NoError(t, store.Migrate(), "migrations are idempotent")
}

func TestStore_RecordAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-1", 1, models.OutcomeFailure)
	require.NoError(t, store.Record(ctx, run))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.Workflow, got.Workflow)
	assert.Equal(t, models.OutcomeFailure, got.Conclusion)
	require.Len(t, got.Jobs, 1)
	assert.Len(t, got.Jobs[0].Cells, 2)

	cells, err := store.Cells(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, "condacheck (ubuntu-latest, 3.10)", cells[0].Name)
	assert.Equal(t, "3.10", cells[0].Matrix["python-version"])
	assert.Equal(t, models.OutcomeFailure, cells[0].Steps[0].Outcome)
	assert.WithinDuration(t, run.Jobs[0].Cells[0].FinishedAt, cells[0].FinishedAt, time.Second)
}

func TestStore_RecordReplaces(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, sampleRun("run-1", 1, models.OutcomeFailure)))
	require.NoError(t, store.Record(ctx, sampleRun("run-1", 1, models.OutcomeSuccess)))

	runs, err := store.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.OutcomeSuccess, runs[0].Conclusion)

	cells, err := store.Cells(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, cells, 2)
}

func TestStore_GetMissing(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrRunNotFound)
}

func TestStore_List(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Record(ctx, sampleRun(id, i+1, models.OutcomeSuccess)))
	}
	other := sampleRun("d", 1, models.OutcomeCancelled)
	other.Workflow = "other"
	require.NoError(t, store.Record(ctx, other))

	runs, err := store.List(ctx, "conda_cron", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Equal(t, 12*time.Minute, runs[0].Duration())

	all, err := store.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "other", all[0].Workflow)
}

func TestStore_NextRunNumber(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	n, err := store.NextRunNumber(ctx, "conda_cron")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.NextRunNumber(ctx, "conda_cron")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.NextRunNumber(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_NextRunNumber_Concurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.NextRunNumber(ctx, "conda_cron")
			assert.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 10)
}
