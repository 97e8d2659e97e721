package dispatcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simon020286/nightly/builder"
	"github.com/simon020286/nightly/config"
	"github.com/simon020286/nightly/history"
	"github.com/simon020286/nightly/models"
	"github.com/simon020286/nightly/trigger"
)

const testWorkflow = `
name: checks
on:
  workflow_dispatch:
  schedule:
    - cron: "0 0 * * *"
concurrency:
  group: ${{ github.workflow }}-${{ github.ref }}
  cancel-in-progress: true
env:
  REF: ${{ github.ref_name }}
jobs:
  check:
    steps:
      - run: check ${{ github.run_number }} ${{ vars.flavour }}
`

const scheduledOnly = `
name: scheduled
on:
  schedule:
    - cron: "0 0 * * *"
jobs:
  check:
    steps:
      - run: check
`

// blockingRunner blocks scripts containing "block" until cancelled
type blockingRunner struct {
	mu      sync.Mutex
	scripts []string
	envs    []map[string]string
	started chan string
}

func (r *blockingRunner) Run(ctx context.Context, script string, opts models.CommandOptions) error {
	r.mu.Lock()
	r.scripts = append(r.scripts, script)
	r.envs = append(r.envs, opts.Env)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- script
	}
	if strings.Contains(script, "block") {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func newRegistry(t *testing.T, sources ...string) *builder.WorkflowRegistry {
	t.Helper()
	registry := builder.NewWorkflowRegistry()
	for _, src := range sources {
		wf, err := config.ParseWorkflow([]byte(src), "test")
		require.NoError(t, err)
		require.NoError(t, registry.Register(wf))
	}
	return registry
}

func newStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), history.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDispatch_RecordsHistory(t *testing.T) {
	store := newStore(t)
	runner := &blockingRunner{}
	d := New(context.Background(), Options{
		Workflows: newRegistry(t, testWorkflow),
		Settings: &config.Settings{
			Ref:        "refs/heads/main",
			Repository: "OpenFreeEnergy/gufe",
			ServerURL:  "https://github.com",
			Vars:       map[string]any{"flavour": "conda"},
		},
		History: store,
		Runner:  runner,
	})

	result, err := d.Dispatch(context.Background(), trigger.ManualDispatch("checks", "release", ""))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Conclusion)
	assert.Equal(t, 1, result.Number)
	assert.Equal(t, "refs/heads/release", result.Ref)

	runner.mu.Lock()
	assert.Equal(t, []string{"check 1 conda"}, runner.scripts)
	assert.Equal(t, "release", runner.envs[0]["REF"])
	runner.mu.Unlock()

	runs, err := store.List(context.Background(), "checks", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.ID, runs[0].ID)

	second, err := d.Dispatch(context.Background(), trigger.ManualDispatch("checks", "", ""))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Number)
	assert.Equal(t, "refs/heads/main", second.Ref)
}

func TestPrepare_Errors(t *testing.T) {
	d := New(context.Background(), Options{Workflows: newRegistry(t, testWorkflow, scheduledOnly)})

	_, err := d.Prepare(context.Background(), trigger.ManualDispatch("missing", "", ""))
	assert.ErrorIs(t, err, models.ErrWorkflowNotFound)

	_, err = d.Prepare(context.Background(), trigger.ManualDispatch("scheduled", "", ""))
	assert.ErrorIs(t, err, models.ErrDispatchNotAllowed)

	p, err := d.Prepare(context.Background(), trigger.Trigger{Workflow: "scheduled", Event: models.EventSchedule})
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", p.Run.Ref)
	assert.NotEmpty(t, p.Run.RunID)

	_, err = d.Prepare(context.Background(), trigger.Trigger{Workflow: "checks", Event: "push"})
	assert.Error(t, err)
}

func TestSubmit_NewerRunCancelsRunningOne(t *testing.T) {
	const blocking = `
name: slow
on: workflow_dispatch
concurrency:
  group: slow
  cancel-in-progress: true
jobs:
  check:
    steps:
      - run: block ${{ github.run_number }}
`
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	runner := &blockingRunner{started: make(chan string, 4)}
	d := New(ctx, Options{
		Workflows: newRegistry(t, blocking),
		History:   store,
		Runner:    runner,
	})
	t.Cleanup(func() {
		cancel()
		d.Wait()
	})

	first, err := d.Submit(trigger.ManualDispatch("slow", "", ""))
	require.NoError(t, err)
	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not start")
	}

	second, err := d.Submit(trigger.ManualDispatch("slow", "", ""))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	select {
	case script := <-runner.started:
		assert.Equal(t, "block 2", script)
	case <-time.After(5 * time.Second):
		t.Fatal("second run did not start")
	}

	got, err := store.Get(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCancelled, got.Conclusion)
}

func TestSubmit_Rejected(t *testing.T) {
	d := New(context.Background(), Options{Workflows: newRegistry(t, scheduledOnly)})
	_, err := d.Submit(trigger.ManualDispatch("scheduled", "", ""))
	assert.ErrorIs(t, err, models.ErrDispatchNotAllowed)
}

func TestSubmit_BaseContextCancelsRuns(t *testing.T) {
	const blocking = `
name: slow
on: workflow_dispatch
jobs:
  check:
    steps:
      - run: block
`
	ctx, cancel := context.WithCancel(context.Background())
	runner := &blockingRunner{started: make(chan string, 1)}
	d := New(ctx, Options{Workflows: newRegistry(t, blocking), Runner: runner})

	_, err := d.Submit(trigger.ManualDispatch("slow", "", ""))
	require.NoError(t, err)
	<-runner.started

	cancel()
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("submitted run did not stop")
	}
}
