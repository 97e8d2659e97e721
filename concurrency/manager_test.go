package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simon020286/nightly/models"
)

type acquired struct {
	lease *Lease
	err   error
}

func acquireAsync(m *Manager, ctx context.Context, key string, cancelInProgress bool) <-chan acquired {
	ch := make(chan acquired, 1)
	go func() {
		l, err := m.Acquire(ctx, key, cancelInProgress)
		ch <- acquired{l, err}
	}()
	return ch
}

func waitPending(t *testing.T, m *Manager, key string) {
	t.Helper()
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		g, ok := m.groups[key]
		return ok && g.pending != nil
	}, time.Second, 5*time.Millisecond)
}

func TestManager_AcquireFreeGroup(t *testing.T) {
	m := NewManager()
	lease, err := m.Acquire(context.Background(), "wf-main", false)
	require.NoError(t, err)
	assert.True(t, m.Running("wf-main"))
	assert.NoError(t, lease.Context().Err())

	lease.Release()
	lease.Release()
	assert.False(t, m.Running("wf-main"))
	assert.Error(t, lease.Context().Err())
}

func TestManager_GroupsAreIndependent(t *testing.T) {
	m := NewManager()
	a, err := m.Acquire(context.Background(), "wf-main", false)
	require.NoError(t, err)
	defer a.Release()

	b, err := m.Acquire(context.Background(), "wf-dev", false)
	require.NoError(t, err)
	defer b.Release()
}

func TestManager_WaitsWithoutCancelInProgress(t *testing.T) {
	m := NewManager()
	first, err := m.Acquire(context.Background(), "g", false)
	require.NoError(t, err)

	second := acquireAsync(m, context.Background(), "g", false)
	waitPending(t, m, "g")

	assert.NoError(t, first.Context().Err())
	select {
	case <-second:
		t.Fatal("second run acquired while the first holds the group")
	default:
	}

	first.Release()
	got := <-second
	require.NoError(t, got.err)
	got.lease.Release()
}

func TestManager_CancelInProgress(t *testing.T) {
	m := NewManager()
	first, err := m.Acquire(context.Background(), "g", false)
	require.NoError(t, err)

	second := acquireAsync(m, context.Background(), "g", true)

	select {
	case <-first.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("running lease was not cancelled")
	}

	// the new run starts only once the cancelled one released the group
	first.Release()
	got := <-second
	require.NoError(t, got.err)
	assert.NoError(t, got.lease.Context().Err())
	got.lease.Release()
}

func TestManager_NewerPendingRunReplacesOlder(t *testing.T) {
	m := NewManager()
	first, err := m.Acquire(context.Background(), "g", false)
	require.NoError(t, err)

	older := acquireAsync(m, context.Background(), "g", false)
	waitPending(t, m, "g")
	newer := acquireAsync(m, context.Background(), "g", false)

	got := <-older
	assert.ErrorIs(t, got.err, models.ErrRunSuperseded)

	first.Release()
	got = <-newer
	require.NoError(t, got.err)
	got.lease.Release()
}

func TestManager_AcquireCancelledWhileWaiting(t *testing.T) {
	m := NewManager()
	first, err := m.Acquire(context.Background(), "g", false)
	require.NoError(t, err)
	defer first.Release()

	ctx, cancel := context.WithCancel(context.Background())
	waiting := acquireAsync(m, ctx, "g", false)
	waitPending(t, m, "g")
	cancel()

	got := <-waiting
	assert.ErrorIs(t, got.err, context.Canceled)
}

func TestLockStateDir(t *testing.T) {
	dir := t.TempDir()

	lock, err := LockStateDir(dir)
	require.NoError(t, err)
	assert.FileExists(t, lock.Path())

	_, err = LockStateDir(dir)
	assert.ErrorIs(t, err, models.ErrStateLocked)

	lock.Unlock()

	again, err := LockStateDir(dir)
	require.NoError(t, err)
	again.Unlock()
}
