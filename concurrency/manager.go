// Package concurrency serializes runs that share a concurrency group.
//
// At most one run of a group executes at a time and at most one waits. A new
// run replaces the waiting one; with cancel-in-progress it also cancels the
// running one.
package concurrency

import (
	"context"
	"sync"

	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/models"
)

// Manager tracks the holder and the pending run of every group
type Manager struct {
	mu     sync.Mutex
	groups map[string]*group
}

type group struct {
	holder  *Lease
	pending *waiter
}

type waiter struct {
	superseded chan struct{}
}

// Lease is the right to run inside a group. Its context is cancelled when a
// newer run with cancel-in-progress arrives.
type Lease struct {
	Key     string
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	manager *Manager
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{groups: map[string]*group{}}
}

// Context is the context the run must execute under
func (l *Lease) Context() context.Context {
	return l.ctx
}

// Release frees the group. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.manager.release(l)
	})
}

// Acquire blocks until the caller holds key. It fails with
// models.ErrRunSuperseded when a newer run replaces the caller while it waits.
func (m *Manager) Acquire(ctx context.Context, key string, cancelInProgress bool) (*Lease, error) {
	var w *waiter
	for {
		m.mu.Lock()
		g, ok := m.groups[key]
		if !ok {
			g = &group{}
			m.groups[key] = g
		}

		if g.pending != nil && g.pending != w {
			// the newest run always wins the pending slot
			close(g.pending.superseded)
			g.pending = nil
		}

		if g.holder == nil {
			g.pending = nil
			lease := m.newLease(ctx, key)
			g.holder = lease
			m.mu.Unlock()
			return lease, nil
		}

		if w == nil {
			w = &waiter{superseded: make(chan struct{})}
			if cancelInProgress {
				logger.Info("cancelling in-progress run", "group", key)
				g.holder.cancel()
			}
		}
		g.pending = w
		holder := g.holder
		m.mu.Unlock()

		select {
		case <-holder.done:
		case <-w.superseded:
			return nil, models.ErrRunSuperseded
		case <-ctx.Done():
			m.mu.Lock()
			if g.pending == w {
				g.pending = nil
			}
			m.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) newLease(ctx context.Context, key string) *Lease {
	runCtx, cancel := context.WithCancel(ctx)
	return &Lease{
		Key:     key,
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		manager: m,
	}
}

func (m *Manager) release(l *Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.cancel()
	close(l.done)

	g, ok := m.groups[l.Key]
	if !ok || g.holder != l {
		return
	}
	g.holder = nil
	if g.pending == nil {
		delete(m.groups, l.Key)
	}
}

// Running reports whether key has a run in progress
func (m *Manager) Running(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[key]
	return ok && g.holder != nil
}
