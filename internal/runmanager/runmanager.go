// Package runmanager implements RunManager, the process-wide registry of
// active AgentRuns used for global and subtree cancellation. Grounded on
// the teacher's internal/tools/subagent.Manager (map-of-handles guarded
// by a mutex) generalized to the cancellation-handle-per-run model
// spec.md §4.4 and §9 call for ("each AgentRun its own cancellation
// handle derived from a parent handle").
package runmanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orchestra-run/orchestra/internal/models"
	"github.com/orchestra-run/orchestra/internal/store"
)

// Handle is the cancellation capability for one registered AgentRun.
type Handle struct {
	RunID  string
	Cancel context.CancelFunc
}

// Manager is the process-wide RunManager.
type Manager struct {
	mu      sync.Mutex
	handles map[string]*Handle
	store   store.ExecutionStore
	logger  *slog.Logger
}

// New builds a Manager backed by st for the AgentRun rows it mutates on
// stop.
func New(st store.ExecutionStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		handles: make(map[string]*Handle),
		store:   st,
		logger:  logger.With("component", "runmanager"),
	}
}

// Register derives a cancellable context from parent (or context.Background
// if parent is nil) and tracks it under runID.
func (m *Manager) Register(parent context.Context, runID string) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	m.mu.Lock()
	m.handles[runID] = &Handle{RunID: runID, Cancel: cancel}
	m.mu.Unlock()

	return ctx, func() {
		cancel()
		m.Deregister(runID)
	}
}

// Deregister removes a run's handle once it has finished, without
// cancelling it.
func (m *Manager) Deregister(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, runID)
}

// StopAll cancels every registered handle and marks every AgentRun with
// completedAt=null in projectDir (or every project, if projectDir is
// empty) as completed. Idempotent: a second call finds no incomplete
// runs left to mark and no handles left to cancel.
func (m *Manager) StopAll(ctx context.Context, projectDir string) error {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}

	runs, err := m.store.ListRunsByProject(ctx, projectDir, true)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, r := range runs {
		if projectDir != "" && r.ProjectDir != projectDir {
			continue
		}
		r := r
		g.Go(func() error {
			if err := m.completeRun(ctx, r); err != nil {
				m.logger.Warn("failed to mark run completed during stopAll", "runId", r.RunID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopTree computes the transitive descendants of rootRunID (inclusive),
// cancels their handles, and marks them completed. Descendant
// enumeration has no cycles: a child's parent always predates it.
func (m *Manager) StopTree(ctx context.Context, rootRunID string) error {
	root, err := m.store.GetRun(ctx, rootRunID)
	if err != nil {
		return err
	}

	descendants, err := m.store.Descendants(ctx, rootRunID)
	if err != nil {
		return err
	}

	toStop := append([]*models.AgentRun{root}, descendants...)

	m.mu.Lock()
	for _, r := range toStop {
		if h, ok := m.handles[r.RunID]; ok {
			h.Cancel()
		}
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, r := range toStop {
		if r.CompletedAt != nil {
			continue
		}
		r := r
		g.Go(func() error {
			if err := m.completeRun(ctx, r); err != nil {
				m.logger.Warn("failed to mark run completed during stopTree", "runId", r.RunID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) completeRun(ctx context.Context, r *models.AgentRun) error {
	now := time.Now()
	r.CompletedAt = &now
	r.CurrentState = models.RunStateCompleted
	return m.store.UpdateRun(ctx, r)
}
