// Package tasks implements TaskManager, the per-AgentRun tracker of
// outstanding asynchronous tool invocations. Grounded on the teacher's
// internal/tools/subagent.Manager (atomic active-count, map-of-handles
// guarded by a mutex, background goroutine per unit of work) generalized
// to the launched/processed/outstanding accounting spec.md §4.2 requires.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxConcurrentTasks bounds how many asynchronous tool invocations one
// AgentRun may have executing at once, generalizing the teacher's
// hand-rolled infra.Semaphore (internal/infra/semaphore.go) worker-pool
// bound into the ecosystem's weighted semaphore.
const maxConcurrentTasks = 16

// Result is one completed task's outcome, as delivered by completedQueue.
type Result struct {
	TaskID string
	Result string
}

// handle tracks one launched, still-possibly-running task.
type handle struct {
	taskID string
	cancel context.CancelFunc
	done   chan struct{}
}

// ExecuteFunc performs the actual tool or agent work for a launched task.
// Its return value (even on error) becomes the task's textual result —
// TaskManager never resurfaces a Go error, per spec.md §4.2's "the
// failure message, not the stack, becomes the result."
type ExecuteFunc func(ctx context.Context, toolName string, params []byte) string

// Manager is a TaskManager: it launches asynchronous tool invocations,
// queues their results, and keeps exact launched/processed counters even
// under failure or cancellation.
type Manager struct {
	mu             sync.Mutex
	pending        map[string]*handle
	completedQueue []Result
	queueCond      *sync.Cond

	launched  int64
	processed int64

	counter int64
	sem     *semaphore.Weighted
}

// New returns an empty Manager.
func New() *Manager {
	m := &Manager{pending: make(map[string]*handle), sem: semaphore.NewWeighted(maxConcurrentTasks)}
	m.queueCond = sync.NewCond(&m.mu)
	return m
}

// NextTaskID allocates the next "<toolName>_<n>" task id, counter
// starting at 1 per spec.md §3.
func (m *Manager) NextTaskID(toolName string) string {
	n := atomic.AddInt64(&m.counter, 1)
	return fmt.Sprintf("%s_%d", toolName, n)
}

// Launch spawns execFn in its own goroutine under a context derived from
// parent, recording taskId as pending until the result (or panic
// recovery message) is pushed to completedQueue.
func (m *Manager) Launch(parent context.Context, taskID, toolName string, params []byte, execFn ExecuteFunc) {
	ctx, cancel := context.WithCancel(parent)
	h := &handle{taskID: taskID, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.pending[taskID] = h
	m.launched++
	m.mu.Unlock()

	go m.run(ctx, h, toolName, params, execFn)
}

func (m *Manager) run(ctx context.Context, h *handle, toolName string, params []byte, execFn ExecuteFunc) {
	var result string
	if err := m.sem.Acquire(ctx, 1); err != nil {
		result = fmt.Sprintf("Error executing tool '%s': %v", toolName, err)
	} else {
		result = m.execWithRecover(ctx, toolName, params, execFn)
		m.sem.Release(1)
	}

	m.mu.Lock()
	delete(m.pending, h.taskID)
	m.completedQueue = append(m.completedQueue, Result{TaskID: h.taskID, Result: result})
	m.mu.Unlock()
	m.queueCond.Broadcast()

	close(h.done)
}

func (m *Manager) execWithRecover(ctx context.Context, toolName string, params []byte, execFn ExecuteFunc) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = fmt.Sprintf("Error executing tool '%s': %v", toolName, r)
		}
	}()
	return execFn(ctx, toolName, params)
}

// WaitForResult blocks until a result is available in completedQueue and
// returns it, or returns ok=false if ctx is cancelled first.
func (m *Manager) WaitForResult(ctx context.Context) (Result, bool) {
	resultCh := make(chan Result, 1)
	stop := make(chan struct{})
	go func() {
		m.mu.Lock()
		for len(m.completedQueue) == 0 {
			select {
			case <-stop:
				m.mu.Unlock()
				return
			default:
			}
			m.queueCond.Wait()
		}
		r := m.completedQueue[0]
		m.completedQueue = m.completedQueue[1:]
		m.mu.Unlock()
		resultCh <- r
	}()

	select {
	case <-ctx.Done():
		close(stop)
		m.queueCond.Broadcast()
		return Result{}, false
	case r := <-resultCh:
		return r, true
	}
}

// MarkProcessed increments the processed counter. Called after the
// Orchestrator appends a task's result to the conversation.
func (m *Manager) MarkProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
}

// Outstanding returns launched-processed, the authoritative check before
// honoring end_session (spec.md §4.2: a task removed from pending but
// not yet drained from completedQueue is still outstanding).
func (m *Manager) Outstanding() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launched - m.processed
}

// Counts returns the launched/processed counters for logging.
func (m *Manager) Counts() (launched, processed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launched, m.processed
}

// PendingIDs returns the taskId of every task still pending, for
// the "do not duplicate" reminder composed at the head of each
// iteration.
func (m *Manager) PendingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	return ids
}

// DrainRemaining awaits every still-pending handle, then consumes every
// element still in completedQueue, incrementing processed for each.
// Returns the task IDs that were drained unprocessed, which the caller
// should log as a warning.
func (m *Manager) DrainRemaining() []string {
	m.mu.Lock()
	pendingHandles := make([]*handle, 0, len(m.pending))
	for _, h := range m.pending {
		pendingHandles = append(pendingHandles, h)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, h := range pendingHandles {
		h := h
		g.Go(func() error {
			h.cancel()
			<-h.done
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	drained := make([]string, 0, len(m.completedQueue))
	for _, r := range m.completedQueue {
		drained = append(drained, r.TaskID)
		m.processed++
	}
	m.completedQueue = nil
	return drained
}

// CancelAll cancels every pending task's context without waiting for
// completion. Per-run cancellation does not call it: each task's context
// derives from the run context passed to Launch.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.pending {
		h.cancel()
	}
}
