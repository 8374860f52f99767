// Package scheduler implements ScheduleRunner, the background loop that
// fires due Schedules into the RunManager at a fixed period. Grounded
// on the teacher's internal/cron.Scheduler (ticker-driven runDue loop,
// started/wg lifecycle, per-job error isolation) generalized to
// spec.md §4.5's nextRunAt arithmetic over ExecutionStore-persisted
// Schedule rows instead of in-memory cron.Job configs.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra-run/orchestra/internal/models"
	"github.com/orchestra-run/orchestra/internal/store"
)

// CheckInterval is the fixed tick period spec.md §4.5 specifies ("~30s"),
// grounded on the original's SchedulerService._check_interval.
const CheckInterval = 30 * time.Second

// Trigger launches an AgentRun for a due schedule the same way an
// interactive invocation would, returning once the run has started (not
// necessarily completed) or an error if it could not be launched.
type Trigger func(ctx context.Context, s *models.Schedule) error

// Runner is the ScheduleRunner.
type Runner struct {
	store   store.ExecutionStore
	trigger Trigger
	logger  *slog.Logger
	now     func() time.Time
	tick    time.Duration

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// New builds a Runner. now defaults to time.Now; tick defaults to
// CheckInterval.
func New(st store.ExecutionStore, trigger Trigger, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:   st,
		trigger: trigger,
		logger:  logger.With("component", "scheduler"),
		now:     time.Now,
		tick:    CheckInterval,
	}
}

// Start begins the periodic loop; it returns immediately and the loop
// runs until ctx is cancelled. Stop does not end the loop by itself.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunDue(ctx)
			}
		}
	}()
}

// Stop waits for the loop goroutine to exit; the caller cancels the
// context passed to Start first.
func (r *Runner) Stop() {
	r.wg.Wait()
}

// RunDue fires every schedule currently due, per spec.md §4.5's tick
// algorithm. Exposed directly for tests and for an immediate "run now".
func (r *Runner) RunDue(ctx context.Context) int {
	now := r.now()
	due, err := r.store.DueSchedules(ctx, now)
	if err != nil {
		r.logger.Warn("failed to list due schedules", "error", err)
		return 0
	}

	for _, s := range due {
		runID := uuid.NewString()
		if err := r.trigger(ctx, s); err != nil {
			r.logger.Warn("scheduled agent launch failed", "scheduleId", s.ScheduleID, "runId", runID, "error", err)
		}
		if err := r.markRun(ctx, s, now); err != nil {
			r.logger.Warn("failed to record schedule run", "scheduleId", s.ScheduleID, "error", err)
		}
	}
	return len(due)
}

// markRun updates lastRunAt/nextRunAt regardless of whether the
// trigger succeeded, so a permanently-failing schedule does not stall
// the queue (spec.md §4.5).
func (r *Runner) markRun(ctx context.Context, s *models.Schedule, now time.Time) error {
	s.LastRunAt = &now
	s.NextRunAt = NextRunAt(s, now)
	s.UpdatedAt = now
	return r.store.UpdateSchedule(ctx, s)
}

// NextRunAt computes a Schedule's nextRunAt per spec.md §4.5:
//   - Δ = interval × unit of kind.
//   - If lastRunAt is set: nextRunAt = lastRunAt + Δ.
//   - Else: anchor = startFrom if set, otherwise createdAt; advance
//     anchor by Δ until anchor ≥ now; that is nextRunAt.
func NextRunAt(s *models.Schedule, now time.Time) time.Time {
	delta := time.Duration(s.Interval) * s.Kind.Unit()
	if delta <= 0 {
		delta = s.Kind.Unit()
	}

	if s.LastRunAt != nil {
		return s.LastRunAt.Add(delta)
	}

	anchor := s.CreatedAt
	if s.StartFrom != nil {
		anchor = *s.StartFrom
	}
	for anchor.Before(now) {
		anchor = anchor.Add(delta)
	}
	return anchor
}
