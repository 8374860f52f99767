package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orchestra-run/orchestra/internal/models"
	"github.com/orchestra-run/orchestra/internal/store"
)

func TestNextRunAtFromLastRunAt(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &models.Schedule{Kind: models.ScheduleKindMinutes, Interval: 5, LastRunAt: &last}
	got := NextRunAt(s, last.Add(3*time.Minute))
	want := last.Add(5 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", got, want)
	}
}

func TestNextRunAtAdvancesFromAnchorUntilNow(t *testing.T) {
	// Mirrors spec.md's worked example: interval=5min, no lastRunAt, createdAt=T0,
	// evaluated at T0+12min -> next run should be T0+15min.
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &models.Schedule{Kind: models.ScheduleKindMinutes, Interval: 5, CreatedAt: t0}
	now := t0.Add(12 * time.Minute)
	got := NextRunAt(s, now)
	want := t0.Add(15 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", got, want)
	}
}

func TestNextRunAtPrefersStartFromOverCreatedAt(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	startFrom := t0.Add(time.Hour)
	s := &models.Schedule{Kind: models.ScheduleKindMinutes, Interval: 10, CreatedAt: t0, StartFrom: &startFrom}
	got := NextRunAt(s, t0)
	if !got.Equal(startFrom) {
		t.Errorf("NextRunAt = %v, want %v", got, startFrom)
	}
}

func TestRunDueFiresEachDueScheduleAndUpdatesNextRunAt(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	due := &models.Schedule{
		ScheduleID: "s1", Enabled: true, Kind: models.ScheduleKindMinutes, Interval: 5,
		NextRunAt: now.Add(-time.Minute), CreatedAt: now, UpdatedAt: now,
	}
	if err := st.CreateSchedule(ctx, due); err != nil {
		t.Fatal(err)
	}

	var fired int32
	r := New(st, func(ctx context.Context, s *models.Schedule) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}, nil)

	n := r.RunDue(ctx)
	if n != 1 {
		t.Fatalf("expected 1 due schedule, got %d", n)
	}
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected trigger to fire once, got %d", fired)
	}

	updated, err := st.GetSchedule(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if updated.LastRunAt == nil {
		t.Fatal("expected lastRunAt to be set")
	}
	if !updated.NextRunAt.After(now) {
		t.Errorf("expected nextRunAt to advance past now, got %v", updated.NextRunAt)
	}
}

func TestRunDueMarksRunEvenWhenTriggerFails(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	due := &models.Schedule{
		ScheduleID: "s1", Enabled: true, Kind: models.ScheduleKindMinutes, Interval: 5,
		NextRunAt: now.Add(-time.Minute), CreatedAt: now, UpdatedAt: now,
	}
	if err := st.CreateSchedule(ctx, due); err != nil {
		t.Fatal(err)
	}

	failing := func(ctx context.Context, s *models.Schedule) error {
		return context.DeadlineExceeded
	}
	r := New(st, failing, nil)
	r.RunDue(ctx)

	updated, err := st.GetSchedule(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if updated.LastRunAt == nil {
		t.Fatal("expected lastRunAt to be recorded even though trigger failed")
	}
}
