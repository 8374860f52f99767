package tasks

import (
	"context"
	"testing"
	"time"
)

func TestNextTaskIDIncrements(t *testing.T) {
	m := New()
	if got := m.NextTaskID("search"); got != "search_1" {
		t.Errorf("first id = %q", got)
	}
	if got := m.NextTaskID("search"); got != "search_2" {
		t.Errorf("second id = %q", got)
	}
}

func TestLaunchAndWaitForResult(t *testing.T) {
	m := New()
	taskID := m.NextTaskID("fetch")
	m.Launch(context.Background(), taskID, "fetch", []byte(`{}`), func(ctx context.Context, name string, params []byte) string {
		return "ok"
	})

	result, ok := m.WaitForResult(context.Background())
	if !ok {
		t.Fatal("expected a result")
	}
	if result.TaskID != taskID || result.Result != "ok" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestOutstandingCountsUntilMarkedProcessed(t *testing.T) {
	m := New()
	taskID := m.NextTaskID("fetch")
	done := make(chan struct{})
	m.Launch(context.Background(), taskID, "fetch", nil, func(ctx context.Context, name string, params []byte) string {
		<-done
		return "finished"
	})

	if got := m.Outstanding(); got != 1 {
		t.Fatalf("expected 1 outstanding before completion, got %d", got)
	}

	close(done)
	result, ok := m.WaitForResult(context.Background())
	if !ok {
		t.Fatal("expected a result")
	}

	// Still outstanding: removed from pending but not yet processed.
	if got := m.Outstanding(); got != 1 {
		t.Fatalf("expected still 1 outstanding after dequeue but before MarkProcessed, got %d", got)
	}

	m.MarkProcessed()
	if got := m.Outstanding(); got != 0 {
		t.Fatalf("expected 0 outstanding after MarkProcessed, got %d", got)
	}
	_ = result
}

func TestPanicRecoveredAsResult(t *testing.T) {
	m := New()
	taskID := m.NextTaskID("bad")
	m.Launch(context.Background(), taskID, "bad", nil, func(ctx context.Context, name string, params []byte) string {
		panic("boom")
	})

	result, ok := m.WaitForResult(context.Background())
	if !ok {
		t.Fatal("expected a result")
	}
	if result.Result == "" {
		t.Fatal("expected a non-empty error result from the recovered panic")
	}
}

func TestWaitForResultHonorsCancellation(t *testing.T) {
	m := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := m.WaitForResult(ctx)
	if ok {
		t.Fatal("expected WaitForResult to report not-ok on cancellation with nothing queued")
	}
}

func TestDrainRemainingCancelsPendingAndDrainsQueue(t *testing.T) {
	m := New()

	blocked := m.NextTaskID("slow")
	started := make(chan struct{})
	m.Launch(context.Background(), blocked, "slow", nil, func(ctx context.Context, name string, params []byte) string {
		close(started)
		<-ctx.Done()
		return "cancelled"
	})
	<-started

	finished := m.NextTaskID("fast")
	m.Launch(context.Background(), finished, "fast", nil, func(ctx context.Context, name string, params []byte) string {
		return "done"
	})
	time.Sleep(10 * time.Millisecond)

	drained := m.DrainRemaining()
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained task ids, got %v", drained)
	}
	if got, _ := m.Counts(); got != 2 {
		t.Fatalf("expected launched=2, got %d", got)
	}
	if _, processed := m.Counts(); processed != 2 {
		t.Fatalf("expected processed=2 after drain, got %d", processed)
	}
}
