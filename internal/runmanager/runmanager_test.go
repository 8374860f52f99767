package runmanager

import (
	"context"
	"testing"
	"time"

	"github.com/orchestra-run/orchestra/internal/models"
	"github.com/orchestra-run/orchestra/internal/store"
)

func TestRegisterCancelPropagatesToContext(t *testing.T) {
	m := New(store.NewMemoryStore(), nil)
	ctx, cancel := m.Register(context.Background(), "run1")
	defer cancel()

	select {
	case <-ctx.Done():
		t.Fatal("context should not be cancelled yet")
	default:
	}

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected context to be cancelled")
	}
}

func TestStopAllMarksIncompleteRunsCompleted(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	run := &models.AgentRun{RunID: "r1", AgentName: "a", ParentAgentName: models.RootParentAgentName, StartedAt: time.Now(), ProjectDir: "default"}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	m := New(st, nil)
	_, cancel := m.Register(ctx, run.RunID)
	defer cancel()

	if err := m.StopAll(ctx, ""); err != nil {
		t.Fatal(err)
	}

	updated, err := st.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.CompletedAt == nil {
		t.Fatal("expected run to be marked completed")
	}
	if updated.CurrentState != models.RunStateCompleted {
		t.Errorf("CurrentState = %q", updated.CurrentState)
	}
}

func TestStopTreeCancelsDescendantsOnly(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	root := &models.AgentRun{RunID: "root", AgentName: "a", ParentAgentName: models.RootParentAgentName, StartedAt: time.Now(), ProjectDir: "default"}
	child := &models.AgentRun{RunID: "child", AgentName: "b", ParentRunID: &root.RunID, ParentAgentName: "a", StartedAt: time.Now(), ProjectDir: "default"}
	unrelated := &models.AgentRun{RunID: "unrelated", AgentName: "c", ParentAgentName: models.RootParentAgentName, StartedAt: time.Now(), ProjectDir: "default"}
	for _, r := range []*models.AgentRun{root, child, unrelated} {
		if err := st.CreateRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	m := New(st, nil)
	var unrelatedCancelled bool
	_, cancelUnrelated := m.Register(ctx, "unrelated")
	_ = cancelUnrelated
	m.Register(ctx, "root")
	m.Register(ctx, "child")

	if err := m.StopTree(ctx, "root"); err != nil {
		t.Fatal(err)
	}

	rootRun, _ := st.GetRun(ctx, "root")
	childRun, _ := st.GetRun(ctx, "child")
	unrelatedRun, _ := st.GetRun(ctx, "unrelated")

	if rootRun.CompletedAt == nil {
		t.Error("expected root to be completed")
	}
	if childRun.CompletedAt == nil {
		t.Error("expected child to be completed")
	}
	if unrelatedRun.CompletedAt != nil {
		unrelatedCancelled = true
	}
	if unrelatedCancelled {
		t.Error("unrelated run should not be touched by StopTree")
	}
}
