package store

import (
	"context"
	"testing"
	"time"

	"github.com/orchestra-run/orchestra/internal/models"
)

func TestMemoryStoreDefaultProjectSeeded(t *testing.T) {
	s := NewMemoryStore()
	p, err := s.GetProject(context.Background(), models.DefaultProjectName)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatal("expected default project to be seeded")
	}
}

func TestMemoryStoreDeleteDefaultProjectFails(t *testing.T) {
	s := NewMemoryStore()
	if err := s.DeleteProject(context.Background(), models.DefaultProjectName); err == nil {
		t.Fatal("expected error deleting default project")
	}
}

func TestMemoryStoreDescendants(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	root := &models.AgentRun{RunID: "root", AgentName: "a", ParentAgentName: models.RootParentAgentName, StartedAt: time.Now(), ProjectDir: "default"}
	child1RunID := "child1"
	child1 := &models.AgentRun{RunID: child1RunID, AgentName: "b", ParentRunID: &root.RunID, ParentAgentName: "a", StartedAt: time.Now(), ProjectDir: "default"}
	grandchild := &models.AgentRun{RunID: "grandchild", AgentName: "c", ParentRunID: &child1.RunID, ParentAgentName: "b", StartedAt: time.Now(), ProjectDir: "default"}
	sibling := &models.AgentRun{RunID: "sibling", AgentName: "d", StartedAt: time.Now(), ProjectDir: "default"}

	for _, r := range []*models.AgentRun{root, child1, grandchild, sibling} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	desc, err := s.Descendants(ctx, "root")
	if err != nil {
		t.Fatal(err)
	}
	if len(desc) != 2 {
		t.Fatalf("expected 2 descendants, got %d", len(desc))
	}
	ids := map[string]bool{}
	for _, d := range desc {
		ids[d.RunID] = true
	}
	if !ids["child1"] || !ids["grandchild"] {
		t.Errorf("missing expected descendants: %v", ids)
	}
	if ids["sibling"] {
		t.Error("sibling should not be a descendant")
	}
}

func TestMemoryStoreDueSchedules(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	due := &models.Schedule{ScheduleID: "s1", Enabled: true, NextRunAt: now.Add(-time.Minute), CreatedAt: now, UpdatedAt: now}
	notDue := &models.Schedule{ScheduleID: "s2", Enabled: true, NextRunAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now}
	disabled := &models.Schedule{ScheduleID: "s3", Enabled: false, NextRunAt: now.Add(-time.Minute), CreatedAt: now, UpdatedAt: now}

	for _, sch := range []*models.Schedule{due, notDue, disabled} {
		if err := s.CreateSchedule(ctx, sch); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.DueSchedules(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ScheduleID != "s1" {
		t.Fatalf("expected only s1 due, got %v", results)
	}
}
