package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orchestra-run/orchestra/internal/models"
)

// MemoryStore is an in-memory ExecutionStore for tests.
type MemoryStore struct {
	mu        sync.RWMutex
	projects  map[string]*models.Project
	runs      map[string]*models.AgentRun
	runOrder  []string
	invs      map[string]*models.ToolInvocation
	invOrder  []string
	schedules map[string]*models.Schedule
}

// NewMemoryStore returns a ready-to-use in-memory ExecutionStore seeded
// with the default project.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		projects:  make(map[string]*models.Project),
		runs:      make(map[string]*models.AgentRun),
		invs:      make(map[string]*models.ToolInvocation),
		schedules: make(map[string]*models.Schedule),
	}
	s.projects[models.DefaultProjectName] = &models.Project{
		ProjectName: models.DefaultProjectName,
		ProjectDir:  models.DefaultProjectName,
		CreatedAt:   time.Now(),
	}
	return s
}

func (s *MemoryStore) Close() error { return nil }

func cloneRun(r *models.AgentRun) *models.AgentRun {
	if r == nil {
		return nil
	}
	c := *r
	if r.ParentRunID != nil {
		v := *r.ParentRunID
		c.ParentRunID = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

func cloneInv(i *models.ToolInvocation) *models.ToolInvocation {
	if i == nil {
		return nil
	}
	c := *i
	if i.CompletedAt != nil {
		v := *i.CompletedAt
		c.CompletedAt = &v
	}
	if i.Result != nil {
		v := *i.Result
		c.Result = &v
	}
	return &c
}

func cloneSchedule(s *models.Schedule) *models.Schedule {
	if s == nil {
		return nil
	}
	c := *s
	if s.StartFrom != nil {
		v := *s.StartFrom
		c.StartFrom = &v
	}
	if s.LastRunAt != nil {
		v := *s.LastRunAt
		c.LastRunAt = &v
	}
	return &c
}

func (s *MemoryStore) CreateProject(ctx context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ProjectName]; exists {
		return fmt.Errorf("project %q already exists", p.ProjectName)
	}
	cp := *p
	s.projects[p.ProjectName] = &cp
	return nil
}

func (s *MemoryStore) GetProject(ctx context.Context, projectName string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectName]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Project
	for _, p := range s.projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteProject(ctx context.Context, projectName string) error {
	if projectName == models.DefaultProjectName {
		return fmt.Errorf("the default project cannot be deleted")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectName)
	return nil
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *models.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.RunID]; !exists {
		s.runOrder = append(s.runOrder, run.RunID)
	}
	s.runs[run.RunID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, run *models.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.RunID]; !exists {
		return fmt.Errorf("run %q not found", run.RunID)
	}
	s.runs[run.RunID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*models.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRun(s.runs[runID]), nil
}

func (s *MemoryStore) ListRunsByProject(ctx context.Context, projectDir string, onlyIncomplete bool) ([]*models.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AgentRun
	for _, id := range s.runOrder {
		r := s.runs[id]
		if projectDir != "" && r.ProjectDir != projectDir {
			continue
		}
		if onlyIncomplete && r.CompletedAt != nil {
			continue
		}
		out = append(out, cloneRun(r))
	}
	return out, nil
}

func (s *MemoryStore) Descendants(ctx context.Context, rootRunID string) ([]*models.AgentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	childrenOf := make(map[string][]*models.AgentRun)
	for _, id := range s.runOrder {
		r := s.runs[id]
		if r.ParentRunID != nil {
			childrenOf[*r.ParentRunID] = append(childrenOf[*r.ParentRunID], r)
		}
	}

	var result []*models.AgentRun
	frontier := []string{rootRunID}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, child := range childrenOf[next] {
			result = append(result, cloneRun(child))
			frontier = append(frontier, child.RunID)
		}
	}
	return result, nil
}

func (s *MemoryStore) CreateToolInvocation(ctx context.Context, inv *models.ToolInvocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invs[inv.InvocationID]; !exists {
		s.invOrder = append(s.invOrder, inv.InvocationID)
	}
	s.invs[inv.InvocationID] = cloneInv(inv)
	return nil
}

func (s *MemoryStore) UpdateToolInvocation(ctx context.Context, inv *models.ToolInvocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invs[inv.InvocationID]; !exists {
		return fmt.Errorf("tool invocation %q not found", inv.InvocationID)
	}
	s.invs[inv.InvocationID] = cloneInv(inv)
	return nil
}

func (s *MemoryStore) ListToolInvocations(ctx context.Context, runID string) ([]*models.ToolInvocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ToolInvocation
	for _, id := range s.invOrder {
		inv := s.invs[id]
		if inv.RunID == runID {
			out = append(out, cloneInv(inv))
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateSchedule(ctx context.Context, sch *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sch.ScheduleID] = cloneSchedule(sch)
	return nil
}

func (s *MemoryStore) UpdateSchedule(ctx context.Context, sch *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[sch.ScheduleID]; !exists {
		return fmt.Errorf("schedule %q not found", sch.ScheduleID)
	}
	s.schedules[sch.ScheduleID] = cloneSchedule(sch)
	return nil
}

func (s *MemoryStore) GetSchedule(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSchedule(s.schedules[scheduleID]), nil
}

func (s *MemoryStore) ListSchedules(ctx context.Context) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Schedule
	for _, sch := range s.schedules {
		out = append(out, cloneSchedule(sch))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Schedule
	for _, sch := range s.schedules {
		if sch.Enabled && !sch.NextRunAt.After(now) {
			out = append(out, cloneSchedule(sch))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out, nil
}

func (s *MemoryStore) DeleteSchedule(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, scheduleID)
	return nil
}
