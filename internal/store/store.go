// Package store implements ExecutionStore, the durable record of
// AgentRuns, ToolInvocations, Schedules and Projects.
package store

import (
	"context"
	"time"

	"github.com/orchestra-run/orchestra/internal/models"
)

// ExecutionStore is the durable persistence boundary for the runtime.
// All writes are short transactions; the descendant query reads a
// consistent snapshot.
type ExecutionStore interface {
	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, projectName string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	DeleteProject(ctx context.Context, projectName string) error

	// AgentRuns
	CreateRun(ctx context.Context, run *models.AgentRun) error
	UpdateRun(ctx context.Context, run *models.AgentRun) error
	GetRun(ctx context.Context, runID string) (*models.AgentRun, error)
	ListRunsByProject(ctx context.Context, projectDir string, onlyIncomplete bool) ([]*models.AgentRun, error)
	// Descendants returns every AgentRun transitively parented by rootRunID,
	// not including rootRunID itself.
	Descendants(ctx context.Context, rootRunID string) ([]*models.AgentRun, error)

	// ToolInvocations
	CreateToolInvocation(ctx context.Context, inv *models.ToolInvocation) error
	UpdateToolInvocation(ctx context.Context, inv *models.ToolInvocation) error
	ListToolInvocations(ctx context.Context, runID string) ([]*models.ToolInvocation, error)

	// Schedules
	CreateSchedule(ctx context.Context, s *models.Schedule) error
	UpdateSchedule(ctx context.Context, s *models.Schedule) error
	GetSchedule(ctx context.Context, scheduleID string) (*models.Schedule, error)
	ListSchedules(ctx context.Context) ([]*models.Schedule, error)
	DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error)
	DeleteSchedule(ctx context.Context, scheduleID string) error

	Close() error
}
