// Package models defines the durable and in-memory data types shared by
// every component of the orchestration runtime.
package models

import "time"

// RunState is the lifecycle state of an AgentRun.
type RunState string

const (
	RunStateGenerating    RunState = "generating"
	RunStateWaiting       RunState = "waiting"
	RunStateExecutingTool RunState = "executing_tool"
	RunStateCompleted     RunState = "completed"
)

// CallMode records how a tool or agent invocation was requested. It is
// purely observational: the Orchestrator never branches on its value.
type CallMode string

const (
	CallModeSynchronous  CallMode = "synchronous"
	CallModeAsynchronous CallMode = "asynchronous"
)

// ScheduleKind is the unit a Schedule's Interval is measured in.
type ScheduleKind string

const (
	ScheduleKindMinutes ScheduleKind = "minutes"
	ScheduleKindHours   ScheduleKind = "hours"
	ScheduleKindWeeks   ScheduleKind = "weeks"
)

// RootParentAgentName is used for an AgentRun with no parent.
const RootParentAgentName = "root"

// AgentConfig is the immutable, on-disk definition of an agent.
type AgentConfig struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	SystemPrompt      string   `json:"systemPrompt"`
	AllowedCallables  []string `json:"allowedCallables"`
	ProjectDir        string   `json:"projectDir"`
}

// AgentRun is a durable record of one execution of an agent.
type AgentRun struct {
	RunID            string     `json:"runId"`
	AgentName        string     `json:"agentName"`
	ParentRunID      *string    `json:"parentRunId,omitempty"`
	ParentAgentName  string     `json:"parentAgentName"`
	StartedAt        time.Time  `json:"startedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	CurrentState     RunState   `json:"currentState"`
	CallMode         CallMode   `json:"callMode"`
	ProjectDir       string     `json:"projectDir"`
	LogFile          string     `json:"logFile,omitempty"`
}

// ToolInvocation is a durable record of one tool or agent call made by a run.
type ToolInvocation struct {
	InvocationID string     `json:"invocationId"`
	RunID        string     `json:"runId"`
	ToolName     string     `json:"toolName"`
	Parameters   string     `json:"parameters"` // raw JSON object
	CallMode     CallMode   `json:"callMode"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Result       *string    `json:"result,omitempty"`
}

// Role is the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of in-memory conversation history. Messages are not
// stored in the ExecutionStore; they are written to the per-run JSON log
// file, which nothing reads back.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingTask is an outstanding asynchronous tool or agent invocation
// tracked by a TaskManager.
type PendingTask struct {
	TaskID     string    `json:"taskId"`
	ToolName   string    `json:"toolName"`
	Parameters string    `json:"parameters"`
	LaunchedAt time.Time `json:"launchedAt"`
}

// Schedule is a durable, recurring instruction to run an agent.
type Schedule struct {
	ScheduleID string       `json:"scheduleId"`
	Name       string       `json:"name"`
	ProjectDir string       `json:"projectDir"`
	AgentName  string       `json:"agentName"`
	Message    string       `json:"message"`
	Kind       ScheduleKind `json:"kind"`
	Interval   int          `json:"interval"`
	StartFrom  *time.Time   `json:"startFrom,omitempty"`
	Enabled    bool         `json:"enabled"`
	LastRunAt  *time.Time   `json:"lastRunAt,omitempty"`
	NextRunAt  time.Time    `json:"nextRunAt"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Project is a named workspace with its own directory of agents/tools/prompts.
type Project struct {
	ProjectName string    `json:"projectName"`
	ProjectDir  string    `json:"projectDir"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DefaultProjectName is the always-present, un-deletable default project.
const DefaultProjectName = "default"

// Unit returns the duration represented by one unit of the given kind.
func (k ScheduleKind) Unit() time.Duration {
	switch k {
	case ScheduleKindMinutes:
		return time.Minute
	case ScheduleKindHours:
		return time.Hour
	case ScheduleKindWeeks:
		return 7 * 24 * time.Hour
	default:
		return time.Minute
	}
}
