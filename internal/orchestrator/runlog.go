package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orchestra-run/orchestra/internal/models"
)

// logInteraction is one entry of the run's interactions array. Besides
// committed conversation Messages, a transient in-progress assistant
// message is appended during streaming with Streaming:true, per spec.md
// §4.1 / §9 — the log file stays valid JSON at every flush, with the
// streaming entry replaced once the final message arrives.
type logInteraction struct {
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Streaming bool        `json:"streaming,omitempty"`
}

// runLog is the JSON document persisted at one path per AgentRun,
// rewritten on every mutation (spec.md §4.1).
type runLog struct {
	mu sync.Mutex

	path string

	RunID                  string            `json:"runId"`
	AgentName              string            `json:"agentName"`
	ParentRunID            *string           `json:"parentRunId,omitempty"`
	ParentAgentName        string            `json:"parentAgentName"`
	StartedAt              time.Time         `json:"startedAt"`
	CompletedAt            *time.Time        `json:"completedAt,omitempty"`
	FinalResponse          string            `json:"finalResponse"`
	TotalIterations        int               `json:"totalIterations"`
	SessionEndedExplicitly bool              `json:"sessionEndedExplicitly"`
	Model                  string            `json:"model"`
	Interactions           []logInteraction  `json:"interactions"`
}

func newRunLog(path string, run *models.AgentRun, model string) *runLog {
	return &runLog{
		path:            path,
		RunID:           run.RunID,
		AgentName:       run.AgentName,
		ParentRunID:     run.ParentRunID,
		ParentAgentName: run.ParentAgentName,
		StartedAt:       run.StartedAt,
		Model:           model,
	}
}

// setInteractions replaces the committed interaction list wholesale,
// dropping any in-progress streaming entry.
func (l *runLog) setInteractions(messages []models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Interactions = make([]logInteraction, 0, len(messages))
	for _, m := range messages {
		l.Interactions = append(l.Interactions, logInteraction{
			Role: m.Role, Content: m.Content, Timestamp: m.Timestamp,
		})
	}
}

// setStreaming appends (or replaces) a trailing streaming:true entry
// showing the assistant message accumulated so far.
func (l *runLog) setStreaming(partial string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := logInteraction{Role: models.RoleAssistant, Content: partial, Timestamp: time.Now(), Streaming: true}
	if n := len(l.Interactions); n > 0 && l.Interactions[n-1].Streaming {
		l.Interactions[n-1] = entry
	} else {
		l.Interactions = append(l.Interactions, entry)
	}
}

// clearStreaming drops a trailing streaming entry when generation ends;
// the real assistant message is committed afterwards via setInteractions.
func (l *runLog) clearStreaming() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.Interactions); n > 0 && l.Interactions[n-1].Streaming {
		l.Interactions = l.Interactions[:n-1]
	}
}

func (l *runLog) setIterations(n int) {
	l.mu.Lock()
	l.TotalIterations = n
	l.mu.Unlock()
}

func (l *runLog) finish(finalResponse string, explicit bool) {
	l.mu.Lock()
	now := time.Now()
	l.CompletedAt = &now
	l.FinalResponse = finalResponse
	l.SessionEndedExplicitly = explicit
	l.mu.Unlock()
}

// flush writes the current log state to path atomically (temp file then
// rename), so a concurrent reader never observes a half-written file.
func (l *runLog) flush() error {
	l.mu.Lock()
	data, err := json.MarshalIndent(l, "", "  ")
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal run log: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename log: %w", err)
	}
	return nil
}

// MarshalJSON excludes the mutex and path from the persisted document.
func (l *runLog) MarshalJSON() ([]byte, error) {
	type alias runLog
	return json.Marshal((*alias)(l))
}
