package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra-run/orchestra/internal/llm"
	"github.com/orchestra-run/orchestra/internal/models"
	"github.com/orchestra-run/orchestra/internal/store"
	"github.com/orchestra-run/orchestra/internal/tasks"
	"github.com/orchestra-run/orchestra/internal/tools"
)

// scriptReplyClient returns one scripted, already-complete reply per call,
// in order, as a single Chunk{Done: true}.
type scriptReplyClient struct {
	replies []string
	calls   int
}

func (c *scriptReplyClient) Complete(ctx context.Context, model string, history []models.Message) (<-chan llm.Chunk, error) {
	reply := ""
	if c.calls < len(c.replies) {
		reply = c.replies[c.calls]
	}
	c.calls++

	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{Text: reply, Done: true}
	close(ch)
	return ch, nil
}

func newRun(agent string) *models.AgentRun {
	return &models.AgentRun{
		RunID:           uuid.NewString(),
		AgentName:       agent,
		ParentAgentName: models.RootParentAgentName,
		StartedAt:       time.Now(),
		CurrentState:    models.RunStateGenerating,
		CallMode:        models.CallModeSynchronous,
		ProjectDir:      "default",
	}
}

func echoTool() tools.Tool {
	return tools.NewFunctionTool("echo", "echoes back its input", json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
		func(ctx context.Context, params json.RawMessage) (string, error) {
			var p struct {
				Text string `json:"text"`
			}
			_ = json.Unmarshal(params, &p)
			return "echo: " + p.Text, nil
		})
}

func TestRunEndsOnEndSession(t *testing.T) {
	st := store.NewMemoryStore()
	run := newRun("helper")
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	reg := tools.NewRegistry()

	llmClient := &scriptReplyClient{replies: []string{
		"<tool_call><tool_name>end_session</tool_name><parameters>{\"final_message\": \"all done\"}</parameters></tool_call>",
	}}

	o, err := New(Config{
		Agent:        &models.AgentConfig{Name: "helper", SystemPrompt: "You are helpful.", AllowedCallables: []string{"echo"}, ProjectDir: "default"},
		Store:        st,
		Tools:        reg,
		ResolveAgent: func(name string) (*models.AgentConfig, bool) { return nil, false },
		RunChild: func(ctx context.Context, agentName, message, parentRunID, parentAgentName string, callMode models.CallMode) (string, error) {
			return "", nil
		},
		LLM:    llmClient,
		Model:  "test-model",
		Tasks:  tasks.New(),
		LogDir: t.TempDir(),
	}, run)
	if err != nil {
		t.Fatal(err)
	}

	final, err := o.Run(context.Background(), "please help", 5)
	if err != nil {
		t.Fatal(err)
	}
	if final != "all done" {
		t.Errorf("final = %q", final)
	}
	if run.CompletedAt == nil {
		t.Error("expected run to be marked completed")
	}
}

func TestRunExecutesSyncToolThenEndsSession(t *testing.T) {
	st := store.NewMemoryStore()
	run := newRun("helper")
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	reg := tools.NewRegistry()
	reg.Register(echoTool())

	llmClient := &scriptReplyClient{replies: []string{
		"<tool_call><tool_name>echo</tool_name><parameters>{\"text\": \"hi\"}</parameters></tool_call>",
		"<tool_call><tool_name>end_session</tool_name><parameters>{\"final_message\": \"result: echo: hi\"}</parameters></tool_call>",
	}}

	o, err := New(Config{
		Agent:        &models.AgentConfig{Name: "helper", SystemPrompt: "You are helpful.", AllowedCallables: []string{"echo"}, ProjectDir: "default"},
		Store:        st,
		Tools:        reg,
		ResolveAgent: func(name string) (*models.AgentConfig, bool) { return nil, false },
		RunChild: func(ctx context.Context, agentName, message, parentRunID, parentAgentName string, callMode models.CallMode) (string, error) {
			return "", nil
		},
		LLM:    llmClient,
		Model:  "test-model",
		Tasks:  tasks.New(),
		LogDir: t.TempDir(),
	}, run)
	if err != nil {
		t.Fatal(err)
	}

	final, err := o.Run(context.Background(), "echo hi please", 5)
	if err != nil {
		t.Fatal(err)
	}
	if final != "result: echo: hi" {
		t.Errorf("final = %q", final)
	}
	if llmClient.calls != 2 {
		t.Errorf("expected 2 LLM calls, got %d", llmClient.calls)
	}
}

func TestUnauthorizedToolRejectedButRunContinues(t *testing.T) {
	st := store.NewMemoryStore()
	run := newRun("helper")
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	reg := tools.NewRegistry()
	reg.Register(echoTool())

	llmClient := &scriptReplyClient{replies: []string{
		"<tool_call><tool_name>echo</tool_name><parameters>{}</parameters></tool_call>",
		"<tool_call><tool_name>end_session</tool_name><parameters>{\"final_message\": \"done\"}</parameters></tool_call>",
	}}

	o, err := New(Config{
		// Note: "echo" deliberately absent from AllowedCallables.
		Agent:        &models.AgentConfig{Name: "helper", SystemPrompt: "You are helpful.", AllowedCallables: nil, ProjectDir: "default"},
		Store:        st,
		Tools:        reg,
		ResolveAgent: func(name string) (*models.AgentConfig, bool) { return nil, false },
		RunChild: func(ctx context.Context, agentName, message, parentRunID, parentAgentName string, callMode models.CallMode) (string, error) {
			return "", nil
		},
		LLM:    llmClient,
		Model:  "test-model",
		Tasks:  tasks.New(),
		LogDir: t.TempDir(),
	}, run)
	if err != nil {
		t.Fatal(err)
	}

	final, err := o.Run(context.Background(), "echo something", 5)
	if err != nil {
		t.Fatal(err)
	}
	if final != "done" {
		t.Errorf("final = %q", final)
	}
}
