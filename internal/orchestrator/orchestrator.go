// Package orchestrator implements the per-AgentRun iteration loop:
// composing the system message, driving the LLM, parsing and
// dispatching tool-call directives, and enforcing the end-session
// protocol. Grounded on the teacher's internal/agent.AgenticLoop (phased
// state machine, channel-driven LLM streaming, assistant-message then
// tool-result append ordering) generalized to spec.md §4.1's exact
// 11-step algorithm.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/orchestra-run/orchestra/internal/llm"
	"github.com/orchestra-run/orchestra/internal/models"
	"github.com/orchestra-run/orchestra/internal/observability"
	"github.com/orchestra-run/orchestra/internal/store"
	"github.com/orchestra-run/orchestra/internal/tasks"
	"github.com/orchestra-run/orchestra/internal/tools"
	"github.com/orchestra-run/orchestra/internal/wire"
)

// DefaultMaxIterations is the ceiling spec.md §4.1 names for run().
const DefaultMaxIterations = 50

// streamLogInterval is how often an in-progress assistant message is
// flushed to the run log during generation, per spec.md §4.1 ("≈1 s").
const streamLogInterval = time.Second

// CallableDescriptor describes one name the agent is allowed to invoke,
// for composing the system message's callable inventory.
type CallableDescriptor struct {
	Name        string
	Description string
	Schema      json.RawMessage
	IsAgent     bool
}

// RunChildFunc constructs and runs a child AgentRun recursively, per
// spec.md §4.3's agent-dispatch branch. It is supplied by the caller
// (appctx) so this package never imports its own constructor — avoiding
// an import cycle between orchestrator and whatever wires it together.
type RunChildFunc func(ctx context.Context, agentName, message string, parentRunID, parentAgentName string, callMode models.CallMode) (string, error)

// Config wires one Orchestrator's dependencies together.
type Config struct {
	Agent       *models.AgentConfig
	Store       store.ExecutionStore
	Tools       *tools.Registry
	ResolveAgent func(name string) (*models.AgentConfig, bool)
	RunChild    RunChildFunc
	LLM         llm.Client
	Model       string
	Tasks       *tasks.Manager
	Logger      *slog.Logger
	LogDir      string

	// Metrics and Tracer are optional; a nil value disables instrumentation.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Orchestrator drives one AgentRun's conversation with the LLM to
// completion.
type Orchestrator struct {
	cfg          Config
	run          *models.AgentRun
	conversation []models.Message
	log          *runLog
	logger       *slog.Logger
}

// New constructs an Orchestrator for a freshly created AgentRun. run
// must already be persisted (CreateRun) by the caller.
func New(cfg Config, run *models.AgentRun) (*Orchestrator, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("orchestrator: agent config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "orchestrator", "runId", run.RunID, "agent", run.AgentName)

	logPath := run.LogFile
	if logPath == "" {
		logPath = filepath.Join(cfg.LogDir, fmt.Sprintf("%s_%s_%s.log", run.StartedAt.UTC().Format("20060102T150405"), run.AgentName, run.RunID))
		run.LogFile = logPath
	}

	o := &Orchestrator{
		cfg:    cfg,
		run:    run,
		log:    newRunLog(logPath, run, cfg.Model),
		logger: logger,
	}
	o.conversation = []models.Message{o.systemMessage()}
	if cfg.Metrics != nil {
		cfg.Metrics.ActiveRuns.Inc()
	}
	return o, nil
}

// systemMessage composes the agent's persona, callable inventory, and
// the fixed protocol rules (spec.md §4.1).
func (o *Orchestrator) systemMessage() models.Message {
	var b strings.Builder
	b.WriteString(o.cfg.Agent.SystemPrompt)
	b.WriteString("\n\n## Available callables\n\n")

	for _, name := range o.cfg.Agent.AllowedCallables {
		if t := o.cfg.Tools.Get(name); t != nil {
			fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", name, t.Description(), string(t.Schema()))
			continue
		}
		if agentCfg, ok := o.cfg.ResolveAgent(name); ok {
			fmt.Fprintf(&b, "- %s (agent): %s\n  parameters: {\"type\":\"object\",\"properties\":{\"message\":{\"type\":\"string\"}},\"required\":[\"message\"]}\n", name, agentCfg.Description)
			continue
		}
		fmt.Fprintf(&b, "- %s: (unresolved callable)\n", name)
	}

	b.WriteString("\n## Protocol rules\n\n")
	b.WriteString("To invoke a callable, emit one or more blocks of the exact form:\n\n")
	b.WriteString("<tool_call>\n  <tool_name>NAME</tool_name>\n  <call_mode>synchronous|asynchronous</call_mode>\n  <parameters>JSON-OBJECT</parameters>\n</tool_call>\n\n")
	b.WriteString("call_mode defaults to synchronous if omitted. Multiple blocks may appear in one reply.\n")
	b.WriteString("synchronous calls block until their result is available; asynchronous calls run in the background and their result is reported back to you later — do not wait idle for them.\n")
	b.WriteString("You must not call end_session while any asynchronous call you launched is still outstanding; it will be rejected.\n")
	b.WriteString("When your work is complete, call end_session with the complete final answer in its final_message parameter. This is the only way to terminate the conversation.\n")

	return models.Message{Role: models.RoleSystem, Content: b.String(), Timestamp: time.Now()}
}

// Run drives the conversation to completion and returns the final
// response text. maxIterations<=0 uses DefaultMaxIterations.
func (o *Orchestrator) Run(ctx context.Context, userMessage string, maxIterations int) (string, error) {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	o.conversation = append(o.conversation, models.Message{Role: models.RoleUser, Content: userMessage, Timestamp: time.Now()})

	var finalResponse string
	sessionEndedExplicitly := false
	iterations := 0

	defer o.finalize(ctx, &finalResponse, &sessionEndedExplicitly)

loop:
	for iterations < maxIterations {
		select {
		case <-ctx.Done():
			break loop
		default:
		}
		iterations++
		o.log.setIterations(iterations)
		o.setState(ctx, models.RunStateGenerating)

		transientIdx := -1
		if pending := o.cfg.Tasks.PendingIDs(); len(pending) > 0 {
			o.conversation = append(o.conversation, o.pendingReminder(pending))
			transientIdx = len(o.conversation) - 1
		}

		assistantText, err := o.callLLM(ctx)
		if transientIdx >= 0 {
			o.conversation = append(o.conversation[:transientIdx], o.conversation[transientIdx+1:]...)
		}
		if err != nil {
			assistantText = fmt.Sprintf("Error: LLM request failed: %v", err)
		}

		calls := wire.Parse(assistantText)

		if len(calls) == 0 {
			o.appendMessage(models.RoleSystem, "No tool call was found in your reply. You must call a tool, or call end_session with your final_message when the task is complete.")
			continue
		}

		o.appendMessage(models.RoleAssistant, assistantText)

		var endCall *wire.Call
		var syncCalls, asyncCalls []wire.Call
		for i := range calls {
			c := calls[i]
			if c.ParseError != nil {
				o.appendMessage(models.RoleUser, fmt.Sprintf("Tool call to '%s' had invalid parameters: %v", c.ToolName, c.ParseError))
				continue
			}
			if c.ToolName == wire.BuiltinEndSession {
				ec := c
				endCall = &ec
				continue
			}
			if c.CallMode == models.CallModeAsynchronous {
				asyncCalls = append(asyncCalls, c)
			} else {
				syncCalls = append(syncCalls, c)
			}
		}

		o.setState(ctx, models.RunStateExecutingTool)
		for _, c := range syncCalls {
			result := o.dispatch(ctx, c.ToolName, c.Parameters, c.CallMode)
			o.appendMessage(models.RoleUser, fmt.Sprintf("Tool '%s' result: %s", c.ToolName, result))
		}

		var launchedIDs []string
		for _, c := range asyncCalls {
			taskID := o.cfg.Tasks.NextTaskID(c.ToolName)
			launchedIDs = append(launchedIDs, taskID)
			toolName, params := c.ToolName, c.Parameters
			o.cfg.Tasks.Launch(ctx, taskID, toolName, params, func(ctx context.Context, toolName string, params []byte) string {
				return o.dispatch(ctx, toolName, params, models.CallModeAsynchronous)
			})
		}
		if len(launchedIDs) > 0 {
			o.appendMessage(models.RoleSystem, fmt.Sprintf("Launched asynchronous tasks: %s", strings.Join(launchedIDs, ", ")))
		}

		wait := false
		if endCall != nil {
			if outstanding := o.cfg.Tasks.Outstanding(); outstanding > 0 {
				o.appendMessage(models.RoleSystem, fmt.Sprintf("end_session rejected: %d task(s) still outstanding (%s). Wait for them to complete first.", outstanding, strings.Join(o.cfg.Tasks.PendingIDs(), ", ")))
				o.setState(ctx, models.RunStateWaiting)
				wait = true
			} else {
				finalResponse = o.extractFinalMessage(*endCall, assistantText)
				sessionEndedExplicitly = true
				break loop
			}
		} else if len(syncCalls) > 0 && len(launchedIDs) == 0 {
			continue
		} else if len(launchedIDs) > 0 {
			o.setState(ctx, models.RunStateWaiting)
			wait = true
		}

		if wait {
			result, ok := o.cfg.Tasks.WaitForResult(ctx)
			if !ok {
				break loop
			}
			o.appendMessage(models.RoleUser, fmt.Sprintf("Task '%s' completed: %s", result.TaskID, result.Result))
			o.cfg.Tasks.MarkProcessed()
		}
	}

	if finalResponse == "" && !sessionEndedExplicitly {
		finalResponse = o.lastAssistantText()
		o.logger.Warn("run ended without explicit end_session", "iterations", iterations)
	}

	return finalResponse, nil
}

func (o *Orchestrator) pendingReminder(ids []string) models.Message {
	return models.Message{
		Role:      models.RoleSystem,
		Content:   fmt.Sprintf("You have outstanding asynchronous tasks: %s. Do not launch duplicates; wait for their results.", strings.Join(ids, ", ")),
		Timestamp: time.Now(),
	}
}

func (o *Orchestrator) appendMessage(role models.Role, content string) {
	o.conversation = append(o.conversation, models.Message{Role: role, Content: content, Timestamp: time.Now()})
	o.log.setInteractions(o.conversation)
}

func (o *Orchestrator) lastAssistantText() string {
	for i := len(o.conversation) - 1; i >= 0; i-- {
		if o.conversation[i].Role == models.RoleAssistant {
			return o.conversation[i].Content
		}
	}
	return ""
}

// callLLM streams the assistant's reply, flushing an in-progress
// streaming:true log entry every streamLogInterval.
func (o *Orchestrator) callLLM(ctx context.Context) (result string, callErr error) {
	start := time.Now()
	if o.cfg.Tracer != nil {
		var span trace.Span
		ctx, span = o.cfg.Tracer.StartLLMCall(ctx, o.cfg.Model)
		defer func() { observability.End(span, callErr) }()
	}
	if o.cfg.Metrics != nil {
		defer func() {
			status := "success"
			if callErr != nil {
				status = "error"
			}
			o.cfg.Metrics.LLMRequestDuration.WithLabelValues(o.cfg.Model).Observe(time.Since(start).Seconds())
			o.cfg.Metrics.LLMRequestCounter.WithLabelValues(o.cfg.Model, status).Inc()
		}()
	}

	chunks, err := o.cfg.LLM.Complete(ctx, o.cfg.Model, o.conversation)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	var lastErr error
	ticker := time.NewTicker(streamLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.clearStreaming()
			_ = o.log.flush()
			return text.String(), nil
		case <-ticker.C:
			o.log.setStreaming(text.String())
			_ = o.log.flush()
		case c, ok := <-chunks:
			if !ok {
				o.log.clearStreaming()
				return text.String(), lastErr
			}
			if c.Error != nil {
				lastErr = c.Error
				continue
			}
			text.WriteString(c.Text)
			if c.Done {
				o.log.clearStreaming()
				return text.String(), lastErr
			}
		}
	}
}

// thinkBlockPattern strips <think>...</think> reasoning traces from a
// sub-agent's result before it is fed back to the parent (spec.md §4.3).
var thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

var blankRunPattern = regexp.MustCompile(`\n{3,}`)

func stripThink(text string) string {
	text = thinkBlockPattern.ReplaceAllString(text, "")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// dispatch authorizes, records, and executes one tool-or-agent call,
// per spec.md §4.3.
func (o *Orchestrator) dispatch(ctx context.Context, name string, params json.RawMessage, callMode models.CallMode) string {
	if !o.authorized(name) {
		return fmt.Sprintf("SECURITY ERROR: tool '%s' is not in this agent's allowed callables", name)
	}

	start := time.Now()
	var span trace.Span
	if o.cfg.Tracer != nil {
		ctx, span = o.cfg.Tracer.StartToolDispatch(ctx, name)
	}

	inv := &models.ToolInvocation{
		InvocationID: uuid.NewString(),
		RunID:        o.run.RunID,
		ToolName:     name,
		Parameters:   string(params),
		CallMode:     callMode,
		StartedAt:    time.Now(),
	}
	if err := o.cfg.Store.CreateToolInvocation(ctx, inv); err != nil {
		o.logger.Warn("failed to record tool invocation", "tool", name, "error", err)
	}

	result := o.execute(ctx, name, params, callMode)
	isErr := strings.HasPrefix(result, "Error") || strings.HasPrefix(result, "SECURITY ERROR")

	if span != nil {
		var spanErr error
		if isErr {
			spanErr = fmt.Errorf("%s", result)
		}
		observability.End(span, spanErr)
	}
	if o.cfg.Metrics != nil {
		status := "success"
		if isErr {
			status = "error"
		}
		o.cfg.Metrics.ToolExecutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		o.cfg.Metrics.ToolExecutionCounter.WithLabelValues(name, status).Inc()
	}

	now := time.Now()
	inv.CompletedAt = &now
	inv.Result = &result
	if err := o.cfg.Store.UpdateToolInvocation(ctx, inv); err != nil {
		o.logger.Warn("failed to complete tool invocation", "tool", name, "error", err)
	}

	return result
}

func (o *Orchestrator) authorized(name string) bool {
	if name == wire.BuiltinEndSession {
		return true
	}
	for _, allowed := range o.cfg.Agent.AllowedCallables {
		if allowed == name {
			return true
		}
	}
	return false
}

func (o *Orchestrator) execute(ctx context.Context, name string, params json.RawMessage, callMode models.CallMode) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = fmt.Sprintf("Error executing tool '%s': %v", name, r)
		}
	}()

	if o.cfg.Tools.Get(name) != nil {
		result, err := o.cfg.Tools.Execute(ctx, name, params)
		if err != nil {
			return fmt.Sprintf("Error executing tool '%s': %v", name, err)
		}
		return result
	}

	if agentCfg, ok := o.cfg.ResolveAgent(name); ok {
		message := extractChildMessage(params)
		result, err := o.cfg.RunChild(ctx, agentCfg.Name, message, o.run.RunID, o.run.AgentName, callMode)
		if err != nil {
			return fmt.Sprintf("Error executing agent '%s': %v", name, err)
		}
		return stripThink(result)
	}

	return fmt.Sprintf("Error: tool '%s' not found", name)
}

// extractChildMessage pulls "query" or "message" out of params, falling
// back to re-serializing the whole parameter object.
func extractChildMessage(params json.RawMessage) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(params, &obj); err == nil {
		for _, key := range []string{"query", "message"} {
			if raw, ok := obj[key]; ok {
				var s string
				if err := json.Unmarshal(raw, &s); err == nil {
					return s
				}
			}
		}
	}
	return string(params)
}

// extractFinalMessage resolves the effective final response for an
// accepted end_session: the final_message parameter if non-empty,
// otherwise the assistant text preceding the end_session block.
func (o *Orchestrator) extractFinalMessage(call wire.Call, assistantText string) string {
	var params struct {
		FinalMessage string `json:"final_message"`
	}
	if len(call.Parameters) > 0 {
		_ = json.Unmarshal(call.Parameters, &params)
	}
	if strings.TrimSpace(params.FinalMessage) != "" {
		return params.FinalMessage
	}
	if idx := strings.Index(assistantText, call.RawBlock); idx >= 0 {
		return strings.TrimSpace(assistantText[:idx])
	}
	return assistantText
}

func (o *Orchestrator) setState(ctx context.Context, state models.RunState) {
	o.run.CurrentState = state
	if err := o.cfg.Store.UpdateRun(ctx, o.run); err != nil {
		o.logger.Warn("failed to update run state", "state", state, "error", err)
	}
}

// finalize drains outstanding tasks, marks the run completed, and
// flushes the final log (spec.md §4.1's "Finalization (always)").
func (o *Orchestrator) finalize(ctx context.Context, finalResponse *string, explicit *bool) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ActiveRuns.Dec()
	}
	if drained := o.cfg.Tasks.DrainRemaining(); len(drained) > 0 {
		o.logger.Warn("drained unprocessed tasks at finalize", "taskIds", drained)
	}

	now := time.Now()
	o.run.CompletedAt = &now
	o.run.CurrentState = models.RunStateCompleted
	if err := o.cfg.Store.UpdateRun(context.Background(), o.run); err != nil {
		o.logger.Warn("failed to mark run completed", "error", err)
	}

	o.log.finish(*finalResponse, *explicit)
	if err := o.log.flush(); err != nil {
		o.logger.Warn("failed to flush run log", "error", err)
	}
}
