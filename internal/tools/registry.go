// Package tools implements the Tool interface and the per-project
// ToolRegistry that loads and dispatches them.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxToolNameLength and MaxToolParamsSize bound the size of an invocation
// directive before it is even looked up, mirroring the teacher's registry.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// Tool is the minimal surface an orchestrated tool must implement.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the tool's parameter JSON Schema as a raw object.
	Schema() json.RawMessage
	// Execute runs the tool against already-JSON-Schema-validated
	// parameters and returns the text to feed back to the model. Execute
	// is treated as blocking. A synchronous call runs it on the
	// Orchestrator's own goroutine; only asynchronous calls run in a
	// TaskManager goroutine bounded by its semaphore.
	Execute(ctx context.Context, params json.RawMessage) (string, error)
}

// Registry holds the tools available to a project, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool. A project-specific tool registered
// after a default-project tool of the same name shadows it.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the tool with the given name, or nil if not registered.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Descriptor is one tool's {name, description, schema}; Descriptors
// returns one per registered tool.
type Descriptor struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Descriptor{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return out
}

// Execute validates params against the tool's declared schema and, if
// valid, calls Execute. It never returns a Go error for "tool not found"
// or "invalid parameters" — both become a textual result, per spec.md §7,
// so the calling Orchestrator can feed it straight back to the model.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (string, error) {
	if len(name) > MaxToolNameLength {
		return fmt.Sprintf("Error: tool name exceeds maximum length of %d", MaxToolNameLength), nil
	}
	if len(params) > MaxToolParamsSize {
		return fmt.Sprintf("Error: parameters for tool '%s' exceed maximum size", name), nil
	}

	t := r.Get(name)
	if t == nil {
		return fmt.Sprintf("Error: tool '%s' not found", name), nil
	}

	if err := validateAgainstSchema(t.Schema(), params); err != nil {
		return fmt.Sprintf("Error: invalid parameters for tool '%s': %v", name, err), nil
	}

	result, err := t.Execute(ctx, params)
	if err != nil {
		return fmt.Sprintf("Error executing tool '%s': %v", name, err), nil
	}
	return result, nil
}

func validateAgainstSchema(schemaDoc json.RawMessage, params json.RawMessage) error {
	if len(schemaDoc) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaDoc)); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var value any
	paramsToValidate := params
	if len(paramsToValidate) == 0 {
		paramsToValidate = []byte("{}")
	}
	if err := json.Unmarshal(paramsToValidate, &value); err != nil {
		return fmt.Errorf("parameters are not valid JSON: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return err
	}
	return nil
}
