package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// manifest is the declarative metadata a tools/<name>/tool.yaml file
// carries. The Go implementation behind a name comes from a Factory
// registered at compile time (Go has no safe equivalent of the Python
// original's exec-a-.py-file loader), so the manifest only supplies the
// description and parameter schema the model sees.
type manifest struct {
	Description string          `json:"description" yaml:"description"`
	Schema      json.RawMessage `json:"schema" yaml:"schema"`
}

// Factory builds the Go-native implementation behind a declared tool name.
type Factory func(name, description string, schema json.RawMessage) Tool

// Loader discovers tool manifests under a project directory and
// instantiates them via registered Factories.
type Loader struct {
	factories map[string]Factory
	logger    *slog.Logger
}

// NewLoader returns a Loader with no factories registered.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		factories: make(map[string]Factory),
		logger:    logger.With("component", "tools.loader"),
	}
}

// RegisterFactory binds a tool name to the Go code that implements it.
func (l *Loader) RegisterFactory(name string, f Factory) {
	l.factories[name] = f
}

// toolFilename is the manifest filename inside each tools/<name>/ directory.
const toolFilename = "tool.yaml"

// LoadProject builds a Registry for a project, loading
// user/default/tools/ first (the baseline every project gets) and then
// user/<projectDir>/tools/ on top, so project-specific tools shadow
// default tools of the same name, per spec.md §6.
func (l *Loader) LoadProject(userDir, projectDir string) (*Registry, error) {
	reg := NewRegistry()

	defaultPath := filepath.Join(userDir, "default", "tools")
	if err := l.loadDir(reg, defaultPath); err != nil {
		return nil, fmt.Errorf("load default tools: %w", err)
	}

	if projectDir != "default" {
		projectPath := filepath.Join(userDir, projectDir, "tools")
		if err := l.loadDir(reg, projectPath); err != nil {
			return nil, fmt.Errorf("load project tools: %w", err)
		}
	}

	return reg, nil
}

func (l *Loader) loadDir(reg *Registry, dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		l.logger.Debug("tools directory does not exist", "path", dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		manifestPath := filepath.Join(dir, name, toolFilename)
		if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
			continue
		}

		m, err := parseManifest(manifestPath)
		if err != nil {
			l.logger.Warn("failed to parse tool manifest", "path", manifestPath, "error", err)
			continue
		}

		factory, ok := l.factories[name]
		if !ok {
			l.logger.Warn("no registered implementation for tool", "name", name, "path", manifestPath)
			continue
		}

		reg.Register(factory(name, m.Description, m.Schema))
		l.logger.Debug("loaded tool", "name", name, "path", manifestPath)
	}

	return nil
}

func parseManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var raw struct {
		Description string `yaml:"description"`
		Schema      any    `yaml:"schema"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	schemaJSON, err := json.Marshal(raw.Schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return &manifest{Description: raw.Description, Schema: schemaJSON}, nil
}

// staticTool is a Tool whose behavior is supplied as a plain function,
// used by builtin.RegisterAll's factories to adapt simple functions into the Tool
// interface without a bespoke type per tool.
type staticTool struct {
	name        string
	description string
	schema      json.RawMessage
	execute     func(ctx context.Context, params json.RawMessage) (string, error)
}

func (t *staticTool) Name() string                    { return t.name }
func (t *staticTool) Description() string             { return t.description }
func (t *staticTool) Schema() json.RawMessage          { return t.schema }
func (t *staticTool) Execute(ctx context.Context, p json.RawMessage) (string, error) {
	return t.execute(ctx, p)
}

// NewFunctionTool adapts a plain execute function into a Tool, letting
// builtin implementations stay a short function instead of a type.
func NewFunctionTool(name, description string, schema json.RawMessage, execute func(ctx context.Context, params json.RawMessage) (string, error)) Tool {
	return &staticTool{name: name, description: description, schema: schema, execute: execute}
}
