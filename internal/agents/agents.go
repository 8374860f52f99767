// Package agents loads AgentConfig values from a project's agents/
// directory and caches them, invalidating on filesystem change.
// Grounded on the teacher's internal/skills.LocalSource + DiscoverAll
// (directory-of-subdirectories discovery, higher-priority override
// semantics) and its fsnotify-based cache invalidation idiom.
package agents

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/orchestra-run/orchestra/internal/models"
)

// NamePattern is the allowed character set for agent names, per spec.md §6.
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const (
	descriptionFile  = "description.txt"
	systemPromptFile = "system_prompt.txt"
	toolsFile        = "tools.txt"
)

// Registry loads and caches AgentConfig values for a single project.
// agents/ never falls back to the default project (spec.md §6), unlike
// tools/ and prompts/.
type Registry struct {
	userDir     string
	projectDir  string
	logger      *slog.Logger
	watcher     *fsnotify.Watcher
	mu          sync.RWMutex
	cache       map[string]*models.AgentConfig
	cacheLoaded bool
}

// New builds a Registry rooted at userDir/projectDir/agents and starts
// watching that directory for changes via fsnotify, invalidating the
// cache on any write/create/remove/rename event.
func New(userDir, projectDir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		userDir:    userDir,
		projectDir: projectDir,
		logger:     logger.With("component", "agents.registry", "project", projectDir),
		cache:      make(map[string]*models.AgentConfig),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	r.watcher = watcher

	agentsDir := r.agentsDir()
	if err := os.MkdirAll(agentsDir, 0o755); err == nil {
		if err := watcher.Add(agentsDir); err != nil {
			r.logger.Warn("failed to watch agents directory", "path", agentsDir, "error", err)
		}
	}

	go r.watchLoop()

	return r, nil
}

func (r *Registry) agentsDir() string {
	return filepath.Join(r.userDir, r.projectDir, "agents")
}

func (r *Registry) watchLoop() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				r.invalidate()
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("watcher error", "error", err)
		}
	}
}

func (r *Registry) invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheLoaded = false
	r.cache = make(map[string]*models.AgentConfig)
}

// Close stops the underlying filesystem watcher.
func (r *Registry) Close() error {
	return r.watcher.Close()
}

// Get returns the named agent's config, loading/refreshing the cache
// first if needed.
func (r *Registry) Get(name string) (*models.AgentConfig, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.cache[name]
	if !ok {
		return nil, fmt.Errorf("agent %q not found in project %q", name, r.projectDir)
	}
	return cfg, nil
}

// Names returns every loaded agent name.
func (r *Registry) Names() ([]string, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.cache))
	for name := range r.cache {
		names = append(names, name)
	}
	return names, nil
}

func (r *Registry) ensureLoaded() error {
	r.mu.RLock()
	loaded := r.cacheLoaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	return r.reload()
}

func (r *Registry) reload() error {
	dir := r.agentsDir()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		r.mu.Lock()
		r.cache = make(map[string]*models.AgentConfig)
		r.cacheLoaded = true
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read agents directory: %w", err)
	}

	loaded := make(map[string]*models.AgentConfig)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !NamePattern.MatchString(name) {
			r.logger.Warn("skipping agent with invalid name", "name", name)
			continue
		}
		cfg, err := r.loadOne(dir, name)
		if err != nil {
			r.logger.Warn("failed to load agent", "name", name, "error", err)
			continue
		}
		loaded[name] = cfg
		r.logger.Debug("loaded agent", "name", name)
	}

	r.mu.Lock()
	r.cache = loaded
	r.cacheLoaded = true
	r.mu.Unlock()

	r.logger.Info("loaded agents", "count", len(loaded), "project", r.projectDir)
	return nil
}

func (r *Registry) loadOne(agentsDir, name string) (*models.AgentConfig, error) {
	dir := filepath.Join(agentsDir, name)

	description, err := readTrimmed(filepath.Join(dir, descriptionFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", descriptionFile, err)
	}
	systemPrompt, err := readTrimmed(filepath.Join(dir, systemPromptFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", systemPromptFile, err)
	}

	var allowedTools []string
	toolsRaw, err := os.ReadFile(filepath.Join(dir, toolsFile))
	if err == nil {
		for _, line := range strings.Split(string(toolsRaw), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			allowedTools = append(allowedTools, line)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", toolsFile, err)
	}

	return &models.AgentConfig{
		Name:             name,
		Description:      description,
		SystemPrompt:     systemPrompt,
		AllowedCallables: allowedTools,
		ProjectDir:       r.projectDir,
	}, nil
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
