package appctx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/orchestra-run/orchestra/internal/config"
	"github.com/orchestra-run/orchestra/internal/store"
)

func writeFixtureAgent(t *testing.T, userDir, projectDir, name string) {
	t.Helper()
	dir := filepath.Join(userDir, projectDir, "agents", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "description.txt"), []byte("test agent"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "system_prompt.txt"), []byte("be helpful"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testApp(t *testing.T) (*App, string) {
	t.Helper()
	userDir := t.TempDir()
	writeFixtureAgent(t, userDir, "default", "helper")

	cfg := config.Default()
	cfg.UserData.RootDir = userDir
	cfg.LLM.APIKey = "test-key"

	a, err := New(cfg, store.NewMemoryStore(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, userDir
}

func TestToolsForCachesRegistryPerProject(t *testing.T) {
	a, _ := testApp(t)

	reg1, err := a.ToolsFor("default")
	if err != nil {
		t.Fatal(err)
	}
	reg2, err := a.ToolsFor("default")
	if err != nil {
		t.Fatal(err)
	}
	if reg1 != reg2 {
		t.Error("expected ToolsFor to cache the registry per project")
	}
}

func TestAgentsForLoadsFixtureAgent(t *testing.T) {
	a, _ := testApp(t)

	reg, err := a.AgentsFor("default")
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := reg.Get("helper")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Description != "test agent" {
		t.Errorf("Description = %q", cfg.Description)
	}
	if cfg.ProjectDir != "default" {
		t.Errorf("ProjectDir = %q", cfg.ProjectDir)
	}
}

func TestResolveAgentReturnsFalseForUnknown(t *testing.T) {
	a, _ := testApp(t)

	resolve := a.resolveAgent("default")
	if _, ok := resolve("nope"); ok {
		t.Error("expected unknown agent to resolve to false")
	}
	if _, ok := resolve("helper"); !ok {
		t.Error("expected fixture agent to resolve")
	}
}
