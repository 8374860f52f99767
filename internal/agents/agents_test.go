package agents

import (
	"os"
	"path/filepath"
	"testing"
)

func writeAgent(t *testing.T, userDir, projectDir, name, description, systemPrompt, tools string) {
	t.Helper()
	dir := filepath.Join(userDir, projectDir, "agents", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, descriptionFile), []byte(description), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, systemPromptFile), []byte(systemPrompt), 0o644); err != nil {
		t.Fatal(err)
	}
	if tools != "" {
		if err := os.WriteFile(filepath.Join(dir, toolsFile), []byte(tools), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoadOneReadsAgentFiles(t *testing.T) {
	userDir := t.TempDir()
	writeAgent(t, userDir, "default", "researcher", "Researches things.", "You are a researcher.", "web_search\n# a comment\nnotes_write\n")

	reg, err := New(userDir, "default", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	cfg, err := reg.Get("researcher")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Description != "Researches things." {
		t.Errorf("Description = %q", cfg.Description)
	}
	if cfg.SystemPrompt != "You are a researcher." {
		t.Errorf("SystemPrompt = %q", cfg.SystemPrompt)
	}
	if len(cfg.AllowedCallables) != 2 || cfg.AllowedCallables[0] != "web_search" || cfg.AllowedCallables[1] != "notes_write" {
		t.Errorf("AllowedCallables = %v", cfg.AllowedCallables)
	}
	if cfg.ProjectDir != "default" {
		t.Errorf("ProjectDir = %q", cfg.ProjectDir)
	}
}

func TestGetUnknownAgentErrors(t *testing.T) {
	userDir := t.TempDir()
	reg, err := New(userDir, "default", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	if _, err := reg.Get("nope"); err == nil {
		t.Fatal("expected an error for an unknown agent")
	}
}

func TestInvalidAgentNameSkipped(t *testing.T) {
	userDir := t.TempDir()
	writeAgent(t, userDir, "default", "bad name!", "d", "s", "")

	reg, err := New(userDir, "default", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	names, err := reg.Names()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("expected invalid agent name to be skipped, got %v", names)
	}
}
