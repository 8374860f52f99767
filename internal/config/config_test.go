package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	if cfg.LLM.Provider != want.LLM.Provider {
		t.Errorf("Provider = %q, want %q", cfg.LLM.Provider, want.LLM.Provider)
	}
	if cfg.Storage.SQLitePath != want.Storage.SQLitePath {
		t.Errorf("SQLitePath = %q, want %q", cfg.Storage.SQLitePath, want.Storage.SQLitePath)
	}
}

func TestLoadExpandsEnvAndOverridesDefaults(t *testing.T) {
	t.Setenv("TEST_ORCHESTRA_MODEL", "claude-opus-4")

	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "llm:\n  default_model: \"${TEST_ORCHESTRA_MODEL}\"\n  provider: openai\nstorage:\n  sqlite_path: custom.db\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.DefaultModel != "claude-opus-4" {
		t.Errorf("DefaultModel = %q", cfg.LLM.DefaultModel)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("Provider = %q", cfg.LLM.Provider)
	}
	if cfg.Storage.SQLitePath != "custom.db" {
		t.Errorf("SQLitePath = %q", cfg.Storage.SQLitePath)
	}
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	t.Setenv("ORCHESTRA_LLM_API_KEY", "env-key")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  api_key: file-key\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env override to win", cfg.LLM.APIKey)
	}
}
