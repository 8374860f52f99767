package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "run", "schedule", "project"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestScheduleCmdIncludesListAddRm(t *testing.T) {
	var configPath string
	cmd := buildScheduleCmd(&configPath)
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"list", "add", "rm"} {
		if !names[name] {
			t.Errorf("expected schedule subcommand %q", name)
		}
	}
}

func TestProjectCmdIncludesListAdd(t *testing.T) {
	var configPath string
	cmd := buildProjectCmd(&configPath)
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"list", "add"} {
		if !names[name] {
			t.Errorf("expected project subcommand %q", name)
		}
	}
}
