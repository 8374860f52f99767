// Package builtin provides the Go-native implementations behind the
// default project's baseline tools (file/directory/notes access rooted
// at an output directory), adapted from the Python original's
// user/default/tools/*.py into the tools.Factory shape.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/orchestra-run/orchestra/internal/tools"
)

// RegisterAll binds every baseline tool's Go implementation to l, keyed
// by the name their tool.yaml manifest declares, scoped to outputRoot
// (output/<projectDir>/ in the original's terms).
func RegisterAll(l *tools.Loader, outputRoot string) {
	l.RegisterFactory("file_read", fileReadFactory(outputRoot))
	l.RegisterFactory("file_write", fileWriteFactory(outputRoot))
	l.RegisterFactory("file_list", fileListFactory(outputRoot))
	l.RegisterFactory("directory_create", directoryCreateFactory(outputRoot))
	l.RegisterFactory("notes_write", notesWriteFactory(outputRoot))
	l.RegisterFactory("notes_read", notesReadFactory(outputRoot))
}

// resolveWithinRoot joins name onto root and rejects any path that
// escapes root, mirroring the original tools' _resolve_path guard.
func resolveWithinRoot(root, name string) (string, error) {
	name = strings.TrimPrefix(name, "/")
	full := filepath.Join(root, filepath.FromSlash(name))
	cleanRoot := filepath.Clean(root)
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the output directory")
	}
	return full, nil
}

func fileReadFactory(root string) tools.Factory {
	return func(name, description string, schema json.RawMessage) tools.Tool {
		return tools.NewFunctionTool(name, description, schema, func(ctx context.Context, params json.RawMessage) (string, error) {
			var p struct {
				FileName string `json:"file_name"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			full, err := resolveWithinRoot(root, p.FileName)
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(full)
			if os.IsNotExist(err) {
				return fmt.Sprintf("Error: File not found: %s", p.FileName), nil
			}
			if err != nil {
				return "", fmt.Errorf("reading file: %w", err)
			}
			return string(data), nil
		})
	}
}

func fileWriteFactory(root string) tools.Factory {
	return func(name, description string, schema json.RawMessage) tools.Tool {
		return tools.NewFunctionTool(name, description, schema, func(ctx context.Context, params json.RawMessage) (string, error) {
			var p struct {
				FileName    string `json:"file_name"`
				FileContent string `json:"file_content"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			full, err := resolveWithinRoot(root, p.FileName)
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return "", fmt.Errorf("create parent directories: %w", err)
			}
			if err := os.WriteFile(full, []byte(p.FileContent), 0o644); err != nil {
				return "", fmt.Errorf("writing file: %w", err)
			}
			return fmt.Sprintf("File written successfully: %s", p.FileName), nil
		})
	}
}

func fileListFactory(root string) tools.Factory {
	return func(name, description string, schema json.RawMessage) tools.Tool {
		return tools.NewFunctionTool(name, description, schema, func(ctx context.Context, params json.RawMessage) (string, error) {
			var p struct {
				DirName string `json:"dir_name"`
			}
			_ = json.Unmarshal(params, &p)
			full, err := resolveWithinRoot(root, p.DirName)
			if err != nil {
				return "", err
			}
			entries, err := os.ReadDir(full)
			if os.IsNotExist(err) {
				return fmt.Sprintf("Error: Directory not found: %s", p.DirName), nil
			}
			if err != nil {
				return "", fmt.Errorf("reading directory: %w", err)
			}
			var names []string
			for _, e := range entries {
				if e.IsDir() {
					names = append(names, e.Name()+"/")
				} else {
					names = append(names, e.Name())
				}
			}
			return strings.Join(names, "\n"), nil
		})
	}
}

func directoryCreateFactory(root string) tools.Factory {
	return func(name, description string, schema json.RawMessage) tools.Tool {
		return tools.NewFunctionTool(name, description, schema, func(ctx context.Context, params json.RawMessage) (string, error) {
			var p struct {
				DirName string `json:"dir_name"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			full, err := resolveWithinRoot(root, p.DirName)
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(full, 0o755); err != nil {
				return "", fmt.Errorf("creating directory: %w", err)
			}
			return fmt.Sprintf("Directory created: %s", p.DirName), nil
		})
	}
}

func notesWriteFactory(root string) tools.Factory {
	return func(name, description string, schema json.RawMessage) tools.Tool {
		return tools.NewFunctionTool(name, description, schema, func(ctx context.Context, params json.RawMessage) (string, error) {
			var p struct {
				Note string `json:"note"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return "", fmt.Errorf("invalid parameters: %w", err)
			}
			if err := os.MkdirAll(root, 0o755); err != nil {
				return "", fmt.Errorf("create output directory: %w", err)
			}
			notesFile := filepath.Join(root, "notes.txt")
			f, err := os.OpenFile(notesFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return "", fmt.Errorf("open notes file: %w", err)
			}
			defer f.Close()
			entry := fmt.Sprintf("[%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), p.Note)
			if _, err := f.WriteString(entry); err != nil {
				return "", fmt.Errorf("write note: %w", err)
			}
			return fmt.Sprintf("Note saved to %s", notesFile), nil
		})
	}
}

func notesReadFactory(root string) tools.Factory {
	return func(name, description string, schema json.RawMessage) tools.Tool {
		return tools.NewFunctionTool(name, description, schema, func(ctx context.Context, params json.RawMessage) (string, error) {
			notesFile := filepath.Join(root, "notes.txt")
			data, err := os.ReadFile(notesFile)
			if os.IsNotExist(err) {
				return "No notes found.", nil
			}
			if err != nil {
				return "", fmt.Errorf("read notes: %w", err)
			}
			return string(data), nil
		})
	}
}
