package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	maxToolOutputBytes = 64 * 1024
	commandTimeout     = 30 * time.Second
)

// ToolSpec declares one tool offered to the provider.
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]interface{}
}

// BuiltinTools lists the workspace tools every turn may request. Each
// invocation still requires an explicit human approval before it runs.
func BuiltinTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        "read_file",
			Description: "Read a file from the workspace. Path is relative to the workspace root.",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
		},
		{
			Name:        "list_dir",
			Description: "List a directory in the workspace. Path is relative to the workspace root.",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
		},
		{
			Name:        "run_command",
			Description: "Run a shell command inside the workspace root.",
			Properties: map[string]interface{}{
				"command": map[string]interface{}{"type": "string"},
			},
		},
	}
}

// Executor runs approved tool calls confined to a workspace root.
type Executor struct {
	root string
}

func NewExecutor(workspaceRoot string) (*Executor, error) {
	abs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Executor{root: abs}, nil
}

func (e *Executor) Root() string { return e.root }

func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	switch name {
	case "read_file":
		return e.readFile(input)
	case "list_dir":
		return e.listDir(input)
	case "run_command":
		return e.runCommand(ctx, input)
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

type pathArgs struct {
	Path string `json:"path"`
}

func (e *Executor) readFile(input json.RawMessage) (string, error) {
	var args pathArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("read_file input: %w", err)
	}
	target, err := e.resolve(args.Path)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(target)
	if err != nil {
		return "", err
	}
	return clampOutput(string(raw)), nil
}

func (e *Executor) listDir(input json.RawMessage) (string, error) {
	var args pathArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("list_dir input: %w", err)
	}
	target, err := e.resolve(args.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return clampOutput(strings.Join(names, "\n")), nil
}

type commandArgs struct {
	Command string `json:"command"`
}

func (e *Executor) runCommand(ctx context.Context, input json.RawMessage) (string, error) {
	var args commandArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return "", fmt.Errorf("run_command input: %w", err)
	}
	command := strings.TrimSpace(args.Command)
	if command == "" {
		return "", fmt.Errorf("run_command requires a non-empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return clampOutput(string(out)), fmt.Errorf("command failed: %w", err)
	}
	return clampOutput(string(out)), nil
}

// resolve maps a workspace-relative path to an absolute one and rejects
// anything that would escape the root.
func (e *Executor) resolve(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		rel = "."
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative to the workspace root")
	}
	target := filepath.Join(e.root, filepath.Clean(rel))
	if target != e.root && !strings.HasPrefix(target, e.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace root")
	}
	return target, nil
}

func clampOutput(s string) string {
	if len(s) <= maxToolOutputBytes {
		return s
	}
	return s[:maxToolOutputBytes] + "\n[output truncated]"
}
