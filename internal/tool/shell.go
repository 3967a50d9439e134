package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"ava/internal/security"
)

const (
	defaultShellTimeout = 30
	maxShellTimeout     = 300
)

// ShellTool runs commands through sh -c. Every call passes the safety
// filter first; approval happens upstream in the gating pipeline.
type ShellTool struct {
	workingDir     string
	timeoutSeconds int
	filter         *security.Filter
}

type ShellConfig struct {
	WorkingDir     string
	TimeoutSeconds int
	Filter         *security.Filter
}

func NewShellTool(cfg ShellConfig) *ShellTool {
	return &ShellTool{
		workingDir:     cfg.WorkingDir,
		timeoutSeconds: clampTimeout(cfg.TimeoutSeconds),
		filter:         cfg.Filter,
	}
}

func (s *ShellTool) Name() string { return "shell" }

func (s *ShellTool) Description() string {
	return "Execute a shell command and return its exit code, stdout and stderr. Every command needs the user's approval unless an allow-always rule covers it."
}

func (s *ShellTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"command": {Type: "string", Description: "The shell command to execute (e.g. 'ls -la', 'git status')"},
			"timeout": {Type: "integer", Description: "Timeout in seconds (default 30, max 300)"},
		},
		[]string{"command"},
	)
}

// GatedCommand is the text the approval pipeline evaluates.
func (s *ShellTool) GatedCommand(args map[string]any) string {
	return strings.TrimSpace(ArgsString(args, "command"))
}

func (s *ShellTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command := strings.TrimSpace(ArgsString(args, "command"))
	if command == "" {
		return "", fmt.Errorf("invalid input: missing field `command`")
	}
	if reason, blocked := s.filter.Check(command); blocked {
		return reason, nil
	}

	timeoutSec := s.timeoutSeconds
	if n, ok := ArgsInt(args, "timeout"); ok {
		timeoutSec = clampTimeout(n)
	}
	timeout := time.Duration(timeoutSec) * time.Second

	dir := s.workingDir
	if dir == "" {
		dir = "."
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = dir
	killProcessGroup(cmd)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Sprintf("command timed out after %ds", timeoutSec), nil
	}
	if ctx.Err() != nil {
		return "command canceled", nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Sprintf("failed to run command: %v", err), nil
		}
		exitCode = exitErr.ExitCode()
	}

	return formatShellResult(exitCode, stdout.Bytes(), stderr.Bytes()), nil
}

func formatShellResult(exitCode int, stdout, stderr []byte) string {
	out := strings.ToValidUTF8(string(stdout), "�")
	errOut := strings.ToValidUTF8(string(stderr), "�")

	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d\n", exitCode)
	if strings.TrimSpace(out) == "" && strings.TrimSpace(errOut) == "" {
		b.WriteString("(no output)")
		return b.String()
	}
	if out != "" {
		b.WriteString("stdout:\n")
		b.WriteString(out)
		if !strings.HasSuffix(out, "\n") {
			b.WriteByte('\n')
		}
	}
	if errOut != "" {
		b.WriteString("stderr:\n")
		b.WriteString(errOut)
	}
	return Truncate(strings.TrimRight(b.String(), "\n"), MaxResultChars)
}

func clampTimeout(n int) int {
	switch {
	case n <= 0:
		return defaultShellTimeout
	case n > maxShellTimeout:
		return maxShellTimeout
	}
	return n
}
