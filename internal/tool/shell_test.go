package tool

import (
	"context"
	"strings"
	"testing"
	"time"

	"ava/internal/security"
)

func testShell(t *testing.T) *ShellTool {
	t.Helper()
	f, err := security.NewFilter(nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewShellTool(ShellConfig{TimeoutSeconds: 5, WorkingDir: t.TempDir(), Filter: f})
}

func TestNewShellTool_Defaults(t *testing.T) {
	s := NewShellTool(ShellConfig{})
	if s.Name() != "shell" {
		t.Errorf("Name: got %q", s.Name())
	}
	if s.timeoutSeconds != defaultShellTimeout {
		t.Errorf("default timeout = %d", s.timeoutSeconds)
	}
	if s.Parameters() == nil {
		t.Fatal("Parameters returned nil")
	}
}

func TestClampTimeout(t *testing.T) {
	cases := map[int]int{0: 30, -5: 30, 1: 1, 60: 60, 300: 300, 301: 300, 9999: 300}
	for in, want := range cases {
		if got := clampTimeout(in); got != want {
			t.Errorf("clampTimeout(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestShellTool_EmptyCommand(t *testing.T) {
	s := testShell(t)
	if _, err := s.Execute(context.Background(), map[string]any{"command": "   "}); err == nil {
		t.Fatal("expected error for whitespace-only command")
	}
}

func TestShellTool_Echo(t *testing.T) {
	s := testShell(t)
	out, err := s.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "exit code: 0\nstdout:\nhello" {
		t.Fatalf("got %q", out)
	}
}

func TestShellTool_NonZeroExitWithStderr(t *testing.T) {
	s := testShell(t)
	out, err := s.Execute(context.Background(), map[string]any{"command": "echo oops >&2; exit 3"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "exit code: 3\n") || !strings.Contains(out, "stderr:\noops") {
		t.Fatalf("got %q", out)
	}
	if strings.Contains(out, "stdout:") {
		t.Fatalf("empty stdout section should be omitted: %q", out)
	}
}

func TestShellTool_NoOutput(t *testing.T) {
	s := testShell(t)
	out, _ := s.Execute(context.Background(), map[string]any{"command": "true"})
	if out != "exit code: 0\n(no output)" {
		t.Fatalf("got %q", out)
	}
}

func TestShellTool_InvalidUTF8Replaced(t *testing.T) {
	s := testShell(t)
	out, _ := s.Execute(context.Background(), map[string]any{"command": `printf 'a\377b'`})
	if !strings.Contains(out, "a�b") {
		t.Fatalf("expected replacement character, got %q", out)
	}
}

func TestShellTool_BlockedByFilter(t *testing.T) {
	s := testShell(t)
	out, err := s.Execute(context.Background(), map[string]any{"command": "rm -rf /"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "blocked:") {
		t.Fatalf("got %q", out)
	}
}

func TestShellTool_Timeout(t *testing.T) {
	s := testShell(t)
	start := time.Now()
	out, err := s.Execute(context.Background(), map[string]any{"command": "sleep 30", "timeout": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if out != "command timed out after 1s" {
		t.Fatalf("got %q", out)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("timeout did not kill the process promptly")
	}
}

func TestShellTool_TimeoutKillsChildren(t *testing.T) {
	s := testShell(t)
	start := time.Now()
	// The background child holds stdout open; only a group kill ends it.
	out, _ := s.Execute(context.Background(), map[string]any{"command": "sleep 30 & sleep 30", "timeout": 1})
	if out != "command timed out after 1s" {
		t.Fatalf("got %q", out)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("child process kept the call alive")
	}
}

func TestShellTool_OutputTruncated(t *testing.T) {
	s := testShell(t)
	out, _ := s.Execute(context.Background(), map[string]any{"command": "head -c 10000 /dev/zero | tr '\\0' 'a'"})
	if !strings.HasSuffix(out, truncatedMarker) {
		t.Fatalf("expected truncation marker, got tail %q", out[len(out)-40:])
	}
}

func TestShellTool_WorkingDir(t *testing.T) {
	dir := t.TempDir()
	s := NewShellTool(ShellConfig{WorkingDir: dir})
	out, _ := s.Execute(context.Background(), map[string]any{"command": "pwd"})
	if !strings.Contains(out, dir) {
		t.Fatalf("expected %s in %q", dir, out)
	}
}
