package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nyxforge/codeagent/internal/config"
	"github.com/nyxforge/codeagent/internal/mcpmanager"
	"github.com/nyxforge/codeagent/internal/toolkit"
)

func TestBuildSystemPromptIncludesWorkspaceRoot(t *testing.T) {
	prompt := buildSystemPrompt("/tmp/work", &config.Workspace{})
	if !strings.Contains(prompt, "/tmp/work") {
		t.Fatalf("expected prompt to mention workspace root, got %q", prompt)
	}
	if strings.Contains(prompt, "Workspace notes:") {
		t.Fatalf("expected no notes section when Notes is empty")
	}
}

func TestBuildSystemPromptIncludesNotes(t *testing.T) {
	prompt := buildSystemPrompt("/tmp/work", &config.Workspace{Notes: "avoid touching billing/"})
	if !strings.Contains(prompt, "avoid touching billing/") {
		t.Fatalf("expected notes to be included, got %q", prompt)
	}
}

func TestEnvOrFallsBackWhenUnset(t *testing.T) {
	t.Setenv("CODEAGENT_TEST_VAR", "")
	if got := envOr("CODEAGENT_TEST_VAR", "fallback"); got != "fallback" {
		t.Fatalf("envOr() = %q, want fallback", got)
	}
}

func TestEnvOrReturnsSetValue(t *testing.T) {
	t.Setenv("CODEAGENT_TEST_VAR", "custom")
	if got := envOr("CODEAGENT_TEST_VAR", "fallback"); got != "custom" {
		t.Fatalf("envOr() = %q, want custom", got)
	}
}

func TestIsTerminalFalseForRegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()
	if isTerminal(f) {
		t.Fatalf("expected regular file to not be reported as a terminal")
	}
}

func TestConfirmLauncherRespectsEnv(t *testing.T) {
	t.Setenv("CODEAGENT_CONFIRM_MCP", "")
	if confirmLauncher("curl") {
		t.Fatalf("expected launcher confirmation to default to false")
	}
	t.Setenv("CODEAGENT_CONFIRM_MCP", "1")
	if !confirmLauncher("curl") {
		t.Fatalf("expected launcher confirmation to honor CODEAGENT_CONFIRM_MCP")
	}
}

func TestStateDirCreatesAgentSubdirectory(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	dir, err := stateDir()
	if err != nil {
		t.Fatalf("stateDir: %v", err)
	}
	if filepath.Base(dir) != agentName {
		t.Fatalf("stateDir() = %q, want basename %q", dir, agentName)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected stateDir to create the directory: %v", err)
	}
}

func TestOpenHistoryFileStampsSession(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	f, err := openHistoryFile("session-123")
	if err != nil {
		t.Fatalf("openHistoryFile: %v", err)
	}
	defer f.Close()

	path := f.Name()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "session-123") {
		t.Fatalf("expected history file to record session id, got %q", string(data))
	}
}

func TestSessionLogInputAppendsEntry(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	f, err := openHistoryFile("abc")
	if err != nil {
		t.Fatalf("openHistoryFile: %v", err)
	}
	s := &session{id: "abc", history: f}
	s.logInput("list the files")
	f.Close()

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "list the files") {
		t.Fatalf("expected logged input in history file, got %q", string(data))
	}
}

func TestSessionLogInputNoopWithoutHistory(t *testing.T) {
	s := &session{id: "abc"}
	s.logInput("should not panic")
}

func TestSessionCloseShutsDownManagerAndHistory(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	f, err := openHistoryFile("abc")
	if err != nil {
		t.Fatalf("openHistoryFile: %v", err)
	}
	s := &session{
		id:      "abc",
		mcp:     mcpmanager.New(toolkit.NewRegistry(), nil),
		history: f,
	}
	s.close()

	if _, err := f.WriteString("x"); err == nil {
		t.Fatalf("expected history file to be closed")
	}
}

func TestRunInitCreatesConfigFile(t *testing.T) {
	tmp := t.TempDir()
	origWorkspace := flagWorkspace
	flagWorkspace = tmp
	defer func() { flagWorkspace = origWorkspace }()

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	path := filepath.Join(tmp, config.FileName(agentName))
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be created: %v", err)
	}
}

func TestRunInitDoesNotOverwriteExisting(t *testing.T) {
	tmp := t.TempDir()
	origWorkspace := flagWorkspace
	flagWorkspace = tmp
	defer func() { flagWorkspace = origWorkspace }()

	path := filepath.Join(tmp, config.FileName(agentName))
	if err := os.WriteFile(path, []byte("testCommand: keep-me\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "keep-me") {
		t.Fatalf("expected existing config to be preserved, got %q", string(data))
	}
}
