package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nyxforge/codeagent/internal/backup"
	"github.com/nyxforge/codeagent/internal/config"
	"github.com/nyxforge/codeagent/internal/llm"
	"github.com/nyxforge/codeagent/internal/mcpmanager"
	"github.com/nyxforge/codeagent/internal/obslog"
	"github.com/nyxforge/codeagent/internal/orchestrator"
	"github.com/nyxforge/codeagent/internal/safety"
	"github.com/nyxforge/codeagent/internal/sandbox"
	"github.com/nyxforge/codeagent/internal/toolkit"
	"github.com/nyxforge/codeagent/internal/toolkit/builtin"
)

const agentName = "codeagent"

var (
	flagWorkspace string
	flagMode      string
	flagProvider  string
	flagModel     string
	flagMessage   string
)

var rootCmd = &cobra.Command{
	Use:   agentName,
	Short: "codeagent - an interactive command-line coding agent",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent against the workspace, once or interactively",
	RunE:  runRun,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a workspace config file",
	RunE:  runInit,
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools available in this workspace",
	RunE:  runTools,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagWorkspace, "workspace", ".", "workspace root directory")
	rootCmd.PersistentFlags().StringVar(&flagMode, "mode", "review", "safety mode: dry-run, review, or auto-apply")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "anthropic", "LLM provider: anthropic or openai")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "model name override")
	runCmd.Flags().StringVarP(&flagMessage, "message", "m", "", "single message to send, instead of an interactive session")
	rootCmd.AddCommand(runCmd, initCmd, toolsCmd)
}

func main() {
	obslog.Init(isTerminal(os.Stdout), envOr("CODEAGENT_LOG_LEVEL", "info"))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session bundles every collaborator RunE handlers need.
type session struct {
	id            string
	workspaceRoot string
	mode          safety.Mode
	registry      *toolkit.Registry
	executor      *toolkit.Executor
	parser        *toolkit.Parser
	runner        *sandbox.Runner
	mcp           *mcpmanager.Manager
	orch          *orchestrator.Orchestrator
	ws            *config.Workspace
	cfgWatcher    *config.Watcher
	history       *os.File
}

// refreshConfig re-reads the workspace config from the watcher and applies
// it to the running session: the test command the orchestrator runs after
// file-modifying tools, and additions/removals in mcpServers (servers
// already running are left alone, even if their entry changed).
func (s *session) refreshConfig(ctx context.Context) {
	if s.cfgWatcher == nil {
		return
	}
	ws := s.cfgWatcher.Current()
	s.ws = ws
	s.orch.TestCommand = ws.TestCommand

	servers := map[string]mcpmanager.ServerConfig{}
	for name, srv := range ws.MCPServers {
		servers[name] = mcpmanager.ServerConfig{Command: srv.Command, Args: srv.Args, Env: srv.Env, Cwd: srv.Cwd}
	}
	s.mcp.Reconcile(ctx, servers)
}

func newSession(ctx context.Context) (*session, error) {
	root, err := filepath.Abs(flagWorkspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	mode, err := safety.ParseMode(flagMode)
	if err != nil {
		return nil, err
	}

	cfgPath := filepath.Join(root, config.FileName(agentName))
	cfgWatcher, err := config.NewWatcher(cfgPath)
	if err != nil {
		return nil, err
	}
	ws := cfgWatcher.Current()

	policy := safety.NewDefaultPolicy(mode)
	validator, err := sandbox.NewPathValidator(root)
	if err != nil {
		return nil, err
	}
	runner := sandbox.NewRunner(root, policy)
	store := backup.NewStore()

	registry := toolkit.NewRegistry()
	for _, tool := range []toolkit.Tool{
		builtin.NewReadFile(validator),
		builtin.NewWriteFile(validator, store),
		builtin.NewListDirectory(validator),
		builtin.NewRunCommand(runner, policy, validator),
		builtin.NewApplyDiff(validator, store),
		builtin.NewGrepSearch(validator),
		builtin.NewFileSearch(validator),
		builtin.NewImpactOf(validator, root),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}

	mgr := mcpmanager.New(registry, confirmLauncher)
	servers := map[string]mcpmanager.ServerConfig{}
	for name, s := range ws.MCPServers {
		servers[name] = mcpmanager.ServerConfig{Command: s.Command, Args: s.Args, Env: s.Env, Cwd: s.Cwd}
	}
	mgr.StartAll(ctx, servers)

	approver := toolkit.ApproverFunc(interactiveApprove)
	executor := toolkit.NewExecutor(registry, mode, approver, root)
	parser := toolkit.NewParser(registry)

	transport, err := newTransport()
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(registry, executor, transport, parser, runner, mode)
	orch.TestCommand = ws.TestCommand

	id := uuid.New().String()
	history, err := openHistoryFile(id)
	if err != nil {
		obslog.SessionOpenFailed(id, err)
	}

	return &session{
		id:            id,
		workspaceRoot: root,
		mode:          mode,
		registry:      registry,
		executor:      executor,
		parser:        parser,
		runner:        runner,
		mcp:           mgr,
		orch:          orch,
		ws:            ws,
		cfgWatcher:    cfgWatcher,
		history:       history,
	}, nil
}

// stateDir returns the per-user directory codeagent keeps REPL history and
// other run-local state under, creating it if it doesn't already exist.
func stateDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, agentName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// openHistoryFile opens the shared history.txt in append mode and stamps it
// with the session id so entries from concurrent sessions can be told apart.
func openHistoryFile(sessionID string) (*os.File, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "history.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(f, "# session %s started\n", sessionID)
	return f, nil
}

func (s *session) logInput(input string) {
	if s.history == nil {
		return
	}
	fmt.Fprintf(s.history, "%s\t%s\n", s.id, input)
}

func (s *session) close() {
	s.mcp.Shutdown()
	if s.cfgWatcher != nil {
		_ = s.cfgWatcher.Close()
	}
	if s.history != nil {
		s.history.Close()
	}
}

func newTransport() (llm.Transport, error) {
	switch strings.ToLower(flagProvider) {
	case "openai":
		return llm.NewOpenAITransport(llm.OpenAIConfig{Model: flagModel})
	default:
		return llm.NewAnthropicTransport(llm.AnthropicConfig{Model: flagModel})
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sess, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer sess.close()
	obslog.SessionStart(sess.id, sess.workspaceRoot)

	systemPrompt := buildSystemPrompt(sess.workspaceRoot, sess.ws)
	transcript := []orchestrator.Message{{Role: orchestrator.RoleSystem, Content: systemPrompt}}

	sink := func(text string) { fmt.Fprint(cmd.OutOrStdout(), text) }

	if flagMessage != "" {
		sess.refreshConfig(ctx)
		final, _, err := sess.orch.RunTurn(ctx, transcript, flagMessage, sink)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), final)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), agentName+" (type 'exit' to quit)")
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(cmd.OutOrStdout(), "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		sess.logInput(input)
		sess.refreshConfig(ctx)
		var final string
		final, transcript, err = sess.orch.RunTurn(ctx, transcript, input, sink)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), final)
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(flagWorkspace)
	if err != nil {
		return err
	}
	path := filepath.Join(root, config.FileName(agentName))
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("config already exists: %s\n", path)
		return nil
	}
	const template = "testCommand: \"\"\nmcpServers: {}\nincludePaths: []\nexcludePaths: []\nnotes: \"\"\n"
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("created config: %s\n", path)
	return nil
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sess, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer sess.close()
	for _, tool := range sess.registry.All() {
		fmt.Printf("%-24s safe=%-5t %s\n", tool.Name(), tool.Safe, tool.Description)
	}
	return nil
}

// confirmLauncher runs in a non-interactive-by-default posture: MCP servers
// whose launcher isn't on the known-interpreter allow-list are skipped with
// a warning unless CODEAGENT_CONFIRM_MCP is set.
func confirmLauncher(command string) bool {
	return envOr("CODEAGENT_CONFIRM_MCP", "") != ""
}

func interactiveApprove(ctx context.Context, call toolkit.Call, preview string) (toolkit.Decision, error) {
	if preview != "" {
		fmt.Println(preview)
	}
	fmt.Printf("Approve %s? [y/n/d/q] ", call.Name)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "y", "yes":
		return toolkit.DecisionYes, nil
	case "d", "diff":
		return toolkit.DecisionDiff, nil
	case "q", "quit":
		return toolkit.DecisionQuit, nil
	default:
		return toolkit.DecisionNo, nil
	}
}

func buildSystemPrompt(root string, ws *config.Workspace) string {
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(agentName)
	b.WriteString(", an interactive command-line coding agent operating on the workspace at ")
	b.WriteString(root)
	b.WriteString(".\n")
	if ws.Notes != "" {
		b.WriteString("\nWorkspace notes:\n")
		b.WriteString(ws.Notes)
		b.WriteString("\n")
	}
	return b.String()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
