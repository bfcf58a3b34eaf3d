// Package mcpmanager loads MCP server configs, spawns clients, and
// registers discovered tools into the shared tool registry (§4.J).
package mcpmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nyxforge/codeagent/internal/mcpclient"
	"github.com/nyxforge/codeagent/internal/obslog"
	"github.com/nyxforge/codeagent/internal/toolkit"
)

// ServerConfig is one entry of the workspace config's mcpServers map (§6).
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
}

// safeLaunchers is the fixed allow-list of known interpreters that never
// require an interactive confirmation (§4.I Command safety for MCP).
var safeLaunchers = map[string]bool{
	"node": true, "npx": true, "python": true, "python3": true,
	"go": true, "deno": true, "bun": true, "uvx": true,
}

// ConfirmFunc prompts the user to approve launching a command outside the
// safe-launcher allow-list. It should return false in non-interactive
// environments so the server is skipped with a warning rather than blocked
// on a prompt that can never be answered.
type ConfirmFunc func(command string) bool

// Manager owns every connected MCP client for the session.
type Manager struct {
	registry *toolkit.Registry
	confirm  ConfirmFunc

	mu        sync.Mutex
	clients   []*mcpclient.Client
	started   map[string]bool
	toolNames map[string][]string
}

// New builds a manager that registers discovered tools into registry.
func New(registry *toolkit.Registry, confirm ConfirmFunc) *Manager {
	return &Manager{registry: registry, confirm: confirm, started: map[string]bool{}, toolNames: map[string][]string{}}
}

// StartAll spawns a client for every configured server, applying the
// launcher-safety check, discovering tools, and registering them.
// Registration collisions are logged and skipped, not fatal (§4.J).
func (m *Manager) StartAll(ctx context.Context, servers map[string]ServerConfig) {
	for name, cfg := range servers {
		if err := m.start(ctx, name, cfg); err != nil {
			log.Warn().Err(err).Str("server", name).Msg("mcpmanager: failed to start server")
			continue
		}
		m.mu.Lock()
		m.started[name] = true
		m.mu.Unlock()
	}
}

// Reconcile starts any server in servers this manager hasn't already
// started, and disconnects any server it has started that no longer appears
// in servers. It is the hook a workspace config hot-reload uses to pick up
// mcpServers additions and removals without restarting servers that are
// unaffected (§6, §4.J).
func (m *Manager) Reconcile(ctx context.Context, servers map[string]ServerConfig) {
	for name, cfg := range servers {
		m.mu.Lock()
		already := m.started[name]
		m.mu.Unlock()
		if already {
			continue
		}
		if err := m.start(ctx, name, cfg); err != nil {
			log.Warn().Err(err).Str("server", name).Msg("mcpmanager: failed to start server")
			continue
		}
		m.mu.Lock()
		m.started[name] = true
		m.mu.Unlock()
	}

	m.mu.Lock()
	var removed []string
	for name := range m.started {
		if _, ok := servers[name]; !ok {
			removed = append(removed, name)
		}
	}
	m.mu.Unlock()
	for _, name := range removed {
		m.Disconnect(name)
	}
}

func (m *Manager) start(ctx context.Context, name string, cfg ServerConfig) error {
	base := baseCommand(cfg.Command)
	if !safeLaunchers[base] {
		if m.confirm == nil || !m.confirm(cfg.Command) {
			return fmt.Errorf("launcher %q is outside the safe-launcher allow-list; skipped", cfg.Command)
		}
	}

	env := envSlice(cfg.Env)
	client, err := mcpclient.Spawn(ctx, name, cfg.Command, cfg.Args, env, cfg.Cwd)
	if err != nil {
		obslog.MCPConnectFailed(name, err)
		return err
	}

	if _, err := client.Initialize(ctx); err != nil {
		_ = client.Close()
		obslog.MCPConnectFailed(name, err)
		return fmt.Errorf("initialize: %w", err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		obslog.MCPConnectFailed(name, err)
		return fmt.Errorf("list tools: %w", err)
	}

	var registered []string
	for _, remote := range tools {
		tool := adaptTool(client, name, remote)
		if err := m.registry.Register(tool); err != nil {
			log.Warn().Err(err).Str("server", name).Str("tool", remote.Name).Msg("mcpmanager: registration collision, skipping")
			continue
		}
		registered = append(registered, tool.Definition.Name)
	}

	m.mu.Lock()
	m.clients = append(m.clients, client)
	m.toolNames[name] = registered
	m.mu.Unlock()
	obslog.MCPLifecycle(name, "start", nil)
	return nil
}

// Disconnect closes the named server's client and drops every tool it
// registered from the shared registry, so a server that goes away mid-session
// doesn't leave callable-but-dead tools behind.
func (m *Manager) Disconnect(name string) {
	m.mu.Lock()
	var target *mcpclient.Client
	remaining := m.clients[:0]
	for _, c := range m.clients {
		if c.ServerName == name {
			target = c
			continue
		}
		remaining = append(remaining, c)
	}
	m.clients = remaining
	names := m.toolNames[name]
	delete(m.toolNames, name)
	delete(m.started, name)
	m.mu.Unlock()

	for _, toolName := range names {
		m.registry.Remove(toolName)
	}
	if target != nil {
		if err := target.Close(); err != nil {
			log.Warn().Err(err).Str("server", name).Msg("mcpmanager: close failed")
		}
	}
	obslog.MCPLifecycle(name, "stop", nil)
}

// adaptTool converts an MCP tool description into a toolkit.Tool whose
// handler forwards to tools/call (§4.I step 4).
func adaptTool(client *mcpclient.Client, serverName string, remote mcpclient.Tool) toolkit.Tool {
	def := toolkit.Definition{
		Name:        fmt.Sprintf("mcp_%s_%s", serverName, remote.Name),
		Description: remote.Description,
		Safe:        false,
		Params:      convertSchema(remote.InputSchema),
	}
	handler := func(ctx context.Context, params map[string]interface{}) (toolkit.Result, error) {
		output, isError, err := client.CallTool(ctx, remote.Name, params)
		if err != nil {
			return toolkit.Fail(err.Error()), nil
		}
		if isError {
			return toolkit.Fail(output), nil
		}
		return toolkit.Ok(output, nil), nil
	}
	return toolkit.Tool{Definition: def, Handler: handler}
}

// convertSchema maps a JSON-Schema tool input definition to the internal
// parameter list; "integer" maps directly to the number type (§4.I).
func convertSchema(raw json.RawMessage) []toolkit.Parameter {
	if len(raw) == 0 {
		return nil
	}
	var schema struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	required := map[string]bool{}
	for _, r := range schema.Required {
		required[r] = true
	}
	var params []toolkit.Parameter
	for name, prop := range schema.Properties {
		ptype := toolkit.ParamString
		switch prop.Type {
		case "integer", "number":
			ptype = toolkit.ParamNumber
		case "boolean":
			ptype = toolkit.ParamBoolean
		case "array":
			ptype = toolkit.ParamArray
		case "object":
			ptype = toolkit.ParamObject
		}
		params = append(params, toolkit.Parameter{Name: name, Type: ptype, Required: required[name]})
	}
	return params
}

// Shutdown terminates all clients in parallel (§4.J on shutdown, §5
// Cancellation and timeouts).
func (m *Manager) Shutdown() {
	m.mu.Lock()
	clients := m.clients
	m.clients = nil
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(cl *mcpclient.Client) {
			defer wg.Done()
			if err := cl.Close(); err != nil {
				log.Warn().Err(err).Str("server", cl.ServerName).Msg("mcpmanager: close failed")
			}
			obslog.MCPLifecycle(cl.ServerName, "stop", nil)
		}(c)
	}
	wg.Wait()
}

func baseCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
