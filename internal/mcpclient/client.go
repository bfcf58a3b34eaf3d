package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const requestTimeout = 30 * time.Second

// pending holds the resolution channel for one in-flight request.
type pending struct {
	resolve chan *Message
}

// Client is a single MCP server connection: a child process speaking
// JSON-RPC 2.0 over stdio (§4.I).
type Client struct {
	ServerName string

	cmd     *exec.Cmd
	codec   *Codec
	nextID  int64
	mu      sync.Mutex
	pending map[int64]*pending
	closed  atomic.Bool

	serverInfo *InitializeResult
}

// Spawn starts the child process defined by command/args/env/cwd and
// attaches stdio pipes, per §4.I step 1.
func Spawn(ctx context.Context, serverName, command string, args []string, env []string, cwd string) (*Client, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	if len(env) > 0 {
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpclient: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpclient: stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcpclient: spawn %s: %w", command, err)
	}

	c := &Client{
		ServerName: serverName,
		cmd:        cmd,
		codec:      NewCodec(stdout, stdin),
		pending:    make(map[int64]*pending),
	}
	go c.pump()
	return c, nil
}

// pump owns the pending-request table: it reads messages and dispatches
// responses to the originating caller by id (§9 MCP request/response
// correlation). It runs independently of orchestrator work (§5).
func (c *Client) pump() {
	for {
		msg, err := c.codec.ReadMessage()
		if err != nil {
			c.closeAllPending()
			return
		}
		if msg.ID == nil {
			continue // notification; the client currently has none to handle
		}
		c.mu.Lock()
		p, ok := c.pending[*msg.ID]
		if ok {
			delete(c.pending, *msg.ID)
		}
		c.mu.Unlock()
		if ok {
			p.resolve <- msg
		}
	}
}

func (c *Client) closeAllPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		close(p.resolve)
		delete(c.pending, id)
	}
}

// call sends a request and blocks for its response, a 30-second timeout, or
// context cancellation, whichever comes first (§4.I / §5).
func (c *Client) call(ctx context.Context, method string, params interface{}) (*Message, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("mcpclient: client is closed")
	}
	id := atomic.AddInt64(&c.nextID, 1)
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	msg := &Message{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}

	p := &pending{resolve: make(chan *Message, 1)}
	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	if err := c.codec.WriteMessage(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("mcpclient: write %s: %w", method, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	select {
	case resp, ok := <-p.resolve:
		if !ok {
			return nil, fmt.Errorf("McpTimeout: connection closed while awaiting %s", method)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	case <-timeoutCtx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("McpTimeout: %s timed out after %s", method, requestTimeout)
	}
}

func (c *Client) notify(method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return c.codec.WriteMessage(&Message{JSONRPC: "2.0", Method: method, Params: raw})
}

// Initialize runs the initialize/initialized handshake (§4.I steps 2-3).
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	resp, err := c.call(ctx, "initialize", InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      ClientInfo{Name: "codeagent", Version: "dev"},
	})
	if err != nil {
		return nil, err
	}
	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: decode initialize result: %w", err)
	}
	if err := c.notify("notifications/initialized", struct{}{}); err != nil {
		return nil, fmt.Errorf("mcpclient: send initialized notification: %w", err)
	}
	c.serverInfo = &result
	return &result, nil
}

// ListTools runs tools/list (§4.I step 4).
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	resp, err := c.call(ctx, "tools/list", struct{}{})
	if err != nil {
		return nil, err
	}
	var result ToolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("mcpclient: decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes tools/call for remoteName with arguments and flattens the
// content array into a single output string.
func (c *Client) CallTool(ctx context.Context, remoteName string, arguments map[string]interface{}) (string, bool, error) {
	resp, err := c.call(ctx, "tools/call", ToolsCallParams{Name: remoteName, Arguments: arguments})
	if err != nil {
		return "", false, err
	}
	var result ToolsCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", false, fmt.Errorf("mcpclient: decode tools/call result: %w", err)
	}
	var out string
	for _, part := range result.Content {
		out += part.Text
	}
	return out, result.IsError, nil
}

// Close terminates the child process and rejects all pending requests.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.closeAllPending()
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	if err := c.cmd.Process.Kill(); err != nil {
		log.Warn().Err(err).Str("server", c.ServerName).Msg("mcpclient: kill child process failed")
	}
	return c.cmd.Wait()
}
