package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/nyxforge/codeagent/internal/obslog"
	"github.com/nyxforge/codeagent/internal/safety"
	"github.com/nyxforge/codeagent/internal/sandbox"
	"github.com/nyxforge/codeagent/internal/toolkit"
)

// NewRunCommand builds the run_command tool, dispatching to the sandbox
// runner under the active policy (§4.H run_command).
func NewRunCommand(runner *sandbox.Runner, policy safety.Policy, validator *sandbox.PathValidator) toolkit.Tool {
	def := toolkit.Definition{
		Name:        "run_command",
		Description: "Execute a shell command inside the workspace under the active safety policy.",
		Safe:        false,
		Params: []toolkit.Parameter{
			{Name: "command", Type: toolkit.ParamString, Required: true},
			{Name: "args", Type: toolkit.ParamArray, Required: false},
			{Name: "cwd", Type: toolkit.ParamString, Required: false},
		},
	}

	handler := func(ctx context.Context, params map[string]interface{}) (toolkit.Result, error) {
		command, _ := params["command"].(string)
		var args []string
		if raw, ok := params["args"].([]interface{}); ok {
			for _, a := range raw {
				args = append(args, fmt.Sprint(a))
			}
		} else if raw, ok := params["args"].(string); ok && raw != "" {
			args = strings.Fields(raw)
		}
		cwd, _ := params["cwd"].(string)

		if v := policy.CheckCommand(command, args); v != nil {
			obslog.ToolDenied("run_command", command, string(v.Kind), v.Message)
			return toolkit.Fail(v.Message), nil
		}

		absCwd := ""
		if cwd != "" {
			resolved, err := validator.Validate(cwd)
			if err != nil {
				return toolkit.Fail(err.Error()), nil
			}
			absCwd = resolved
		}

		res, err := runner.Run(ctx, command, args, absCwd)
		if err != nil {
			return toolkit.Fail("IO: failed to spawn command: " + err.Error()), nil
		}

		combined := res.Stdout
		if res.Stderr != "" {
			combined += "\n" + res.Stderr
		}
		metadata := map[string]interface{}{
			"exitCode": res.ExitCode,
			"timedOut": res.TimedOut,
			"stdout":   res.Stdout,
			"stderr":   res.Stderr,
		}
		if res.TimedOut {
			return toolkit.Result{Success: false, Error: "CommandTimeout: command exceeded the configured duration", Metadata: metadata}, nil
		}
		if res.ExitCode != 0 {
			tail := tailString(combined, 2000)
			return toolkit.Result{
				Success:  false,
				Error:    fmt.Sprintf("command exited with status %d: %s", res.ExitCode, tail),
				Metadata: metadata,
			}, nil
		}
		return toolkit.Result{Success: true, Output: combined, Metadata: metadata}, nil
	}

	return toolkit.Tool{Definition: def, Handler: handler}
}

func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
