package sandbox

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/nyxforge/codeagent/internal/obslog"
	"github.com/nyxforge/codeagent/internal/safety"
)

const (
	outputCapBytes    = 10 * 1024 * 1024
	outputRetainBytes = 5 * 1024 * 1024
)

// CommandResult is the record §4.B resolves with.
type CommandResult struct {
	Command  string
	Args     []string
	ExitCode int
	TimedOut bool
	Stdout   string
	Stderr   string
}

// Runner spawns child processes under a policy with timeout, streaming
// capture, and output truncation.
type Runner struct {
	WorkspaceRoot string
	Policy        safety.Policy
}

// NewRunner builds a runner rooted at workspaceRoot enforcing policy.
func NewRunner(workspaceRoot string, policy safety.Policy) *Runner {
	return &Runner{WorkspaceRoot: workspaceRoot, Policy: policy}
}

// Run spawns command with args, capturing stdout/stderr into capped
// buffers and enforcing the policy's command-duration timeout. It resolves
// with a CommandResult when the child exits; it returns an error only on
// spawn failure, never on non-zero exit or timeout.
func (r *Runner) Run(ctx context.Context, command string, args []string, cwd string) (*CommandResult, error) {
	timeout := time.Duration(r.Policy.DurationOrDefault()) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// A shell is interposed only on Windows-like platforms, where it is
	// required to resolve script-file extensions; the metacharacter filter
	// in §4.A is what makes this safe.
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		full := append([]string{"/C", command}, args...)
		cmd = exec.CommandContext(runCtx, "cmd", full...)
	} else {
		cmd = exec.CommandContext(runCtx, command, args...)
	}

	if cwd != "" {
		cmd.Dir = cwd
	} else {
		cmd.Dir = r.WorkspaceRoot
	}
	cmd.Env = append(os.Environ(), r.Policy.ModeEnv())

	stdout := newCappedBuffer(outputCapBytes, outputRetainBytes)
	stderr := newCappedBuffer(outputCapBytes, outputRetainBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	timedOut := runCtx.Err() == context.DeadlineExceeded

	result := &CommandResult{
		Command:  command,
		Args:     args,
		TimedOut: timedOut,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if timedOut {
		result.ExitCode = -1
		obslog.CommandTimeout(command, int64(timeout/time.Millisecond))
		return result, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		// Any other error here is a spawn-time failure (binary not found,
		// permission denied on exec) rather than a runtime failure.
		if _, statErr := exec.LookPath(command); statErr != nil {
			return nil, err
		}
		result.ExitCode = -1
		return result, nil
	}
	result.ExitCode = 0
	return result, nil
}

// cappedBuffer caps writes at maxBytes; on overflow it retains only the
// trailing retainBytes, matching §4.B / §5's 10MiB cap with 5MiB retention.
type cappedBuffer struct {
	buf         bytes.Buffer
	maxBytes    int
	retainBytes int
}

func newCappedBuffer(maxBytes, retainBytes int) *cappedBuffer {
	return &cappedBuffer{maxBytes: maxBytes, retainBytes: retainBytes}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	c.buf.Write(p)
	if c.buf.Len() > c.maxBytes {
		trimmed := c.buf.Bytes()
		if len(trimmed) > c.retainBytes {
			trimmed = trimmed[len(trimmed)-c.retainBytes:]
		}
		c.buf.Reset()
		c.buf.Write(trimmed)
	}
	return n, nil
}

func (c *cappedBuffer) String() string { return c.buf.String() }
