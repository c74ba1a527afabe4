package toolbuiltin

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cexll/agentcore/pkg/core/failure"
	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/tool"
)

const (
	// DefaultBashTimeout bounds a command unless the call asks for less.
	DefaultBashTimeout = 120 * time.Second
	bashDescription    = `Runs a shell command with sh -c in the project root.
- timeout_ms is optional and can only shorten the configured limit
- stdout and stderr are merged; long output is truncated
- Interactive commands get no stdin`
)

var bashSchema = &tool.JSONSchema{
	Type: "object",
	Properties: map[string]any{
		"command":    tool.Prop("string", "Command to execute"),
		"timeout_ms": tool.Prop("integer", "Timeout in milliseconds"),
	},
	Required: []string{"command"},
}

// BashOptions bounds command execution.
type BashOptions struct {
	Timeout     time.Duration
	OutputLimit int
	Shell       string
}

// BashTool executes shell commands in their own process group.
type BashTool struct {
	sandbox *security.Sandbox
	opts    BashOptions
}

// NewBashTool builds a BashTool running in sb's root.
func NewBashTool(sb *security.Sandbox, opts BashOptions) *BashTool {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBashTimeout
	}
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = tool.DefaultOutputLimit
	}
	if opts.Shell == "" {
		opts.Shell = "sh"
	}
	return &BashTool{sandbox: sb, opts: opts}
}

func (b *BashTool) Name() string             { return "Bash" }
func (b *BashTool) Description() string      { return bashDescription }
func (b *BashTool) Schema() *tool.JSONSchema { return bashSchema }

func (b *BashTool) Execute(ctx context.Context, params map[string]any) (*tool.ToolResult, error) {
	command, err := tool.String(params, "command")
	if err != nil {
		return nil, err
	}
	timeout := b.opts.Timeout
	ms, err := tool.Int(params, "timeout_ms", 0)
	if err != nil {
		return nil, err
	}
	// The configured limit is a ceiling; a call may only ask for less.
	if ms > 0 {
		timeout = min(time.Duration(ms)*time.Millisecond, b.opts.Timeout)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.opts.Shell, "-c", command)
	cmd.Dir = b.sandbox.Root()
	cmd.Stdin = nil
	configureProcessGroup(cmd)
	// Grandchildren can hold the pipes open after the group is killed.
	cmd.WaitDelay = 2 * time.Second

	buf := &cappedBuffer{limit: b.opts.OutputLimit}
	cmd.Stdout = buf
	cmd.Stderr = buf

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)
	output, truncated := buf.result()

	data := map[string]any{"exit_code": exitCode(cmd, runErr), "duration_ms": elapsed.Milliseconds()}
	res := &tool.ToolResult{Output: output, Truncated: truncated, Data: data}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, failure.New(failure.KindTimeout, "command timed out after %s", timeout)
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return nil, fmt.Errorf("run command: %w", runErr)
	}
	res.Success = runErr == nil
	if !res.Success {
		res.Output = strings.TrimRight(output, "\n") + fmt.Sprintf("\n[exit code %d]", exitErr.ExitCode())
	}
	return res, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// cappedBuffer keeps the first limit bytes and counts the rest.
type cappedBuffer struct {
	mu      sync.Mutex
	limit   int
	buf     []byte
	dropped int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.limit - len(c.buf)
	if room >= len(p) {
		c.buf = append(c.buf, p...)
		return len(p), nil
	}
	if room > 0 {
		c.buf = append(c.buf, p[:room]...)
	}
	c.dropped += len(p) - max(room, 0)
	return len(p), nil
}

func (c *cappedBuffer) result() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped == 0 {
		return string(c.buf), false
	}
	return string(c.buf) + fmt.Sprintf("\n[output truncated: %d bytes omitted]", c.dropped), true
}
