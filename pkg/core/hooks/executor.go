package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cexll/agentcore/pkg/core/events"
)

// DefaultTimeout bounds a hook run that sets no timeout of its own.
const DefaultTimeout = 60 * time.Second

// ErrBlocked is matched by errors.Is on every hook rejection.
var ErrBlocked = errors.New("hooks: blocked")

// Decision is the outcome encoded in a hook's exit code: 0 proceeds (and
// may carry JSON on stdout), 2 blocks with stderr as the reason, anything
// else is logged and ignored.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionBlock
	DecisionNonBlocking
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionBlock:
		return "block"
	default:
		return "non_blocking"
	}
}

// Output is the optional JSON a hook prints on exit 0.
type Output struct {
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Blocks reports whether the hook asked to block.
func (o *Output) Blocks() bool {
	return o != nil && strings.EqualFold(strings.TrimSpace(o.Decision), "block")
}

// Result is the outcome of one hook run.
type Result struct {
	Event    events.Event
	Hook     string
	Decision Decision
	ExitCode int
	Output   *Output
	Stdout   string
	Stderr   string
}

// Blocked reports whether the run rejected the event and why.
func (r Result) Blocked() (bool, string) {
	switch {
	case r.Decision == DecisionBlock:
		return true, strings.TrimSpace(r.Stderr)
	case r.Output.Blocks():
		return true, r.Output.Reason
	}
	return false, ""
}

// Definition is a hook as written in configuration.
type Definition struct {
	Event     events.EventType  `json:"event" yaml:"event"`
	Command   string            `json:"command" yaml:"command"`
	Matcher   string            `json:"matcher,omitempty" yaml:"matcher,omitempty"`
	TimeoutMS int               `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Validate checks the event name, the command and the matcher regexp.
func (d Definition) Validate() error {
	_, err := d.Compile()
	return err
}

// Compile turns d into a runnable ShellHook.
func (d Definition) Compile() (ShellHook, error) {
	if !d.Event.Valid() {
		return ShellHook{}, fmt.Errorf("hooks: unsupported event %q", d.Event)
	}
	if strings.TrimSpace(d.Command) == "" {
		return ShellHook{}, errors.New("hooks: command must not be empty")
	}
	if d.TimeoutMS < 0 {
		return ShellHook{}, fmt.Errorf("hooks: negative timeout_ms %d", d.TimeoutMS)
	}
	hook := ShellHook{
		Event:   d.Event,
		Command: d.Command,
		Timeout: time.Duration(d.TimeoutMS) * time.Millisecond,
		Env:     d.Env,
	}
	if strings.TrimSpace(d.Matcher) != "" {
		re, err := regexp.Compile(d.Matcher)
		if err != nil {
			return ShellHook{}, fmt.Errorf("hooks: compile matcher %q: %w", d.Matcher, err)
		}
		hook.Matcher = re
	}
	return hook, nil
}

// ShellHook is a shell command bound to one event type. Matcher, when set,
// is tested against the tool name (tool events) or agent name
// (SubagentStop); other events ignore it.
type ShellHook struct {
	Event   events.EventType
	Command string
	Matcher *regexp.Regexp
	Timeout time.Duration
	Env     map[string]string
}

func (h ShellHook) matches(evt events.Event) bool {
	if h.Event != evt.Type {
		return false
	}
	if h.Matcher == nil {
		return true
	}
	target, ok := matcherTarget(evt)
	if !ok {
		return true
	}
	return h.Matcher.MatchString(target)
}

// Executor runs hooks by spawning shell commands with a JSON payload on
// stdin. Hooks for one event run sequentially in registration order.
type Executor struct {
	mu      sync.RWMutex
	hooks   []ShellHook
	timeout time.Duration
	workDir string
	logger  *slog.Logger
}

// ExecutorOption configures optional behaviour.
type ExecutorOption func(*Executor)

// WithTimeout sets the default per-hook budget. Zero keeps DefaultTimeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithWorkDir sets the working directory hooks run in.
func WithWorkDir(dir string) ExecutorOption {
	return func(e *Executor) { e.workDir = dir }
}

// WithLogger sets the logger used for non-blocking failures.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor constructs a shell-based hook executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{timeout: DefaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromDefinitions compiles defs and registers them on a new executor.
func FromDefinitions(defs []Definition, opts ...ExecutorOption) (*Executor, error) {
	e := NewExecutor(opts...)
	for i, def := range defs {
		hook, err := def.Compile()
		if err != nil {
			return nil, fmt.Errorf("hooks[%d]: %w", i, err)
		}
		e.Register(hook)
	}
	return e, nil
}

// Register adds hooks.
func (e *Executor) Register(hooks ...ShellHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, hooks...)
}

// Len is the number of registered hooks.
func (e *Executor) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.hooks)
}

// Execute runs every hook matching evt. It stops at the first hook that
// blocks and returns an error wrapping ErrBlocked alongside the results
// gathered so far. A hook that cannot run or times out also blocks.
func (e *Executor) Execute(ctx context.Context, evt events.Event) ([]Result, error) {
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	hooks := e.matching(evt)
	if len(hooks) == 0 {
		return nil, nil
	}
	payload, err := e.buildPayload(evt)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hooks))
	for _, hook := range hooks {
		res, err := e.run(ctx, hook, payload, evt)
		if err != nil {
			return results, fmt.Errorf("%w: %w", ErrBlocked, err)
		}
		results = append(results, res)
		if blocked, reason := res.Blocked(); blocked {
			if reason == "" {
				reason = fmt.Sprintf("%s hook %q", evt.Type, hook.Command)
			}
			return results, fmt.Errorf("%w: %s", ErrBlocked, reason)
		}
	}
	return results, nil
}

func (e *Executor) matching(evt events.Event) []ShellHook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []ShellHook
	for _, hook := range e.hooks {
		if hook.matches(evt) {
			out = append(out, hook)
		}
	}
	return out
}

func (e *Executor) run(ctx context.Context, hook ShellHook, payload []byte, evt events.Event) (Result, error) {
	res := Result{Event: evt, Hook: hook.Command}
	deadline := hook.Timeout
	if deadline <= 0 {
		deadline = e.timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := newShellCommand(runCtx, hook.Command)
	cmd.WaitDelay = time.Second
	cmd.Env = mergeEnv(os.Environ(), hook.Env)
	if e.workDir != "" {
		cmd.Dir = e.workDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = bytes.NewReader(payload)

	runErr := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("hook %q timed out after %s", hook.Command, deadline)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.Decision, res.ExitCode = classifyExit(runErr)
	switch res.Decision {
	case DecisionAllow:
		if trimmed := strings.TrimSpace(res.Stdout); strings.HasPrefix(trimmed, "{") {
			var out Output
			if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
				e.logger.Warn("hook output is not valid JSON", "event", evt.Type, "hook", hook.Command, "error", err)
			} else {
				res.Output = &out
			}
		}
	case DecisionNonBlocking:
		e.logger.Warn("hook failed", "event", evt.Type, "hook", hook.Command, "exit_code", res.ExitCode, "stderr", strings.TrimSpace(res.Stderr))
	}
	return res, nil
}

// classifyExit maps a process exit to a Decision. Failing to start the
// command at all blocks.
func classifyExit(runErr error) (Decision, int) {
	if runErr == nil {
		return DecisionAllow, 0
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		switch code := exitErr.ExitCode(); code {
		case 0:
			return DecisionAllow, 0
		case 2:
			return DecisionBlock, 2
		default:
			return DecisionNonBlocking, code
		}
	}
	return DecisionBlock, -1
}

func newShellCommand(ctx context.Context, command string) *exec.Cmd {
	return exec.CommandContext(ctx, "/bin/sh", "-c", strings.TrimSpace(command))
}

func matcherTarget(evt events.Event) (string, bool) {
	switch p := evt.Payload.(type) {
	case events.ToolUsePayload:
		return p.Name, true
	case events.ToolResultPayload:
		return p.Name, true
	case events.SubagentStopPayload:
		return p.Name, true
	}
	return "", false
}

func (e *Executor) buildPayload(evt events.Event) ([]byte, error) {
	envelope := map[string]any{"hook_event_name": evt.Type}
	if evt.SessionID != "" {
		envelope["session_id"] = evt.SessionID
	}
	switch p := evt.Payload.(type) {
	case events.ToolUsePayload:
		envelope["tool_name"] = p.Name
		envelope["tool_input"] = p.Params
		if p.CallID != "" {
			envelope["tool_use_id"] = p.CallID
		}
	case events.ToolResultPayload:
		envelope["tool_name"] = p.Name
		envelope["tool_input"] = p.Params
		if p.CallID != "" {
			envelope["tool_use_id"] = p.CallID
		}
		envelope["tool_result"] = p.Content
		envelope["is_error"] = !p.OK
		if p.Kind != "" {
			envelope["error_kind"] = p.Kind
		}
		envelope["duration_ms"] = p.Duration.Milliseconds()
	case events.UserPromptPayload:
		envelope["user_prompt"] = p.Prompt
	case events.StopPayload:
		envelope["status"] = p.Status
		if p.Reason != "" {
			envelope["reason"] = p.Reason
		}
		if p.LastMessage != "" {
			envelope["last_assistant_message"] = p.LastMessage
		}
	case events.SubagentStopPayload:
		envelope["agent_name"] = p.Name
		envelope["ok"] = p.OK
		envelope["turns"] = p.Turns
		if p.Reason != "" {
			envelope["reason"] = p.Reason
		}
	case nil:
	default:
		return nil, fmt.Errorf("hooks: unsupported payload type %T", evt.Payload)
	}
	cwd := e.workDir
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	if cwd != "" {
		envelope["cwd"] = cwd
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("hooks: marshal payload: %w", err)
	}
	return data, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	env := append([]string(nil), base...)
	for k, v := range extra {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

// PreToolUse runs PreToolUse hooks; a rejection is returned as an error.
func (e *Executor) PreToolUse(ctx context.Context, sessionID string, p events.ToolUsePayload) error {
	_, err := e.Execute(ctx, events.Event{Type: events.PreToolUse, SessionID: sessionID, Payload: p})
	return err
}

// PostToolUse runs PostToolUse hooks. Failures are logged only.
func (e *Executor) PostToolUse(ctx context.Context, sessionID string, p events.ToolResultPayload) {
	e.fireAndLog(ctx, events.Event{Type: events.PostToolUse, SessionID: sessionID, Payload: p})
}

// UserPromptSubmit runs prompt hooks; a rejection is returned as an error.
func (e *Executor) UserPromptSubmit(ctx context.Context, sessionID string, p events.UserPromptPayload) error {
	_, err := e.Execute(ctx, events.Event{Type: events.UserPromptSubmit, SessionID: sessionID, Payload: p})
	return err
}

// Stop runs Stop hooks. A hook that answers {"decision":"block","reason":...}
// asks the loop to resume with reason as the next prompt.
func (e *Executor) Stop(ctx context.Context, sessionID string, p events.StopPayload) (string, bool) {
	results, err := e.Execute(ctx, events.Event{Type: events.Stop, SessionID: sessionID, Payload: p})
	for _, res := range results {
		if res.Output.Blocks() && strings.TrimSpace(res.Output.Reason) != "" {
			return res.Output.Reason, true
		}
	}
	if err != nil {
		e.logger.Warn("stop hook failed", "error", err)
	}
	return "", false
}

// SubagentStop runs SubagentStop hooks. Failures are logged only.
func (e *Executor) SubagentStop(ctx context.Context, sessionID string, p events.SubagentStopPayload) {
	e.fireAndLog(ctx, events.Event{Type: events.SubagentStop, SessionID: sessionID, Payload: p})
}

func (e *Executor) fireAndLog(ctx context.Context, evt events.Event) {
	if _, err := e.Execute(ctx, evt); err != nil {
		e.logger.Warn("hook failed", "event", evt.Type, "error", err)
	}
}
