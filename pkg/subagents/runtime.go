package subagents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cexll/agentcore/pkg/core/events"
	"github.com/cexll/agentcore/pkg/core/failure"
	"github.com/cexll/agentcore/pkg/core/hooks"
	"github.com/cexll/agentcore/pkg/cost"
	"github.com/cexll/agentcore/pkg/event"
	"github.com/cexll/agentcore/pkg/route"
	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/telemetry"
	"github.com/cexll/agentcore/pkg/tool"
)

// DelegationTool is the tool name children never receive.
const DelegationTool = "Task"

// Parent is the immutable snapshot of the delegating conversation taken at
// spawn time.
type Parent struct {
	SessionID   string
	Mode        security.Mode
	Tools       tool.Set
	Rules       *security.RuleSet
	Target      route.Target
	MayDelegate bool
	AutoApprove bool
}

// Child is everything a Runner needs to build the child conversation.
type Child struct {
	Agent           AgentSpec
	SessionID       string
	ParentSessionID string
	System          string
	Prompt          string
	Mode            security.Mode
	Tools           tool.Set
	Rules           *security.RuleSet
	Approver        security.Approver
	Target          route.Target
	MaxTurns        int
	// MayDelegate is always false: delegation depth is one.
	MayDelegate bool
}

// Outcome is what a Runner reports once the child is terminal.
type Outcome struct {
	Text            string
	Turns           int
	Status          string
	Reason          string
	OK              bool
	FilesReferenced []string
	LastError       *ErrorInfo
	Usage           []cost.Operation
}

// Runner executes a child conversation to completion.
type Runner interface {
	RunChild(ctx context.Context, child Child) (Outcome, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, child Child) (Outcome, error)

// RunChild implements Runner.
func (fn RunnerFunc) RunChild(ctx context.Context, child Child) (Outcome, error) {
	if fn == nil {
		return Outcome{}, errors.New("subagents: runner func is nil")
	}
	return fn(ctx, child)
}

// ErrorInfo is the last failure a child hit.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result is all a parent ever sees of a child run.
type Result struct {
	Agent           string           `json:"agent"`
	OK              bool             `json:"ok"`
	Text            string           `json:"text"`
	Turns           int              `json:"turns"`
	Status          string           `json:"status"`
	Reason          string           `json:"reason,omitempty"`
	Mode            string           `json:"mode"`
	Tools           []string         `json:"tools"`
	Target          string           `json:"target,omitempty"`
	FilesReferenced []string         `json:"files_referenced,omitempty"`
	Error           *ErrorInfo       `json:"error,omitempty"`
	Usage           []cost.Operation `json:"-"`
	Duration        time.Duration    `json:"-"`
}

// Runtime builds and runs subagents.
type Runtime struct {
	runner   Runner
	routes   route.Table
	recorder *event.Recorder
	hooks    hooks.Lifecycle
	logger   *slog.Logger
}

// Option customises a Runtime.
type Option func(*Runtime)

// WithRoutes sets the routing table consulted for agents without an
// explicit target.
func WithRoutes(t route.Table) Option {
	return func(r *Runtime) { r.routes = t }
}

// WithRecorder sends subagent and target events to rec.
func WithRecorder(rec *event.Recorder) Option {
	return func(r *Runtime) { r.recorder = rec }
}

// WithHooks runs SubagentStop hooks through h.
func WithHooks(h hooks.Lifecycle) Option {
	return func(r *Runtime) {
		if h != nil {
			r.hooks = h
		}
	}
}

// WithLogger sets the runtime logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRuntime builds a runtime around runner.
func NewRuntime(runner Runner, opts ...Option) *Runtime {
	r := &Runtime{runner: runner, hooks: hooks.Nop{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan derives the child configuration from spec and the parent snapshot
// without running anything. It fails with RecursionDenied when the parent
// may not delegate.
func (r *Runtime) Plan(spec AgentSpec, prompt string, parent Parent) (Child, route.Resolution, error) {
	if !parent.MayDelegate {
		return Child{}, route.Resolution{}, failure.New(failure.KindRecursionDenied, "agent %q cannot be invoked: delegation is not allowed here", spec.Name)
	}
	spec = spec.withDefaults()
	table := r.routes
	if !parent.Target.IsZero() {
		table.Global = parent.Target
	}
	res := route.Resolve(spec.Target, spec.Identity(), table)

	var approver security.Approver = security.DenyApprover{Reason: "subagents cannot ask for approval"}
	if parent.AutoApprove {
		approver = security.AutoApprover{}
	}
	tools := parent.Tools.Select(spec.AllowedTools...).Filter(func(name string) bool {
		return name != DelegationTool
	})
	child := Child{
		Agent:           spec,
		SessionID:       parent.SessionID + "/" + spec.Name + "-" + uuid.NewString()[:8],
		ParentSessionID: parent.SessionID,
		System:          spec.SystemPrompt,
		Prompt:          prompt,
		Mode:            security.MinMode(spec.Mode, parent.Mode),
		Tools:           tools,
		Rules:           parent.Rules,
		Approver:        approver,
		Target:          res.Target,
		MaxTurns:        spec.MaxTurns,
		MayDelegate:     false,
	}
	return child, res, nil
}

// Invoke runs spec to completion and returns its condensed result. The
// parent step blocks until the child is terminal. A RecursionDenied error
// is returned without running anything.
func (r *Runtime) Invoke(ctx context.Context, spec AgentSpec, prompt string, parent Parent) (res Result, err error) {
	child, resolution, err := r.Plan(spec, prompt, parent)
	if err != nil {
		r.logger.Warn("subagent refused", "agent", spec.Name, "error", err)
		return Result{Agent: spec.Name, Error: errorInfo(err)}, err
	}
	if r.runner == nil {
		return Result{Agent: spec.Name}, errors.New("subagents: runtime has no runner")
	}

	ctx, span := telemetry.StartSpan(ctx, "subagent.invoke")
	span.SetAttributes(telemetry.SanitizeAttributes(
		attribute.String("subagent.name", child.Agent.Name),
		attribute.String("subagent.mode", child.Mode.String()),
		attribute.String("subagent.target", child.Target.String()),
	)...)
	defer func() { telemetry.EndSpan(span, err) }()

	rec := r.recorder
	rec.Record(event.TargetResolution, event.TargetData{
		Target:   resolution.Target.String(),
		Category: string(resolution.Category),
		Source:   string(resolution.Source),
		Agent:    child.Agent.Name,
	})
	rec.Record(event.SubagentStart, event.SubagentData{
		Agent:  child.Agent.Name,
		Mode:   child.Mode.String(),
		Tools:  child.Tools.Names(),
		Target: child.Target.String(),
	})
	r.logger.Info("subagent start", "agent", child.Agent.Name, "mode", child.Mode.String(),
		"requested_mode", child.Agent.Mode.String(), "parent_mode", parent.Mode.String(),
		"tools", child.Tools.Names(), "target", child.Target.String())

	started := time.Now()
	out, runErr := r.runner.RunChild(ctx, child)
	res = Result{
		Agent:           child.Agent.Name,
		OK:              out.OK && runErr == nil,
		Text:            out.Text,
		Turns:           out.Turns,
		Status:          out.Status,
		Reason:          out.Reason,
		Mode:            child.Mode.String(),
		Tools:           child.Tools.Names(),
		Target:          child.Target.String(),
		FilesReferenced: out.FilesReferenced,
		Error:           out.LastError,
		Usage:           out.Usage,
		Duration:        time.Since(started),
	}
	if runErr != nil {
		res.Error = errorInfo(runErr)
		if res.Reason == "" {
			res.Reason = runErr.Error()
		}
	}

	rec.Record(event.SubagentEnd, event.SubagentData{
		Agent:      res.Agent,
		Mode:       res.Mode,
		Target:     res.Target,
		Reason:     res.Reason,
		OK:         res.OK,
		Turns:      res.Turns,
		DurationMS: res.Duration.Milliseconds(),
	})
	r.hooks.SubagentStop(ctx, parent.SessionID, events.SubagentStopPayload{
		Name:   res.Agent,
		Reason: res.Reason,
		OK:     res.OK,
		Turns:  res.Turns,
	})
	r.logger.Info("subagent end", "agent", res.Agent, "ok", res.OK, "turns", res.Turns, "status", res.Status, "duration", res.Duration)
	return res, runErr
}

func errorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	kind := failure.KindOf(err)
	if kind == failure.KindNone {
		kind = failure.KindToolExecution
	}
	return &ErrorInfo{Kind: string(kind), Message: err.Error()}
}

// ComposePrompt appends delegation notes and file hints to prompt.
func ComposePrompt(prompt string, files []string, notes string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(prompt))
	if notes = strings.TrimSpace(notes); notes != "" {
		fmt.Fprintf(&b, "\n\nNotes: %s", notes)
	}
	if len(files) > 0 {
		b.WriteString("\n\nRelevant files:")
		for _, f := range files {
			fmt.Fprintf(&b, "\n- %s", f)
		}
	}
	return b.String()
}

// Render formats res as the content of the delegating tool call.
func (res Result) Render() string {
	var b strings.Builder
	status := res.Status
	if status == "" {
		status = "unknown"
	}
	fmt.Fprintf(&b, "[subagent %s: %s after %d turn(s)]\n", res.Agent, status, res.Turns)
	if text := strings.TrimSpace(res.Text); text != "" {
		b.WriteString(text)
		b.WriteString("\n")
	}
	if len(res.FilesReferenced) > 0 {
		fmt.Fprintf(&b, "Files referenced: %s\n", strings.Join(res.FilesReferenced, ", "))
	}
	if res.Error != nil {
		fmt.Fprintf(&b, "Last error (%s): %s\n", res.Error.Kind, res.Error.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}
