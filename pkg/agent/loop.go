package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cexll/agentcore/pkg/core/events"
	"github.com/cexll/agentcore/pkg/core/failure"
	"github.com/cexll/agentcore/pkg/core/hooks"
	"github.com/cexll/agentcore/pkg/cost"
	"github.com/cexll/agentcore/pkg/event"
	"github.com/cexll/agentcore/pkg/model"
	"github.com/cexll/agentcore/pkg/route"
	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/skills"
	"github.com/cexll/agentcore/pkg/subagents"
	"github.com/cexll/agentcore/pkg/telemetry"
	"github.com/cexll/agentcore/pkg/tool"
	toolbuiltin "github.com/cexll/agentcore/pkg/tool/builtin"
)

// DefaultMaxTurns caps backend round trips per prompt.
const DefaultMaxTurns = 12

var (
	ErrNilBackends = errors.New("agent: backend registry is nil")
	ErrNilExecutor = errors.New("agent: tool executor is nil")
	ErrBusy        = errors.New("agent: loop is already running")
)

// Config is the per-loop setup. It is fixed for the lifetime of the loop.
type Config struct {
	SessionID string
	System    string
	Mode      security.Mode
	Rules     *security.RuleSet
	Approver  security.Approver
	// AutoApprove is forwarded to subagents so their Ask decisions are
	// approved too.
	AutoApprove bool
	// Target, when set, wins over routing on every turn.
	Target *route.Target
	// Identity feeds category routing; nil routes to the category default.
	Identity    *route.Identity
	MaxTurns    int
	MayDelegate bool
	// Restriction further narrows the tool set. Nil means no restriction.
	Restriction *tool.Set
	Compaction  Compaction
	Retry       Retry
	MaxTokens   int
}

// Loop is one conversation. It is not safe for concurrent Run calls; a
// second concurrent Run fails with ErrBusy.
type Loop struct {
	cfg        Config
	backends   *model.Registry
	exec       *tool.Executor
	routes     route.Table
	skills     *skills.ActiveSet
	hooks      hooks.Lifecycle
	rec        *event.Recorder
	ledger     *cost.Ledger
	audit      *security.AuditLog
	summarizer Summarizer
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	pinned     bool
	files      map[string]struct{}
	lastTarget route.Target
	// limit narrows the tools for the Run in progress; nil outside a Run.
	limit []string
}

// RunOption adjusts a single Run call.
type RunOption func(*runOptions)

type runOptions struct {
	limit []string
}

// LimitTools narrows the tools offered during one Run to the names and
// "mcp.<server>.*" patterns given. Other restrictions still apply.
func LimitTools(patterns ...string) RunOption {
	return func(o *runOptions) { o.limit = append([]string{}, patterns...) }
}

// Option customises a Loop.
type Option func(*Loop)

// WithRoutes sets the routing table.
func WithRoutes(t route.Table) Option { return func(l *Loop) { l.routes = t } }

// WithSkills sets the active skill set whose restriction narrows the tools.
func WithSkills(s *skills.ActiveSet) Option { return func(l *Loop) { l.skills = s } }

// WithHooks sets the lifecycle hooks.
func WithHooks(h hooks.Lifecycle) Option {
	return func(l *Loop) {
		if h != nil {
			l.hooks = h
		}
	}
}

// WithRecorder sets the transcript recorder.
func WithRecorder(r *event.Recorder) Option { return func(l *Loop) { l.rec = r } }

// WithLedger sets the cost ledger.
func WithLedger(c *cost.Ledger) Option {
	return func(l *Loop) {
		if c != nil {
			l.ledger = c
		}
	}
}

// WithAudit sets the permission audit log.
func WithAudit(a *security.AuditLog) Option { return func(l *Loop) { l.audit = a } }

// WithSummarizer replaces the compaction summarizer.
func WithSummarizer(s Summarizer) Option {
	return func(l *Loop) {
		if s != nil {
			l.summarizer = s
		}
	}
}

// WithLogger sets the loop logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loop) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// New builds a loop over backends and exec.
func New(backends *model.Registry, exec *tool.Executor, cfg Config, opts ...Option) (*Loop, error) {
	if backends == nil {
		return nil, ErrNilBackends
	}
	if exec == nil {
		return nil, ErrNilExecutor
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Retry == (Retry{}) {
		cfg.Retry = DefaultRetry
	}
	if cfg.Approver == nil {
		cfg.Approver = security.DenyApprover{}
	}
	l := &Loop{
		cfg:        cfg,
		backends:   backends,
		exec:       exec,
		hooks:      hooks.Nop{},
		ledger:     cost.NewLedger(nil),
		summarizer: ExtractiveSummarizer{},
		logger:     slog.Default(),
		files:      map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.state = State{
		Mode:        cfg.Mode,
		MayDelegate: cfg.MayDelegate,
		Status:      StatusRunning,
	}
	if cfg.System != "" {
		l.state.Chars = len(cfg.System)
	}
	return l, nil
}

// SessionID identifies the conversation in events and hooks.
func (l *Loop) SessionID() string { return l.cfg.SessionID }

// Ledger returns the loop's cost ledger.
func (l *Loop) Ledger() *cost.Ledger { return l.ledger }

// State returns a copy of the current state.
func (l *Loop) State() State {
	st := l.state
	st.Messages = append([]model.Message(nil), l.state.Messages...)
	return st
}

// EffectiveTools is the registry intersected with the active skill
// restriction, the loop restriction and the limit of the Run in progress.
// The skill-switching tools survive a skill restriction. Delegation is
// dropped when the loop may not delegate.
func (l *Loop) EffectiveTools() tool.Set {
	set := tool.NewSet(l.exec.Registry().Names()...)
	if l.skills != nil {
		if allowed := l.skills.EffectiveAllowedTools(); allowed != nil {
			set = set.Select(append(allowed, skills.ActivateTool, skills.DeactivateTool)...)
		}
	}
	if l.cfg.Restriction != nil {
		set = set.Intersect(*l.cfg.Restriction)
	}
	if l.limit != nil {
		set = set.Select(l.limit...)
	}
	if !l.cfg.MayDelegate {
		set = set.Filter(func(name string) bool { return name != subagents.DelegationTool })
	}
	return set
}

// Snapshot is the immutable view a subagent is spawned from.
func (l *Loop) Snapshot() subagents.Parent {
	target := l.state.Target
	if target.IsZero() {
		target = l.resolveTarget().Target
	}
	return subagents.Parent{
		SessionID:   l.cfg.SessionID,
		Mode:        l.state.Mode,
		Tools:       l.EffectiveTools(),
		Rules:       l.cfg.Rules,
		Target:      target,
		MayDelegate: l.state.MayDelegate,
		AutoApprove: l.cfg.AutoApprove,
	}
}

// run holds what one Run call accumulates.
type run struct {
	text    string
	usage   model.TokenUsage
	lastErr *ToolFailure
	started time.Time
}

// Run sends prompt and drives the loop until it is terminal. A non-nil
// error accompanies StatusFatal; TurnLimitExceeded is reported through the
// outcome only.
func (l *Loop) Run(ctx context.Context, prompt string, opts ...RunOption) (out *Outcome, err error) {
	if !l.mu.TryLock() {
		return nil, ErrBusy
	}
	defer l.mu.Unlock()
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	l.limit = ro.limit
	defer func() { l.limit = nil }()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, failure.New(failure.KindInvalidArgument, "prompt is empty")
	}
	ctx = withLoop(ctx, l)
	ctx, span := telemetry.StartSpan(ctx, "agent.run")
	span.SetAttributes(telemetry.SanitizeAttributes(
		attribute.String("session.id", l.cfg.SessionID),
		attribute.String("permission.mode", l.state.Mode.String()),
		attribute.Bool("agent.may_delegate", l.state.MayDelegate),
	)...)
	defer func() {
		if out != nil {
			span.SetAttributes(attribute.String("agent.status", string(out.Status)), attribute.Int("agent.turns", out.Turns))
		}
		telemetry.EndSpan(span, err)
	}()

	r := &run{started: time.Now()}
	l.state.Turn = 0
	l.state.Status = StatusRunning
	l.closeInterrupted()

	if err := l.hooks.UserPromptSubmit(ctx, l.cfg.SessionID, events.UserPromptPayload{Prompt: prompt}); err != nil {
		return l.finish(r, StatusFatal, "prompt blocked by hook", err)
	}
	l.pushUser(prompt)

	for {
		status, reason, stepErr := l.step(ctx, r)
		if status == StatusRunning {
			continue
		}
		if status == StatusCompleted {
			next, resume := l.hooks.Stop(ctx, l.cfg.SessionID, events.StopPayload{
				Status:      string(status),
				LastMessage: r.text,
			})
			if resume && strings.TrimSpace(next) != "" && l.state.Turn < l.cfg.MaxTurns {
				l.logger.Info("stop hook resumed the conversation", "session_id", l.cfg.SessionID, "turn", l.state.Turn)
				l.pushUser(next)
				continue
			}
		} else {
			l.hooks.Stop(ctx, l.cfg.SessionID, events.StopPayload{Status: string(status), Reason: reason, LastMessage: r.text})
		}
		return l.finish(r, status, reason, stepErr)
	}
}

// closeInterrupted answers the calls of the last assistant message that an
// earlier, cancelled run never started. Backends reject a tool call without
// a result, and a started call always has exactly one already.
func (l *Loop) closeInterrupted() {
	msgs := l.state.Messages
	last := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 || len(msgs[last].ToolCalls) == 0 {
		return
	}
	answered := make(map[string]bool, len(msgs[last].ToolCalls))
	for _, m := range msgs[last+1:] {
		if m.Role == model.RoleTool {
			answered[m.ToolCallID] = true
		}
	}
	for _, call := range msgs[last].ToolCalls {
		if answered[call.ID] {
			continue
		}
		const reason = "interrupted before it ran"
		l.state.append(model.Message{
			Role:       model.RoleTool,
			Content:    fmt.Sprintf("error (%s): %s", failure.KindInterrupted, reason),
			ToolCallID: call.ID,
			ToolName:   call.Name,
			IsError:    true,
		})
		l.rec.Record(event.ToolResult, event.ToolResultData{
			CallID:  call.ID,
			Tool:    call.Name,
			Kind:    string(failure.KindInterrupted),
			Content: reason,
		})
		l.logger.Debug("closed interrupted tool call", "session_id", l.cfg.SessionID, "tool", call.Name, "call_id", call.ID)
	}
}

func (l *Loop) pushUser(content string) {
	msg := model.Message{Role: model.RoleUser, Content: content}
	if !l.pinned {
		msg.Pinned = true
		l.pinned = true
	}
	l.state.append(msg)
	l.rec.Record(event.UserMessage, event.MessageData{Role: msg.Role, Content: event.Clip(content, 4000), Turn: l.state.Turn})
}

// step runs one turn and returns the resulting status. StatusRunning means
// another turn follows.
func (l *Loop) step(ctx context.Context, r *run) (Status, string, error) {
	if err := ctx.Err(); err != nil {
		return StatusFatal, "interrupted", err
	}
	turn := l.state.Turn + 1
	ctx, span := telemetry.StartSpan(ctx, "agent.turn")
	span.SetAttributes(attribute.Int("agent.turn", turn))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	if err := l.maybeCompact(ctx); err != nil {
		l.logger.Warn("compaction failed", "session_id", l.cfg.SessionID, "error", err)
	}

	res := l.resolveTarget()
	if res.Target.IsZero() {
		spanErr = failure.New(failure.KindNotFound, "no target configured for category %q", res.Category)
		return StatusFatal, "no target", spanErr
	}
	if res.Target != l.lastTarget {
		l.rec.Record(event.TargetResolution, event.TargetData{
			Target:   res.Target.String(),
			Category: string(res.Category),
			Source:   string(res.Source),
		})
		l.lastTarget = res.Target
	}
	l.state.Target = res.Target
	backend, err := l.backends.Get(res.Target.Backend)
	if err != nil {
		spanErr = err
		l.recordError(err)
		return StatusFatal, err.Error(), err
	}

	tools := l.EffectiveTools()
	req := model.Request{
		Model:     res.Target.Model,
		System:    l.cfg.System,
		Messages:  append([]model.Message(nil), l.state.Messages...),
		Tools:     l.exec.Registry().Definitions(tools),
		MaxTokens: l.cfg.MaxTokens,
	}
	resp, err := l.send(ctx, backend, req)
	if err != nil {
		spanErr = err
		if ctx.Err() != nil {
			return StatusFatal, "interrupted", ctx.Err()
		}
		err = failure.Wrap(failure.KindBackend, err, "backend %s", backend.Name())
		l.recordError(err)
		return StatusFatal, err.Error(), err
	}
	op := l.ledger.Record(turn, res.Target.Model, resp.Usage)
	r.usage.Add(resp.Usage)
	l.logger.Debug("backend turn", "session_id", l.cfg.SessionID, "turn", turn, "target", res.Target.String(),
		"input_tokens", op.InputTokens, "output_tokens", op.OutputTokens, "cost", cost.Format(op.CostUSD))

	assistant := resp.Message
	assistant.Role = model.RoleAssistant
	assistant.Pinned = false
	for i := range assistant.ToolCalls {
		if assistant.ToolCalls[i].ID == "" {
			assistant.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}
	l.state.append(assistant)
	if text := strings.TrimSpace(assistant.Content); text != "" {
		r.text = text
	}
	l.rec.Record(event.AssistantMessage, event.MessageData{Role: assistant.Role, Content: event.Clip(assistant.Content, 4000), Turn: turn})

	if len(assistant.ToolCalls) == 0 {
		l.state.Turn = turn
		return StatusCompleted, "", nil
	}

	for _, call := range assistant.ToolCalls {
		if err := ctx.Err(); err != nil {
			l.state.Turn = turn
			spanErr = err
			return StatusFatal, "interrupted", err
		}
		result := l.dispatch(ctx, call, tools, turn)
		if !result.OK {
			r.lastErr = &ToolFailure{Tool: result.Name, Kind: string(result.Kind), Message: result.Content}
		}
	}

	l.state.Turn = turn
	if l.state.Turn >= l.cfg.MaxTurns {
		return StatusTurnLimitExceeded, fmt.Sprintf("reached max turns (%d)", l.cfg.MaxTurns), nil
	}
	return StatusRunning, "", nil
}

func (l *Loop) send(ctx context.Context, backend model.Backend, req model.Request) (resp *model.Response, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.send")
	span.SetAttributes(telemetry.SanitizeAttributes(
		attribute.String("model.backend", backend.Name()),
		attribute.String("model.name", req.Model),
		attribute.Int("model.tools", len(req.Tools)),
	)...)
	defer func() { telemetry.EndSpan(span, err) }()
	resp, attempts, err := l.cfg.Retry.send(ctx, backend, req, l.logger)
	span.SetAttributes(attribute.Int("model.attempts", attempts))
	return resp, err
}

func (l *Loop) resolveTarget() route.Resolution {
	return route.Resolve(l.cfg.Target, l.cfg.Identity, l.routes)
}

func (l *Loop) maybeCompact(ctx context.Context) error {
	msgs, data, changed, err := compact(ctx, l.cfg.Compaction, l.summarizer, l.state.Messages)
	if err != nil || !changed {
		return err
	}
	l.state.Messages = msgs
	l.state.recount()
	if l.cfg.System != "" {
		l.state.Chars += len(l.cfg.System)
	}
	l.rec.Record(event.Compaction, data)
	l.logger.Info("history compacted", "session_id", l.cfg.SessionID, "removed", data.Removed,
		"chars_before", data.CharsBefore, "chars_after", data.CharsAfter)
	return nil
}

// dispatch runs one call through the executor and appends exactly one
// tool message for it.
func (l *Loop) dispatch(ctx context.Context, call model.ToolCall, tools tool.Set, turn int) tool.Result {
	l.rec.Record(event.ToolCall, event.ToolCallData{CallID: call.ID, Tool: call.Name, Params: call.Arguments, Turn: turn})
	scope := tool.Scope{
		SessionID: l.cfg.SessionID,
		Allowed:   tools,
		Mode:      l.state.Mode,
		Rules:     l.cfg.Rules,
		Approver:  l.cfg.Approver,
		Audit:     l.audit,
		OnAsk: func(d security.Decision) {
			l.state.Status = StatusAwaitingApproval
			l.logger.Info("awaiting approval", "session_id", l.cfg.SessionID, "tool", d.Tool, "target", d.Target)
		},
		OnDecision: func(d security.Decision, a *security.ApprovalRecord) {
			l.state.Status = StatusRunning
			data := event.PolicyDecisionData{
				Tool:     d.Tool,
				Decision: d.Action.String(),
				Rule:     d.Rule,
				Source:   d.Source,
				Target:   d.Target,
				Mode:     d.Mode.String(),
			}
			if a != nil {
				data.Approval = string(a.State)
				data.AutoApproved = a.AutoApproved
			}
			l.rec.Record(event.PolicyDecision, data)
		},
		BeforeExecute: func(ctx context.Context, c tool.Call) error {
			return l.hooks.PreToolUse(ctx, l.cfg.SessionID, events.ToolUsePayload{CallID: c.ID, Name: c.Name, Params: c.Params})
		},
	}
	var res tool.Result
	if call.Name == subagents.DelegationTool && !l.cfg.MayDelegate {
		// Task is hidden from nested loops; a call to it anyway is recursion.
		res = tool.Result{
			CallID:  call.ID,
			Name:    call.Name,
			Kind:    failure.KindRecursionDenied,
			Content: "delegation is not available inside a subagent",
		}
	} else {
		res = l.exec.Dispatch(ctx, scope, tool.Call{ID: call.ID, Name: call.Name, Params: call.Arguments})
	}

	content := res.Content
	if res.OK && content == "" {
		content = "(no output)"
	}
	if !res.OK {
		content = fmt.Sprintf("error (%s): %s", res.Kind, content)
	}
	l.state.append(model.Message{
		Role:       model.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    !res.OK,
	})
	l.rec.Record(event.ToolResult, event.ToolResultData{
		CallID:     call.ID,
		Tool:       call.Name,
		OK:         res.OK,
		Kind:       string(res.Kind),
		Content:    event.Clip(res.Content, 4000),
		Truncated:  res.Truncated,
		DurationMS: res.Duration.Milliseconds(),
	})
	l.hooks.PostToolUse(ctx, l.cfg.SessionID, events.ToolResultPayload{
		CallID:   call.ID,
		Name:     call.Name,
		Params:   call.Arguments,
		OK:       res.OK,
		Kind:     string(res.Kind),
		Content:  res.Content,
		Duration: res.Duration,
	})
	if res.OK {
		l.track(call, res)
	}
	return res
}

// track notes referenced files and skill changes of a successful call.
func (l *Loop) track(call model.ToolCall, res tool.Result) {
	if change, ok := res.Data.(toolbuiltin.SkillChange); ok && change.Changed {
		typ := event.SkillActivate
		if call.Name == skills.DeactivateTool {
			typ = event.SkillDeactivate
		}
		l.rec.Record(typ, event.SkillData{Skill: change.Skill, Active: change.Active})
	}
	if sub, ok := res.Data.(subagents.Result); ok {
		l.noteFiles(sub.FilesReferenced...)
		return
	}
	impl, err := l.exec.Registry().Get(call.Name)
	if err != nil {
		return
	}
	pt, ok := impl.(tool.PathTool)
	if !ok {
		return
	}
	sb := l.exec.Sandbox()
	for _, key := range pt.PathParams() {
		raw, ok := call.Arguments[key].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if sb == nil {
			l.noteFiles(raw)
			continue
		}
		if abs, err := sb.Resolve(raw); err == nil {
			l.noteFiles(sb.Rel(abs))
		}
	}
}

func (l *Loop) noteFiles(paths ...string) {
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" && p != "." {
			l.files[p] = struct{}{}
		}
	}
}

// FilesReferenced lists the project files touched so far, sorted.
func (l *Loop) FilesReferenced() []string {
	out := make([]string, 0, len(l.files))
	for p := range l.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (l *Loop) recordError(err error) {
	l.rec.Record(event.Error, event.ErrorData{Kind: string(failure.KindOf(err)), Message: err.Error()})
}

func (l *Loop) finish(r *run, status Status, reason string, err error) (*Outcome, error) {
	l.state.Status = status
	if reason == "" && err != nil {
		reason = err.Error()
	}
	l.rec.Record(event.TurnStatus, event.TurnStatusData{Turn: l.state.Turn, Status: string(status), Reason: reason})
	out := &Outcome{
		Status:          status,
		Text:            r.text,
		Reason:          reason,
		Turns:           l.state.Turn,
		Target:          l.state.Target,
		Messages:        append([]model.Message(nil), l.state.Messages...),
		Usage:           r.usage,
		Cost:            l.ledger.Summary(),
		FilesReferenced: l.FilesReferenced(),
		LastToolError:   r.lastErr,
	}
	l.logger.Info("conversation finished", "session_id", l.cfg.SessionID, "status", string(status),
		"turns", out.Turns, "duration", time.Since(r.started), "cost", cost.Format(out.Cost.CostUSD))
	if status == StatusFatal {
		if err == nil {
			err = errors.New(reason)
		}
		return out, err
	}
	if status == StatusTurnLimitExceeded {
		l.logger.Warn("turn limit reached", "session_id", l.cfg.SessionID, "max_turns", l.cfg.MaxTurns)
	}
	return out, nil
}

type loopKey struct{}

func withLoop(ctx context.Context, l *Loop) context.Context {
	return context.WithValue(ctx, loopKey{}, l)
}

// FromContext returns the loop driving the current tool call.
func FromContext(ctx context.Context) (*Loop, bool) {
	l, ok := ctx.Value(loopKey{}).(*Loop)
	return l, ok && l != nil
}
