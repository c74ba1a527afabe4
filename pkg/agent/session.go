package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cexll/agentcore/pkg/core/failure"
	"github.com/cexll/agentcore/pkg/core/hooks"
	"github.com/cexll/agentcore/pkg/cost"
	"github.com/cexll/agentcore/pkg/event"
	"github.com/cexll/agentcore/pkg/mcp"
	"github.com/cexll/agentcore/pkg/model"
	"github.com/cexll/agentcore/pkg/plan"
	"github.com/cexll/agentcore/pkg/route"
	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/skills"
	"github.com/cexll/agentcore/pkg/subagents"
	"github.com/cexll/agentcore/pkg/tool"
	toolbuiltin "github.com/cexll/agentcore/pkg/tool/builtin"
)

// Options configures a Session.
type Options struct {
	SessionID   string
	ProjectRoot string
	// Sandbox defaults to one rooted at ProjectRoot.
	Sandbox  *security.Sandbox
	Backends *model.Registry
	// Registry may arrive pre-populated; built-in tools are added to it.
	Registry        *tool.Registry
	Builtins        toolbuiltin.Options
	DisableBuiltins bool
	Skills          *skills.Index
	Agents          *subagents.Catalog
	Routes          route.Table
	// Target overrides routing for the top-level conversation.
	Target      *route.Target
	Rules       *security.RuleSet
	Mode        security.Mode
	Approver    security.Approver
	AutoApprove bool
	System      string
	MaxTurns    int
	Compaction  Compaction
	Retry       Retry
	MaxTokens   int
	Hooks       hooks.Lifecycle
	Sink        event.Sink
	CostTable   *cost.Table
	Summarizer  Summarizer
	MCP         *mcp.Manager
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SessionID == "" {
		o.SessionID = uuid.NewString()
	}
	if o.Registry == nil {
		o.Registry = tool.NewRegistry()
	}
	if o.Skills == nil {
		o.Skills = skills.NewStaticIndex()
	}
	if o.Agents == nil {
		o.Agents = subagents.NewStaticCatalog()
	}
	if o.Rules == nil {
		o.Rules = security.MustCompileRules(security.RuleConfig{})
	}
	if o.Approver == nil {
		if o.AutoApprove {
			o.Approver = security.AutoApprover{}
		} else {
			o.Approver = security.DenyApprover{}
		}
	}
	if o.Hooks == nil {
		o.Hooks = hooks.Nop{}
	}
	if o.CostTable == nil {
		o.CostTable = cost.DefaultTable()
	}
	if o.Summarizer == nil {
		o.Summarizer = ExtractiveSummarizer{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Session owns the process-wide mutable state of one user session: the
// rule set, the active skills and the backend registry. Only the top-level
// conversation mutates it; subagents run from snapshots.
type Session struct {
	opts     Options
	sandbox  *security.Sandbox
	executor *tool.Executor
	active   *skills.ActiveSet
	runtime  *subagents.Runtime
	task     *toolbuiltin.TaskTool
	recorder *event.Recorder
	ledger   *cost.Ledger
	audit    *security.AuditLog
	logger   *slog.Logger

	mu      sync.Mutex
	rules   *security.RuleSet
	mode    security.Mode
	top     *Loop
	plan    plan.State
	servers []*mcp.Handle
}

// NewSession wires the tool registry, the subagent runtime and the
// delegation tool.
func NewSession(opts Options) (*Session, error) {
	opts = opts.withDefaults()
	if opts.Backends == nil {
		return nil, ErrNilBackends
	}
	sb := opts.Sandbox
	if sb == nil {
		root := opts.ProjectRoot
		if strings.TrimSpace(root) == "" {
			root = "."
		}
		var err error
		if sb, err = security.NewSandbox(root); err != nil {
			return nil, fmt.Errorf("agent: sandbox: %w", err)
		}
	}

	s := &Session{
		opts:     opts,
		sandbox:  sb,
		active:   skills.NewActiveSet(opts.Skills),
		task:     toolbuiltin.NewTaskTool(sb),
		recorder: event.NewRecorder(opts.Sink, opts.SessionID, sb.Root(), opts.Logger),
		ledger:   cost.NewLedger(opts.CostTable),
		audit:    &security.AuditLog{},
		logger:   opts.Logger,
		rules:    opts.Rules,
		mode:     opts.Mode,
	}
	if !opts.DisableBuiltins {
		builtins := opts.Builtins
		builtins.Task = s.task
		builtins.Skills = s.skillSet
		if err := toolbuiltin.Register(opts.Registry, sb, builtins); err != nil {
			return nil, fmt.Errorf("agent: register tools: %w", err)
		}
	}
	s.task.SetRunner(s.runTask)
	s.executor = tool.NewExecutor(opts.Registry, sb, tool.WithLogger(opts.Logger))
	s.runtime = subagents.NewRuntime(s,
		subagents.WithRoutes(opts.Routes),
		subagents.WithRecorder(s.recorder),
		subagents.WithHooks(opts.Hooks),
		subagents.WithLogger(opts.Logger),
	)
	return s, nil
}

// ID identifies the session.
func (s *Session) ID() string { return s.opts.SessionID }

// Sandbox is the path sandbox shared by every loop.
func (s *Session) Sandbox() *security.Sandbox { return s.sandbox }

// Executor is the tool executor shared by every loop.
func (s *Session) Executor() *tool.Executor { return s.executor }

// Skills is the top-level active skill set.
func (s *Session) Skills() *skills.ActiveSet { return s.active }

// Agents is the subagent catalog.
func (s *Session) Agents() *subagents.Catalog { return s.opts.Agents }

// Ledger is the session cost ledger, subagent usage included.
func (s *Session) Ledger() *cost.Ledger { return s.ledger }

// Audit is the permission audit trail.
func (s *Session) Audit() *security.AuditLog { return s.audit }

// Recorder stamps transcript events for this session.
func (s *Session) Recorder() *event.Recorder { return s.recorder }

// Mode returns the current permission mode.
func (s *Session) Mode() security.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode changes the permission mode for the next prompt.
func (s *Session) SetMode(m security.Mode) {
	s.mu.Lock()
	s.mode = m
	s.top = nil
	s.mu.Unlock()
}

// SetRules swaps the rule set for the next prompt. Running subagents keep
// the set they were spawned with.
func (s *Session) SetRules(rules *security.RuleSet) {
	if rules == nil {
		return
	}
	s.mu.Lock()
	s.rules = rules
	s.top = nil
	s.mu.Unlock()
}

// Loop returns the top-level conversation, creating it on first use.
// Changing mode, rules or the plan phase starts a fresh conversation.
func (s *Session) Loop() (*Loop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.top != nil {
		return s.top, nil
	}
	cfg := Config{
		SessionID:   s.opts.SessionID,
		System:      s.opts.System,
		Mode:        s.mode,
		Rules:       s.rules,
		Approver:    s.opts.Approver,
		AutoApprove: s.opts.AutoApprove,
		Target:      s.opts.Target,
		MaxTurns:    s.opts.MaxTurns,
		MayDelegate: true,
		Compaction:  s.opts.Compaction,
		Retry:       s.opts.Retry,
		MaxTokens:   s.opts.MaxTokens,
	}
	if s.plan.Phase == plan.PhasePlanning {
		cfg.System = joinPrompt(plan.SystemPrompt, s.opts.System)
		readOnly := tool.NewSet(plan.ReadOnlyTools...)
		cfg.Restriction = &readOnly
	}
	l, err := New(s.opts.Backends, s.executor, cfg, s.loopOptions(s.active, s.recorder, s.ledger)...)
	if err != nil {
		return nil, err
	}
	s.top = l
	return l, nil
}

// Run sends prompt to the top-level conversation. While planning, a
// completed reply that holds a plan moves the plan to review.
func (s *Session) Run(ctx context.Context, prompt string, opts ...RunOption) (*Outcome, error) {
	l, err := s.Loop()
	if err != nil {
		return nil, err
	}
	out, err := l.Run(ctx, prompt, opts...)
	if out != nil && out.Status == StatusCompleted {
		s.adoptPlan(l, out.Text)
	}
	return out, err
}

func (s *Session) loopOptions(active *skills.ActiveSet, rec *event.Recorder, ledger *cost.Ledger) []Option {
	return []Option{
		WithRoutes(s.opts.Routes),
		WithSkills(active),
		WithHooks(s.opts.Hooks),
		WithRecorder(rec),
		WithLedger(ledger),
		WithAudit(s.audit),
		WithSummarizer(s.opts.Summarizer),
		WithLogger(s.logger),
	}
}

// skillSet resolves the active set of the conversation making the call.
func (s *Session) skillSet(ctx context.Context) *skills.ActiveSet {
	if l, ok := FromContext(ctx); ok && l.skills != nil {
		return l.skills
	}
	return s.active
}

// runTask is the delegation tool's runner.
func (s *Session) runTask(ctx context.Context, req toolbuiltin.TaskRequest) (*tool.ToolResult, error) {
	parent, ok := FromContext(ctx)
	if !ok {
		return nil, errors.New("delegation requires a running conversation")
	}
	spec, err := s.opts.Agents.Get(req.Agent)
	if err != nil {
		return nil, err
	}
	prompt := subagents.ComposePrompt(req.Prompt, req.Files, req.Notes)
	res, err := s.runtime.Invoke(ctx, spec, prompt, parent.Snapshot())
	if failure.KindOf(err) == failure.KindRecursionDenied {
		return nil, err
	}
	parent.ledger.Merge(parent.state.Turn+1, res.Usage)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return &tool.ToolResult{Success: res.OK, Output: res.Render(), Data: res}, nil
}

// RunChild implements subagents.Runner with a fresh non-delegating loop.
func (s *Session) RunChild(ctx context.Context, child subagents.Child) (subagents.Outcome, error) {
	active := skills.NewActiveSet(s.opts.Skills)
	if child.Agent.Skill != "" {
		if _, err := active.Activate(child.Agent.Skill); err != nil {
			return subagents.Outcome{}, err
		}
	}
	restriction := child.Tools
	target := child.Target
	ledger := cost.NewLedger(s.opts.CostTable)
	l, err := New(s.opts.Backends, s.executor, Config{
		SessionID:   child.SessionID,
		System:      child.System,
		Mode:        child.Mode,
		Rules:       child.Rules,
		Approver:    child.Approver,
		Target:      &target,
		Identity:    child.Agent.Identity(),
		MaxTurns:    child.MaxTurns,
		MayDelegate: child.MayDelegate,
		Restriction: &restriction,
		Compaction:  s.opts.Compaction,
		Retry:       s.opts.Retry,
		MaxTokens:   s.opts.MaxTokens,
	}, s.loopOptions(active, s.recorder.WithSession(child.SessionID), ledger)...)
	if err != nil {
		return subagents.Outcome{}, err
	}
	out, runErr := l.Run(ctx, child.Prompt)
	if out == nil {
		return subagents.Outcome{}, runErr
	}
	res := subagents.Outcome{
		Text:            out.Text,
		Turns:           out.Turns,
		Status:          string(out.Status),
		Reason:          out.Reason,
		OK:              out.OK(),
		FilesReferenced: out.FilesReferenced,
		Usage:           ledger.Operations(),
	}
	if out.LastToolError != nil {
		res.LastError = &subagents.ErrorInfo{Kind: out.LastToolError.Kind, Message: out.LastToolError.Message}
	}
	return res, runErr
}

// ConnectMCP connects every server and registers its tools. A server that
// fails is logged and skipped; the joined errors are returned.
func (s *Session) ConnectMCP(ctx context.Context, specs []mcp.ServerSpec) error {
	if s.opts.MCP == nil || len(specs) == 0 {
		return nil
	}
	var errs []error
	for _, spec := range specs {
		h, err := s.opts.MCP.Connect(ctx, spec)
		if err == nil {
			var names []string
			names, err = s.opts.MCP.RegisterTools(ctx, s.opts.Registry, h)
			if err == nil {
				s.mu.Lock()
				s.servers = append(s.servers, h)
				s.mu.Unlock()
				s.recorder.Record(event.MCPConnect, event.MCPData{Server: spec.Name, Tools: names})
				continue
			}
			_ = s.opts.MCP.Disconnect(h)
		}
		s.recorder.Record(event.MCPConnect, event.MCPData{Server: spec.Name, Error: err.Error()})
		s.logger.Warn("mcp server unavailable", "server", spec.Name, "error", err)
		errs = append(errs, fmt.Errorf("mcp %s: %w", spec.Name, err))
	}
	return errors.Join(errs...)
}

// Close disconnects MCP servers.
func (s *Session) Close() error {
	s.mu.Lock()
	handles := s.servers
	s.servers = nil
	s.mu.Unlock()
	var errs []error
	for _, h := range handles {
		mcp.UnregisterTools(s.opts.Registry, h.Name())
		if err := s.opts.MCP.Disconnect(h); err != nil {
			errs = append(errs, err)
		}
		s.recorder.Record(event.MCPDisconnect, event.MCPData{Server: h.Name()})
	}
	return errors.Join(errs...)
}
