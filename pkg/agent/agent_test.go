package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cexll/agentcore/pkg/core/events"
	"github.com/cexll/agentcore/pkg/core/failure"
	"github.com/cexll/agentcore/pkg/core/hooks"
	"github.com/cexll/agentcore/pkg/event"
	"github.com/cexll/agentcore/pkg/model"
	"github.com/cexll/agentcore/pkg/route"
	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/skills"
	"github.com/cexll/agentcore/pkg/subagents"
	"github.com/cexll/agentcore/pkg/tool"
)

type reply func(model.Request) (*model.Response, error)

// scriptedBackend answers requests from a queue and records them.
type scriptedBackend struct {
	mu       sync.Mutex
	name     string
	replies  []reply
	requests []model.Request
}

func newScripted(replies ...reply) *scriptedBackend {
	return &scriptedBackend{name: "fake", replies: replies}
}

func (b *scriptedBackend) Name() string { return b.name }

func (b *scriptedBackend) Send(ctx context.Context, req model.Request) (*model.Response, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	if len(b.replies) == 0 {
		b.mu.Unlock()
		return text("out of script"), nil
	}
	next := b.replies[0]
	if len(b.replies) > 1 {
		b.replies = b.replies[1:]
	}
	b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return next(req)
}

func (b *scriptedBackend) Requests() []model.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Request(nil), b.requests...)
}

func text(content string) *model.Response {
	return &model.Response{
		Message: model.Message{Role: model.RoleAssistant, Content: content},
		Usage:   model.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}
}

func calls(cs ...model.ToolCall) *model.Response {
	return &model.Response{
		Message: model.Message{Role: model.RoleAssistant, ToolCalls: cs},
		Usage:   model.TokenUsage{InputTokens: 100, OutputTokens: 10},
	}
}

func say(content string) reply {
	return func(model.Request) (*model.Response, error) { return text(content), nil }
}

func use(cs ...model.ToolCall) reply {
	return func(model.Request) (*model.Response, error) { return calls(cs...), nil }
}

func newTestSession(t *testing.T, backend model.Backend, mutate func(*Options)) *Session {
	t.Helper()
	backends := model.NewRegistry()
	require.NoError(t, backends.Register(backend))
	opts := Options{
		SessionID:   "test-session",
		ProjectRoot: t.TempDir(),
		Backends:    backends,
		Target:      &route.Target{Model: "gpt-4o", Backend: backend.Name()},
		Retry:       Retry{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Sink:        event.NewMemorySink(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewSession(opts)
	require.NoError(t, err)
	return s
}

func sinkOf(s *Session) *event.MemorySink {
	return s.opts.Sink.(*event.MemorySink)
}

func toolMessages(msgs []model.Message) []model.Message {
	var out []model.Message
	for _, m := range msgs {
		if m.Role == model.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

func TestRunCompletesWithoutTools(t *testing.T) {
	backend := newScripted(say("hello there"))
	s := newTestSession(t, backend, nil)

	out, err := s.Run(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, out.Status)
	require.True(t, out.OK())
	require.Equal(t, "hello there", out.Text)
	require.Equal(t, 1, out.Turns)
	require.Equal(t, 100, out.Usage.InputTokens)
	require.Greater(t, out.Cost.CostUSD, 0.0)

	require.Len(t, out.Messages, 2)
	require.True(t, out.Messages[0].Pinned)

	require.Equal(t, []event.Type{
		event.UserMessage, event.TargetResolution, event.AssistantMessage, event.TurnStatus,
	}, sinkOf(s).Types())

	req := backend.Requests()[0]
	require.Equal(t, "gpt-4o", req.Model)
	names := []string{}
	for _, def := range req.Tools {
		names = append(names, def.Name)
	}
	require.Contains(t, names, "Read")
	require.Contains(t, names, "Task")
}

func TestRunEmptyPrompt(t *testing.T) {
	s := newTestSession(t, newScripted(), nil)
	_, err := s.Run(context.Background(), "  ")
	require.Equal(t, failure.KindInvalidArgument, failure.KindOf(err))
}

func TestToolCallsRunInEmissionOrder(t *testing.T) {
	backend := newScripted(
		use(
			model.ToolCall{ID: "c1", Name: "Write", Arguments: map[string]any{"path": "notes.txt", "content": "alpha\n"}},
			model.ToolCall{ID: "c2", Name: "Read", Arguments: map[string]any{"path": "notes.txt"}},
		),
		say("done"),
	)
	s := newTestSession(t, backend, func(o *Options) { o.Mode = security.ModeAcceptEdits })

	out, err := s.Run(context.Background(), "write then read")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, 2, out.Turns)

	results := toolMessages(out.Messages)
	require.Len(t, results, 2)
	require.Equal(t, "c1", results[0].ToolCallID)
	require.Equal(t, "c2", results[1].ToolCallID)
	require.False(t, results[1].IsError)
	require.Contains(t, results[1].Content, "alpha")
	require.Equal(t, []string{"notes.txt"}, out.FilesReferenced)

	data, err := os.ReadFile(filepath.Join(s.Sandbox().Root(), "notes.txt"))
	require.NoError(t, err)
	require.Equal(t, "alpha\n", string(data))

	second := backend.Requests()[1]
	require.Len(t, toolMessages(second.Messages), 2)
}

func TestAskRejectedIsNotFatal(t *testing.T) {
	backend := newScripted(
		use(model.ToolCall{ID: "c1", Name: "Bash", Arguments: map[string]any{"command": "echo hi"}}),
		say("could not run it"),
	)
	s := newTestSession(t, backend, nil)

	out, err := s.Run(context.Background(), "run echo")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, out.Status)
	results := toolMessages(out.Messages)
	require.Len(t, results, 1)
	require.True(t, results[0].IsError)
	require.Contains(t, results[0].Content, string(failure.KindPolicyAskRejected))
	require.NotNil(t, out.LastToolError)
	require.Equal(t, "Bash", out.LastToolError.Tool)

	decisions := sinkOf(s).OfType(event.PolicyDecision)
	require.Len(t, decisions, 1)
	require.Equal(t, "ask", decisions[0].Data.(event.PolicyDecisionData).Decision)
	require.Len(t, s.Audit().Entries(), 1)
}

func TestBuiltinDenyFloorHolds(t *testing.T) {
	backend := newScripted(
		use(model.ToolCall{ID: "c1", Name: "Bash", Arguments: map[string]any{"command": "curl https://example.com"}}),
		say("ok"),
	)
	s := newTestSession(t, backend, func(o *Options) {
		o.Mode = security.ModeBypassPermissions
		o.AutoApprove = true
	})
	out, err := s.Run(context.Background(), "fetch")
	require.NoError(t, err)
	results := toolMessages(out.Messages)
	require.Contains(t, results[0].Content, string(failure.KindPolicyDenied))
}

func TestSkillRestrictionNarrowsTools(t *testing.T) {
	index := skills.NewStaticIndex(skills.Spec{Name: "reader", AllowedTools: []string{"Read", "DeactivateSkill"}})
	backend := newScripted(
		use(model.ToolCall{ID: "c1", Name: "Write", Arguments: map[string]any{"path": "x.txt", "content": "x"}}),
		say("blocked"),
	)
	s := newTestSession(t, backend, func(o *Options) {
		o.Skills = index
		o.Mode = security.ModeBypassPermissions
	})
	_, err := s.Skills().Activate("reader")
	require.NoError(t, err)

	out, err := s.Run(context.Background(), "write x")
	require.NoError(t, err)
	results := toolMessages(out.Messages)
	require.Contains(t, results[0].Content, string(failure.KindCapabilityDenied))

	var names []string
	for _, def := range backend.Requests()[0].Tools {
		names = append(names, def.Name)
	}
	require.Equal(t, []string{"ActivateSkill", "DeactivateSkill", "Read"}, names)
}

func TestRestrictedSkillCanAlwaysBeLeft(t *testing.T) {
	index := skills.NewStaticIndex(skills.Spec{Name: "reader", AllowedTools: []string{"Read", "Grep"}})
	backend := newScripted(
		use(model.ToolCall{ID: "c1", Name: "DeactivateSkill", Arguments: map[string]any{"name": "reader"}}),
		say("left the skill"),
	)
	s := newTestSession(t, backend, func(o *Options) { o.Skills = index })
	_, err := s.Skills().Activate("reader")
	require.NoError(t, err)

	out, err := s.Run(context.Background(), "done reading")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, out.Status)
	results := toolMessages(out.Messages)
	require.Len(t, results, 1)
	require.False(t, results[0].IsError, results[0].Content)
	require.False(t, s.Skills().IsActive("reader"))

	toolNames := func(req model.Request) []string {
		var names []string
		for _, def := range req.Tools {
			names = append(names, def.Name)
		}
		return names
	}
	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	require.ElementsMatch(t, []string{"ActivateSkill", "DeactivateSkill", "Grep", "Read"}, toolNames(reqs[0]))
	require.Contains(t, toolNames(reqs[1]), "Write")
	require.Contains(t, toolNames(reqs[1]), "Bash")
}

func TestActivateSkillRecordsEvent(t *testing.T) {
	index := skills.NewStaticIndex(skills.Spec{Name: "lint", Description: "lint rules", Body: "Run the linter."})
	backend := newScripted(
		use(model.ToolCall{ID: "c1", Name: "ActivateSkill", Arguments: map[string]any{"name": "lint"}}),
		say("activated"),
	)
	s := newTestSession(t, backend, func(o *Options) { o.Skills = index })

	_, err := s.Run(context.Background(), "use lint")
	require.NoError(t, err)
	require.True(t, s.Skills().IsActive("lint"))
	evts := sinkOf(s).OfType(event.SkillActivate)
	require.Len(t, evts, 1)
	require.Equal(t, "lint", evts[0].Data.(event.SkillData).Skill)
}

func TestTurnLimitExceeded(t *testing.T) {
	backend := newScripted(use(model.ToolCall{Name: "Glob", Arguments: map[string]any{"pattern": "*.go"}}))
	s := newTestSession(t, backend, func(o *Options) { o.MaxTurns = 3 })

	out, err := s.Run(context.Background(), "loop forever")
	require.NoError(t, err)
	require.Equal(t, StatusTurnLimitExceeded, out.Status)
	require.Equal(t, 3, out.Turns)
	require.Len(t, backend.Requests(), 3)
	require.Len(t, toolMessages(out.Messages), 3)
	for _, m := range toolMessages(out.Messages) {
		require.NotEmpty(t, m.ToolCallID)
	}
}

func TestTransientBackendErrorIsRetried(t *testing.T) {
	backend := newScripted(
		func(model.Request) (*model.Response, error) {
			return nil, &model.BackendError{Backend: "fake", StatusCode: 529, Transient: true, Err: errors.New("overloaded")}
		},
		say("recovered"),
	)
	s := newTestSession(t, backend, nil)

	out, err := s.Run(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "recovered", out.Text)
	require.Len(t, backend.Requests(), 2)
}

func TestPermanentBackendErrorIsFatal(t *testing.T) {
	backend := newScripted(func(model.Request) (*model.Response, error) {
		return nil, &model.BackendError{Backend: "fake", StatusCode: 401, Err: errors.New("bad key")}
	})
	s := newTestSession(t, backend, nil)

	out, err := s.Run(context.Background(), "hi")
	require.Error(t, err)
	require.Equal(t, failure.KindBackend, failure.KindOf(err))
	require.Equal(t, StatusFatal, out.Status)
	require.Len(t, backend.Requests(), 1)
	require.Len(t, sinkOf(s).OfType(event.Error), 1)
}

func TestExhaustedRetriesAreFatal(t *testing.T) {
	backend := newScripted(func(model.Request) (*model.Response, error) {
		return nil, &model.BackendError{Backend: "fake", StatusCode: 503, Transient: true, Err: errors.New("unavailable")}
	})
	s := newTestSession(t, backend, nil)

	out, err := s.Run(context.Background(), "hi")
	require.Error(t, err)
	require.Equal(t, StatusFatal, out.Status)
	require.Len(t, backend.Requests(), 3)
}

func TestUnknownBackendIsFatal(t *testing.T) {
	s := newTestSession(t, newScripted(), func(o *Options) {
		o.Target = &route.Target{Model: "m", Backend: "missing"}
	})
	out, err := s.Run(context.Background(), "hi")
	require.Error(t, err)
	require.Equal(t, failure.KindNotFound, failure.KindOf(err))
	require.Equal(t, StatusFatal, out.Status)
}

// cancellingTool cancels the run while executing.
type cancellingTool struct{ cancel context.CancelFunc }

func (p *cancellingTool) Name() string             { return "Checkpoint" }
func (p *cancellingTool) Description() string      { return "cancels the caller" }
func (p *cancellingTool) Schema() *tool.JSONSchema { return nil }
func (p *cancellingTool) Execute(context.Context, map[string]any) (*tool.ToolResult, error) {
	p.cancel()
	return &tool.ToolResult{Success: true, Output: "checked"}, nil
}

func TestCancellationLeavesConsistentHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(&cancellingTool{cancel: cancel}))
	backend := newScripted(use(
		model.ToolCall{ID: "c1", Name: "Checkpoint"},
		model.ToolCall{ID: "c2", Name: "Checkpoint"},
	))
	s := newTestSession(t, backend, func(o *Options) {
		o.Registry = reg
		o.Rules = security.MustCompileRules(security.RuleConfig{Allow: []string{"Checkpoint"}})
	})

	out, err := s.Run(ctx, "checkpoint twice")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StatusFatal, out.Status)
	results := toolMessages(out.Messages)
	require.Len(t, results, 1)
	require.Equal(t, "c1", results[0].ToolCallID)
}

func TestRunAfterInterruptClosesUnstartedCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(&cancellingTool{cancel: cancel}))
	backend := newScripted(
		use(
			model.ToolCall{ID: "c1", Name: "Checkpoint"},
			model.ToolCall{ID: "c2", Name: "Checkpoint"},
		),
		say("resumed"),
	)
	s := newTestSession(t, backend, func(o *Options) {
		o.Registry = reg
		o.Rules = security.MustCompileRules(security.RuleConfig{Allow: []string{"Checkpoint"}})
	})

	_, err := s.Run(ctx, "checkpoint twice")
	require.ErrorIs(t, err, context.Canceled)

	out, err := s.Run(context.Background(), "carry on")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, "resumed", out.Text)

	sent := backend.Requests()[1].Messages
	results := toolMessages(sent)
	require.Len(t, results, 2)
	require.Equal(t, "c1", results[0].ToolCallID)
	require.False(t, results[0].IsError)
	require.Equal(t, "c2", results[1].ToolCallID)
	require.True(t, results[1].IsError)
	require.Contains(t, results[1].Content, string(failure.KindInterrupted))
	require.Equal(t, model.RoleUser, sent[len(sent)-1].Role)
	require.Equal(t, "carry on", sent[len(sent)-1].Content)
}

type fakeLifecycle struct {
	hooks.Nop
	blockTool string
	resume    []string
	pre       []string
	post      []string
	stops     int
}

func (f *fakeLifecycle) PreToolUse(_ context.Context, _ string, p events.ToolUsePayload) error {
	f.pre = append(f.pre, p.Name)
	if p.Name == f.blockTool {
		return hooks.ErrBlocked
	}
	return nil
}

func (f *fakeLifecycle) PostToolUse(_ context.Context, _ string, p events.ToolResultPayload) {
	f.post = append(f.post, p.Name)
}

func (f *fakeLifecycle) Stop(context.Context, string, events.StopPayload) (string, bool) {
	f.stops++
	if len(f.resume) == 0 {
		return "", false
	}
	next := f.resume[0]
	f.resume = f.resume[1:]
	return next, true
}

func TestHooksBlockAndResume(t *testing.T) {
	lc := &fakeLifecycle{blockTool: "Glob", resume: []string{"also check tests"}}
	backend := newScripted(
		use(model.ToolCall{ID: "c1", Name: "Glob", Arguments: map[string]any{"pattern": "*"}}),
		say("first answer"),
		say("second answer"),
	)
	s := newTestSession(t, backend, func(o *Options) { o.Hooks = lc })

	out, err := s.Run(context.Background(), "look")
	require.NoError(t, err)
	require.Equal(t, "second answer", out.Text)
	require.Equal(t, 2, lc.stops)
	require.Equal(t, []string{"Glob"}, lc.pre)
	require.Equal(t, []string{"Glob"}, lc.post)

	results := toolMessages(out.Messages)
	require.Contains(t, results[0].Content, "blocked by hook")
	last := backend.Requests()[2].Messages
	require.Equal(t, "also check tests", last[len(last)-1].Content)
}

func TestDelegationRunsClampedChild(t *testing.T) {
	const childSystem = "You explore."
	catalog := subagents.NewStaticCatalog(subagents.AgentSpec{
		Name:         "explorer",
		Description:  "explores the code",
		AllowedTools: []string{"Read", "Grep", "Write", "Task"},
		Mode:         security.ModeBypassPermissions,
		MaxTurns:     3,
		SystemPrompt: childSystem,
	})

	var childReq []model.Request
	var mu sync.Mutex
	parentTurn := 0
	backend := &scriptedBackend{name: "fake"}
	backend.replies = []reply{func(req model.Request) (*model.Response, error) {
		if req.System == childSystem {
			mu.Lock()
			childReq = append(childReq, req)
			n := len(childReq)
			mu.Unlock()
			switch n {
			case 1:
				return calls(
					model.ToolCall{ID: "k1", Name: "Write", Arguments: map[string]any{"path": "x.txt", "content": "x"}},
					model.ToolCall{ID: "k2", Name: "Read", Arguments: map[string]any{"path": "main.go"}},
				), nil
			default:
				return text("main.go has one function"), nil
			}
		}
		parentTurn++
		if parentTurn == 1 {
			return calls(model.ToolCall{ID: "p1", Name: "Task", Arguments: map[string]any{
				"agent":  "explorer",
				"prompt": "summarise main.go",
				"input_context": map[string]any{
					"files": []any{map[string]any{"path": "main.go"}},
				},
			}}), nil
		}
		return text("delegated"), nil
	}}

	s := newTestSession(t, backend, func(o *Options) {
		o.Agents = catalog
		o.Mode = security.ModeDefault
		o.Rules = security.MustCompileRules(security.RuleConfig{Allow: []string{"Task"}})
	})
	require.NoError(t, os.WriteFile(filepath.Join(s.Sandbox().Root(), "main.go"), []byte("package main\n"), 0o644))

	out, err := s.Run(context.Background(), "delegate")
	require.NoError(t, err)
	require.Equal(t, "delegated", out.Text)

	require.Len(t, childReq, 2)
	var childTools []string
	for _, def := range childReq[0].Tools {
		childTools = append(childTools, def.Name)
	}
	require.Equal(t, []string{"Grep", "Read", "Write"}, childTools)
	require.Contains(t, childReq[0].Messages[0].Content, "Relevant files:\n- main.go")

	// The child runs in default mode, so Write asks and the non-interactive
	// approver rejects it.
	childResults := toolMessages(childReq[1].Messages)
	require.Len(t, childResults, 2)
	require.Contains(t, childResults[0].Content, string(failure.KindPolicyAskRejected))
	require.False(t, childResults[1].IsError)

	parentResults := toolMessages(out.Messages)
	require.Len(t, parentResults, 1)
	require.False(t, parentResults[0].IsError)
	require.Contains(t, parentResults[0].Content, "main.go has one function")
	require.Contains(t, out.FilesReferenced, "main.go")

	sink := sinkOf(s)
	starts := sink.OfType(event.SubagentStart)
	require.Len(t, starts, 1)
	require.Equal(t, "default", starts[0].Data.(event.SubagentData).Mode)
	require.Len(t, sink.OfType(event.SubagentEnd), 1)

	ops := s.Ledger().Operations()
	require.Len(t, ops, 4)
	_, err = os.Stat(filepath.Join(s.Sandbox().Root(), "x.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestDelegationUnknownAgent(t *testing.T) {
	backend := newScripted(
		use(model.ToolCall{ID: "p1", Name: "Task", Arguments: map[string]any{"agent": "ghost", "prompt": "boo"}}),
		say("ok"),
	)
	s := newTestSession(t, backend, func(o *Options) { o.Mode = security.ModeBypassPermissions })
	out, err := s.Run(context.Background(), "delegate")
	require.NoError(t, err)
	results := toolMessages(out.Messages)
	require.Contains(t, results[0].Content, string(failure.KindNotFound))
}

func TestDelegationAsksInDefaultMode(t *testing.T) {
	catalog := subagents.NewStaticCatalog(subagents.AgentSpec{Name: "helper", Description: "helps", MaxTurns: 1})
	backend := newScripted(
		use(model.ToolCall{ID: "p1", Name: "Task", Arguments: map[string]any{"agent": "helper", "prompt": "go"}}),
		say("not delegated"),
	)
	s := newTestSession(t, backend, func(o *Options) { o.Agents = catalog })
	out, err := s.Run(context.Background(), "delegate")
	require.NoError(t, err)
	results := toolMessages(out.Messages)
	require.Len(t, results, 1)
	require.Contains(t, results[0].Content, string(failure.KindPolicyAskRejected))
	require.Empty(t, sinkOf(s).OfType(event.SubagentStart))
}

func TestNestedDelegationIsRecursionDenied(t *testing.T) {
	const childSystem = "You help."
	catalog := subagents.NewStaticCatalog(subagents.AgentSpec{
		Name:         "helper",
		Description:  "helps",
		AllowedTools: []string{"Read", "Task"},
		MaxTurns:     2,
		SystemPrompt: childSystem,
	})

	var mu sync.Mutex
	var childReq []model.Request
	parentTurn := 0
	backend := &scriptedBackend{name: "fake"}
	backend.replies = []reply{func(req model.Request) (*model.Response, error) {
		if req.System == childSystem {
			mu.Lock()
			childReq = append(childReq, req)
			n := len(childReq)
			mu.Unlock()
			if n == 1 {
				return calls(model.ToolCall{ID: "c1", Name: "Task", Arguments: map[string]any{"agent": "helper", "prompt": "again"}}), nil
			}
			return text("could not delegate"), nil
		}
		parentTurn++
		if parentTurn == 1 {
			return calls(model.ToolCall{ID: "p1", Name: "Task", Arguments: map[string]any{"agent": "helper", "prompt": "go"}}), nil
		}
		return text("parent done"), nil
	}}

	s := newTestSession(t, backend, func(o *Options) {
		o.Agents = catalog
		o.Rules = security.MustCompileRules(security.RuleConfig{Allow: []string{"Task"}})
	})
	out, err := s.Run(context.Background(), "delegate")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, "parent done", out.Text)

	require.Len(t, childReq, 2)
	nested := toolMessages(childReq[1].Messages)
	require.Len(t, nested, 1)
	require.True(t, nested[0].IsError)
	require.Contains(t, nested[0].Content, string(failure.KindRecursionDenied))

	parentResults := toolMessages(out.Messages)
	require.Len(t, parentResults, 1)
	require.False(t, parentResults[0].IsError)
	require.Contains(t, parentResults[0].Content, "could not delegate")
}

func TestSnapshotIsIsolatedFromLaterChanges(t *testing.T) {
	s := newTestSession(t, newScripted(), func(o *Options) {
		o.Skills = skills.NewStaticIndex(skills.Spec{Name: "ro", AllowedTools: []string{"Read"}})
	})
	l, err := s.Loop()
	require.NoError(t, err)
	snap := l.Snapshot()
	require.True(t, snap.Tools.Has("Write"))

	_, err = s.Skills().Activate("ro")
	require.NoError(t, err)
	require.True(t, snap.Tools.Has("Write"))
	require.False(t, l.Snapshot().Tools.Has("Write"))
}

func TestCompactionKeepsPinnedAndPairs(t *testing.T) {
	long := strings.Repeat("x", 400)
	msgs := []model.Message{
		{Role: model.RoleUser, Content: "task", Pinned: true},
		{Role: model.RoleAssistant, Content: long},
		{Role: model.RoleUser, Content: long},
		{Role: model.RoleAssistant, Content: long, ToolCalls: []model.ToolCall{{ID: "a", Name: "Read"}}},
		{Role: model.RoleTool, Content: long, ToolCallID: "a", ToolName: "Read"},
		{Role: model.RoleAssistant, Content: "final"},
	}
	cfg := Compaction{Enabled: true, MaxChars: 1000, Threshold: 0.5, KeepLast: 2}

	out, data, changed, err := compact(context.Background(), cfg, ExtractiveSummarizer{PerMessage: 20}, msgs)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "task", out[0].Content)
	require.True(t, strings.HasPrefix(out[1].Content, SummaryPrefix))
	// The kept tail starts at the assistant that owns the tool result.
	require.Equal(t, msgs[3:], out[2:])
	require.Equal(t, 2, data.Removed)
	require.Less(t, data.CharsAfter, data.CharsBefore)
}

func TestCompactionSkipsWhenNotSmaller(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleUser, Content: "task", Pinned: true},
		{Role: model.RoleAssistant, Content: "a"},
		{Role: model.RoleUser, Content: "b"},
		{Role: model.RoleAssistant, Content: "c"},
	}
	cfg := Compaction{Enabled: true, MaxChars: 4, Threshold: 1, KeepLast: 1}
	out, _, changed, err := compact(context.Background(), cfg, ExtractiveSummarizer{}, msgs)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, msgs, out)
}

func TestCompactionDisabledOrUnderBudget(t *testing.T) {
	msgs := []model.Message{{Role: model.RoleUser, Content: strings.Repeat("y", 100)}}
	_, _, changed, err := compact(context.Background(), Compaction{MaxChars: 10, Threshold: 1}, ExtractiveSummarizer{}, msgs)
	require.NoError(t, err)
	require.False(t, changed)
	_, _, changed, err = compact(context.Background(), Compaction{Enabled: true, MaxChars: 1000, Threshold: 1}, ExtractiveSummarizer{}, msgs)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestLoopCompactsDuringRun(t *testing.T) {
	long := strings.Repeat("z", 300)
	backend := newScripted(say(long), say(long), say("third"))
	s := newTestSession(t, backend, func(o *Options) {
		o.Compaction = Compaction{Enabled: true, MaxChars: 500, Threshold: 1, KeepLast: 1}
	})
	ctx := context.Background()
	for _, prompt := range []string{"one", "two", "three"} {
		_, err := s.Run(ctx, prompt)
		require.NoError(t, err)
	}
	require.NotEmpty(t, sinkOf(s).OfType(event.Compaction))
	last := backend.Requests()[2].Messages
	require.Equal(t, "one", last[0].Content)
	require.True(t, strings.HasPrefix(last[1].Content, SummaryPrefix))
}

func TestModelSummarizer(t *testing.T) {
	backend := newScripted(say("  condensed  "))
	sum := ModelSummarizer{Backend: backend, Model: "gpt-4o-mini"}
	got, err := sum.Summarize(context.Background(), []model.Message{{Role: model.RoleUser, Content: "long"}})
	require.NoError(t, err)
	require.Equal(t, "condensed", got)
	require.Contains(t, backend.Requests()[0].Messages[0].Content, "user: long")
}

func TestConcurrentRunIsRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	backend := newScripted(func(model.Request) (*model.Response, error) {
		close(started)
		<-release
		return text("done"), nil
	})
	s := newTestSession(t, backend, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), "first")
		errc <- err
	}()
	<-started
	_, err := s.Run(context.Background(), "second")
	require.ErrorIs(t, err, ErrBusy)
	close(release)
	require.NoError(t, <-errc)
}
