package tool

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cexll/agentcore/pkg/core/failure"
	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/telemetry"
)

// Call is one tool invocation requested by the model.
type Call struct {
	ID     string
	Name   string
	Params map[string]any
}

func (c Call) cloneParams() map[string]any {
	out := make(map[string]any, len(c.Params))
	for k, v := range c.Params {
		out[k] = v
	}
	return out
}

// Result is the outcome of one dispatch. Every dispatched call produces
// exactly one Result, failed or not.
type Result struct {
	CallID    string
	Name      string
	OK        bool
	Content   string
	Kind      failure.Kind
	Truncated bool
	Data      any
	Decision  *security.Decision
	Approval  *security.ApprovalRecord
	Duration  time.Duration
}

// Scope is the per-conversation context a call is checked against.
type Scope struct {
	SessionID string
	Allowed   Set
	Mode      security.Mode
	Rules     *security.RuleSet
	Approver  security.Approver
	Audit     *security.AuditLog

	// OnAsk fires before the approver is consulted.
	OnAsk func(security.Decision)
	// OnDecision observes every policy verdict and its approval, if any.
	OnDecision func(security.Decision, *security.ApprovalRecord)
	// BeforeExecute runs once the call is allowed. A non-nil error blocks it.
	BeforeExecute func(ctx context.Context, call Call) error
}

// Executor wires registry lookup with the sandbox and the policy engine.
type Executor struct {
	registry *Registry
	sandbox  *security.Sandbox
	logger   *slog.Logger
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor builds an executor over registry confined to sandbox.
func NewExecutor(registry *Registry, sandbox *security.Sandbox, opts ...ExecutorOption) *Executor {
	if registry == nil {
		registry = NewRegistry()
	}
	e := &Executor{registry: registry, sandbox: sandbox, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry exposes the underlying registry.
func (e *Executor) Registry() *Registry { return e.registry }

// Sandbox exposes the path sandbox.
func (e *Executor) Sandbox() *security.Sandbox { return e.sandbox }

// Dispatch checks and runs one call. Steps, in order: capability, path
// confinement, policy (with approval for Ask), bounded execution. No step
// returns an error; failures become failed Results.
func (e *Executor) Dispatch(ctx context.Context, scope Scope, call Call) (res Result) {
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "tool.dispatch")
	span.SetAttributes(telemetry.SanitizeAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
		attribute.String("permission.mode", scope.Mode.String()),
	)...)
	defer func() {
		res.Duration = time.Since(started)
		span.SetAttributes(attribute.Bool("tool.ok", res.OK), attribute.String("tool.failure_kind", string(res.Kind)))
		var err error
		if !res.OK {
			err = errors.New(res.Content)
		}
		telemetry.EndSpan(span, err)
		e.logger.Debug("tool dispatched", "tool", call.Name, "call_id", call.ID, "ok", res.OK, "kind", res.Kind, "duration", res.Duration)
	}()

	res = Result{CallID: call.ID, Name: call.Name}

	if !scope.Allowed.Has(call.Name) {
		return fail(res, failure.New(failure.KindCapabilityDenied, "tool %s is not in the effective tool set", call.Name))
	}
	impl, err := e.registry.Get(call.Name)
	if err != nil {
		return fail(res, err)
	}
	if raw, ok := call.Params["raw"].(string); ok && len(call.Params) == 1 {
		return fail(res, failure.New(failure.KindInvalidArgument, "arguments are not a JSON object: %s", raw))
	}

	if err := e.checkPaths(impl, call.Params); err != nil {
		return fail(res, err)
	}

	decision := security.Decide(scope.Mode, scope.Rules, security.Invocation{Tool: call.Name, Params: call.Params})
	res.Decision = &decision
	var approval *security.ApprovalRecord
	switch decision.Action {
	case security.ActionDeny:
		e.observe(scope, decision, nil)
		return fail(res, failure.New(failure.KindPolicyDenied, "tool %s denied by rule %q", call.Name, decision.Rule))
	case security.ActionAsk:
		if scope.OnAsk != nil {
			scope.OnAsk(decision)
		}
		record, err := e.approve(ctx, scope, call, decision)
		approval = &record
		res.Approval = approval
		e.observe(scope, decision, approval)
		if err != nil {
			return fail(res, failure.Wrap(failure.KindPolicyAskRejected, err, "approval for %s failed", call.Name))
		}
		if !record.Approved() {
			return fail(res, failure.New(failure.KindPolicyAskRejected, "tool %s rejected: %s", call.Name, record.Reason))
		}
		if record.AutoApproved {
			e.logger.Info("tool auto-approved", "tool", call.Name, "target", decision.Target, "auto_approved", true)
		}
	default:
		e.observe(scope, decision, nil)
	}

	if err := e.registry.Validate(impl, call.Params); err != nil {
		return fail(res, failure.Wrap(failure.KindInvalidArgument, err, "invalid arguments for %s", call.Name))
	}
	if scope.BeforeExecute != nil {
		if err := scope.BeforeExecute(ctx, call); err != nil {
			return fail(res, failure.Wrap(failure.KindToolExecution, err, "blocked by hook"))
		}
	}

	out, err := impl.Execute(ctx, call.cloneParams())
	if err != nil {
		if out != nil && out.Output != "" {
			res.Content = out.Output + "\n"
		}
		return fail(res, err)
	}
	if out == nil {
		out = &ToolResult{Success: true}
	}
	res.Content = out.Output
	res.Truncated = out.Truncated
	res.Data = out.Data
	res.OK = out.Success
	if !out.Success {
		res.Kind = failure.KindToolExecution
	}
	return res
}

func (e *Executor) approve(ctx context.Context, scope Scope, call Call, decision security.Decision) (security.ApprovalRecord, error) {
	approver := scope.Approver
	if approver == nil {
		approver = security.DenyApprover{}
	}
	return approver.Approve(ctx, security.ApprovalRequest{
		SessionID: scope.SessionID,
		Tool:      call.Name,
		Params:    call.Params,
		Decision:  decision,
	})
}

func (e *Executor) observe(scope Scope, decision security.Decision, approval *security.ApprovalRecord) {
	scope.Audit.Record(decision, approval)
	if scope.OnDecision != nil {
		scope.OnDecision(decision, approval)
	}
	e.logger.Debug("policy decision", "tool", decision.Tool, "decision", decision.Action.String(), "rule", decision.Rule, "source", decision.Source)
}

// checkPaths confines every path-valued parameter to the sandbox,
// regardless of permission mode.
func (e *Executor) checkPaths(impl Tool, params map[string]any) error {
	pt, ok := impl.(PathTool)
	if !ok || e.sandbox == nil {
		return nil
	}
	for _, key := range pt.PathParams() {
		raw, ok := params[key].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := e.sandbox.Resolve(raw); err != nil {
			return err
		}
	}
	return nil
}

func fail(res Result, err error) Result {
	res.OK = false
	kind := failure.KindOf(err)
	if kind == failure.KindNone {
		kind = failure.KindToolExecution
	}
	res.Kind = kind
	res.Content += err.Error()
	return res
}
