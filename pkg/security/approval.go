package security

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ApprovalState is the human approval lifecycle.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalDenied   ApprovalState = "denied"
)

// ApprovalRequest describes an invocation that the policy engine answered
// with Ask.
type ApprovalRequest struct {
	SessionID string
	Tool      string
	Params    map[string]any
	Decision  Decision
}

// ApprovalRecord captures one approval outcome.
type ApprovalRecord struct {
	Tool         string        `json:"tool"`
	Target       string        `json:"target,omitempty"`
	State        ApprovalState `json:"state"`
	AutoApproved bool          `json:"auto_approved"`
	Reason       string        `json:"reason,omitempty"`
	DecidedAt    time.Time     `json:"decided_at"`
}

// Approved reports whether the record allows execution.
func (r ApprovalRecord) Approved() bool { return r.State == ApprovalApproved }

// Approver resolves Ask verdicts. Implementations may block.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (ApprovalRecord, error)
}

// AutoApprover turns every Ask into an executed Allow.
type AutoApprover struct{}

func (AutoApprover) Approve(_ context.Context, req ApprovalRequest) (ApprovalRecord, error) {
	return ApprovalRecord{
		Tool:         req.Tool,
		Target:       req.Decision.Target,
		State:        ApprovalApproved,
		AutoApproved: true,
		Reason:       "auto-approve enabled",
		DecidedAt:    time.Now().UTC(),
	}, nil
}

// DenyApprover rejects every Ask. Used for unattended runs without
// auto-approve and for subagents, which never prompt.
type DenyApprover struct {
	Reason string
}

func (d DenyApprover) Approve(_ context.Context, req ApprovalRequest) (ApprovalRecord, error) {
	reason := d.Reason
	if reason == "" {
		reason = "approval required but running non-interactively"
	}
	return ApprovalRecord{
		Tool:      req.Tool,
		Target:    req.Decision.Target,
		State:     ApprovalDenied,
		Reason:    reason,
		DecidedAt: time.Now().UTC(),
	}, nil
}

// PromptApprover asks a human on a line-oriented terminal. Answering "a"
// approves the tool for the rest of the session.
type PromptApprover struct {
	mu     sync.Mutex
	in     *bufio.Reader
	out    io.Writer
	always map[string]struct{}
}

// NewPromptApprover wires a prompt approver to the given streams.
func NewPromptApprover(in io.Reader, out io.Writer) *PromptApprover {
	return &PromptApprover{in: bufio.NewReader(in), out: out, always: map[string]struct{}{}}
}

// Approve blocks until an answer is read or ctx is done.
func (p *PromptApprover) Approve(ctx context.Context, req ApprovalRequest) (ApprovalRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	record := ApprovalRecord{Tool: req.Tool, Target: req.Decision.Target}
	if _, ok := p.always[req.Tool]; ok {
		record.State = ApprovalApproved
		record.Reason = "approved for session"
		record.DecidedAt = time.Now().UTC()
		return record, nil
	}

	fmt.Fprintf(p.out, "\nPermission required: %s\n", req.Tool)
	if args, err := json.Marshal(req.Params); err == nil {
		fmt.Fprintf(p.out, "  args: %s\n", truncate(string(args), 400))
	}
	if req.Decision.Rule != "" {
		fmt.Fprintf(p.out, "  rule: %s\n", req.Decision.Rule)
	}
	fmt.Fprint(p.out, "Allow? [y]es / [n]o / [a]lways for this tool: ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	var got answer
	select {
	case <-ctx.Done():
		return ApprovalRecord{}, ctx.Err()
	case got = <-ch:
	}
	if got.err != nil && !errors.Is(got.err, io.EOF) {
		return ApprovalRecord{}, fmt.Errorf("security: read approval: %w", got.err)
	}

	record.DecidedAt = time.Now().UTC()
	switch strings.ToLower(strings.TrimSpace(got.line)) {
	case "y", "yes":
		record.State = ApprovalApproved
		record.Reason = "approved by user"
	case "a", "always":
		p.always[req.Tool] = struct{}{}
		record.State = ApprovalApproved
		record.Reason = "approved for session"
	default:
		record.State = ApprovalDenied
		record.Reason = "declined by user"
	}
	return record, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// PermissionAudit is one audited decision.
type PermissionAudit struct {
	Tool      string    `json:"tool"`
	Target    string    `json:"target,omitempty"`
	Rule      string    `json:"rule,omitempty"`
	Action    string    `json:"action"`
	Approval  string    `json:"approval,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditLog accumulates policy decisions for the session.
type AuditLog struct {
	mu      sync.RWMutex
	entries []PermissionAudit
}

// Record appends a decision and its approval outcome, if any.
func (l *AuditLog) Record(decision Decision, approval *ApprovalRecord) {
	if l == nil {
		return
	}
	entry := PermissionAudit{
		Tool:      decision.Tool,
		Target:    decision.Target,
		Rule:      decision.Rule,
		Action:    decision.Action.String(),
		Timestamp: time.Now().UTC(),
	}
	if approval != nil {
		entry.Approval = string(approval.State)
	}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a snapshot of the audit trail.
func (l *AuditLog) Entries() []PermissionAudit {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]PermissionAudit, len(l.entries))
	copy(out, l.entries)
	return out
}
