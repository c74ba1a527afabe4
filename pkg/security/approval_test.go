package security

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutoAndDenyApprovers(t *testing.T) {
	req := ApprovalRequest{Tool: "Write", Decision: Decision{Target: "a.txt"}}

	rec, err := AutoApprover{}.Approve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, rec.Approved())
	require.True(t, rec.AutoApproved)

	rec, err = DenyApprover{}.Approve(context.Background(), req)
	require.NoError(t, err)
	require.False(t, rec.Approved())
	require.NotEmpty(t, rec.Reason)
}

func TestPromptApproverAnswers(t *testing.T) {
	var out bytes.Buffer
	p := NewPromptApprover(strings.NewReader("n\ny\na\n"), &out)
	req := ApprovalRequest{Tool: "Bash", Params: map[string]any{"command": "make"}, Decision: Decision{Rule: "Bash(make:*)"}}

	rec, err := p.Approve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ApprovalDenied, rec.State)
	require.Contains(t, out.String(), "Permission required: Bash")
	require.Contains(t, out.String(), "Bash(make:*)")

	rec, err = p.Approve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ApprovalApproved, rec.State)

	rec, err = p.Approve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "approved for session", rec.Reason)

	// Remembered: no more input is consumed.
	rec, err = p.Approve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, rec.Approved())
}

func TestPromptApproverEOFDenies(t *testing.T) {
	p := NewPromptApprover(strings.NewReader(""), &bytes.Buffer{})
	rec, err := p.Approve(context.Background(), ApprovalRequest{Tool: "Write"})
	require.NoError(t, err)
	require.False(t, rec.Approved())
}

func TestAuditLogRecords(t *testing.T) {
	var log AuditLog
	log.Record(Decision{Tool: "Read", Action: ActionAllow}, nil)
	log.Record(Decision{Tool: "Write", Action: ActionAsk, Target: "x"}, &ApprovalRecord{State: ApprovalDenied})

	entries := log.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "allow", entries[0].Action)
	require.Equal(t, "denied", entries[1].Approval)

	var nilLog *AuditLog
	nilLog.Record(Decision{}, nil)
	require.Nil(t, nilLog.Entries())
}
