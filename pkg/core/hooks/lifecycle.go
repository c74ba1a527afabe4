package hooks

import (
	"context"

	"github.com/cexll/agentcore/pkg/core/events"
)

// Lifecycle is what the conversation loop calls at each hook point.
// Executor implements it; Nop disables hooks.
type Lifecycle interface {
	// PreToolUse returns a non-nil error when a hook blocks the call.
	PreToolUse(ctx context.Context, sessionID string, p events.ToolUsePayload) error
	PostToolUse(ctx context.Context, sessionID string, p events.ToolResultPayload)
	// UserPromptSubmit returns a non-nil error when a hook rejects the prompt.
	UserPromptSubmit(ctx context.Context, sessionID string, p events.UserPromptPayload) error
	// Stop may ask the loop to keep going with a follow-up prompt.
	Stop(ctx context.Context, sessionID string, p events.StopPayload) (prompt string, resume bool)
	SubagentStop(ctx context.Context, sessionID string, p events.SubagentStopPayload)
}

// Nop ignores every hook point.
type Nop struct{}

func (Nop) PreToolUse(context.Context, string, events.ToolUsePayload) error { return nil }
func (Nop) PostToolUse(context.Context, string, events.ToolResultPayload)   {}
func (Nop) UserPromptSubmit(context.Context, string, events.UserPromptPayload) error {
	return nil
}
func (Nop) Stop(context.Context, string, events.StopPayload) (string, bool)    { return "", false }
func (Nop) SubagentStop(context.Context, string, events.SubagentStopPayload) {}

var (
	_ Lifecycle = Nop{}
	_ Lifecycle = (*Executor)(nil)
)
