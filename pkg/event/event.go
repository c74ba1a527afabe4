// Package event records the conversation transcript as an ordered stream of
// typed events.
package event

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type names a transcript event kind.
type Type string

const (
	UserMessage      Type = "user_message"
	AssistantMessage Type = "assistant_message"
	ToolCall         Type = "tool_call"
	ToolResult       Type = "tool_result"
	PolicyDecision   Type = "policy_decision"
	SubagentStart    Type = "subagent_start"
	SubagentEnd      Type = "subagent_end"
	SkillActivate    Type = "skill_activate"
	SkillDeactivate  Type = "skill_deactivate"
	TargetResolution Type = "target_resolution"
	Error            Type = "error"
	TurnStatus       Type = "turn_status"
	MCPConnect       Type = "mcp_connect"
	MCPDisconnect    Type = "mcp_disconnect"
	Compaction       Type = "compaction"
	PlanCreated      Type = "plan_created"
	PlanStatus       Type = "plan_status"
)

// Event is one transcript entry. IDs are ULIDs, so lexical order matches
// creation order within a process.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Cwd       string    `json:"cwd,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// New builds an event stamped with a fresh ID and the current time.
func New(typ Type, sessionID string, data any) Event {
	return Event{
		ID:        ulid.Make().String(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Data:      data,
	}
}

// Validate checks the fields every sink relies on.
func (e Event) Validate() error {
	if e.Type == "" {
		return errors.New("event: type is required")
	}
	if e.ID == "" {
		return errors.New("event: id is required")
	}
	if _, err := ulid.ParseStrict(e.ID); err != nil {
		return errors.New("event: id is not a ULID")
	}
	if e.Timestamp.IsZero() {
		return errors.New("event: timestamp is required")
	}
	return nil
}

// Payloads. Sinks store them as JSON; readers get generic maps back.

type MessageData struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Turn    int    `json:"turn"`
}

type ToolCallData struct {
	CallID string         `json:"call_id"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
	Turn   int            `json:"turn"`
}

type ToolResultData struct {
	CallID     string `json:"call_id"`
	Tool       string `json:"tool"`
	OK         bool   `json:"ok"`
	Kind       string `json:"kind,omitempty"`
	Content    string `json:"content"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type PolicyDecisionData struct {
	Tool         string `json:"tool"`
	Decision     string `json:"decision"`
	Rule         string `json:"rule,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target,omitempty"`
	Mode         string `json:"mode"`
	Approval     string `json:"approval,omitempty"`
	AutoApproved bool   `json:"auto_approved,omitempty"`
}

type SubagentData struct {
	Agent      string   `json:"agent"`
	Mode       string   `json:"mode,omitempty"`
	Tools      []string `json:"tools,omitempty"`
	Target     string   `json:"target,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	OK         bool     `json:"ok"`
	Turns      int      `json:"turns,omitempty"`
	DurationMS int64    `json:"duration_ms,omitempty"`
}

type SkillData struct {
	Skill  string   `json:"skill"`
	Active []string `json:"active"`
}

type TargetData struct {
	Target   string `json:"target"`
	Category string `json:"category"`
	Source   string `json:"source"`
	Agent    string `json:"agent,omitempty"`
}

type TurnStatusData struct {
	Turn   int    `json:"turn"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type ErrorData struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type MCPData struct {
	Server string   `json:"server"`
	Tools  []string `json:"tools,omitempty"`
	Error  string   `json:"error,omitempty"`
}

type CompactionData struct {
	Removed     int `json:"removed"`
	CharsBefore int `json:"chars_before"`
	CharsAfter  int `json:"chars_after"`
}

type PlanData struct {
	Name   string `json:"name"`
	Goal   string `json:"goal,omitempty"`
	Steps  int    `json:"steps"`
	Status string `json:"status"`
}
