package events

import (
	"fmt"
	"time"
)

// EventType enumerates the lifecycle points hooks can attach to.
type EventType string

const (
	PreToolUse       EventType = "PreToolUse"
	PostToolUse      EventType = "PostToolUse"
	UserPromptSubmit EventType = "UserPromptSubmit"
	Stop             EventType = "Stop"
	SubagentStop     EventType = "SubagentStop"
)

// Types lists every supported event in a stable order.
func Types() []EventType {
	return []EventType{PreToolUse, PostToolUse, UserPromptSubmit, Stop, SubagentStop}
}

// Valid reports whether t is a known event.
func (t EventType) Valid() bool {
	for _, known := range Types() {
		if t == known {
			return true
		}
	}
	return false
}

// Event is a single hookable occurrence. Payload holds one of the payload
// structs below.
type Event struct {
	Type      EventType
	SessionID string
	Timestamp time.Time
	Payload   any
}

// Validate performs cheap sanity checks.
func (e Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("events: missing type")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("events: unsupported type %s", e.Type)
	}
	return nil
}

// ToolUsePayload is emitted after policy allows a call and before it runs.
type ToolUsePayload struct {
	CallID string
	Name   string
	Params map[string]any
}

// ToolResultPayload is emitted after a call produced its result.
type ToolResultPayload struct {
	CallID   string
	Name     string
	Params   map[string]any
	OK       bool
	Kind     string
	Content  string
	Duration time.Duration
}

// UserPromptPayload captures a prompt before the first turn.
type UserPromptPayload struct {
	Prompt string
}

// StopPayload is emitted when a conversation reaches a terminal state.
type StopPayload struct {
	Status      string
	Reason      string
	LastMessage string
}

// SubagentStopPayload is emitted when a delegated conversation finishes.
type SubagentStopPayload struct {
	Name   string
	Reason string
	OK     bool
	Turns  int
}
