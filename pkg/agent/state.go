// Package agent runs the conversation loop: it sends history to a backend,
// dispatches the requested tool calls in order, and stops on a final answer,
// the turn ceiling, or a fatal error.
package agent

import (
	"github.com/cexll/agentcore/pkg/cost"
	"github.com/cexll/agentcore/pkg/model"
	"github.com/cexll/agentcore/pkg/route"
	"github.com/cexll/agentcore/pkg/security"
)

// Status is the loop state.
type Status string

const (
	StatusRunning           Status = "running"
	StatusAwaitingApproval  Status = "awaiting_approval"
	StatusCompleted         Status = "completed"
	StatusTurnLimitExceeded Status = "turn_limit_exceeded"
	StatusFatal             Status = "fatal"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusTurnLimitExceeded, StatusFatal:
		return true
	}
	return false
}

// State is the conversation state owned by one loop.
type State struct {
	Messages    []model.Message
	Chars       int
	Turn        int
	Mode        security.Mode
	Target      route.Target
	MayDelegate bool
	Status      Status
}

func (s *State) append(msg model.Message) {
	s.Messages = append(s.Messages, msg)
	s.Chars += msg.Size()
}

func (s *State) recount() {
	s.Chars = 0
	for _, msg := range s.Messages {
		s.Chars += msg.Size()
	}
}

// Outcome is what Run reports once the loop is terminal.
type Outcome struct {
	Status Status
	// Text is the final assistant text, or the last one seen when the run
	// did not complete.
	Text   string
	Reason string
	Turns  int
	Target route.Target
	// Messages is the full history, partial on TurnLimitExceeded.
	Messages        []model.Message
	Usage           model.TokenUsage
	Cost            cost.Summary
	FilesReferenced []string
	// LastToolError is the last failed tool result of the run, if any.
	LastToolError *ToolFailure
}

// ToolFailure summarises a failed tool result.
type ToolFailure struct {
	Tool    string `json:"tool"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// OK reports whether the run completed.
func (o *Outcome) OK() bool { return o != nil && o.Status == StatusCompleted }
