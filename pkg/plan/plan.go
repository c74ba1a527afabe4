// Package plan holds the read-only planning phase of a conversation: the
// step plan a model produces, its parser and its on-disk store.
package plan

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Status is the lifecycle of a plan.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusReady     Status = "ready"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepStatus is the progress of one step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// Icon renders the status as a checkbox.
func (s StepStatus) Icon() string {
	switch s {
	case StepInProgress:
		return "[>]"
	case StepCompleted:
		return "[x]"
	case StepFailed:
		return "[!]"
	case StepSkipped:
		return "[-]"
	default:
		return "[ ]"
	}
}

// Step is one numbered unit of work.
type Step struct {
	Number      int        `yaml:"number"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description,omitempty"`
	Files       []string   `yaml:"files,omitempty"`
	Tools       []string   `yaml:"tools,omitempty"`
	Status      StepStatus `yaml:"status"`
	Output      string     `yaml:"output,omitempty"`
}

// Plan is a named, ordered list of steps toward a goal.
type Plan struct {
	Name       string     `yaml:"name"`
	Goal       string     `yaml:"goal"`
	Summary    string     `yaml:"summary,omitempty"`
	Steps      []Step     `yaml:"steps"`
	Status     Status     `yaml:"status"`
	CreatedAt  time.Time  `yaml:"created_at"`
	ModifiedAt *time.Time `yaml:"modified_at,omitempty"`
}

// New returns an empty draft plan for goal.
func New(goal string, now time.Time) *Plan {
	return &Plan{
		Name:      Name(goal, now),
		Goal:      strings.TrimSpace(goal),
		Status:    StatusDraft,
		CreatedAt: now.UTC(),
	}
}

// Name derives a file-safe plan name from the first 30 characters of goal
// and a UTC timestamp.
func Name(goal string, now time.Time) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.ToLower(goal) {
		if n == 30 {
			break
		}
		n++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	stamp := now.UTC().Format("20060102-150405")
	if slug == "" {
		return "plan-" + stamp
	}
	return slug + "-" + stamp
}

// NextStep returns the first pending step, or nil.
func (p *Plan) NextStep() *Step {
	for i := range p.Steps {
		if p.Steps[i].Status == StepPending {
			return &p.Steps[i]
		}
	}
	return nil
}

// Step returns the step numbered n, or nil.
func (p *Plan) Step(n int) *Step {
	for i := range p.Steps {
		if p.Steps[i].Number == n {
			return &p.Steps[i]
		}
	}
	return nil
}

// CompletedCount counts completed steps.
func (p *Plan) CompletedCount() int { return p.count(StepCompleted) }

// FailedCount counts failed steps.
func (p *Plan) FailedCount() int { return p.count(StepFailed) }

func (p *Plan) count(s StepStatus) int {
	n := 0
	for _, step := range p.Steps {
		if step.Status == s {
			n++
		}
	}
	return n
}

// SetStatus moves the plan to s and stamps the modification time.
func (p *Plan) SetStatus(s Status, now time.Time) {
	p.Status = s
	t := now.UTC()
	p.ModifiedAt = &t
}

// Clone returns a deep copy.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		s.Files = append([]string(nil), s.Files...)
		s.Tools = append([]string(nil), s.Tools...)
		out.Steps[i] = s
	}
	if p.ModifiedAt != nil {
		t := *p.ModifiedAt
		out.ModifiedAt = &t
	}
	return &out
}

// Format renders the plan as markdown for display.
func (p *Plan) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Plan: %s\n\n", p.Name)
	fmt.Fprintf(&b, "**Goal:** %s\n\n", p.Goal)
	if p.Summary != "" {
		fmt.Fprintf(&b, "**Summary:** %s\n\n", p.Summary)
	}
	fmt.Fprintf(&b, "**Status:** %s\n\n", p.Status)
	b.WriteString("## Steps\n\n")
	for _, step := range p.Steps {
		fmt.Fprintf(&b, "%s **Step %d:** %s\n", step.Status.Icon(), step.Number, step.Title)
		if step.Description != "" {
			fmt.Fprintf(&b, "   %s\n", step.Description)
		}
		if len(step.Files) > 0 {
			fmt.Fprintf(&b, "   Files: %s\n", strings.Join(step.Files, ", "))
		}
		if len(step.Tools) > 0 {
			fmt.Fprintf(&b, "   Tools: %s\n", strings.Join(step.Tools, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ExecutionPrompt is the user message that hands a reviewed plan to a
// conversation with the full tool set.
func (p *Plan) ExecutionPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execute the following plan step by step. Goal: %s\n", p.Goal)
	if p.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", p.Summary)
	}
	for _, step := range p.Steps {
		if step.Status == StepCompleted || step.Status == StepSkipped {
			continue
		}
		fmt.Fprintf(&b, "\nSTEP %d: %s\n", step.Number, step.Title)
		if step.Description != "" {
			fmt.Fprintf(&b, "%s\n", step.Description)
		}
		if len(step.Files) > 0 {
			fmt.Fprintf(&b, "Files: %s\n", strings.Join(step.Files, ", "))
		}
	}
	b.WriteString("\nVerify each step before moving to the next one.")
	return b.String()
}
