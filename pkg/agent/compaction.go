package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cexll/agentcore/pkg/event"
	"github.com/cexll/agentcore/pkg/model"
)

// SummaryPrefix marks a message produced by compaction.
const SummaryPrefix = "[Summary of earlier conversation]\n"

// Compaction bounds the history size.
type Compaction struct {
	Enabled bool
	// MaxChars times Threshold is the budget that triggers compaction.
	MaxChars  int
	Threshold float64
	// KeepLast recent messages are never summarised.
	KeepLast int
}

// Budget is the size above which compaction runs.
func (c Compaction) Budget() int {
	if c.MaxChars <= 0 {
		return 0
	}
	threshold := c.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = 1
	}
	return int(float64(c.MaxChars) * threshold)
}

// Summarizer condenses a span of history into text.
type Summarizer interface {
	Summarize(ctx context.Context, span []model.Message) (string, error)
}

// ExtractiveSummarizer keeps the head of every message. It never calls a
// backend.
type ExtractiveSummarizer struct {
	// PerMessage caps the characters kept from each message.
	PerMessage int
}

func (s ExtractiveSummarizer) Summarize(_ context.Context, span []model.Message) (string, error) {
	limit := s.PerMessage
	if limit <= 0 {
		limit = 160
	}
	var b strings.Builder
	for _, msg := range span {
		line := strings.Join(strings.Fields(msg.Content), " ")
		switch {
		case msg.Role == model.RoleTool:
			status := "ok"
			if msg.IsError {
				status = "error"
			}
			fmt.Fprintf(&b, "- tool %s (%s): %s\n", msg.ToolName, status, clip(line, limit))
		case len(msg.ToolCalls) > 0:
			names := make([]string, len(msg.ToolCalls))
			for i, call := range msg.ToolCalls {
				names[i] = call.Name
			}
			fmt.Fprintf(&b, "- %s called %s", msg.Role, strings.Join(names, ", "))
			if line != "" {
				fmt.Fprintf(&b, ": %s", clip(line, limit))
			}
			b.WriteString("\n")
		default:
			fmt.Fprintf(&b, "- %s: %s\n", msg.Role, clip(line, limit))
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// ModelSummarizer asks a backend to write the summary.
type ModelSummarizer struct {
	Backend   model.Backend
	Model     string
	MaxTokens int
}

func (s ModelSummarizer) Summarize(ctx context.Context, span []model.Message) (string, error) {
	if s.Backend == nil {
		return "", errors.New("agent: summarizer backend is nil")
	}
	transcript, _ := ExtractiveSummarizer{PerMessage: 2000}.Summarize(ctx, span)
	resp, err := s.Backend.Send(ctx, model.Request{
		Model:     s.Model,
		System:    "Summarize the conversation excerpt for a coding agent. Keep file paths, decisions, and open problems. Be brief.",
		Messages:  []model.Message{{Role: model.RoleUser, Content: transcript}},
		MaxTokens: s.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

// compact replaces the oldest unpinned span of msgs with one summary
// message. It returns the new history and whether it changed. The pinned
// prefix and the last KeepLast messages survive untouched, a tool result
// never loses its call, and the total size strictly decreases.
func compact(ctx context.Context, cfg Compaction, s Summarizer, msgs []model.Message) ([]model.Message, event.CompactionData, bool, error) {
	before := historySize(msgs)
	data := event.CompactionData{CharsBefore: before, CharsAfter: before}
	if !cfg.Enabled || cfg.Budget() <= 0 || before <= cfg.Budget() {
		return msgs, data, false, nil
	}

	start := 0
	for start < len(msgs) && msgs[start].Pinned {
		start++
	}
	keep := cfg.KeepLast
	if keep < 0 {
		keep = 0
	}
	end := len(msgs) - keep
	// Move the tail boundary back so no kept tool result is cut from its
	// call, and the head boundary forward past orphaned results.
	for end > start && end < len(msgs) && msgs[end].Role == model.RoleTool {
		end--
	}
	for start < end && msgs[start].Role == model.RoleTool {
		start++
	}
	if end-start < 2 {
		return msgs, data, false, nil
	}

	text, err := s.Summarize(ctx, msgs[start:end])
	if err != nil {
		return msgs, data, false, err
	}
	summary := model.Message{Role: model.RoleUser, Content: SummaryPrefix + text}

	out := make([]model.Message, 0, len(msgs)-(end-start)+1)
	out = append(out, msgs[:start]...)
	out = append(out, summary)
	out = append(out, msgs[end:]...)
	after := historySize(out)
	if after >= before {
		return msgs, data, false, nil
	}
	data.Removed = end - start
	data.CharsAfter = after
	return out, data, true, nil
}

func historySize(msgs []model.Message) int {
	n := 0
	for _, msg := range msgs {
		n += msg.Size()
	}
	return n
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
