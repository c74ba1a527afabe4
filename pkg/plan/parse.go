package plan

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cexll/agentcore/pkg/core/failure"
)

var (
	stepHeader = regexp.MustCompile(`(?i)^(?:#+\s*)?STEP\s+(\d+):\s*(.+)$`)
	stepMarker = regexp.MustCompile(`(?im)^[\s#*]*STEP\s+\d+:`)
)

// ReadOnlyTools are the only tools offered while planning.
var ReadOnlyTools = []string{"Read", "Grep", "Glob"}

type section int

const (
	sectionNone section = iota
	sectionDescription
	sectionFiles
	sectionOther
)

// Parse extracts a plan from a model reply. The reply either carries a
// ```plan fenced block or "STEP n:" headers inline. A step takes its
// description from a DESCRIPTION: field or from the text right under its
// header, and its files from a FILES: list or from "- CREATE: path" style
// bullets under a Files: header.
func Parse(output, goal string, now time.Time) (*Plan, error) {
	block, err := planBlock(output)
	if err != nil {
		return nil, err
	}
	p := New(goal, now)

	var (
		cur  *Step
		sect section
	)
	flush := func() {
		if cur != nil {
			p.Steps = append(p.Steps, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		clean := strings.TrimSpace(strings.ReplaceAll(trimmed, "**", ""))
		if p.Summary == "" {
			if v, ok := cutField(clean, "SUMMARY:"); ok {
				p.Summary = v
				continue
			}
		}
		if m := stepHeader.FindStringSubmatch(clean); m != nil {
			flush()
			n, _ := strconv.Atoi(m[1])
			title := strings.TrimSpace(strings.Trim(m[2], "#* "))
			cur = &Step{Number: n, Title: title, Status: StepPending}
			sect = sectionNone
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case hasField(clean, "DESCRIPTION:"):
			v, _ := cutField(clean, "DESCRIPTION:")
			cur.Description = v
			sect = sectionDescription
		case hasField(clean, "FILES:"):
			v, _ := cutField(clean, "FILES:")
			cur.Files = append(cur.Files, splitList(v)...)
			sect = sectionFiles
		case hasField(clean, "TOOLS:"):
			v, _ := cutField(clean, "TOOLS:")
			cur.Tools = append(cur.Tools, splitList(v)...)
			sect = sectionOther
		case isHeading(clean):
			sect = sectionOther
		case sect == sectionFiles && strings.HasPrefix(clean, "- "):
			if f := bulletFile(clean); f != "" {
				cur.Files = append(cur.Files, f)
			}
		case clean == "":
		case sect == sectionNone || sect == sectionDescription:
			if cur.Description != "" {
				cur.Description += " "
			}
			cur.Description += clean
			sect = sectionDescription
		}
	}
	flush()

	if len(p.Steps) == 0 {
		return nil, failure.New(failure.KindInvalidArgument, "no steps found in plan output")
	}
	p.Status = StatusReady
	return p, nil
}

func planBlock(output string) (string, error) {
	if start := strings.Index(output, "```plan"); start >= 0 {
		body := output[start+len("```plan"):]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body), nil
	}
	if stepMarker.MatchString(output) {
		return output, nil
	}
	return "", failure.New(failure.KindInvalidArgument, "no plan found: expected a ```plan block or STEP markers")
}

func hasField(line, prefix string) bool {
	return len(line) >= len(prefix) && strings.EqualFold(line[:len(prefix)], prefix)
}

func cutField(line, prefix string) (string, bool) {
	if !hasField(line, prefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(prefix):]), true
}

// isHeading reports a label line such as "Implementation:" or "## Notes"
// that ends the current free-text section.
func isHeading(line string) bool {
	if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") {
		return true
	}
	return strings.HasSuffix(line, ":") && !strings.Contains(line, " ")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// bulletFile reads "- CREATE: path", "- MODIFY: path" or "- path".
func bulletFile(line string) string {
	item := strings.TrimSpace(strings.TrimPrefix(line, "- "))
	if verb, rest, ok := strings.Cut(item, ":"); ok && !strings.ContainsAny(verb, " /.") {
		item = strings.TrimSpace(rest)
	}
	item = strings.Trim(item, "`")
	if f, _, ok := strings.Cut(item, " ("); ok {
		item = f
	}
	return strings.TrimSpace(item)
}

// SystemPrompt replaces the conversation's system prompt while planning.
const SystemPrompt = `You are in PLAN MODE. Create a detailed, executable implementation plan.

## Available Tools
You have READ-ONLY access: Read, Grep, Glob.
Use them to explore the codebase and understand existing patterns.

## Plan Format
Wrap the plan in a fenced block that starts with ` + "```plan" + `:

` + "```plan" + `
SUMMARY: one sentence describing the approach
STEP 1: Descriptive title
DESCRIPTION: what to change and why it is needed
FILES: path/to/file.go, path/to/other.go
TOOLS: Edit, Bash
STEP 2: ...
` + "```" + `

## Guidelines
1. Explore first: use Glob, Grep and Read to learn the existing code before planning.
2. Keep steps atomic and independently verifiable, in a logical order.
3. Name the exact files each step touches and how to verify it.
4. Follow the patterns already present in the codebase.

DO NOT execute changes. Only produce the plan.`
