package skills

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToolList accepts a YAML sequence or a comma separated string and
// normalises it to a de-duplicated list. An absent field stays nil.
type ToolList []string

func (t *ToolList) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Tag == "!!null" {
		*t = nil
		return nil
	}
	var tools []string
	switch value.Kind {
	case yaml.ScalarNode:
		for _, entry := range strings.Split(value.Value, ",") {
			if name := strings.TrimSpace(entry); name != "" {
				tools = append(tools, name)
			}
		}
	case yaml.SequenceNode:
		for i, entry := range value.Content {
			if entry.Kind != yaml.ScalarNode {
				return fmt.Errorf("allowed-tools[%d]: expected string", i)
			}
			if name := strings.TrimSpace(entry.Value); name != "" {
				tools = append(tools, name)
			}
		}
	default:
		return errors.New("allowed-tools: expected string or sequence")
	}

	seen := map[string]struct{}{}
	out := make([]string, 0, len(tools))
	for _, name := range tools {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	// An explicit empty list restricts to nothing, so keep it non-nil.
	*t = ToolList(out)
	return nil
}

// ParseFrontMatter decodes the YAML block delimited by "---" lines at the
// top of content into out and returns the remaining body.
func ParseFrontMatter(content string, out any) (string, error) {
	trimmed := strings.TrimPrefix(content, "\uFEFF")
	trimmed = strings.ReplaceAll(trimmed, "\r\n", "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", errors.New("missing YAML frontmatter")
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return "", errors.New("missing closing frontmatter separator")
	}
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), out); err != nil {
		return "", fmt.Errorf("decode YAML: %w", err)
	}
	return strings.TrimSpace(strings.Join(lines[end+1:], "\n")), nil
}
