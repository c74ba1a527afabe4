package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// BuiltinDeny is the non-configurable floor of network fetch programs. An
// entry is only dropped when listed in RuleConfig.RemoveBuiltinDeny.
var BuiltinDeny = []string{"Bash(curl:*)", "Bash(wget:*)"}

type ruleKind int

const (
	ruleTool ruleKind = iota
	ruleToolArg
	ruleToolArgPrefix
	ruleMCPWildcard
)

// Rule is a pattern compiled once at load time.
type Rule struct {
	raw     string
	kind    ruleKind
	tool    string
	arg     string
	builtin bool
}

// String returns the pattern as written in configuration.
func (r Rule) String() string { return r.raw }

// ParseRule compiles a single pattern: "Tool", "Tool(arg)", "Tool(prefix:*)",
// "mcp.*" or "mcp.<server>.*".
func ParseRule(pattern string) (Rule, error) {
	raw := strings.TrimSpace(pattern)
	if raw == "" {
		return Rule{}, fmt.Errorf("security: empty permission rule")
	}
	if strings.HasPrefix(raw, "mcp.") && strings.HasSuffix(raw, ".*") {
		return Rule{raw: raw, kind: ruleMCPWildcard, tool: strings.TrimSuffix(raw, ".*")}, nil
	}
	open := strings.IndexByte(raw, '(')
	if open < 0 {
		if strings.ContainsAny(raw, ")") {
			return Rule{}, fmt.Errorf("security: malformed permission rule %q", raw)
		}
		return Rule{raw: raw, kind: ruleTool, tool: raw}, nil
	}
	if !strings.HasSuffix(raw, ")") || open == 0 {
		return Rule{}, fmt.Errorf("security: malformed permission rule %q", raw)
	}
	tool := strings.TrimSpace(raw[:open])
	arg := raw[open+1 : len(raw)-1]
	if prefix, ok := strings.CutSuffix(arg, ":*"); ok {
		return Rule{raw: raw, kind: ruleToolArgPrefix, tool: tool, arg: prefix}, nil
	}
	return Rule{raw: raw, kind: ruleToolArg, tool: tool, arg: arg}, nil
}

func (r Rule) matches(tool string, arg string, hasArg bool) bool {
	switch r.kind {
	case ruleTool:
		return r.tool == tool
	case ruleMCPWildcard:
		rest, ok := strings.CutPrefix(tool, r.tool)
		return ok && strings.HasPrefix(tool, "mcp.") && (rest == "" || strings.HasPrefix(rest, "."))
	case ruleToolArg:
		return r.tool == tool && hasArg && arg == r.arg
	case ruleToolArgPrefix:
		return r.tool == tool && hasArg && strings.HasPrefix(arg, r.arg)
	}
	return false
}

// matchesAny reports whether the rule matches any of the arguments.
func (r Rule) matchesAny(tool string, args []string) bool {
	for _, arg := range args {
		if r.matches(tool, arg, true) {
			return true
		}
	}
	return false
}

// RuleConfig is the raw rule input as found in configuration.
type RuleConfig struct {
	Allow             []string
	Ask               []string
	Deny              []string
	RemoveBuiltinDeny []string
}

// RuleSet holds the three ordered rule lists. It is immutable after
// CompileRules, so a snapshot can be shared with subagents without copying.
type RuleSet struct {
	allow []Rule
	ask   []Rule
	deny  []Rule
}

// CompileRules parses every pattern once. The built-in deny floor is placed
// ahead of configured deny rules.
func CompileRules(cfg RuleConfig) (*RuleSet, error) {
	removed := make(map[string]struct{}, len(cfg.RemoveBuiltinDeny))
	for _, raw := range cfg.RemoveBuiltinDeny {
		removed[strings.TrimSpace(raw)] = struct{}{}
	}
	set := &RuleSet{}
	for _, raw := range BuiltinDeny {
		if _, ok := removed[raw]; ok {
			continue
		}
		rule, err := ParseRule(raw)
		if err != nil {
			return nil, err
		}
		rule.builtin = true
		set.deny = append(set.deny, rule)
	}
	var err error
	if set.deny, err = appendRules(set.deny, cfg.Deny); err != nil {
		return nil, err
	}
	if set.allow, err = appendRules(set.allow, cfg.Allow); err != nil {
		return nil, err
	}
	if set.ask, err = appendRules(set.ask, cfg.Ask); err != nil {
		return nil, err
	}
	return set, nil
}

// MustCompileRules is CompileRules for static rule sets in tests and defaults.
func MustCompileRules(cfg RuleConfig) *RuleSet {
	set, err := CompileRules(cfg)
	if err != nil {
		panic(err)
	}
	return set
}

func appendRules(dst []Rule, raws []string) ([]Rule, error) {
	for _, raw := range raws {
		rule, err := ParseRule(raw)
		if err != nil {
			return nil, err
		}
		dst = append(dst, rule)
	}
	return dst, nil
}

// Len reports the number of compiled rules per list.
func (s *RuleSet) Len() (allow, ask, deny int) {
	if s == nil {
		return 0, 0, 0
	}
	return len(s.allow), len(s.ask), len(s.deny)
}

// primaryArgument extracts the canonical argument string for a tool.
func primaryArgument(tool string, params map[string]any) (string, bool) {
	var key string
	switch tool {
	case "Bash":
		key = "command"
	case "Read", "Write", "Edit":
		key = "path"
	case "Grep", "Glob":
		key = "pattern"
	default:
		return "", false
	}
	raw, ok := params[key].(string)
	if !ok {
		return "", false
	}
	switch key {
	case "command":
		return strings.TrimSpace(raw), true
	case "path":
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return "", true
		}
		return filepath.ToSlash(filepath.Clean(trimmed)), true
	default:
		return raw, true
	}
}
