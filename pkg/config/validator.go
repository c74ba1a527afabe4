package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cexll/agentcore/pkg/route"
	"github.com/cexll/agentcore/pkg/security"
)

// Validator enforces constraints on merged Settings.
type Validator interface {
	Validate(*Settings) error
}

// FieldError names the offending field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string { return e.Field + ": " + e.Message }

// DefaultValidator checks every field that the core would otherwise reject
// later, and reports all problems at once.
type DefaultValidator struct{}

// Validate returns the joined FieldErrors, or nil.
func (DefaultValidator) Validate(s *Settings) error {
	if s == nil {
		return errors.New("config: settings are nil")
	}
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if s.DefaultTarget != "" {
		if t, err := route.ParseTarget(s.DefaultTarget); err != nil {
			add("default_target", "%v", err)
		} else if _, ok := s.Backends[t.Backend]; !ok {
			add("default_target", "backend %q is not configured", t.Backend)
		}
	}
	for _, name := range sortedKeys(s.Backends) {
		switch kind := s.Backends[name].Kind; kind {
		case KindAnthropic, KindOpenAI:
		default:
			add("backends."+name+".kind", "unknown backend kind %q", kind)
		}
	}
	checkRoutes := func(field string, m map[string]string) {
		for _, name := range sortedKeys(m) {
			if !route.KnownCategory(route.Category(name)) {
				add(field+name, "unknown category")
			}
			if _, err := route.ParseTarget(m[name]); err != nil {
				add(field+name, "%v", err)
			}
		}
	}
	checkRoutes("routing.routes.", s.Routing.Routes)
	checkRoutes("routing.defaults.", s.Routing.Defaults)

	if _, err := security.ParseMode(s.Permissions.Mode); err != nil {
		add("permissions.mode", "%v", err)
	}
	if _, err := security.CompileRules(s.RuleConfig()); err != nil {
		add("permissions", "%v", err)
	}

	if s.MaxTurns <= 0 {
		add("max_turns", "must be greater than 0, got %d", s.MaxTurns)
	}
	if t := s.Context.AutoCompactThreshold; t <= 0 || t > 1 {
		add("context.auto_compact_threshold", "must be in (0, 1], got %v", t)
	}
	if s.Context.MaxChars <= 0 {
		add("context.max_chars", "must be greater than 0")
	}
	if s.Context.KeepLastTurns < 0 {
		add("context.keep_last_turns", "must not be negative")
	}
	if s.Bash.TimeoutMS < 0 || s.Bash.MaxOutputBytes < 0 {
		add("bash", "limits must not be negative")
	}
	if s.Retry.MaxRetries < 0 {
		add("retry.max_retries", "must not be negative")
	}
	if s.Retry.MaxDelayMS < s.Retry.BaseDelayMS {
		add("retry.max_delay_ms", "must be at least base_delay_ms")
	}

	for _, name := range sortedKeys(s.MCP.Servers) {
		spec := s.MCP.Servers[name]
		spec.Name = name
		if err := spec.Validate(); err != nil {
			add("mcp.servers."+name, "%v", err)
		}
	}
	for i, hook := range s.Hooks {
		if err := hook.Validate(); err != nil {
			add(fmt.Sprintf("hooks[%d]", i), "%v", err)
		}
	}
	if s.Cost.WarnThresholdUSD < 0 {
		add("cost.warn_threshold_usd", "must not be negative")
	}
	return errors.Join(errs...)
}

// RuleConfig extracts the policy rule input.
func (s *Settings) RuleConfig() security.RuleConfig {
	return security.RuleConfig{
		Allow:             s.Permissions.Allow,
		Ask:               s.Permissions.Ask,
		Deny:              s.Permissions.Deny,
		RemoveBuiltinDeny: s.Permissions.RemoveBuiltinDeny,
	}
}

// Mode parses the configured permission mode.
func (s *Settings) Mode() (security.Mode, error) {
	return security.ParseMode(s.Permissions.Mode)
}

// RouteTable converts the routing section. Call after validation.
func (s *Settings) RouteTable() route.Table {
	table := route.Table{
		Routes:   make(map[route.Category]route.Target, len(s.Routing.Routes)),
		Defaults: make(map[route.Category]route.Target, len(s.Routing.Defaults)),
	}
	for name, raw := range s.Routing.Routes {
		if t, err := route.ParseTarget(raw); err == nil {
			table.Routes[route.Category(strings.TrimSpace(name))] = t
		}
	}
	for name, raw := range s.Routing.Defaults {
		if t, err := route.ParseTarget(raw); err == nil {
			table.Defaults[route.Category(strings.TrimSpace(name))] = t
		}
	}
	if s.DefaultTarget != "" {
		if t, err := route.ParseTarget(s.DefaultTarget); err == nil {
			table.Global = t
		}
	}
	return table
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
