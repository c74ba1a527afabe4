package config

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cexll/agentcore/pkg/core/hooks"
	"github.com/cexll/agentcore/pkg/cost"
	"github.com/cexll/agentcore/pkg/mcp"
	"github.com/cexll/agentcore/pkg/telemetry"
)

// Defaults applied when a field is left unset.
const (
	DefaultMaxTurns             = 12
	DefaultMaxChars             = 250_000
	DefaultAutoCompactThreshold = 0.95
	DefaultKeepLastTurns        = 10
	DefaultBashTimeoutMS        = 120_000
	DefaultBashMaxOutputBytes   = 30_000
	DefaultMaxRetries           = 3
	DefaultRetryBaseDelayMS     = 2_000
	DefaultRetryMaxDelayMS      = 30_000
)

// Backend kinds. An openai backend also serves any OpenAI-compatible server.
const (
	KindAnthropic = "anthropic"
	KindOpenAI    = "openai"
)

// Settings is the merged, validated configuration handed to the core. It
// is treated as read-only once loaded.
type Settings struct {
	Backends      map[string]BackendConfig `json:"backends,omitempty" yaml:"backends,omitempty"`
	DefaultTarget string                   `json:"default_target,omitempty" yaml:"default_target,omitempty"`
	Routing       RoutingConfig            `json:"routing,omitempty" yaml:"routing,omitempty"`
	Permissions   PermissionsConfig        `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Bash          BashConfig               `json:"bash,omitempty" yaml:"bash,omitempty"`
	Context       ContextConfig            `json:"context,omitempty" yaml:"context,omitempty"`
	MaxTurns      int                      `json:"max_turns,omitempty" yaml:"max_turns,omitempty"`
	Retry         RetryConfig              `json:"retry,omitempty" yaml:"retry,omitempty"`
	MCP           MCPConfig                `json:"mcp,omitempty" yaml:"mcp,omitempty"`
	Hooks         []hooks.Definition       `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	Cost          CostConfig               `json:"cost,omitempty" yaml:"cost,omitempty"`
	Telemetry     telemetry.Config         `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
	Transcript    TranscriptConfig         `json:"transcript,omitempty" yaml:"transcript,omitempty"`

	// Sources lists the files merged into these settings, lowest
	// precedence first. SourceHash digests their content.
	Sources    []string `json:"-" yaml:"-"`
	SourceHash string   `json:"-" yaml:"-"`
}

// BackendConfig describes one model provider.
type BackendConfig struct {
	Kind      string `json:"kind,omitempty" yaml:"kind,omitempty"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// ResolveAPIKey prefers the inline key, then the environment variable.
// An empty result is valid for self-hosted servers.
func (b BackendConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(b.APIKey); key != "" {
		return key
	}
	if b.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(b.APIKeyEnv))
	}
	return ""
}

// RoutingConfig maps task categories (search, code, test, docs, review,
// default) to targets ("model@backend"). Routes win over Defaults.
type RoutingConfig struct {
	Routes   map[string]string `json:"routes,omitempty" yaml:"routes,omitempty"`
	Defaults map[string]string `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// PermissionsConfig holds the policy inputs.
type PermissionsConfig struct {
	Mode              string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	Allow             []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Ask               []string `json:"ask,omitempty" yaml:"ask,omitempty"`
	Deny              []string `json:"deny,omitempty" yaml:"deny,omitempty"`
	RemoveBuiltinDeny []string `json:"remove_builtin_deny,omitempty" yaml:"remove_builtin_deny,omitempty"`
	// AutoApprove answers every Ask with Allow.
	AutoApprove bool `json:"auto_approve,omitempty" yaml:"auto_approve,omitempty"`
}

// BashConfig bounds the Bash tool.
type BashConfig struct {
	TimeoutMS      int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	MaxOutputBytes int `json:"max_output_bytes,omitempty" yaml:"max_output_bytes,omitempty"`
}

// Timeout is TimeoutMS as a duration.
func (b BashConfig) Timeout() time.Duration { return time.Duration(b.TimeoutMS) * time.Millisecond }

// ContextConfig sets the history budget and compaction behaviour.
type ContextConfig struct {
	MaxChars             int     `json:"max_chars,omitempty" yaml:"max_chars,omitempty"`
	AutoCompactThreshold float64 `json:"auto_compact_threshold,omitempty" yaml:"auto_compact_threshold,omitempty"`
	AutoCompactEnabled   *bool   `json:"auto_compact_enabled,omitempty" yaml:"auto_compact_enabled,omitempty"`
	KeepLastTurns        int     `json:"keep_last_turns,omitempty" yaml:"keep_last_turns,omitempty"`
}

// CompactionEnabled reports auto_compact_enabled, true when unset.
func (c ContextConfig) CompactionEnabled() bool {
	return c.AutoCompactEnabled == nil || *c.AutoCompactEnabled
}

// RetryConfig bounds transient backend retries.
type RetryConfig struct {
	MaxRetries  int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	BaseDelayMS int `json:"base_delay_ms,omitempty" yaml:"base_delay_ms,omitempty"`
	MaxDelayMS  int `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
}

// BaseDelay is BaseDelayMS as a duration.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// MaxDelay is MaxDelayMS as a duration.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMS) * time.Millisecond
}

// MCPConfig lists tool-provider servers keyed by name.
type MCPConfig struct {
	Servers map[string]mcp.ServerSpec `json:"servers,omitempty" yaml:"servers,omitempty"`
}

// ServerSpecs returns the servers sorted by name with Name filled from the
// map key.
func (m MCPConfig) ServerSpecs() []mcp.ServerSpec {
	names := make([]string, 0, len(m.Servers))
	for name := range m.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]mcp.ServerSpec, 0, len(names))
	for _, name := range names {
		spec := m.Servers[name]
		spec.Name = name
		out = append(out, spec)
	}
	return out
}

// CostConfig controls cost tracking.
type CostConfig struct {
	Enabled          *bool                   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	WarnThresholdUSD float64                 `json:"warn_threshold_usd,omitempty" yaml:"warn_threshold_usd,omitempty"`
	Pricing          map[string]cost.Pricing `json:"pricing,omitempty" yaml:"pricing,omitempty"`
}

// TrackingEnabled reports enabled, true when unset.
func (c CostConfig) TrackingEnabled() bool { return c.Enabled == nil || *c.Enabled }

// Table builds the pricing table with configured overrides.
func (c CostConfig) Table() *cost.Table { return cost.NewTable(c.Pricing) }

// TranscriptConfig points the JSONL transcript sink at a file. A relative
// path is resolved against the project root; an empty one picks a per-run
// file under .agentcore/transcripts.
type TranscriptConfig struct {
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// BuiltinBackends are always present unless a config file overrides them.
func BuiltinBackends() map[string]BackendConfig {
	return map[string]BackendConfig{
		"anthropic": {Kind: KindAnthropic, APIKeyEnv: "ANTHROPIC_API_KEY"},
		"openai":    {Kind: KindOpenAI, APIKeyEnv: "OPENAI_API_KEY"},
		"ollama":    {Kind: KindOpenAI, BaseURL: "http://localhost:11434/v1"},
	}
}

// Default returns settings holding only built-in values.
func Default() *Settings {
	s := &Settings{}
	s.ApplyDefaults()
	return s
}

// ApplyDefaults fills every unset field.
func (s *Settings) ApplyDefaults() {
	if s.Backends == nil {
		s.Backends = map[string]BackendConfig{}
	}
	for name, backend := range BuiltinBackends() {
		if _, ok := s.Backends[name]; !ok {
			s.Backends[name] = backend
		}
	}
	for name, backend := range s.Backends {
		if backend.Kind == "" {
			backend.Kind = KindOpenAI
			if name == KindAnthropic {
				backend.Kind = KindAnthropic
			}
			s.Backends[name] = backend
		}
	}
	if s.MaxTurns == 0 {
		s.MaxTurns = DefaultMaxTurns
	}
	if s.Context.MaxChars == 0 {
		s.Context.MaxChars = DefaultMaxChars
	}
	if s.Context.AutoCompactThreshold == 0 {
		s.Context.AutoCompactThreshold = DefaultAutoCompactThreshold
	}
	if s.Context.KeepLastTurns == 0 {
		s.Context.KeepLastTurns = DefaultKeepLastTurns
	}
	if s.Bash.TimeoutMS == 0 {
		s.Bash.TimeoutMS = DefaultBashTimeoutMS
	}
	if s.Bash.MaxOutputBytes == 0 {
		s.Bash.MaxOutputBytes = DefaultBashMaxOutputBytes
	}
	if s.Retry.MaxRetries == 0 {
		s.Retry.MaxRetries = DefaultMaxRetries
	}
	if s.Retry.BaseDelayMS == 0 {
		s.Retry.BaseDelayMS = DefaultRetryBaseDelayMS
	}
	if s.Retry.MaxDelayMS == 0 {
		s.Retry.MaxDelayMS = DefaultRetryMaxDelayMS
	}
	if s.Permissions.Mode == "" {
		s.Permissions.Mode = "default"
	}
	for name, spec := range s.MCP.Servers {
		if spec.TimeoutMS == 0 {
			spec.TimeoutMS = int(mcp.DefaultTimeout / time.Millisecond)
		}
		spec.Name = name
		s.MCP.Servers[name] = spec
	}
}

// Merge layers other on top of s. Maps merge per key, rule lists and hooks
// concatenate, and scalars are replaced only when other sets them.
func (s *Settings) Merge(other *Settings) {
	if other == nil {
		return
	}
	if len(other.Backends) > 0 && s.Backends == nil {
		s.Backends = map[string]BackendConfig{}
	}
	for name, backend := range other.Backends {
		s.Backends[name] = backend
	}
	if other.DefaultTarget != "" {
		s.DefaultTarget = other.DefaultTarget
	}
	s.Routing.Routes = mergeStrings(s.Routing.Routes, other.Routing.Routes)
	s.Routing.Defaults = mergeStrings(s.Routing.Defaults, other.Routing.Defaults)

	p := &s.Permissions
	if other.Permissions.Mode != "" {
		p.Mode = other.Permissions.Mode
	}
	p.Allow = append(p.Allow, other.Permissions.Allow...)
	p.Ask = append(p.Ask, other.Permissions.Ask...)
	p.Deny = append(p.Deny, other.Permissions.Deny...)
	p.RemoveBuiltinDeny = append(p.RemoveBuiltinDeny, other.Permissions.RemoveBuiltinDeny...)
	p.AutoApprove = p.AutoApprove || other.Permissions.AutoApprove

	if other.Bash.TimeoutMS != 0 {
		s.Bash.TimeoutMS = other.Bash.TimeoutMS
	}
	if other.Bash.MaxOutputBytes != 0 {
		s.Bash.MaxOutputBytes = other.Bash.MaxOutputBytes
	}
	if other.Context.MaxChars != 0 {
		s.Context.MaxChars = other.Context.MaxChars
	}
	if other.Context.AutoCompactThreshold != 0 {
		s.Context.AutoCompactThreshold = other.Context.AutoCompactThreshold
	}
	if other.Context.AutoCompactEnabled != nil {
		s.Context.AutoCompactEnabled = other.Context.AutoCompactEnabled
	}
	if other.Context.KeepLastTurns != 0 {
		s.Context.KeepLastTurns = other.Context.KeepLastTurns
	}
	if other.MaxTurns != 0 {
		s.MaxTurns = other.MaxTurns
	}
	if other.Retry.MaxRetries != 0 {
		s.Retry.MaxRetries = other.Retry.MaxRetries
	}
	if other.Retry.BaseDelayMS != 0 {
		s.Retry.BaseDelayMS = other.Retry.BaseDelayMS
	}
	if other.Retry.MaxDelayMS != 0 {
		s.Retry.MaxDelayMS = other.Retry.MaxDelayMS
	}
	if len(other.MCP.Servers) > 0 && s.MCP.Servers == nil {
		s.MCP.Servers = map[string]mcp.ServerSpec{}
	}
	for name, spec := range other.MCP.Servers {
		s.MCP.Servers[name] = spec
	}
	s.Hooks = append(s.Hooks, other.Hooks...)
	if other.Cost.Enabled != nil {
		s.Cost.Enabled = other.Cost.Enabled
	}
	if other.Cost.WarnThresholdUSD != 0 {
		s.Cost.WarnThresholdUSD = other.Cost.WarnThresholdUSD
	}
	if len(other.Cost.Pricing) > 0 && s.Cost.Pricing == nil {
		s.Cost.Pricing = map[string]cost.Pricing{}
	}
	for name, p := range other.Cost.Pricing {
		s.Cost.Pricing[name] = p
	}
	if other.Telemetry.Enabled || other.Telemetry.Endpoint != "" {
		s.Telemetry = other.Telemetry
	}
	if other.Transcript.Path != "" {
		s.Transcript.Path = other.Transcript.Path
	}
	s.Transcript.Disabled = s.Transcript.Disabled || other.Transcript.Disabled
}

func mergeStrings(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
