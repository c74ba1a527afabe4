package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cexll/agentcore/pkg/core/events"
	"github.com/cexll/agentcore/pkg/route"
	"github.com/cexll/agentcore/pkg/security"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, DirName, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithoutFiles(t *testing.T) {
	l, err := NewLoader(t.TempDir(), WithHomeDir(""))
	require.NoError(t, err)

	s, err := l.Load()
	require.NoError(t, err)
	require.Empty(t, s.Sources)
	require.Equal(t, DefaultMaxTurns, s.MaxTurns)
	require.Equal(t, 250_000, s.Context.MaxChars)
	require.Equal(t, 0.95, s.Context.AutoCompactThreshold)
	require.Equal(t, 10, s.Context.KeepLastTurns)
	require.True(t, s.Context.CompactionEnabled())
	require.Equal(t, 120_000, s.Bash.TimeoutMS)
	require.Equal(t, 30_000, s.Bash.MaxOutputBytes)
	require.Equal(t, 3, s.Retry.MaxRetries)
	require.True(t, s.Cost.TrackingEnabled())
	require.Contains(t, s.Backends, "anthropic")
	require.Equal(t, KindOpenAI, s.Backends["ollama"].Kind)

	mode, err := s.Mode()
	require.NoError(t, err)
	require.Equal(t, security.ModeDefault, mode)

	last, ok := l.Last()
	require.True(t, ok)
	require.Same(t, s, last)
}

func TestLoadLayersInPrecedenceOrder(t *testing.T) {
	home := t.TempDir()
	root := t.TempDir()
	writeConfig(t, home, "config.yaml", `
default_target: gpt-4o@openai
permissions:
  allow: ["Read"]
max_turns: 5
`)
	writeConfig(t, root, "config.yaml", `
default_target: claude-3-5-sonnet-latest@anthropic
permissions:
  mode: accept-edits
  allow: ["Bash(go test:*)"]
  deny: ["Write(secrets/*)"]
context:
  auto_compact_enabled: false
mcp:
  servers:
    fs:
      command: mcp-fs
      args: ["--root", "."]
hooks:
  - event: PreToolUse
    command: ./check.sh
    matcher: "^Bash$"
`)
	writeConfig(t, root, "config.local.json", `{"max_turns": 20, "routing": {"routes": {"search": "llama3@ollama"}}}`)

	l, err := NewLoader(root, WithHomeDir(home))
	require.NoError(t, err)
	s, err := l.Load()
	require.NoError(t, err)

	require.Len(t, s.Sources, 3)
	require.NotEmpty(t, s.SourceHash)
	require.Equal(t, "claude-3-5-sonnet-latest@anthropic", s.DefaultTarget)
	require.Equal(t, []string{"Read", "Bash(go test:*)"}, s.Permissions.Allow)
	require.Equal(t, []string{"Write(secrets/*)"}, s.Permissions.Deny)
	require.Equal(t, 20, s.MaxTurns)
	require.False(t, s.Context.CompactionEnabled())
	require.Len(t, s.Hooks, 1)
	require.Equal(t, events.PreToolUse, s.Hooks[0].Event)

	mode, err := s.Mode()
	require.NoError(t, err)
	require.Equal(t, security.ModeAcceptEdits, mode)

	specs := s.MCP.ServerSpecs()
	require.Len(t, specs, 1)
	require.Equal(t, "fs", specs[0].Name)
	require.Equal(t, 30_000, specs[0].TimeoutMS)

	table := s.RouteTable()
	require.Equal(t, route.MustParseTarget("llama3@ollama"), table.Routes[route.CategorySearch])
	require.Equal(t, "anthropic", table.Global.Backend)
}

func TestExplicitFileWinsAndMustExist(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", "max_turns: 4\n")
	extra := filepath.Join(t.TempDir(), "ci.yaml")
	require.NoError(t, os.WriteFile(extra, []byte("max_turns: 2\npermissions:\n  auto_approve: true\n"), 0o600))

	l, err := NewLoader(root, WithHomeDir(""), WithFile(extra))
	require.NoError(t, err)
	s, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, 2, s.MaxTurns)
	require.True(t, s.Permissions.AutoApprove)

	l, err = NewLoader(root, WithHomeDir(""), WithFile(filepath.Join(root, "missing.yaml")))
	require.NoError(t, err)
	_, err = l.Load()
	require.ErrorContains(t, err, "missing.yaml")
}

func TestValidatorReportsEveryField(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", `
default_target: nobackend
permissions:
  mode: yolo
  allow: ["Bash("]
context:
  auto_compact_threshold: 1.5
routing:
  routes:
    cooking: a@b
mcp:
  servers:
    remote:
      transport: sse
hooks:
  - event: Whenever
    command: "true"
backends:
  weird:
    kind: carrier-pigeon
`)
	l, err := NewLoader(root, WithHomeDir(""))
	require.NoError(t, err)
	_, err = l.Load()
	require.Error(t, err)
	for _, field := range []string{
		"default_target", "permissions.mode", "permissions:", "context.auto_compact_threshold",
		"routing.routes.cooking", "mcp.servers.remote", "hooks[0]", "backends.weird.kind",
	} {
		require.ErrorContains(t, err, field)
	}
	_, ok := l.Last()
	require.False(t, ok)
}

func TestReloadKeepsLastGood(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, root, "config.yaml", "max_turns: 7\n")
	l, err := NewLoader(root, WithHomeDir(""))
	require.NoError(t, err)
	first, err := l.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("max_turns: -1\n"), 0o600))
	got, err := l.Reload()
	require.ErrorContains(t, err, "keeping last good config")
	require.Same(t, first, got)

	require.NoError(t, os.WriteFile(path, []byte("max_turns: 9\n"), 0o600))
	got, err = l.Reload()
	require.NoError(t, err)
	require.Equal(t, 9, got.MaxTurns)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("max_turns: [unterminated"))
	require.ErrorContains(t, err, "config decode failed")

	s, err := Parse([]byte("  \n"))
	require.NoError(t, err)
	require.Zero(t, s.MaxTurns)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("AGENTCORE_TEST_KEY", "from-env")
	require.Equal(t, "inline", BackendConfig{APIKey: "inline", APIKeyEnv: "AGENTCORE_TEST_KEY"}.ResolveAPIKey())
	require.Equal(t, "from-env", BackendConfig{APIKeyEnv: "AGENTCORE_TEST_KEY"}.ResolveAPIKey())
	require.Empty(t, BackendConfig{BaseURL: "http://localhost:11434/v1"}.ResolveAPIKey())
}

func TestCostTable(t *testing.T) {
	s, err := Parse([]byte("cost:\n  pricing:\n    my-model: {input: 1, output: 2}\n"))
	require.NoError(t, err)
	require.InDelta(t, 3.0, s.Cost.Table().Calculate("my-model", 1_000_000, 1_000_000), 1e-9)
}
