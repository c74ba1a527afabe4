package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecideModeDefaults(t *testing.T) {
	rules := MustCompileRules(RuleConfig{})
	tests := []struct {
		mode Mode
		tool string
		want Action
	}{
		{ModeDefault, "Read", ActionAllow},
		{ModeDefault, "Write", ActionAsk},
		{ModeDefault, "Bash", ActionAsk},
		{ModeAcceptEdits, "Read", ActionAllow},
		{ModeAcceptEdits, "Edit", ActionAllow},
		{ModeAcceptEdits, "Bash", ActionAsk},
		{ModeBypassPermissions, "Read", ActionAllow},
		{ModeBypassPermissions, "Write", ActionAllow},
		{ModeBypassPermissions, "Bash", ActionAllow},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String()+"/"+tt.tool, func(t *testing.T) {
			got := Decide(tt.mode, rules, Invocation{Tool: tt.tool, Params: map[string]any{"command": "ls", "path": "a.txt"}})
			require.Equal(t, tt.want, got.Action)
			require.Equal(t, SourceMode, got.Source)
		})
	}
}

func TestDecideUnknownAndProviderToolsAreShell(t *testing.T) {
	rules := MustCompileRules(RuleConfig{})
	require.Equal(t, ActionAsk, Decide(ModeAcceptEdits, rules, Invocation{Tool: "mcp.calc.add"}).Action)
	require.Equal(t, ActionAsk, Decide(ModeDefault, rules, Invocation{Tool: "WebFetch"}).Action)
	require.Equal(t, ActionAsk, Decide(ModeDefault, rules, Invocation{Tool: "Task"}).Action)
	require.Equal(t, ActionAllow, Decide(ModeAcceptEdits, MustCompileRules(RuleConfig{Allow: []string{"Task"}}), Invocation{Tool: "Task"}).Action)
}

func TestDecideDenyWins(t *testing.T) {
	rules := MustCompileRules(RuleConfig{
		Allow: []string{"Write"},
		Ask:   []string{"Write(secrets.env)"},
		Deny:  []string{"Write(secrets.env)"},
	})
	got := Decide(ModeBypassPermissions, rules, Invocation{Tool: "Write", Params: map[string]any{"path": "./secrets.env"}})
	require.Equal(t, ActionDeny, got.Action)
	require.Equal(t, "Write(secrets.env)", got.Rule)
	require.Equal(t, "secrets.env", got.Target)
}

func TestDecideAllowBeforeAsk(t *testing.T) {
	rules := MustCompileRules(RuleConfig{
		Allow: []string{"Bash(git:*)"},
		Ask:   []string{"Bash(git push:*)"},
	})
	got := Decide(ModeDefault, rules, Invocation{Tool: "Bash", Params: map[string]any{"command": "git push origin"}})
	require.Equal(t, ActionAllow, got.Action)
	require.Equal(t, "Bash(git:*)", got.Rule)

	got = Decide(ModeDefault, MustCompileRules(RuleConfig{Ask: []string{"Read"}}), Invocation{Tool: "Read"})
	require.Equal(t, ActionAsk, got.Action)
}

func TestDecideBuiltinFetchFloor(t *testing.T) {
	rules := MustCompileRules(RuleConfig{Allow: []string{"Bash"}})
	for _, cmd := range []string{
		"curl https://example.com",
		"wget -q http://x",
		"  curl -s x",
		"true && curl x",
		"ls; wget x",
		"echo x | curl -d @- x",
		"/usr/bin/curl x",
		"env wget x",
		"env -u HOME HTTP_PROXY=y wget x",
		"FOO=1 curl x",
		"sudo -u root /usr/local/bin/curl x",
		"timeout 5 curl x",
		"sh -c 'curl x'",
		`bash -lc "cd /tmp && wget x"`,
		"echo $(curl x)",
		"echo `wget -O- x`",
		"echo url | xargs curl",
	} {
		got := Decide(ModeBypassPermissions, rules, Invocation{Tool: "Bash", Params: map[string]any{"command": cmd}})
		require.Equal(t, ActionDeny, got.Action, cmd)
		require.Equal(t, SourceBuiltin, got.Source, cmd)
	}
	for _, cmd := range []string{"echo curl", "grep -rn wget .", "echo 'a; curl x'", "git commit -m \"use curl\""} {
		got := Decide(ModeBypassPermissions, rules, Invocation{Tool: "Bash", Params: map[string]any{"command": cmd}})
		require.Equal(t, ActionAllow, got.Action, cmd)
	}

	relaxed := MustCompileRules(RuleConfig{RemoveBuiltinDeny: []string{"Bash(curl:*)"}})
	got := Decide(ModeBypassPermissions, relaxed, Invocation{Tool: "Bash", Params: map[string]any{"command": "curl x"}})
	require.Equal(t, ActionAllow, got.Action)
	got = Decide(ModeBypassPermissions, relaxed, Invocation{Tool: "Bash", Params: map[string]any{"command": "wget x"}})
	require.Equal(t, ActionDeny, got.Action)
}

func TestConfiguredBashDenyMatchesEachCommand(t *testing.T) {
	rules := MustCompileRules(RuleConfig{Allow: []string{"Bash"}, Deny: []string{"Bash(rm -rf:*)"}})
	got := Decide(ModeBypassPermissions, rules, Invocation{Tool: "Bash", Params: map[string]any{"command": "make && rm -rf build"}})
	require.Equal(t, ActionDeny, got.Action)
	require.Equal(t, SourceRule, got.Source)
	require.Equal(t, "Bash(rm -rf:*)", got.Rule)

	got = Decide(ModeBypassPermissions, rules, Invocation{Tool: "Bash", Params: map[string]any{"command": "make && rm build"}})
	require.Equal(t, ActionAllow, got.Action)
}

func TestCommandSegments(t *testing.T) {
	tests := []struct {
		cmd  string
		want []string
	}{
		{"ls -la", []string{"ls -la"}},
		{"true && curl x", []string{"true", "curl x"}},
		{"a; b || c | d", []string{"a", "b", "c", "d"}},
		{"/usr/bin/curl -s 'a b'", []string{"curl -s a b"}},
		{"env -i A=1 sudo -u me nice -n 5 wget x", []string{"wget x"}},
		{"sh -c 'cd x; curl y'", []string{"cd x", "curl y"}},
		{"echo 'a; curl'", []string{"echo a; curl"}},
		{"echo $(curl x)", []string{"echo", "curl x"}},
		{"A=1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			require.Equal(t, tt.want, commandSegments(tt.cmd))
		})
	}
}

func TestRuleMatching(t *testing.T) {
	tests := []struct {
		pattern string
		tool    string
		params  map[string]any
		want    bool
	}{
		{"Write", "Write", map[string]any{"path": "x"}, true},
		{"Write", "Edit", nil, false},
		{"Bash(git diff:*)", "Bash", map[string]any{"command": "git diff HEAD"}, true},
		{"Bash(git diff:*)", "Bash", map[string]any{"command": "git status"}, false},
		{"Bash(git diff:*)", "Bash", nil, false},
		{"Edit(src/lib.rs)", "Edit", map[string]any{"path": "src/lib.rs"}, true},
		{"Edit(src/lib.rs)", "Edit", map[string]any{"path": "src/./lib.rs"}, true},
		{"Edit(src/lib.rs)", "Edit", map[string]any{"path": "src/lib.rs.bak"}, false},
		{"Grep(TODO)", "Grep", map[string]any{"pattern": "TODO"}, true},
		{"mcp.*", "mcp.calc.add", nil, true},
		{"mcp.calc.*", "mcp.calc.add", nil, true},
		{"mcp.calc.*", "mcp.calculator.add", nil, false},
		{"mcp.*", "Bash", nil, false},
		{"WebFetch(https://x:*)", "WebFetch", map[string]any{"url": "https://x/y"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"->"+tt.tool, func(t *testing.T) {
			rule, err := ParseRule(tt.pattern)
			require.NoError(t, err)
			arg, ok := primaryArgument(tt.tool, tt.params)
			require.Equal(t, tt.want, rule.matches(tt.tool, arg, ok))
		})
	}
}

func TestParseRuleErrors(t *testing.T) {
	for _, raw := range []string{"", "Bash(", "(x)", "Bash)"} {
		_, err := ParseRule(raw)
		require.Error(t, err, raw)
	}
	_, err := CompileRules(RuleConfig{Deny: []string{"Bash("}})
	require.Error(t, err)
}

func TestRuleSetLen(t *testing.T) {
	allow, ask, deny := MustCompileRules(RuleConfig{Allow: []string{"Read"}, Deny: []string{"Write"}}).Len()
	require.Equal(t, 1, allow)
	require.Equal(t, 0, ask)
	require.Equal(t, len(BuiltinDeny)+1, deny)

	allow, ask, deny = (*RuleSet)(nil).Len()
	require.Zero(t, allow+ask+deny)
}

func TestParseModeAliases(t *testing.T) {
	cases := map[string]Mode{
		"default":            ModeDefault,
		"acceptEdits":        ModeAcceptEdits,
		"accept-edits":       ModeAcceptEdits,
		"accept_edits":       ModeAcceptEdits,
		"bypassPermissions":  ModeBypassPermissions,
		"bypass-permissions": ModeBypassPermissions,
		"bypass":             ModeBypassPermissions,
	}
	for raw, want := range cases {
		got, err := ParseMode(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	_, err := ParseMode("yolo")
	require.Error(t, err)
}

func TestMinMode(t *testing.T) {
	require.Equal(t, ModeDefault, MinMode(ModeBypassPermissions, ModeDefault))
	require.Equal(t, ModeAcceptEdits, MinMode(ModeAcceptEdits, ModeBypassPermissions))
}
