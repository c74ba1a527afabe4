package route

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cexll/agentcore/pkg/core/failure"
)

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget("gpt-4o@openai")
	require.NoError(t, err)
	require.Equal(t, Target{Model: "gpt-4o", Backend: "openai"}, got)
	require.Equal(t, "gpt-4o@openai", got.String())

	got, err = ParseTarget("claude@2024@vertex")
	require.NoError(t, err)
	require.Equal(t, "claude@2024", got.Model)
	require.Equal(t, "vertex", got.Backend)

	for _, bad := range []string{"", "gpt-4o", "@openai", "gpt-4o@"} {
		_, err := ParseTarget(bad)
		require.ErrorIs(t, err, failure.ErrInvalidArgument, bad)
	}
}

func TestTargetText(t *testing.T) {
	var cfg struct {
		Target Target `json:"target"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"target":"llama3@ollama"}`), &cfg))
	require.Equal(t, MustParseTarget("llama3@ollama"), cfg.Target)

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.JSONEq(t, `{"target":"llama3@ollama"}`, string(out))

	require.Error(t, json.Unmarshal([]byte(`{"target":"nope"}`), &cfg))
}

func TestInferCategory(t *testing.T) {
	tests := []struct {
		id   *Identity
		want Category
	}{
		{nil, CategoryDefault},
		{&Identity{Name: "scout"}, CategorySearch},
		{&Identity{Name: "Refactorer"}, CategoryCode},
		{&Identity{Name: "qa-bot"}, CategoryTest},
		{&Identity{Name: "helper", Description: "Writes README files"}, CategoryDocs},
		{&Identity{Name: "security-audit"}, CategoryReview},
		// search precedes code: "find and fix" is a search agent.
		{&Identity{Name: "x", Description: "find and fix bugs"}, CategorySearch},
		{&Identity{Name: "planner"}, CategoryDefault},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, InferCategory(tt.id), "%+v", tt.id)
	}
}

func TestResolvePrecedence(t *testing.T) {
	explicit := MustParseTarget("opus@anthropic")
	table := Table{
		Routes:   map[Category]Target{CategorySearch: MustParseTarget("mini@openai")},
		Defaults: map[Category]Target{CategorySearch: MustParseTarget("haiku@anthropic"), CategoryCode: MustParseTarget("sonnet@anthropic")},
		Global:   MustParseTarget("gpt-4o@openai"),
	}
	scout := &Identity{Name: "scout"}

	res := Resolve(&explicit, scout, table)
	require.Equal(t, explicit, res.Target)
	require.Equal(t, SourceExplicit, res.Source)
	require.Equal(t, CategorySearch, res.Category)

	res = Resolve(nil, scout, table)
	require.Equal(t, MustParseTarget("mini@openai"), res.Target)
	require.Equal(t, SourceRoute, res.Source)

	res = Resolve(&Target{}, &Identity{Name: "fixer"}, table)
	require.Equal(t, MustParseTarget("sonnet@anthropic"), res.Target)
	require.Equal(t, SourceCategoryDefault, res.Source)

	res = Resolve(nil, &Identity{Name: "planner"}, table)
	require.Equal(t, table.Global, res.Target)
	require.Equal(t, SourceGlobal, res.Source)
	require.Equal(t, CategoryDefault, res.Category)

	res = Resolve(nil, nil, table)
	require.Equal(t, table.Global, res.Target)
}
