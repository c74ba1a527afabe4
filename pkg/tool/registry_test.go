package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cexll/agentcore/pkg/core/failure"
)

type spyTool struct {
	name     string
	schema   *JSONSchema
	result   *ToolResult
	err      error
	calls    int
	params   map[string]any
	pathArgs []string
}

func (s *spyTool) Name() string         { return s.name }
func (s *spyTool) Description() string  { return "spy " + s.name }
func (s *spyTool) Schema() *JSONSchema  { return s.schema }
func (s *spyTool) PathParams() []string { return s.pathArgs }
func (s *spyTool) Execute(_ context.Context, params map[string]any) (*ToolResult, error) {
	s.calls++
	s.params = params
	return s.result, s.err
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.EqualError(t, r.Register(nil), "tool is nil")
	require.EqualError(t, r.Register(&spyTool{}), "tool name is empty")
	require.NoError(t, r.Register(&spyTool{name: "Read"}))
	require.ErrorContains(t, r.Register(&spyTool{name: "Read"}), "already registered")
	require.NoError(t, r.Register(&spyTool{name: "Bash"}))

	require.Equal(t, []string{"Bash", "Read"}, r.Names())
	_, err := r.Get("Nope")
	require.ErrorIs(t, err, failure.ErrNotFound)

	r.Unregister("Bash")
	require.Equal(t, []string{"Read"}, r.Names())
}

func TestRegistryExecuteValidates(t *testing.T) {
	r := NewRegistry()
	tool := &spyTool{
		name: "Read",
		schema: &JSONSchema{
			Type:       "object",
			Properties: map[string]any{"path": Prop("string", "file"), "limit": map[string]any{"type": "integer", "minimum": 1}},
			Required:   []string{"path"},
		},
		result: &ToolResult{Success: true, Output: "ok"},
	}
	require.NoError(t, r.Register(tool))

	_, err := r.Execute(context.Background(), "Read", map[string]any{})
	require.ErrorIs(t, err, failure.ErrInvalidArgument)
	require.ErrorContains(t, err, "missing required field: path")

	_, err = r.Execute(context.Background(), "Read", map[string]any{"path": "a", "limit": float64(0)})
	require.ErrorContains(t, err, "field limit")

	_, err = r.Execute(context.Background(), "Read", map[string]any{"path": 3})
	require.ErrorContains(t, err, "expected string")

	res, err := r.Execute(context.Background(), "Read", map[string]any{"path": "a", "limit": float64(5)})
	require.NoError(t, err)
	require.Equal(t, "ok", res.Output)
	require.Equal(t, 1, tool.calls)
}

func TestRegistrySchemasSortedAndFiltered(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"Write", "Glob", "Read"} {
		require.NoError(t, r.Register(&spyTool{name: name, schema: &JSONSchema{Type: "object", Required: []string{"path"}}}))
	}
	schemas := r.Schemas(NewSet("Write", "Read", "Missing"))
	require.Len(t, schemas, 2)
	fn := schemas[0]["function"].(map[string]any)
	require.Equal(t, "Read", fn["name"])
	require.Equal(t, "function", schemas[0]["type"])
	params := fn["parameters"].(map[string]any)
	require.Equal(t, "object", params["type"])
	require.Equal(t, []string{"path"}, params["required"])
	require.Equal(t, "Write", schemas[1]["function"].(map[string]any)["name"])

	defs := r.Definitions(NewSet("Glob"))
	require.Len(t, defs, 1)
	require.Equal(t, "spy Glob", defs[0].Description)
}

func TestSetOperations(t *testing.T) {
	a := NewSet("Read", "Grep", "", "Write")
	b := NewSet("Read", "Write", "Bash")
	require.Equal(t, 3, a.Len())
	require.Equal(t, []string{"Read", "Write"}, a.Intersect(b).Names())
	require.True(t, NewSet("Read").SubsetOf(a))
	require.False(t, b.SubsetOf(a))
	require.Equal(t, []string{"Grep"}, a.Filter(func(n string) bool { return n == "Grep" }).Names())
	var zero Set
	require.False(t, zero.Has("Read"))
	require.Empty(t, zero.Names())
}

func TestSelectPatterns(t *testing.T) {
	all := NewSet("Read", "Bash", "mcp.echo.add", "mcp.echo.mul", "mcp.gh.list", "mcpfake.tool")
	require.Equal(t, []string{"Read", "mcp.echo.add", "mcp.echo.mul"}, all.Select("Read", "mcp.echo.*").Names())
	require.Equal(t, []string{"mcp.echo.add", "mcp.echo.mul", "mcp.gh.list"}, all.Select("mcp.*").Names())
	require.Empty(t, all.Select().Names())
	require.False(t, MatchPattern("mcp.", "mcp.*"))
	require.False(t, MatchPattern("Readme", "Read"))
}

func TestTruncate(t *testing.T) {
	out, cut := Truncate("abcdef", 4)
	require.True(t, cut)
	require.Equal(t, "abcd\n[output truncated: 2 bytes omitted]", out)
	out, cut = Truncate("abc", 4)
	require.False(t, cut)
	require.Equal(t, "abc", out)
}

func TestParams(t *testing.T) {
	p := map[string]any{"s": "x", "blank": " ", "n": float64(3), "f": 1.5, "b": true}
	s, err := String(p, "s")
	require.NoError(t, err)
	require.Equal(t, "x", s)
	_, err = String(p, "blank")
	require.Error(t, err)
	_, err = String(p, "missing")
	require.EqualError(t, err, "missing is required")
	n, err := Int(p, "n", 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	_, err = Int(p, "f", 0)
	require.Error(t, err)
	d, err := Int(p, "none", 7)
	require.NoError(t, err)
	require.Equal(t, 7, d)
	b, err := Bool(p, "b", false)
	require.NoError(t, err)
	require.True(t, b)
	o, err := OptionalString(p, "none", "def")
	require.NoError(t, err)
	require.Equal(t, "def", o)
}
