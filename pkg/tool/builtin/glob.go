package toolbuiltin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/tool"
)

const (
	globMaxResults  = 1000
	globDescription = `Finds files by glob pattern (supports ** for any depth), e.g. "**/*.go".
Results are paths relative to the project root, sorted.`
)

var globSchema = &tool.JSONSchema{
	Type: "object",
	Properties: map[string]any{
		"pattern": tool.Prop("string", "Glob pattern, e.g. src/**/*.ts"),
		"path":    tool.Prop("string", "Directory to search from (default: project root)"),
	},
	Required: []string{"pattern"},
}

// GlobTool lists files matching a doublestar pattern.
type GlobTool struct {
	sandbox    *security.Sandbox
	maxResults int
}

// NewGlobTool builds a GlobTool confined to sb.
func NewGlobTool(sb *security.Sandbox) *GlobTool {
	return &GlobTool{sandbox: sb, maxResults: globMaxResults}
}

func (g *GlobTool) Name() string             { return "Glob" }
func (g *GlobTool) Description() string      { return globDescription }
func (g *GlobTool) Schema() *tool.JSONSchema { return globSchema }
func (g *GlobTool) PathParams() []string     { return []string{"path"} }

func (g *GlobTool) Execute(ctx context.Context, params map[string]any) (*tool.ToolResult, error) {
	pattern, err := tool.String(params, "pattern")
	if err != nil {
		return nil, err
	}
	pattern = strings.TrimPrefix(pattern, "./")
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	base, err := searchBase(g.sandbox, params)
	if err != nil {
		return nil, err
	}
	baseRel := g.sandbox.Rel(base)

	var matches []string
	err = doublestar.GlobWalk(os.DirFS(base), pattern, func(p string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Symlinked directories and files may lead outside the root.
		if _, err := g.sandbox.Resolve(filepath.Join(base, filepath.FromSlash(p))); err != nil {
			return nil
		}
		matches = append(matches, joinRel(baseRel, p))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob: %w", err)
	}
	sort.Strings(matches)
	truncated := len(matches) > g.maxResults
	if truncated {
		matches = matches[:g.maxResults]
	}

	output := strings.Join(matches, "\n")
	if len(matches) == 0 {
		output = "no files matched"
	}
	return &tool.ToolResult{
		Success:   true,
		Output:    output,
		Truncated: truncated,
		Data:      map[string]any{"count": len(matches), "files": matches},
	}, nil
}

func searchBase(sb *security.Sandbox, params map[string]any) (string, error) {
	raw, err := tool.OptionalString(params, "path", "")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(raw) == "" {
		return sb.Root(), nil
	}
	return sb.Resolve(raw)
}

func joinRel(base, p string) string {
	if base == "" || base == "." {
		return p
	}
	return path.Join(base, p)
}
