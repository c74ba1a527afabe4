package toolbuiltin

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/tool"
)

const (
	grepDefaultMaxResults = 200
	grepMaxLineLength     = 500
	grepDescription       = `Searches file contents with a Go regular expression.
- include filters files by glob (e.g. "**/*.go")
- Output lines are path:line:text, paths relative to the project root`
)

var grepSkipDirs = map[string]struct{}{".git": {}, "node_modules": {}, ".hg": {}, ".svn": {}}

var grepSchema = &tool.JSONSchema{
	Type: "object",
	Properties: map[string]any{
		"pattern":          tool.Prop("string", "Regular expression (RE2 syntax)"),
		"path":             tool.Prop("string", "File or directory to search (default: project root)"),
		"include":          tool.Prop("string", "Glob filter for file paths"),
		"case_insensitive": tool.Prop("boolean", "Match case-insensitively"),
		"max_results":      tool.Prop("integer", "Maximum matching lines (default 200)"),
	},
	Required: []string{"pattern"},
}

// GrepTool searches file contents.
type GrepTool struct {
	sandbox *security.Sandbox
}

// NewGrepTool builds a GrepTool confined to sb.
func NewGrepTool(sb *security.Sandbox) *GrepTool {
	return &GrepTool{sandbox: sb}
}

func (g *GrepTool) Name() string             { return "Grep" }
func (g *GrepTool) Description() string      { return grepDescription }
func (g *GrepTool) Schema() *tool.JSONSchema { return grepSchema }
func (g *GrepTool) PathParams() []string     { return []string{"path"} }

func (g *GrepTool) Execute(ctx context.Context, params map[string]any) (*tool.ToolResult, error) {
	pattern, err := tool.String(params, "pattern")
	if err != nil {
		return nil, err
	}
	insensitive, err := tool.Bool(params, "case_insensitive", false)
	if err != nil {
		return nil, err
	}
	if insensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	include, err := tool.OptionalString(params, "include", "")
	if err != nil {
		return nil, err
	}
	if include != "" && !doublestar.ValidatePattern(include) {
		return nil, fmt.Errorf("invalid include glob %q", include)
	}
	maxResults, err := tool.Int(params, "max_results", grepDefaultMaxResults)
	if err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = grepDefaultMaxResults
	}
	base, err := searchBase(g.sandbox, params)
	if err != nil {
		return nil, err
	}

	var out []string
	files := 0
	truncated := false
	walkErr := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if _, skip := grepSkipDirs[d.Name()]; skip && p != base {
				return filepath.SkipDir
			}
			return nil
		}
		rel := g.sandbox.Rel(p)
		if include != "" && !matchInclude(include, rel, d.Name()) {
			return nil
		}
		// Symlinked files may point outside the root.
		if _, err := g.sandbox.Resolve(p); err != nil {
			return nil
		}
		matched, full := g.scanFile(p, rel, re, maxResults-len(out), &out)
		if matched {
			files++
		}
		if full {
			truncated = true
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	output := strings.Join(out, "\n")
	if len(out) == 0 {
		output = "no matches"
	}
	return &tool.ToolResult{
		Success:   true,
		Output:    output,
		Truncated: truncated,
		Data:      map[string]any{"matches": len(out), "files": files},
	}, nil
}

// scanFile appends matching lines; full reports that the budget ran out.
func (g *GrepTool) scanFile(path, rel string, re *regexp.Regexp, budget int, out *[]string) (matched, full bool) {
	f, err := os.Open(path)
	if err != nil {
		return false, false
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	if isBinary(head[:n]) {
		return false, false
	}
	if _, err := f.Seek(0, 0); err != nil {
		return false, false
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		if budget <= 0 {
			return matched, true
		}
		if len(text) > grepMaxLineLength {
			text = text[:grepMaxLineLength] + "..."
		}
		*out = append(*out, fmt.Sprintf("%s:%d:%s", rel, line, text))
		matched = true
		budget--
	}
	return matched, false
}

func matchInclude(pattern, rel, name string) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, name)
		return ok
	}
	return false
}
