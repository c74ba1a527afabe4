package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cexll/agentcore/pkg/core/failure"
)

// ErrPathNotAllowed is wrapped into every escape failure for callers that
// only care about this package's errors.
var ErrPathNotAllowed = errors.New("security: path not in sandbox")

// Sandbox confines filesystem arguments to a single project root. It applies
// under every permission mode; policy rules cannot widen it.
type Sandbox struct {
	root     string
	resolver *PathResolver
}

// NewSandbox creates a sandbox rooted at root. The root itself is resolved so
// a symlinked project directory still compares correctly.
func NewSandbox(root string) (*Sandbox, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("security: sandbox root is required")
	}
	resolver := NewPathResolver()
	resolved, err := resolver.Resolve(root)
	if err != nil {
		return nil, fmt.Errorf("security: resolve root: %w", err)
	}
	return &Sandbox{root: resolved, resolver: resolver}, nil
}

// Root returns the resolved project root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a tool-supplied path to an absolute path inside the root.
// Relative paths are interpreted against the root, not the process cwd.
func (s *Sandbox) Resolve(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", failure.New(failure.KindInvalidArgument, "empty path")
	}
	candidate := trimmed
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.root, candidate)
	}
	resolved, err := s.resolver.Resolve(candidate)
	if err != nil {
		return "", failure.Wrap(failure.KindPathEscape, err, "cannot resolve %q", trimmed)
	}
	if !withinSandbox(resolved, s.root) {
		return "", failure.Wrap(failure.KindPathEscape, ErrPathNotAllowed, "%q resolves to %s outside %s", trimmed, resolved, s.root)
	}
	return resolved, nil
}

// Rel returns path relative to the root in slash form, or path unchanged when
// it is not below the root.
func (s *Sandbox) Rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func withinSandbox(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	path = filepath.Clean(path)
	prefix = filepath.Clean(prefix)

	if path == prefix {
		return true
	}
	if prefix == string(filepath.Separator) {
		return true
	}
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
