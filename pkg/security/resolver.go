package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultMaxDepth = 128
	defaultMaxLinks = 40
)

// PathResolver canonicalises paths, following symlinks component by component
// so the returned path names the file a tool will actually touch. Components
// that do not exist yet are kept verbatim, which lets Write target new files.
type PathResolver struct {
	maxDepth int
	maxLinks int
}

// NewPathResolver creates a resolver with the default depth and symlink limits.
func NewPathResolver() *PathResolver {
	return &PathResolver{maxDepth: defaultMaxDepth, maxLinks: defaultMaxLinks}
}

// Resolve returns the absolute, symlink-free form of path. Relative input is
// resolved against the process working directory.
func (r *PathResolver) Resolve(path string) (string, error) {
	cleanInput := strings.TrimSpace(path)
	if cleanInput == "" {
		return "", fmt.Errorf("security: empty path")
	}
	abs, err := filepath.Abs(cleanInput)
	if err != nil {
		return "", fmt.Errorf("security: abs path failed: %w", err)
	}
	clean := filepath.Clean(abs)
	if clean == string(filepath.Separator) {
		return clean, nil
	}

	current, parts := splitPathForWalk(clean)
	depth, links := 0, 0
	for len(parts) > 0 {
		part := parts[0]
		parts = parts[1:]
		switch part {
		case "", ".":
			continue
		case "..":
			current = filepath.Dir(current)
			continue
		}
		depth++
		if r.maxDepth > 0 && depth > r.maxDepth {
			return "", fmt.Errorf("security: path exceeds max depth %d", r.maxDepth)
		}

		next := filepath.Join(current, part)
		info, err := os.Lstat(next)
		if err != nil {
			// Missing or unreadable: the remaining components are lexical and
			// free of "..", so they cannot leave current.
			rest := append([]string{next}, parts...)
			return filepath.Clean(filepath.Join(rest...)), nil
		}
		if info.Mode()&os.ModeSymlink == 0 {
			current = next
			continue
		}

		links++
		if r.maxLinks > 0 && links > r.maxLinks {
			return "", fmt.Errorf("security: symlink loop detected %s", next)
		}
		target, err := os.Readlink(next)
		if err != nil {
			return "", fmt.Errorf("security: readlink failed for %s: %w", next, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(current, target)
		}
		root, targetParts := splitPathForWalk(filepath.Clean(target))
		current = root
		parts = append(targetParts, parts...)
	}
	return current, nil
}

func splitPathForWalk(clean string) (string, []string) {
	sep := string(filepath.Separator)
	if !filepath.IsAbs(clean) {
		return "", strings.Split(clean, sep)
	}

	volume := filepath.VolumeName(clean)
	remainder := clean
	current := sep

	if volume != "" {
		remainder = strings.TrimPrefix(remainder, volume)
		current = volume + sep
	}
	remainder = strings.TrimPrefix(remainder, sep)
	if remainder == "" {
		return current, nil
	}
	return current, strings.Split(remainder, sep)
}
