package tool

import (
	"sort"
	"strings"
)

// Set is an immutable set of tool names. The zero value is empty.
type Set struct {
	names map[string]struct{}
}

// NewSet builds a set from names, ignoring blanks.
func NewSet(names ...string) Set {
	s := Set{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		if name != "" {
			s.names[name] = struct{}{}
		}
	}
	return s
}

// Has reports membership.
func (s Set) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len is the number of names in the set.
func (s Set) Len() int { return len(s.names) }

// Names returns the members sorted.
func (s Set) Names() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Intersect returns the names present in both sets.
func (s Set) Intersect(other Set) Set {
	out := Set{names: map[string]struct{}{}}
	for name := range s.names {
		if other.Has(name) {
			out.names[name] = struct{}{}
		}
	}
	return out
}

// Filter keeps the names accepted by keep.
func (s Set) Filter(keep func(string) bool) Set {
	out := Set{names: map[string]struct{}{}}
	for name := range s.names {
		if keep(name) {
			out.names[name] = struct{}{}
		}
	}
	return out
}

// SubsetOf reports whether every member of s is in other.
func (s Set) SubsetOf(other Set) bool {
	for name := range s.names {
		if !other.Has(name) {
			return false
		}
	}
	return true
}

// MatchPattern reports whether name matches an allow-list entry. Entries
// are exact names, "mcp.*" or "mcp.<server>.*"; wildcards stop at a dot
// boundary so "mcp.*" never matches "mcpfake.tool".
func MatchPattern(name, pattern string) bool {
	if name == pattern {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, ".*")
	if !ok || (prefix != "mcp" && !strings.HasPrefix(prefix, "mcp.")) {
		return false
	}
	rest, ok := strings.CutPrefix(name, prefix+".")
	return ok && rest != ""
}

// Select keeps the names matching at least one pattern.
func (s Set) Select(patterns ...string) Set {
	return s.Filter(func(name string) bool {
		for _, p := range patterns {
			if MatchPattern(name, p) {
				return true
			}
		}
		return false
	})
}
