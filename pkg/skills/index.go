// Package skills indexes SKILL.md packs and tracks which of them are active
// in a conversation.
package skills

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Scope says where a skill was discovered.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeUser    Scope = "user"
)

const skillFileName = "SKILL.md"

var skillNameRegexp = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9._-]{0,62}[a-z0-9])?$`)

// Spec is one indexed skill. A nil AllowedTools means the skill does not
// restrict tools.
type Spec struct {
	Name         string
	Description  string
	AllowedTools []string
	Scope        Scope
	Path         string
	Body         string
}

// Restricted reports whether the skill narrows the tool set.
func (s Spec) Restricted() bool { return s.AllowedTools != nil }

type metadata struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	AllowedTools ToolList `yaml:"allowed-tools"`
}

// Source is a directory holding <name>/SKILL.md entries.
type Source struct {
	Dir   string
	Scope Scope
}

// DefaultSources returns the user and project discovery roots, lowest
// precedence first. Empty arguments are skipped.
func DefaultSources(projectRoot, home string) []Source {
	var out []Source
	if strings.TrimSpace(home) != "" {
		out = append(out, Source{Dir: filepath.Join(home, ".agentcore", "skills"), Scope: ScopeUser})
	}
	if strings.TrimSpace(projectRoot) != "" {
		out = append(out, Source{Dir: filepath.Join(projectRoot, ".agentcore", "skills"), Scope: ScopeProject})
	}
	return out
}

// Index maps skill names to specs. Later sources override earlier ones, so
// a project skill shadows a user skill of the same name.
type Index struct {
	mu      sync.RWMutex
	sources []Source
	specs   map[string]Spec
	logger  *slog.Logger
}

// IndexOption customises an Index.
type IndexOption func(*Index)

// WithLogger sets the index logger.
func WithLogger(l *slog.Logger) IndexOption {
	return func(i *Index) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewIndex builds an index over sources. Call Load to populate it.
func NewIndex(sources []Source, opts ...IndexOption) *Index {
	idx := &Index{sources: append([]Source(nil), sources...), specs: map[string]Spec{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// NewStaticIndex builds an index from in-memory specs.
func NewStaticIndex(specs ...Spec) *Index {
	idx := NewIndex(nil)
	for _, spec := range specs {
		idx.specs[spec.Name] = spec
	}
	return idx
}

// Load rescans every source and replaces the index contents. Broken files
// are skipped and reported together; the rest still load.
func (i *Index) Load() error {
	specs := map[string]Spec{}
	var errs []error
	for _, src := range i.sources {
		found, loadErrs := loadDir(src)
		errs = append(errs, loadErrs...)
		for _, spec := range found {
			specs[spec.Name] = spec
		}
	}
	if len(i.sources) == 0 {
		i.mu.RLock()
		for name, spec := range i.specs {
			specs[name] = spec
		}
		i.mu.RUnlock()
	}
	i.mu.Lock()
	i.specs = specs
	i.mu.Unlock()
	i.logger.Debug("skills indexed", "count", len(specs), "errors", len(errs))
	return errors.Join(errs...)
}

func loadDir(src Source) ([]Spec, []error) {
	entries, err := os.ReadDir(src.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("skills: read %s: %w", src.Dir, err)}
	}
	var (
		out  []Spec
		errs []error
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(src.Dir, entry.Name(), skillFileName)
		spec, err := parseSkillFile(path, entry.Name())
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			errs = append(errs, fmt.Errorf("skills: %s: %w", path, err))
			continue
		}
		spec.Scope = src.Scope
		out = append(out, spec)
	}
	return out, errs
}

func parseSkillFile(path, dirName string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, err
	}
	var meta metadata
	body, err := ParseFrontMatter(string(data), &meta)
	if err != nil {
		return Spec{}, err
	}
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		name = dirName
	}
	if !skillNameRegexp.MatchString(name) {
		return Spec{}, fmt.Errorf("invalid name %q", name)
	}
	var tools []string
	if meta.AllowedTools != nil {
		tools = append([]string{}, meta.AllowedTools...)
	}
	return Spec{
		Name:         name,
		Description:  strings.TrimSpace(meta.Description),
		AllowedTools: tools,
		Path:         path,
		Body:         body,
	}, nil
}

// Get returns the skill named name.
func (i *Index) Get(name string) (Spec, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	spec, ok := i.specs[strings.TrimSpace(name)]
	return spec, ok
}

// List returns every indexed skill sorted by name.
func (i *Index) List() []Spec {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Spec, 0, len(i.specs))
	for _, spec := range i.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Watch re-indexes whenever a SKILL.md under a source changes. It blocks
// until ctx is done. onReload, if set, receives the result of each reload.
func (i *Index) Watch(ctx context.Context, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills: watcher: %w", err)
	}
	defer watcher.Close()

	watched := 0
	for _, src := range i.sources {
		if info, err := os.Stat(src.Dir); err != nil || !info.IsDir() {
			continue
		}
		if err := watcher.Add(src.Dir); err != nil {
			return fmt.Errorf("skills: watch %s: %w", src.Dir, err)
		}
		watched++
		entries, _ := os.ReadDir(src.Dir)
		for _, entry := range entries {
			if entry.IsDir() {
				_ = watcher.Add(filepath.Join(src.Dir, entry.Name()))
			}
		}
	}
	if watched == 0 {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			err := i.Load()
			if err != nil {
				i.logger.Warn("skills reload failed", "error", err)
			}
			if onReload != nil {
				onReload(err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			i.logger.Warn("skills watcher error", "error", err)
		}
	}
}
