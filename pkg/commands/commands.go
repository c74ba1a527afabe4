// Package commands loads user-defined slash commands. A command is a
// markdown file whose body becomes the prompt, with $ARGUMENTS replaced by
// the text typed after the command name.
package commands

import (
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

	"github.com/cexll/agentcore/pkg/skills"
)

// Placeholder is replaced by the command arguments.
const Placeholder = "$ARGUMENTS"

var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Command is one loaded slash command. A nil AllowedTools leaves the tool
// set alone.
type Command struct {
	Name         string
	Description  string
	AllowedTools []string
	Scope        skills.Scope
	Path         string
	Body         string
}

// Expand fills the placeholder with args. A body without the placeholder
// gets non-empty args appended on a line of their own.
func (c Command) Expand(args string) string {
	args = strings.TrimSpace(args)
	if strings.Contains(c.Body, Placeholder) {
		return strings.ReplaceAll(c.Body, Placeholder, args)
	}
	if args == "" {
		return c.Body
	}
	return c.Body + "\n\n" + args
}

type metadata struct {
	Description  string          `yaml:"description"`
	AllowedTools skills.ToolList `yaml:"allowed-tools"`
	Underscored  skills.ToolList `yaml:"allowed_tools"`
}

// DefaultSources returns ~/.agentcore/commands and <project>/.agentcore/commands,
// lowest precedence first.
func DefaultSources(projectRoot, home string) []skills.Source {
	var out []skills.Source
	if strings.TrimSpace(home) != "" {
		out = append(out, skills.Source{Dir: filepath.Join(home, ".agentcore", "commands"), Scope: skills.ScopeUser})
	}
	if strings.TrimSpace(projectRoot) != "" {
		out = append(out, skills.Source{Dir: filepath.Join(projectRoot, ".agentcore", "commands"), Scope: skills.ScopeProject})
	}
	return out
}

// Index maps command names to commands. Later sources win.
type Index struct {
	mu       sync.RWMutex
	sources  []skills.Source
	commands map[string]Command
	logger   *slog.Logger
}

// NewIndex builds an index over sources. Call Load to populate it.
func NewIndex(sources []skills.Source, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{sources: append([]skills.Source(nil), sources...), commands: map[string]Command{}, logger: logger}
}

// Load rescans every source. Broken files are skipped and reported
// together; the rest still load.
func (i *Index) Load() error {
	found := map[string]Command{}
	var errs []error
	for _, src := range i.sources {
		entries, err := os.ReadDir(src.Dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("commands: read %s: %w", src.Dir, err))
			}
			continue
		}
		for _, e := range entries {
			name, ok := strings.CutSuffix(e.Name(), ".md")
			if e.IsDir() || !ok {
				continue
			}
			cmd, err := loadFile(filepath.Join(src.Dir, e.Name()), name, src.Scope)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			found[cmd.Name] = cmd
		}
	}
	i.mu.Lock()
	i.commands = found
	i.mu.Unlock()
	i.logger.Debug("commands indexed", "count", len(found), "errors", len(errs))
	return errors.Join(errs...)
}

func loadFile(path, name string, scope skills.Scope) (Command, error) {
	if !nameRegexp.MatchString(name) {
		return Command{}, fmt.Errorf("commands: %s: invalid command name %q", path, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Command{}, fmt.Errorf("commands: read %s: %w", path, err)
	}
	content := string(data)
	cmd := Command{Name: name, Scope: scope, Path: path}
	if !strings.HasPrefix(strings.TrimPrefix(content, "\uFEFF"), "---") {
		cmd.Body = strings.TrimSpace(content)
		return cmd, nil
	}
	var meta metadata
	body, err := skills.ParseFrontMatter(content, &meta)
	if err != nil {
		return Command{}, fmt.Errorf("commands: %s: %w", path, err)
	}
	cmd.Description = strings.TrimSpace(meta.Description)
	cmd.Body = body
	switch {
	case meta.AllowedTools != nil:
		cmd.AllowedTools = []string(meta.AllowedTools)
	case meta.Underscored != nil:
		cmd.AllowedTools = []string(meta.Underscored)
	}
	return cmd, nil
}

// Get returns the command called name.
func (i *Index) Get(name string) (Command, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	cmd, ok := i.commands[name]
	return cmd, ok
}

// List returns every command sorted by name.
func (i *Index) List() []Command {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Command, 0, len(i.commands))
	for _, cmd := range i.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
