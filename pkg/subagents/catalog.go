// Package subagents loads agent definitions and runs delegated child
// conversations under a clamped, narrowed capability set.
package subagents

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

	"github.com/cexll/agentcore/pkg/core/failure"
	"github.com/cexll/agentcore/pkg/route"
	"github.com/cexll/agentcore/pkg/security"
	"github.com/cexll/agentcore/pkg/skills"
)

// Defaults for fields an agent file leaves out.
const (
	DefaultMaxTurns     = 8
	DefaultSystemPrompt = "You are a specialized subagent. Complete the assigned task using only your available tools."
)

// DefaultAllowedTools is the read-only tool set agents get when their file
// names none.
var DefaultAllowedTools = []string{"Read", "Grep", "Glob"}

var agentNameRegexp = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9_-]{0,62}[a-z0-9])?$`)

// AgentSpec is an immutable agent definition.
type AgentSpec struct {
	Name         string
	Description  string
	AllowedTools []string
	Mode         security.Mode
	MaxTurns     int
	SystemPrompt string
	// Target, when set, wins over routing.
	Target *route.Target
	// Skill is activated in the child before its first turn.
	Skill string
	Scope skills.Scope
	Path  string
}

// Identity is what the target resolver sees of the agent.
func (s AgentSpec) Identity() *route.Identity {
	return &route.Identity{Name: s.Name, Description: s.Description}
}

func (s AgentSpec) withDefaults() AgentSpec {
	if s.AllowedTools == nil {
		s.AllowedTools = append([]string(nil), DefaultAllowedTools...)
	}
	if s.MaxTurns <= 0 {
		s.MaxTurns = DefaultMaxTurns
	}
	if strings.TrimSpace(s.SystemPrompt) == "" {
		s.SystemPrompt = DefaultSystemPrompt
	}
	return s
}

type agentMetadata struct {
	Name           string          `yaml:"name"`
	Description    string          `yaml:"description"`
	AllowedTools   skills.ToolList `yaml:"allowed-tools"`
	Tools          skills.ToolList `yaml:"tools"`
	PermissionMode string          `yaml:"permission-mode"`
	MaxTurns       int             `yaml:"max-turns"`
	Target         string          `yaml:"target"`
	Skill          string          `yaml:"skill"`
}

// ParseAgentFile decodes an agent definition: YAML frontmatter followed by
// the system prompt. fallbackName is used when the frontmatter has none.
func ParseAgentFile(content, fallbackName string) (AgentSpec, error) {
	var meta agentMetadata
	body, err := skills.ParseFrontMatter(content, &meta)
	if err != nil {
		return AgentSpec{}, err
	}
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		name = fallbackName
	}
	if !agentNameRegexp.MatchString(name) {
		return AgentSpec{}, fmt.Errorf("invalid agent name %q", name)
	}
	mode, err := security.ParseMode(meta.PermissionMode)
	if err != nil {
		return AgentSpec{}, err
	}
	if meta.MaxTurns < 0 {
		return AgentSpec{}, fmt.Errorf("max-turns must be positive, got %d", meta.MaxTurns)
	}
	spec := AgentSpec{
		Name:         name,
		Description:  strings.TrimSpace(meta.Description),
		Mode:         mode,
		MaxTurns:     meta.MaxTurns,
		SystemPrompt: body,
		Skill:        strings.TrimSpace(meta.Skill),
	}
	switch {
	case meta.AllowedTools != nil:
		spec.AllowedTools = append([]string{}, meta.AllowedTools...)
	case meta.Tools != nil:
		spec.AllowedTools = append([]string{}, meta.Tools...)
	}
	if raw := strings.TrimSpace(meta.Target); raw != "" {
		target, err := route.ParseTarget(raw)
		if err != nil {
			return AgentSpec{}, err
		}
		spec.Target = &target
	}
	return spec.withDefaults(), nil
}

// Source is a directory of <name>.md agent files.
type Source struct {
	Dir   string
	Scope skills.Scope
}

// DefaultSources returns ~/.agentcore/agents and <project>/.agentcore/agents,
// lowest precedence first.
func DefaultSources(projectRoot, home string) []Source {
	var out []Source
	if strings.TrimSpace(home) != "" {
		out = append(out, Source{Dir: filepath.Join(home, ".agentcore", "agents"), Scope: skills.ScopeUser})
	}
	if strings.TrimSpace(projectRoot) != "" {
		out = append(out, Source{Dir: filepath.Join(projectRoot, ".agentcore", "agents"), Scope: skills.ScopeProject})
	}
	return out
}

// Catalog maps agent names to specs. A project agent shadows a user agent
// of the same name.
type Catalog struct {
	mu      sync.RWMutex
	sources []Source
	specs   map[string]AgentSpec
	logger  *slog.Logger
}

// CatalogOption customises a Catalog.
type CatalogOption func(*Catalog)

// WithCatalogLogger sets the catalog logger.
func WithCatalogLogger(l *slog.Logger) CatalogOption {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCatalog builds a catalog over sources. Call Load to populate it.
func NewCatalog(sources []Source, opts ...CatalogOption) *Catalog {
	c := &Catalog{sources: append([]Source(nil), sources...), specs: map[string]AgentSpec{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewStaticCatalog builds a catalog from in-memory specs, applying
// defaults to each.
func NewStaticCatalog(specs ...AgentSpec) *Catalog {
	c := NewCatalog(nil)
	for _, spec := range specs {
		c.specs[spec.Name] = spec.withDefaults()
	}
	return c
}

// Load rescans every source. Broken files are skipped and reported
// together; the rest still load.
func (c *Catalog) Load() error {
	if len(c.sources) == 0 {
		return nil
	}
	specs := map[string]AgentSpec{}
	var errs []error
	for _, src := range c.sources {
		found, loadErrs := loadAgentDir(src)
		errs = append(errs, loadErrs...)
		for _, spec := range found {
			specs[spec.Name] = spec
		}
	}
	c.mu.Lock()
	c.specs = specs
	c.mu.Unlock()
	c.logger.Debug("agents loaded", "count", len(specs), "errors", len(errs))
	return errors.Join(errs...)
}

func loadAgentDir(src Source) ([]AgentSpec, []error) {
	entries, err := os.ReadDir(src.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("subagents: read %s: %w", src.Dir, err)}
	}
	var (
		out  []AgentSpec
		errs []error
	)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		path := filepath.Join(src.Dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("subagents: %s: %w", path, err))
			continue
		}
		spec, err := ParseAgentFile(string(data), strings.TrimSuffix(entry.Name(), ".md"))
		if err != nil {
			errs = append(errs, fmt.Errorf("subagents: %s: %w", path, err))
			continue
		}
		spec.Scope = src.Scope
		spec.Path = path
		out = append(out, spec)
	}
	return out, errs
}

// Get returns the agent named name, or a NotFound failure.
func (c *Catalog) Get(name string) (AgentSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.specs[strings.TrimSpace(name)]
	if !ok {
		return AgentSpec{}, failure.New(failure.KindNotFound, "agent %q is not defined", name)
	}
	return spec, nil
}

// List returns every agent sorted by name.
func (c *Catalog) List() []AgentSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AgentSpec, 0, len(c.specs))
	for _, spec := range c.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
