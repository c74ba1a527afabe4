// Package config loads agentcore settings from layered YAML or JSON files.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// DirName is the per-project and per-user configuration directory.
const DirName = ".agentcore"

var (
	baseNames  = []string{"config.yaml", "config.yml", "config.json"}
	localNames = []string{"config.local.yaml", "config.local.yml", "config.local.json"}
)

// Loader reads and merges settings. Layers, lowest precedence first:
// built-in defaults, ~/.agentcore/config.*, <root>/.agentcore/config.*,
// <root>/.agentcore/config.local.*, then an explicit file if one was given.
type Loader struct {
	root      string
	home      string
	explicit  string
	validator Validator

	mu   sync.Mutex
	last atomic.Pointer[Settings]
}

// LoaderOption customises loader behaviour.
type LoaderOption func(*Loader)

// WithValidator overrides the validator. Nil disables validation.
func WithValidator(v Validator) LoaderOption {
	return func(l *Loader) { l.validator = v }
}

// WithHomeDir sets the user directory holding .agentcore. An empty string
// skips the user layer.
func WithHomeDir(dir string) LoaderOption {
	return func(l *Loader) { l.home = dir }
}

// WithFile merges path on top of every other layer. The file must exist.
func WithFile(path string) LoaderOption {
	return func(l *Loader) { l.explicit = path }
}

// NewLoader builds a loader rooted at the project directory.
func NewLoader(root string, opts ...LoaderOption) (*Loader, error) {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("config: resolve root: %w", err)
	}
	home, _ := os.UserHomeDir()
	l := &Loader{root: abs, home: home, validator: DefaultValidator{}}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Root returns the absolute project root.
func (l *Loader) Root() string { return l.root }

// Home returns the user directory consulted for the user layer.
func (l *Loader) Home() string { return l.home }

// ProjectDir is <root>/.agentcore.
func (l *Loader) ProjectDir() string { return filepath.Join(l.root, DirName) }

// Last returns the last successfully loaded settings.
func (l *Loader) Last() (*Settings, bool) {
	s := l.last.Load()
	return s, s != nil
}

// Load reads every layer, applies defaults and validates the result.
func (l *Loader) Load() (*Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.loadOnce()
	if err != nil {
		return nil, err
	}
	l.last.Store(s)
	return s, nil
}

// Reload is Load that keeps the previous settings when the new ones fail.
func (l *Loader) Reload() (*Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.loadOnce()
	if err != nil {
		if prev := l.last.Load(); prev != nil {
			return prev, fmt.Errorf("config: reload failed, keeping last good config: %w", err)
		}
		return nil, err
	}
	l.last.Store(s)
	return s, nil
}

func (l *Loader) loadOnce() (*Settings, error) {
	merged := &Settings{}
	h := sha256.New()
	for _, path := range l.candidates() {
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path != l.explicit {
				continue
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		layer, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		merged.Merge(layer)
		merged.Sources = append(merged.Sources, path)
		h.Write([]byte(path))
		h.Write(raw)
	}
	merged.ApplyDefaults()
	merged.SourceHash = hex.EncodeToString(h.Sum(nil))
	if l.validator != nil {
		if err := l.validator.Validate(merged); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// candidates lists the files to try in precedence order. For each layer
// only the first existing name counts.
func (l *Loader) candidates() []string {
	var out []string
	if l.home != "" {
		if p := firstExisting(filepath.Join(l.home, DirName), baseNames); p != "" {
			out = append(out, p)
		}
	}
	dir := l.ProjectDir()
	if p := firstExisting(dir, baseNames); p != "" {
		out = append(out, p)
	}
	if p := firstExisting(dir, localNames); p != "" {
		out = append(out, p)
	}
	if l.explicit != "" {
		out = append(out, l.explicit)
	}
	return out
}

func firstExisting(dir string, names []string) string {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Parse decodes one YAML or JSON layer without applying defaults.
func Parse(raw []byte) (*Settings, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return &Settings{}, nil
	}
	s := &Settings{}
	if err := decodeMixedYAMLJSON(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeMixedYAMLJSON(data []byte, out *Settings) error {
	yamlErr := yaml.Unmarshal(data, out)
	if yamlErr == nil {
		return nil
	}
	*out = Settings{}
	if err := json.Unmarshal(data, out); err == nil {
		return nil
	}
	return fmt.Errorf("config decode failed: %w", yamlErr)
}
