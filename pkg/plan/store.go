package plan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cexll/agentcore/pkg/core/failure"
)

// Store keeps plans as YAML files, one per plan, under a directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir, usually <project>/.agentcore/plans.
func NewStore(dir string) *Store { return &Store{dir: dir} }

// Dir is the directory plans are written to.
func (s *Store) Dir() string { return s.dir }

// Meta summarises a stored plan.
type Meta struct {
	Name      string
	Goal      string
	Status    Status
	CreatedAt time.Time
	Steps     int
}

// Save writes p and returns the file path.
func (s *Store) Save(p *Plan) (string, error) {
	path, err := s.path(p.Name)
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("plan: encode %s: %w", p.Name, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("plan: create %s: %w", s.dir, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("plan: write %s: %w", path, err)
	}
	return path, nil
}

// Load reads the plan called name.
func (s *Store) Load(name string) (*Plan, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, failure.New(failure.KindNotFound, "plan %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("plan: read %s: %w", path, err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("plan: decode %s: %w", path, err)
	}
	return &p, nil
}

// List returns every readable plan, newest first. Unreadable files are
// skipped.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("plan: list %s: %w", s.dir, err)
	}
	var out []Meta
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".yaml")
		if e.IsDir() || !ok {
			continue
		}
		p, err := s.Load(name)
		if err != nil {
			continue
		}
		out = append(out, Meta{Name: p.Name, Goal: p.Goal, Status: p.Status, CreatedAt: p.CreatedAt, Steps: len(p.Steps)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes the plan called name.
func (s *Store) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return failure.New(failure.KindNotFound, "plan %q not found", name)
		}
		return fmt.Errorf("plan: delete %s: %w", path, err)
	}
	return nil
}

func (s *Store) path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", failure.New(failure.KindInvalidArgument, "invalid plan name %q", name)
	}
	return filepath.Join(s.dir, name+".yaml"), nil
}
