package skills

import (
	"sort"
	"strings"
	"sync"

	"github.com/cexll/agentcore/pkg/core/failure"
)

// Names of the tools that switch skills. A skill restriction never hides
// them, so the model can always leave the skill it entered.
const (
	ActivateTool   = "ActivateSkill"
	DeactivateTool = "DeactivateSkill"
)

// ActiveSet tracks the skills switched on in one conversation. Names stay
// active across index reloads; a name whose skill disappeared no longer
// restricts tools.
type ActiveSet struct {
	mu     sync.RWMutex
	index  *Index
	active map[string]struct{}
}

// NewActiveSet returns an empty set backed by index.
func NewActiveSet(index *Index) *ActiveSet {
	if index == nil {
		index = NewStaticIndex()
	}
	return &ActiveSet{index: index, active: map[string]struct{}{}}
}

// Index returns the backing index.
func (a *ActiveSet) Index() *Index { return a.index }

// Activate switches name on. It reports whether the set changed;
// re-activating an active skill is a no-op.
func (a *ActiveSet) Activate(name string) (bool, error) {
	name = strings.TrimSpace(name)
	if _, ok := a.index.Get(name); !ok {
		return false, failure.New(failure.KindNotFound, "skill %q is not indexed", name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.active[name]; ok {
		return false, nil
	}
	a.active[name] = struct{}{}
	return true, nil
}

// Deactivate switches name off and reports whether it was active.
func (a *ActiveSet) Deactivate(name string) bool {
	name = strings.TrimSpace(name)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.active[name]; !ok {
		return false
	}
	delete(a.active, name)
	return true
}

// IsActive reports whether name is switched on.
func (a *ActiveSet) IsActive(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.active[strings.TrimSpace(name)]
	return ok
}

// ListActive returns active names sorted.
func (a *ActiveSet) ListActive() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.active))
	for name := range a.active {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EffectiveAllowedTools intersects the allowed tools of every active skill
// that declares them. It returns nil when no active skill restricts tools,
// and a non-nil (possibly empty) sorted slice otherwise.
func (a *ActiveSet) EffectiveAllowedTools() []string {
	var (
		result     map[string]struct{}
		restricted bool
	)
	for _, name := range a.ListActive() {
		spec, ok := a.index.Get(name)
		if !ok || !spec.Restricted() {
			continue
		}
		next := make(map[string]struct{}, len(spec.AllowedTools))
		for _, tool := range spec.AllowedTools {
			if !restricted {
				next[tool] = struct{}{}
				continue
			}
			if _, ok := result[tool]; ok {
				next[tool] = struct{}{}
			}
		}
		result = next
		restricted = true
	}
	if !restricted {
		return nil
	}
	out := make([]string, 0, len(result))
	for tool := range result {
		out = append(out, tool)
	}
	sort.Strings(out)
	return out
}

// Clone copies the active names into a new set over the same index.
func (a *ActiveSet) Clone() *ActiveSet {
	out := NewActiveSet(a.index)
	for _, name := range a.ListActive() {
		out.active[name] = struct{}{}
	}
	return out
}
