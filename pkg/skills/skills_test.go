package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cexll/agentcore/pkg/core/failure"
)

func writeSkill(t *testing.T, dir, name, frontmatter, body string) string {
	t.Helper()
	path := filepath.Join(dir, name, skillFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("---\n"+frontmatter+"\n---\n"+body), 0o644))
	return path
}

func TestIndexLoadScopesAndOverride(t *testing.T) {
	project := t.TempDir()
	home := t.TempDir()
	sources := DefaultSources(project, home)
	require.Len(t, sources, 2)

	writeSkill(t, sources[0].Dir, "lint", "name: lint\ndescription: user lint\nallowed-tools: Read, Grep", "user body")
	writeSkill(t, sources[1].Dir, "lint", "name: lint\ndescription: project lint\nallowed-tools:\n  - Bash\n  - Read", "project body")
	writeSkill(t, sources[0].Dir, "notes", "description: free form", "notes body")
	writeSkill(t, sources[1].Dir, "broken", "name: [", "x")

	idx := NewIndex(sources)
	err := idx.Load()
	require.Error(t, err)

	lint, ok := idx.Get("lint")
	require.True(t, ok)
	require.Equal(t, ScopeProject, lint.Scope)
	require.Equal(t, "project lint", lint.Description)
	require.Equal(t, []string{"Bash", "Read"}, lint.AllowedTools)
	require.Equal(t, "project body", lint.Body)

	notes, ok := idx.Get("notes")
	require.True(t, ok)
	require.Equal(t, ScopeUser, notes.Scope)
	require.Nil(t, notes.AllowedTools)
	require.False(t, notes.Restricted())

	names := []string{}
	for _, spec := range idx.List() {
		names = append(names, spec.Name)
	}
	require.Equal(t, []string{"lint", "notes"}, names)
}

func TestIndexMissingDirsAreEmpty(t *testing.T) {
	idx := NewIndex(DefaultSources(t.TempDir(), ""))
	require.NoError(t, idx.Load())
	require.Empty(t, idx.List())
}

func TestActivateDeactivate(t *testing.T) {
	set := NewActiveSet(NewStaticIndex(Spec{Name: "a"}, Spec{Name: "b"}))

	changed, err := set.Activate("b")
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = set.Activate("b")
	require.NoError(t, err)
	require.False(t, changed)

	_, err = set.Activate("a")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, set.ListActive())

	_, err = set.Activate("missing")
	require.ErrorIs(t, err, failure.ErrNotFound)
	require.Equal(t, []string{"a", "b"}, set.ListActive())

	require.True(t, set.Deactivate("a"))
	require.False(t, set.Deactivate("a"))
	require.False(t, set.Deactivate("never"))
	require.Equal(t, []string{"b"}, set.ListActive())
}

func TestEffectiveAllowedTools(t *testing.T) {
	idx := NewStaticIndex(
		Spec{Name: "open"},
		Spec{Name: "readers", AllowedTools: []string{"Read", "Grep", "Glob"}},
		Spec{Name: "greppers", AllowedTools: []string{"Grep", "Bash"}},
		Spec{Name: "nothing", AllowedTools: []string{}},
	)
	set := NewActiveSet(idx)
	require.Nil(t, set.EffectiveAllowedTools())

	_, _ = set.Activate("open")
	require.Nil(t, set.EffectiveAllowedTools())

	_, _ = set.Activate("readers")
	require.Equal(t, []string{"Glob", "Grep", "Read"}, set.EffectiveAllowedTools())

	_, _ = set.Activate("greppers")
	require.Equal(t, []string{"Grep"}, set.EffectiveAllowedTools())

	set.Deactivate("greppers")
	_, _ = set.Activate("nothing")
	got := set.EffectiveAllowedTools()
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestCloneIsIndependent(t *testing.T) {
	set := NewActiveSet(NewStaticIndex(Spec{Name: "a"}, Spec{Name: "b"}))
	_, _ = set.Activate("a")
	clone := set.Clone()
	_, _ = clone.Activate("b")
	require.Equal(t, []string{"a"}, set.ListActive())
	require.Equal(t, []string{"a", "b"}, clone.ListActive())
}

func TestParseFrontMatter(t *testing.T) {
	var meta metadata
	body, err := ParseFrontMatter("\uFEFF---\r\nname: x\r\nallowed-tools: Read,Read, Bash\r\n---\r\n\r\nbody\r\n", &meta)
	require.NoError(t, err)
	require.Equal(t, "body", body)
	require.Equal(t, ToolList{"Read", "Bash"}, meta.AllowedTools)

	_, err = ParseFrontMatter("no frontmatter", &meta)
	require.Error(t, err)
	_, err = ParseFrontMatter("---\nname: x\n", &meta)
	require.Error(t, err)
}

func TestWatchReindexes(t *testing.T) {
	project := t.TempDir()
	sources := DefaultSources(project, "")
	require.NoError(t, os.MkdirAll(sources[0].Dir, 0o755))
	idx := NewIndex(sources)
	require.NoError(t, idx.Load())

	set := NewActiveSet(idx)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- idx.Watch(ctx, func(error) { reloaded <- struct{}{} })
	}()

	require.Eventually(t, func() bool {
		writeSkill(t, sources[0].Dir, "fresh", "name: fresh\ndescription: new", "body")
		select {
		case <-reloaded:
		case <-time.After(200 * time.Millisecond):
		}
		_, ok := idx.Get("fresh")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	changed, err := set.Activate("fresh")
	require.NoError(t, err)
	require.True(t, changed)

	cancel()
	require.NoError(t, <-done)
}
