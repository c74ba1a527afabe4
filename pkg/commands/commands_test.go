package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cexll/agentcore/pkg/skills"
)

func writeCommand(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestIndexLoadsBothScopes(t *testing.T) {
	project := t.TempDir()
	home := t.TempDir()
	sources := DefaultSources(project, home)
	require.Len(t, sources, 2)
	user, proj := sources[0].Dir, sources[1].Dir

	writeCommand(t, user, "review.md", "---\ndescription: user review\n---\nReview $ARGUMENTS")
	writeCommand(t, proj, "review.md", "---\ndescription: project review\nallowed-tools: Read, Grep\n---\nReview $ARGUMENTS carefully")
	writeCommand(t, user, "explain.md", "Explain the code.\n")
	writeCommand(t, proj, "fix.md", "---\nallowed_tools:\n  - Edit\n  - Bash\n---\nFix it")
	writeCommand(t, proj, "Bad Name.md", "x")
	writeCommand(t, proj, "broken.md", "---\ndescription: [\n---\nx")
	writeCommand(t, proj, "notes.txt", "ignored")

	idx := NewIndex(sources, nil)
	err := idx.Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid command name")
	require.Contains(t, err.Error(), "broken.md")

	list := idx.List()
	require.Len(t, list, 3)
	require.Equal(t, "explain", list[0].Name)
	require.Equal(t, "fix", list[1].Name)
	require.Equal(t, "review", list[2].Name)

	review, ok := idx.Get("review")
	require.True(t, ok)
	require.Equal(t, skills.ScopeProject, review.Scope)
	require.Equal(t, "project review", review.Description)
	require.Equal(t, []string{"Read", "Grep"}, review.AllowedTools)

	explain, _ := idx.Get("explain")
	require.Equal(t, skills.ScopeUser, explain.Scope)
	require.Equal(t, "Explain the code.", explain.Body)
	require.Nil(t, explain.AllowedTools)

	fix, _ := idx.Get("fix")
	require.Equal(t, []string{"Edit", "Bash"}, fix.AllowedTools)

	_, ok = idx.Get("notes")
	require.False(t, ok)
}

func TestIndexMissingDirectoriesAreEmpty(t *testing.T) {
	idx := NewIndex(DefaultSources(t.TempDir(), ""), nil)
	require.NoError(t, idx.Load())
	require.Empty(t, idx.List())
}

func TestExpand(t *testing.T) {
	cmd := Command{Body: "Review $ARGUMENTS and $ARGUMENTS again"}
	require.Equal(t, "Review pkg/x and pkg/x again", cmd.Expand("  pkg/x "))
	require.Equal(t, "Review  and  again", cmd.Expand(""))

	plain := Command{Body: "Explain the code."}
	require.Equal(t, "Explain the code.", plain.Expand(""))
	require.Equal(t, "Explain the code.\n\nfocus on errors", plain.Expand("focus on errors"))
}
