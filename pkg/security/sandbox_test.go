package security

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cexll/agentcore/pkg/core/failure"
)

func TestSandboxRejectsParentTraversal(t *testing.T) {
	root := filepath.Join(realTempDir(t), "project")
	require.NoError(t, os.MkdirAll(root, 0o755))
	sb, err := NewSandbox(root)
	require.NoError(t, err)

	_, err = sb.Resolve("../../etc/passwd")
	require.ErrorIs(t, err, failure.ErrPathEscape)
	require.ErrorIs(t, err, ErrPathNotAllowed)

	_, err = sb.Resolve("/etc/passwd")
	require.ErrorIs(t, err, failure.ErrPathEscape)
}

func TestSandboxRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	base := realTempDir(t)
	root := filepath.Join(base, "project")
	outside := filepath.Join(base, "outside")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0o600))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	sb, err := NewSandbox(root)
	require.NoError(t, err)

	_, err = sb.Resolve("escape/secret")
	require.ErrorIs(t, err, failure.ErrPathEscape)
}

func TestSandboxAllowsInternalPaths(t *testing.T) {
	root := filepath.Join(realTempDir(t), "project")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	sb, err := NewSandbox(root)
	require.NoError(t, err)

	got, err := sb.Resolve("src/../src/main.go")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "src", "main.go"), got)
	require.Equal(t, "src/main.go", sb.Rel(got))

	abs, err := sb.Resolve(filepath.Join(root, "README.md"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "README.md"), abs)

	self, err := sb.Resolve(".")
	require.NoError(t, err)
	require.Equal(t, root, self)
}

func TestSandboxEmptyPath(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)
	_, err = sb.Resolve("")
	require.ErrorIs(t, err, failure.ErrInvalidArgument)

	_, err = NewSandbox(" ")
	require.Error(t, err)
}

func TestWithinSandboxPrefixBoundary(t *testing.T) {
	sep := string(filepath.Separator)
	require.True(t, withinSandbox(sep+"a"+sep+"b", sep+"a"))
	require.False(t, withinSandbox(sep+"ab", sep+"a"))
	require.True(t, withinSandbox(sep+"a", sep+"a"))
	require.False(t, withinSandbox(sep+"a", ""))
}
