package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirSourceTree_FilesForScope(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "base"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "base", "rules.yaml"), []byte("data"), 0o644))

	tree := NewDirSourceTree(root)
	entries, err := tree.FilesForScope("policy:base")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "base/rules.yaml", entries[0].Path)
	require.Equal(t, int64(4), entries[0].Size)
}

func TestDirSourceTree_MissingScopeDirReturnsNoFilesNoError(t *testing.T) {
	root := t.TempDir()
	tree := NewDirSourceTree(root)

	entries, err := tree.FilesForScope("policy:never-created")
	require.NoError(t, err)
	require.Nil(t, entries)
}

func TestDirSourceTree_ContentReadsFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "x.yaml"), []byte("hello"), 0o644))

	tree := NewDirSourceTree(root)
	content, err := tree.Content("x.yaml")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), content)
}

func TestDirSourceTree_WithRevisionOverridesDefault(t *testing.T) {
	tree := NewDirSourceTree(t.TempDir())
	require.Equal(t, "unversioned", tree.Revision())
	tree.WithRevision("abc123")
	require.Equal(t, "abc123", tree.Revision())
}
