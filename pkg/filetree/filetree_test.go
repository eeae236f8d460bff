package filetree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	root := t.TempDir()
	tr, err := New(root, "wl-1")
	require.NoError(t, err)
	return tr
}

func TestNew_CreatesBaseDirectory(t *testing.T) {
	root := t.TempDir()
	tr, err := New(root, "wl-1")
	require.NoError(t, err)
	info, err := os.Stat(tr.Base())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(root, "wl-1"), tr.Base())
}

func TestResolve_AllowsBaseItself(t *testing.T) {
	tr := newTestTree(t)
	abs, err := tr.AbsPath("/")
	require.NoError(t, err)
	assert.Equal(t, tr.Base(), abs)
}

func TestResolve_NormalizesBackslashesAndEmptySegments(t *testing.T) {
	tr := newTestTree(t)
	abs, err := tr.AbsPath(`a\b//c`)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tr.Base(), "a", "b", "c"), abs)
}

func TestResolve_RejectsTraversalAboveBase(t *testing.T) {
	tr := newTestTree(t)
	_, err := tr.AbsPath("../../etc/passwd")
	require.Error(t, err)
	assert.Equal(t, catalysterr.PathTraversal, catalysterr.KindOf(err))
}

func TestResolve_RejectsTraversalViaDotDotSegment(t *testing.T) {
	tr := newTestTree(t)
	_, err := tr.AbsPath("plugins/../../outside")
	require.Error(t, err)
	assert.Equal(t, catalysterr.PathTraversal, catalysterr.KindOf(err))
}

func TestWriteReadFile_RoundTrips(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.WriteFile("server.properties", []byte("motd=hi")))

	data, err := tr.ReadFile("server.properties")
	require.NoError(t, err)
	assert.Equal(t, "motd=hi", string(data))
}

func TestReadFile_MissingReturnsNotFound(t *testing.T) {
	tr := newTestTree(t)
	_, err := tr.ReadFile("nope.txt")
	require.Error(t, err)
	assert.Equal(t, catalysterr.NotFound, catalysterr.KindOf(err))
}

func TestCreateDir_AndList(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.CreateDir("plugins/extra"))
	require.NoError(t, tr.WriteFile("plugins/a.jar", []byte("x")))

	entries, err := tr.List("plugins")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.jar", entries[0].Name)
	assert.False(t, entries[0].IsDir)
	assert.Equal(t, "extra", entries[1].Name)
	assert.True(t, entries[1].IsDir)
}

func TestCreateFile_FailsIfExists(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.CreateFile("eula.txt"))
	err := tr.CreateFile("eula.txt")
	assert.Error(t, err)
}

func TestStat_ReportsSize(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.WriteFile("f.txt", []byte("12345")))
	entry, err := tr.Stat("f.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 5, entry.SizeB)
	assert.False(t, entry.IsDir)
}

func TestDeleteRecursive_RemovesDirectoryTree(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.CreateDir("world/region"))
	require.NoError(t, tr.WriteFile("world/region/r.0.0.mca", []byte("x")))

	require.NoError(t, tr.DeleteRecursive("world"))
	_, err := tr.Stat("world")
	assert.Equal(t, catalysterr.NotFound, catalysterr.KindOf(err))
}

func TestDeleteRecursive_RejectsDeletingRoot(t *testing.T) {
	tr := newTestTree(t)
	err := tr.DeleteRecursive("/")
	require.Error(t, err)
	assert.Equal(t, catalysterr.ValidationError, catalysterr.KindOf(err))
}

func TestRename_MovesFile(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.WriteFile("old.txt", []byte("x")))
	require.NoError(t, tr.Rename("old.txt", "new.txt"))

	_, err := tr.Stat("old.txt")
	assert.Equal(t, catalysterr.NotFound, catalysterr.KindOf(err))
	_, err = tr.Stat("new.txt")
	assert.NoError(t, err)
}

func TestChmod_ParsesOctalShape(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.WriteFile("run.sh", []byte("#!/bin/bash")))
	require.NoError(t, tr.Chmod("run.sh", "755"))

	abs, err := tr.AbsPath("run.sh")
	require.NoError(t, err)
	info, err := os.Stat(abs)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestChmod_ParsesDecimalWhenNotThreeOrFourOctalDigits(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.WriteFile("run.sh", []byte("x")))
	require.NoError(t, tr.Chmod("run.sh", "64"))

	abs, err := tr.AbsPath("run.sh")
	require.NoError(t, err)
	info, err := os.Stat(abs)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(64), info.Mode().Perm())
}

func TestChmod_RejectsOutOfRange(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.WriteFile("run.sh", []byte("x")))
	err := tr.Chmod("run.sh", "9999")
	require.Error(t, err)
	assert.Equal(t, catalysterr.ValidationError, catalysterr.KindOf(err))
}

func TestLogical_HidesRealBase(t *testing.T) {
	tr := newTestTree(t)
	abs, err := tr.AbsPath("plugins/a.jar")
	require.NoError(t, err)
	assert.Equal(t, "/plugins/a.jar", tr.Logical(abs))
	assert.Equal(t, "/", tr.Logical(tr.Base()))
}
