package filetree

import (
	"testing"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompress_Zip_RoundTrips(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.CreateDir("world"))
	require.NoError(t, tr.WriteFile("world/level.dat", []byte("level-data")))
	require.NoError(t, tr.WriteFile("eula.txt", []byte("eula=true")))

	require.NoError(t, tr.Compress([]string{"world", "eula.txt"}, "backup.zip"))

	require.NoError(t, tr.DeleteRecursive("world"))
	require.NoError(t, tr.DeleteRecursive("eula.txt"))

	require.NoError(t, tr.Decompress("backup.zip", "restored"))

	data, err := tr.ReadFile("restored/eula.txt")
	require.NoError(t, err)
	assert.Equal(t, "eula=true", string(data))

	data, err = tr.ReadFile("restored/world/level.dat")
	require.NoError(t, err)
	assert.Equal(t, "level-data", string(data))
}

func TestCompressDecompress_TarGz_RoundTrips(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.WriteFile("config.yml", []byte("key: value")))

	require.NoError(t, tr.Compress([]string{"config.yml"}, "backup.tar.gz"))
	require.NoError(t, tr.DeleteRecursive("config.yml"))
	require.NoError(t, tr.Decompress("backup.tar.gz", "restored"))

	data, err := tr.ReadFile("restored/config.yml")
	require.NoError(t, err)
	assert.Equal(t, "key: value", string(data))
}

func TestCompressDecompress_Tgz_Extension_Works(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.WriteFile("a.txt", []byte("a")))

	require.NoError(t, tr.Compress([]string{"a.txt"}, "backup.tgz"))
	require.NoError(t, tr.Decompress("backup.tgz", "restored"))

	data, err := tr.ReadFile("restored/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestCompress_UnsupportedExtensionFails(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.WriteFile("a.txt", []byte("a")))

	err := tr.Compress([]string{"a.txt"}, "backup.rar")
	require.Error(t, err)
	assert.Equal(t, catalysterr.UnsupportedArchive, catalysterr.KindOf(err))
}

func TestDecompress_UnsupportedExtensionFails(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.WriteFile("backup.bin", []byte("junk")))

	err := tr.Decompress("backup.bin", "restored")
	require.Error(t, err)
	assert.Equal(t, catalysterr.UnsupportedArchive, catalysterr.KindOf(err))
}
