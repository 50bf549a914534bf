package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescriptorForFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "zlib-1.2.11-0.tar.bz2")
	require.NoError(t, os.WriteFile(path, []byte("archive bytes"), 0o600))

	desc, err := descriptorForFile(path, "application/vnd.conda.package.v1", map[string]string{
		TitleAnnotation: "zlib-1.2.11-0.tar.bz2",
	})
	require.NoError(t, err)
	require.Equal(t, "application/vnd.conda.package.v1", desc.MediaType)
	require.Equal(t, int64(len("archive bytes")), desc.Size)
	require.Equal(t, "sha256", desc.Digest.Algorithm().String())
	require.Equal(t, "zlib-1.2.11-0.tar.bz2", desc.Annotations[TitleAnnotation])
}

func TestLocalDigestMatches(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o600))

	desc, err := descriptorForFile(path, "application/octet-stream", nil)
	require.NoError(t, err)

	require.True(t, localDigestMatches(path, desc.Digest))
	require.False(t, localDigestMatches(path, "sha256:0000000000000000000000000000000000000000000000000000000000000"))
	require.False(t, localDigestMatches(filepath.Join(t.TempDir(), "missing"), desc.Digest))
}

func TestDirOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a/b", dirOf("a/b/c.txt"))
	require.Equal(t, ".", dirOf("c.txt"))
}
