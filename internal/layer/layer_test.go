package layer_test

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/condamirror/condamirror/internal/layer"
	"github.com/condamirror/condamirror/internal/registry"
)

func TestAddLayer_FileWithEmptyTitleSucceeds(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "zlib-1.2.11-0.tar.bz2")
	require.NoError(t, os.WriteFile(archivePath, []byte("archive"), 0o600))

	p := layer.NewPusher(registry.New("registry.example.com"), "conda-forge/noarch/zlib", dir)
	require.NoError(t, p.AddLayer(archivePath, "application/vnd.conda.package.v1", "", nil))
}

func TestAddLayer_DirectoryIsCompressed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	infoDir := filepath.Join(dir, "info")
	require.NoError(t, os.MkdirAll(infoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(infoDir, "index.json"), []byte(`{"name":"zlib"}`), 0o600))

	staging := t.TempDir()
	p := layer.NewPusher(registry.New("registry.example.com"), "conda-forge/noarch/zlib", staging)
	require.NoError(t, p.AddLayer(infoDir, "application/vnd.conda.info.v1.tar+gzip", "info.tar.gz", nil))

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f, err := os.Open(filepath.Join(staging, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	require.Contains(t, names, "index.json")
}

func TestResult_URIFormat(t *testing.T) {
	t.Parallel()

	r := layer.Result{
		URI: "conda-forge/noarch/zlib:1.2.11-0",
		Layers: []ocispec.Descriptor{
			{MediaType: "application/vnd.conda.package.v1"},
		},
	}
	require.Equal(t, "conda-forge/noarch/zlib:1.2.11-0", r.URI)
	require.Len(t, r.Layers, 1)
}
