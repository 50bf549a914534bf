package conda_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/condamirror/condamirror"
	"github.com/condamirror/condamirror/internal/conda"
	"github.com/condamirror/condamirror/internal/registry"
)

func newTestPackage(t *testing.T, archive string, info *conda.PackageInfo, opts ...conda.PackageOption) *conda.Package {
	t.Helper()
	client := registry.New("localhost:5000")
	pkg, err := conda.NewPackage("mirror", "conda-forge", "linux-64", archive, t.TempDir(), client, info, opts...)
	require.NoError(t, err)
	return pkg
}

func TestNewPackage_DerivesIdentifiers(t *testing.T) {
	t.Parallel()

	pkg := newTestPackage(t, "zlib-1.2.11-h7f98852_4.tar.bz2", nil)
	require.Equal(t, "1.2.11-h7f98852_4", pkg.Tag())
	require.Equal(t, "mirror/conda-forge/linux-64/zlib", pkg.RepositoryPath())
}

func TestNewPackage_EncodesTagAndName(t *testing.T) {
	t.Parallel()

	pkg := newTestPackage(t, "_pytest-7.0.0-py39h06a4308_0.tar.bz2", nil)
	require.Equal(t, "mirror/conda-forge/linux-64/zzz_pytest", pkg.RepositoryPath())
}

func TestNewPackage_RepositoryPathOmitsEmptyNamespace(t *testing.T) {
	t.Parallel()

	client := registry.New("localhost:5000")
	pkg, err := conda.NewPackage("", "conda-forge", "linux-64", "zlib-1.2.11-h7f98852_4.tar.bz2", t.TempDir(), client, nil)
	require.NoError(t, err)
	require.Equal(t, "conda-forge/linux-64/zlib", pkg.RepositoryPath())
}

func TestNewPackage_UnknownExtensionFails(t *testing.T) {
	t.Parallel()

	client := registry.New("localhost:5000")
	_, err := conda.NewPackage("mirror", "conda-forge", "linux-64", "zlib-1.2.11-0.zip", t.TempDir(), client, nil)
	require.True(t, errors.Is(err, condamirror.ErrUnknownFormat))
}

func TestNewPackage_MalformedBaseNameFails(t *testing.T) {
	t.Parallel()

	client := registry.New("localhost:5000")
	_, err := conda.NewPackage("mirror", "conda-forge", "linux-64", "zlib.tar.bz2", t.TempDir(), client, nil)
	require.True(t, errors.Is(err, condamirror.ErrFormat))
}

func TestEnsureFile_UsesExistingFileWithoutDownloading(t *testing.T) {
	t.Parallel()

	existing := filepath.Join(t.TempDir(), "zlib-1.2.11-0.tar.bz2")
	require.NoError(t, os.WriteFile(existing, []byte("payload"), 0o600))

	pkg := newTestPackage(t, "zlib-1.2.11-0.tar.bz2", nil, conda.WithExistingFile(existing))

	path, err := pkg.EnsureFile(context.Background())
	require.NoError(t, err)
	require.Equal(t, existing, path)
}

func TestEnsureFile_DownloadsAndVerifiesChecksum(t *testing.T) {
	t.Parallel()

	const body = "package bytes"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := registry.New("localhost:5000")
	cacheDir := t.TempDir()
	info := &conda.PackageInfo{SHA256: "2e547448dcd0f2fcd9dbc386d33f1553369883451898177559bcf3e3b1083d16"}
	pkg, err := conda.NewPackage("mirror", "conda-forge", "linux-64", "zlib-1.2.11-0.tar.bz2", cacheDir, client, info,
		conda.WithBaseURL(srv.URL))
	require.NoError(t, err)

	path, err := pkg.EnsureFile(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, body, string(data))
}

func TestEnsureFile_ChecksumMismatchFailsWithinDeadline(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("wrong bytes"))
	}))
	defer srv.Close()

	client := registry.New("localhost:5000")
	info := &conda.PackageInfo{SHA256: "0000000000000000000000000000000000000000000000000000000000000000"}
	pkg, err := conda.NewPackage("mirror", "conda-forge", "linux-64", "zlib-1.2.11-0.tar.bz2", t.TempDir(), client, info,
		conda.WithBaseURL(srv.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = pkg.EnsureFile(ctx)
	require.Error(t, err)
	require.GreaterOrEqual(t, calls, 1)
}

func TestEnsureFile_ServerErrorHaltsOnContextCancellation(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := registry.New("localhost:5000")
	pkg, err := conda.NewPackage("mirror", "conda-forge", "linux-64", "zlib-1.2.11-0.tar.bz2", t.TempDir(), client, nil,
		conda.WithBaseURL(srv.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = pkg.EnsureFile(ctx)
	require.Error(t, err)
}

func TestEnsureFile_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := registry.New("localhost:5000")
	pkg, err := conda.NewPackage("mirror", "conda-forge", "linux-64", "zlib-1.2.11-0.tar.bz2", t.TempDir(), client, nil,
		conda.WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = pkg.EnsureFile(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestPrepareMetadata_ExtractsInfoIndex(t *testing.T) {
	t.Parallel()

	archivePath := writeCondaArchive(t, `{"name":"zlib","version":"1.2.11","subdir":"linux-64"}`)
	cacheDir := filepath.Dir(archivePath)

	client := registry.New("localhost:5000")
	pkg, err := conda.NewPackage("mirror", "conda-forge", "linux-64", filepath.Base(archivePath), cacheDir, client, nil)
	require.NoError(t, err)

	indexPath, infoDir, err := pkg.PrepareMetadata(t.TempDir())
	require.NoError(t, err)
	require.FileExists(t, indexPath)
	require.DirExists(t, infoDir)

	data, err := os.ReadFile(indexPath)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"zlib","version":"1.2.11","subdir":"linux-64"}`, string(data))
}
