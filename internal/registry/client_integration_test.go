//go:build integration

package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/condamirror/condamirror/internal/registry"
)

const testTimeout = 2 * time.Minute

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func setupRegistry(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := testcontainers.Run(ctx,
		"registry:2",
		testcontainers.WithExposedPorts("5000/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/v2/").
				WithPort("5000/tcp").
				WithStatusCodeMatcher(func(status int) bool { return status == 200 }).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, container)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5000")
	require.NoError(t, err)

	return host + ":" + port.Port()
}

func TestClient_PushAndPullByMediaType(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	host := setupRegistry(ctx, t)
	client := registry.New(host, registry.WithPlainHTTP(true))

	srcDir := t.TempDir()
	archivePath := filepath.Join(srcDir, "zlib-1.2.11-0.tar.bz2")
	require.NoError(t, os.WriteFile(archivePath, []byte("fake archive payload"), 0o600))

	const repo = "conda-forge/noarch/zlib"
	const mediaType = "application/vnd.conda.package.v1"

	desc, err := client.UploadBlob(ctx, repo, archivePath, mediaType)
	require.NoError(t, err)
	desc.Annotations = map[string]string{registry.TitleAnnotation: "zlib-1.2.11-0.tar.bz2"}

	emptyConfig := []byte("{}")
	configPath := filepath.Join(srcDir, "config.json")
	require.NoError(t, os.WriteFile(configPath, emptyConfig, 0o600))
	configDesc, err := client.UploadBlob(ctx, repo, configPath, "application/vnd.oci.image.config.v1+json")
	require.NoError(t, err)

	manifest := ocispec.Manifest{
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    []ocispec.Descriptor{desc},
	}
	require.NoError(t, client.UploadManifest(ctx, repo, "1.2.11-0", manifest))

	tags, err := client.ListTags(ctx, repo)
	require.NoError(t, err)
	require.Contains(t, tags, "1.2.11-0")

	dest := t.TempDir()
	paths, err := client.PullByMediaType(ctx, repo, "1.2.11-0", dest, mediaType)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	require.Equal(t, "fake archive payload", string(data))
}

func TestClient_ListTagsOnMissingRepoIsEmpty(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	host := setupRegistry(ctx, t)
	client := registry.New(host, registry.WithPlainHTTP(true))

	tags, err := client.ListTags(ctx, "conda-forge/noarch/does-not-exist")
	require.NoError(t, err)
	require.Empty(t, tags)
}
