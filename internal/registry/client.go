package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/condamirror/condamirror"
	"github.com/condamirror/condamirror/internal/progress"
	"github.com/condamirror/condamirror/internal/safepath"
)

// TitleAnnotation is the OCI annotation a layer's relative on-disk path is
// recorded under, so pull_by_media_type can place it back at the right spot.
const TitleAnnotation = ocispec.AnnotationTitle

// Option configures a Client.
type Option func(*Client)

// Client is a handle bound to a registry base URL. Per-repository bearer
// tokens are cached transparently by the underlying auth transport, so a
// token's scope always matches the repository path being operated on.
type Client struct {
	host      string
	plainHTTP bool
	userAgent string
	credStore credentials.Store
}

// New creates a Client bound to host (e.g. "ghcr.io" or "localhost:5000").
func New(host string, opts ...Option) *Client {
	c := &Client{
		host:      host,
		userAgent: "condamirror/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithCredentialStore sets the credential store used to resolve per-host
// credentials.
func WithCredentialStore(store credentials.Store) Option {
	return func(c *Client) {
		c.credStore = store
	}
}

// WithPlainHTTP configures the client to speak plain HTTP instead of HTTPS.
func WithPlainHTTP(plainHTTP bool) Option {
	return func(c *Client) {
		c.plainHTTP = plainHTTP
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Authenticate verifies that credentials resolve for repository by listing
// its tags. scope is not used: read and push scopes perform the
// same request. A repository that does not exist yet counts as success.
// Returns condamirror.ErrAuth if the registry rejects the credentials.
func (c *Client) Authenticate(ctx context.Context, repository, scope string) error {
	repo, err := c.newRepository(repository)
	if err != nil {
		return err
	}
	_ = scope // oras-go negotiates GET-vs-PUT scope per request automatically
	err = repo.Tags(ctx, "", func([]string) error { return nil })
	if err != nil && !isNotFound(err) {
		return mapError(err)
	}
	return nil
}

// ListTags returns the ordered list of tags for repository, following
// Link: rel="next" pagination internally (handled by oras-go's Tags
// iteration). Returns an empty list, not an error, if the repository does
// not exist.
func (c *Client) ListTags(ctx context.Context, repository string) ([]string, error) {
	repo, err := c.newRepository(repository)
	if err != nil {
		return nil, err
	}

	var tags []string
	err = repo.Tags(ctx, "", func(page []string) error {
		tags = append(tags, page...)
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return tags, nil
}

// GetManifest returns the decoded manifest for a tag or digest reference.
func (c *Client) GetManifest(ctx context.Context, repository, reference string) (*ocispec.Manifest, error) {
	repo, err := c.newRepository(repository)
	if err != nil {
		return nil, err
	}

	_, rc, err := repo.Manifests().FetchReference(ctx, reference)
	if err != nil {
		return nil, mapError(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &manifest, nil
}

// UploadBlob uploads the file at path as a blob of the given media type,
// using the two-step upload protocol (handled internally by oras-go's
// Blobs().Push). Idempotent by digest: a blob already present is skipped by
// the registry.
func (c *Client) UploadBlob(ctx context.Context, repository, path, mediaType string, onProgress ...progress.Callback) (ocispec.Descriptor, error) {
	repo, err := c.newRepository(repository)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	desc, err := descriptorForFile(path, mediaType, nil)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	f, err := os.Open(path) //nolint:gosec // path is constructed by this project's own staging logic
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("open blob: %w", err)
	}
	defer f.Close()

	var body io.Reader = f
	if len(onProgress) > 0 && onProgress[0] != nil {
		body = progress.NewReader(f, desc.Size, onProgress[0])
	}

	if err := repo.Blobs().Push(ctx, desc, body); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("push blob: %w", mapError(err))
	}
	return desc, nil
}

// UploadManifest uploads manifest under reference (a tag or digest).
// Idempotent by reference: a second push under the same tag overwrites it,
// matching registry semantics for mutable tags.
func (c *Client) UploadManifest(ctx context.Context, repository, reference string, manifest ocispec.Manifest) error {
	repo, err := c.newRepository(repository)
	if err != nil {
		return err
	}

	manifest.Versioned = specs.Versioned{SchemaVersion: 2}
	if manifest.MediaType == "" {
		manifest.MediaType = ocispec.MediaTypeImageManifest
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	desc := ocispec.Descriptor{
		MediaType: manifest.MediaType,
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}

	if err := repo.Manifests().PushReference(ctx, desc, bytes.NewReader(data), reference); err != nil {
		return fmt.Errorf("push manifest: %w", mapError(err))
	}
	return nil
}

// PullByMediaType fetches the manifest for reference, selects every layer
// whose media type matches mediaType, and downloads each to
// {dest}/{layer title annotation}. A local file whose digest already
// matches the layer is left untouched. Returns the materialized paths.
func (c *Client) PullByMediaType(ctx context.Context, repository, reference, dest, mediaType string) ([]string, error) {
	manifest, err := c.GetManifest(ctx, repository, reference)
	if err != nil {
		return nil, err
	}

	repo, err := c.newRepository(repository)
	if err != nil {
		return nil, err
	}

	validator := safepath.NewValidator()
	var paths []string
	for _, layer := range manifest.Layers {
		if layer.MediaType != mediaType {
			continue
		}

		title := layer.Annotations[TitleAnnotation]
		if title == "" {
			title = layer.Digest.Encoded()
		}

		targetPath, err := validator.Resolve(dest, title)
		if err != nil {
			return nil, err
		}

		if localDigestMatches(targetPath, layer.Digest) {
			paths = append(paths, targetPath)
			continue
		}

		if err := downloadBlob(ctx, repo, layer, targetPath); err != nil {
			return nil, err
		}
		paths = append(paths, targetPath)
	}
	return paths, nil
}

func downloadBlob(ctx context.Context, repo *remote.Repository, desc ocispec.Descriptor, targetPath string) error {
	rc, err := repo.Blobs().Fetch(ctx, desc)
	if err != nil {
		return mapError(err)
	}
	defer rc.Close()

	if err := os.MkdirAll(dirOf(targetPath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err)
	}

	f, err := os.Create(targetPath) //nolint:gosec // targetPath is validated by safepath.Resolve
	if err != nil {
		return fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err)
	}
	return nil
}

func localDigestMatches(path string, want digest.Digest) bool {
	f, err := os.Open(path) //nolint:gosec // path comes from safepath.Resolve against a trusted dest
	if err != nil {
		return false
	}
	defer f.Close()

	verifier := want.Verifier()
	if _, err := io.Copy(verifier, f); err != nil {
		return false
	}
	return verifier.Verified()
}

func descriptorForFile(path, mediaType string, annotations map[string]string) (ocispec.Descriptor, error) {
	f, err := os.Open(path) //nolint:gosec // path is constructed by this project's own staging logic
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("open blob: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("stat blob: %w", err)
	}

	digester := digest.SHA256.Digester()
	if _, err := io.Copy(digester.Hash(), f); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("digest blob: %w", err)
	}

	return ocispec.Descriptor{
		MediaType:   mediaType,
		Digest:      digester.Digest(),
		Size:        info.Size(),
		Annotations: annotations,
	}, nil
}

func dirOf(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i < 0 {
		return "."
	}
	return path[:i]
}

func isNotFound(err error) bool {
	return mapError(err) == condamirror.ErrNotFound
}

// newRepository creates an authenticated remote repository handle for
// repository under the client's configured host.
func (c *Client) newRepository(repository string) (*remote.Repository, error) {
	ref, err := registry.ParseReference(fmt.Sprintf("%s/%s:latest", c.host, repository))
	if err != nil {
		return nil, condamirror.ErrInvalidRef
	}

	repo, err := remote.NewRepository(ref.Registry + "/" + ref.Repository)
	if err != nil {
		return nil, fmt.Errorf("create repository handle: %w", err)
	}

	repo.PlainHTTP = c.plainHTTP
	repo.Client = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if c.credStore == nil {
				return auth.EmptyCredential, nil
			}
			return c.credStore.Get(ctx, hostport)
		},
		Header: http.Header{
			"User-Agent": []string{c.userAgent},
		},
	}

	return repo, nil
}
