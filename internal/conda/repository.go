package conda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/condamirror/condamirror"
	"github.com/condamirror/condamirror/internal/layer"
	"github.com/condamirror/condamirror/internal/mediatype"
	"github.com/condamirror/condamirror/internal/registry"
)

// TimestampLayout is the channel-index publish tag layout, "YYYY.MM.DD.HHMM"
// (no dot between hour and minute — distinct from layer.CreationTimeLayout,
// which separates every field).
const TimestampLayout = "2006.01.02.1504"

// LatestTag is the floating tag a channel index is always additionally
// published under.
const LatestTag = "latest"

const (
	// RepodataFilename is the canonical channel-index filename.
	RepodataFilename             = "repodata.json"
	repodataFromPackagesFilename = "repodata_from_packages.json"
)

// Repository is one (channel, subdir) pair for the lifetime of a single run.
type Repository struct {
	namespace string
	channel   string
	subdir    string
	baseDir   string

	client      *registry.Client
	httpClient  *http.Client
	baseURL     string
	fallbackURL string

	mu           sync.Mutex
	existingTags map[string][]string
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithRepositoryHTTPClient overrides the HTTP client used for upstream
// downloads.
func WithRepositoryHTTPClient(c *http.Client) RepositoryOption {
	return func(r *Repository) { r.httpClient = c }
}

// WithRepositoryBaseURL overrides the upstream channel host.
func WithRepositoryBaseURL(url string) RepositoryOption {
	return func(r *Repository) { r.baseURL = url }
}

// WithRepositoryFallbackBaseURL registers a secondary channel host, tried
// for repodata.json and repodata_from_packages.json only if the primary
// baseURL answers with a 404. Unset by default.
func WithRepositoryFallbackBaseURL(url string) RepositoryOption {
	return func(r *Repository) { r.fallbackURL = url }
}

// NewRepository creates a Repository rooted at {cacheDir}/{channel}/{subdir}.
// namespace is the destination registry's namespace half of the combined
// --registry host/namespace string; it is prefixed onto every OCI repository
// path this Repository builds, but plays no part in the local cache layout
// or the upstream download URLs.
func NewRepository(namespace, channel, subdir, cacheDir string, client *registry.Client, opts ...RepositoryOption) *Repository {
	r := &Repository{
		namespace:    namespace,
		channel:      channel,
		subdir:       subdir,
		baseDir:      filepath.Join(cacheDir, channel, subdir),
		client:       client,
		httpClient:   http.DefaultClient,
		baseURL:      UpstreamBaseURL,
		existingTags: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegistryPath joins namespace (if set), channel, subdir, and parts into an
// OCI repository path.
func (r *Repository) RegistryPath(parts ...string) string {
	segments := append([]string{r.channel, r.subdir}, parts...)
	if r.namespace != "" {
		segments = append([]string{r.namespace}, segments...)
	}
	return strings.Join(segments, "/")
}

// ChannelDir is {cacheDir}/{channel}, the parent of this repository's own
// cache directory.
func (r *Repository) ChannelDir() string {
	return filepath.Dir(r.baseDir)
}

// CacheDir is {cacheDir}/{channel}/{subdir}, this repository's own cache
// directory.
func (r *Repository) CacheDir() string {
	return r.baseDir
}

// RepodataPath is the local path repodata.json is cached at.
func (r *Repository) RepodataPath() string {
	return filepath.Join(r.baseDir, RepodataFilename)
}

// EnsureRepodata downloads repodata.json and repodata_from_packages.json
// from upstream into the repository's cache directory. The packages variant
// additionally carries yanked (removed) entries.
func (r *Repository) EnsureRepodata(ctx context.Context) error {
	if err := os.MkdirAll(r.baseDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err)
	}

	for _, name := range []string{RepodataFilename, repodataFromPackagesFilename} {
		dest := filepath.Join(r.baseDir, name)
		if err := r.downloadRepodataFile(ctx, name, dest); err != nil {
			return err
		}
	}
	return nil
}

// downloadRepodataFile downloads name from baseURL, retrying against
// fallbackURL (if one is configured) when the primary host answers 404.
func (r *Repository) downloadRepodataFile(ctx context.Context, name, dest string) error {
	url := fmt.Sprintf("%s/%s/%s/%s", r.baseURL, r.channel, r.subdir, name)
	err := downloadFile(ctx, r.httpClient, url, dest)
	if err == nil || r.fallbackURL == "" || !errors.Is(err, condamirror.ErrNotFound) {
		return err
	}

	fallback := fmt.Sprintf("%s/%s/%s/%s", r.fallbackURL, r.channel, r.subdir, name)
	return downloadFile(ctx, r.httpClient, fallback, dest)
}

// LoadRepodata parses the cached index into a Repodata model.
// includeYanked selects repodata_from_packages.json (which carries removed
// entries) instead of the canonical repodata.json.
func (r *Repository) LoadRepodata(includeYanked bool) (*Repodata, error) {
	name := RepodataFilename
	if includeYanked {
		name = repodataFromPackagesFilename
	}

	data, err := os.ReadFile(filepath.Join(r.baseDir, name)) //nolint:gosec // path is this repository's own cache file
	if err != nil {
		return nil, fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err)
	}

	var raw repodataFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, condamirror.ErrFormat, err)
	}
	return NewRepodata(raw.Packages, raw.PackagesConda), nil
}

// FindPackages yields every Repodata entry not already published: skipped if
// names is non-empty and info.name matches none of its globs, skipped if
// info.name is in skips, and skipped if the archive filename is already
// present in the registry under its package's tags.
func (r *Repository) FindPackages(ctx context.Context, names []string, skips map[string]struct{}, includeYanked bool) ([]Entry, error) {
	repodata, err := r.LoadRepodata(includeYanked)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, entry := range repodata.Packages() {
		if len(names) > 0 && !matchesAny(names, entry.Info.Name) {
			continue
		}
		if _, skip := skips[entry.Info.Name]; skip {
			continue
		}

		ext, err := GetPackageExtension(entry.Archive)
		if err != nil {
			continue
		}
		existing, err := r.GetExistingPackages(ctx, entry.Info.Name, ext)
		if err != nil {
			return nil, err
		}
		if containsString(existing, entry.Archive) {
			continue
		}

		out = append(out, entry)
	}
	return out, nil
}

func matchesAny(globs []string, name string) bool {
	for _, g := range globs {
		if ok, err := path.Match(g, name); err == nil && ok {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// GetExistingTags returns the registry tags already published for
// packageName, cached for the lifetime of the Repository. The
// leading-underscore rewrite is applied before querying.
func (r *Repository) GetExistingTags(ctx context.Context, packageName string) ([]string, error) {
	r.mu.Lock()
	if tags, ok := r.existingTags[packageName]; ok {
		r.mu.Unlock()
		return tags, nil
	}
	r.mu.Unlock()

	repoPath := r.RegistryPath(EncodeName(packageName))
	tags, err := r.client.ListTags(ctx, repoPath)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.existingTags[packageName] = tags
	r.mu.Unlock()
	return tags, nil
}

// GetExistingPackages joins packageName with every existing tag and
// extension to reconstruct the archive filenames already published.
func (r *Repository) GetExistingPackages(ctx context.Context, packageName, extension string) ([]string, error) {
	tags, err := r.GetExistingTags(ctx, packageName)
	if err != nil {
		return nil, err
	}

	archives := make([]string, 0, len(tags))
	for _, tag := range tags {
		archives = append(archives, fmt.Sprintf("%s-%s.%s", packageName, DecodeTag(tag), extension))
	}
	return archives, nil
}

// RepoUploadResult is one channel-index publish receipt.
type RepoUploadResult struct {
	URI string
	Tag string
}

// Upload publishes the cached repodata.json as this subdir's channel index,
// to repository "{namespace}/{channel}/{subdir}/repodata.json" (matching the
// upstream mirror's PackageRepo.upload URI), with the layer titled plainly
// "repodata.json" so pull_by_media_type can place it straight back into a
// subdir-rooted cache directory. Pushes under the timestamp tag first and
// "latest" second: "latest" must never be advanced before the timestamped
// publish has succeeded.
func (r *Repository) Upload(ctx context.Context, timestamp string) ([]RepoUploadResult, error) {
	if timestamp == "" {
		timestamp = timestampNow(time.Now())
	}

	repoPath := r.RegistryPath(RepodataFilename)
	pusher := layer.NewPusher(r.client, repoPath, r.baseDir)
	if err := pusher.AddLayer(r.RepodataPath(), mediatype.RepodataIndex, RepodataFilename, nil); err != nil {
		return nil, err
	}

	var results []RepoUploadResult
	for _, tag := range []string{timestamp, LatestTag} {
		res, err := pusher.Push(ctx, tag)
		if err != nil {
			return results, fmt.Errorf("%w: %v", condamirror.ErrRegistry, err)
		}
		results = append(results, RepoUploadResult{URI: res.URI, Tag: tag})
	}
	return results, nil
}

// GetIndexJSON pulls and parses the info/index.json layer for package:tag.
func (r *Repository) GetIndexJSON(ctx context.Context, packageName, tag, destDir string) (*PackageInfo, error) {
	repoPath := r.RegistryPath(EncodeName(packageName))
	paths, err := r.client.PullByMediaType(ctx, repoPath, tag, destDir, mediatype.InfoIndex)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, condamirror.ErrNotFound
	}

	data, err := os.ReadFile(paths[0]) //nolint:gosec // path comes from PullByMediaType's own safepath-validated destDir
	if err != nil {
		return nil, fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err)
	}
	var info PackageInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", condamirror.ErrFormat, err)
	}
	return &info, nil
}

// GetInfo pulls the info.tar.gz layer for package:tag, if present, to
// destDir. Returns an empty slice (not an error) if the archive carries no
// info-tarball layer.
func (r *Repository) GetInfo(ctx context.Context, packageName, tag, destDir string) ([]string, error) {
	repoPath := r.RegistryPath(EncodeName(packageName))
	return r.client.PullByMediaType(ctx, repoPath, tag, destDir, mediatype.InfoTarball)
}

// GetPackage pulls the package-archive layer (classic or new-format,
// whichever the manifest carries) for package:tag to destDir.
func (r *Repository) GetPackage(ctx context.Context, packageName, tag, destDir string) ([]string, error) {
	repoPath := r.RegistryPath(EncodeName(packageName))
	for _, mt := range []string{mediatype.PackageClassic, mediatype.PackageNew} {
		paths, err := r.client.PullByMediaType(ctx, repoPath, tag, destDir, mt)
		if err != nil {
			return nil, err
		}
		if len(paths) > 0 {
			return paths, nil
		}
	}
	return nil, condamirror.ErrNotFound
}
