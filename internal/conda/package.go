package conda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/condamirror/condamirror"
	"github.com/condamirror/condamirror/internal/digest"
	"github.com/condamirror/condamirror/internal/layer"
	"github.com/condamirror/condamirror/internal/mediatype"
	"github.com/condamirror/condamirror/internal/registry"
	"github.com/condamirror/condamirror/internal/retry"
)

// downloadChunkSize is the read/write buffer size used while streaming an
// archive download to disk.
const downloadChunkSize = 8 * 1024

// UpstreamBaseURL is the default conda channel host.
const UpstreamBaseURL = "https://conda.anaconda.org"

// Package represents one conda archive in flight: its upstream location,
// local staging, and OCI publication.
type Package struct {
	namespace string
	channel   string
	subdir    string
	archive   string

	cacheDir     string
	client       *registry.Client
	info         *PackageInfo
	existingFile string
	timestamp    string

	httpClient *http.Client
	baseURL    string

	name, version, build, tag string
	extension, mediaType      string
	classic                   bool
}

// PackageOption configures a Package.
type PackageOption func(*Package)

// WithExistingFile pre-seeds the local archive path, skipping the download
// step in EnsureFile.
func WithExistingFile(path string) PackageOption {
	return func(p *Package) { p.existingFile = path }
}

// WithTimestamp overrides the shared timestamp tag.
func WithTimestamp(ts string) PackageOption {
	return func(p *Package) { p.timestamp = ts }
}

// WithHTTPClient overrides the HTTP client used for upstream downloads.
func WithHTTPClient(c *http.Client) PackageOption {
	return func(p *Package) { p.httpClient = c }
}

// WithBaseURL overrides the upstream channel host, for fallback mirrors.
func WithBaseURL(url string) PackageOption {
	return func(p *Package) { p.baseURL = url }
}

// NewPackage constructs a Package for one repodata entry. namespace is the
// destination registry's namespace half of the combined --registry
// host/namespace string (see Repository URI in the data model); it is
// prefixed onto RepositoryPath() but plays no part in the upstream download
// URL. Fails with ErrUnknownFormat if archive carries neither a classic nor
// new-format extension.
func NewPackage(namespace, channel, subdir, archive, cacheDir string, client *registry.Client, info *PackageInfo, opts ...PackageOption) (*Package, error) {
	mt, classic, ok := mediatype.ForArchive(archive)
	if !ok {
		return nil, fmt.Errorf("%s: %w", archive, condamirror.ErrUnknownFormat)
	}
	ext, err := GetPackageExtension(archive)
	if err != nil {
		return nil, err
	}

	baseName := strings.TrimSuffix(archive, "."+ext)
	name, version, build, err := splitBaseName(baseName)
	if err != nil {
		return nil, err
	}

	p := &Package{
		namespace:  namespace,
		channel:    channel,
		subdir:     subdir,
		archive:    archive,
		cacheDir:   cacheDir,
		client:     client,
		info:       info,
		httpClient: http.DefaultClient,
		baseURL:    UpstreamBaseURL,
		name:       name,
		version:    version,
		build:      build,
		tag:        EncodeTag(version + "-" + build),
		extension:  ext,
		mediaType:  mt,
		classic:    classic,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// splitBaseName splits "name-version-build" on '-' from the right, twice.
func splitBaseName(baseName string) (name, version, build string, err error) {
	i := strings.LastIndex(baseName, "-")
	if i < 0 {
		return "", "", "", fmt.Errorf("%s: %w", baseName, condamirror.ErrFormat)
	}
	build = baseName[i+1:]
	rest := baseName[:i]

	j := strings.LastIndex(rest, "-")
	if j < 0 {
		return "", "", "", fmt.Errorf("%s: %w", baseName, condamirror.ErrFormat)
	}
	version = rest[j+1:]
	name = rest[:j]
	return name, version, build, nil
}

// Tag is the derived OCI tag for this package (version-build, encoded).
func (p *Package) Tag() string { return p.tag }

// RepositoryPath is {namespace}/{channel}/{subdir}/{name} (namespace omitted
// if empty), with the leading-underscore rewrite applied to name.
func (p *Package) RepositoryPath() string {
	path := fmt.Sprintf("%s/%s/%s", p.channel, p.subdir, EncodeName(p.name))
	if p.namespace == "" {
		return path
	}
	return p.namespace + "/" + path
}

func (p *Package) digestEntry() digest.Entry {
	if p.info == nil {
		return digest.Entry{}
	}
	return digest.Entry{SHA256: p.info.SHA256, MD5: p.info.MD5}
}

// EnsureFile returns the local path to the archive, downloading it from
// upstream if existingFile was not supplied. 5xx responses and checksum
// mismatches are retried with exponential backoff (base 2s, additive
// 3^attempt, up to 5 attempts); any other HTTP error is raised immediately.
func (p *Package) EnsureFile(ctx context.Context) (string, error) {
	if p.existingFile != "" {
		return p.existingFile, nil
	}

	dest := filepath.Join(p.cacheDir, p.archive)
	url := fmt.Sprintf("%s/%s/%s/%s", p.baseURL, p.channel, p.subdir, p.archive)

	err := retry.Do(ctx, retry.DefaultAttempts, func() error {
		if err := downloadFile(ctx, p.httpClient, url, dest); err != nil {
			return err
		}

		ok, algo, err := digest.Verify(dest, p.digestEntry())
		if err != nil {
			return retry.Permanent(fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err))
		}
		if !ok {
			os.Remove(dest)
			return fmt.Errorf("%s: %w (%s)", p.archive, condamirror.ErrChecksumMismatch, algo)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

func downloadFile(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", condamirror.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w (status %d)", url, condamirror.ErrTransient, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(fmt.Errorf("%s: %w", url, condamirror.ErrNotFound))
	case resp.StatusCode != http.StatusOK:
		return retry.Permanent(fmt.Errorf("%s: %w (status %d)", url, condamirror.ErrFormat, resp.StatusCode))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return retry.Permanent(fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err))
	}

	out, err := os.Create(dest) //nolint:gosec // dest is this package's own cache-directory path
	if err != nil {
		return retry.Permanent(fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err))
	}
	defer out.Close()

	buf := make([]byte, downloadChunkSize)
	if _, err := io.CopyBuffer(out, resp.Body, buf); err != nil {
		return fmt.Errorf("%w: %v", condamirror.ErrTransient, err)
	}
	return nil
}

// indexJSON is the subset of info/index.json this project reads.
type indexJSON struct {
	Subdir string `json:"subdir"`
}

// PrepareMetadata extracts archive's info/ subtree under
// stagingDir/{baseName}/info. The returned infoDir is handed to
// layer.Pusher.AddLayer directly, which compresses a directory input to
// info.tar.gz on its own; if that compression later fails, the info-tarball
// layer is simply omitted and only info/index.json is still pushed.
func (p *Package) PrepareMetadata(stagingDir string) (infoIndexPath string, infoDir string, err error) {
	base := p.baseDir(stagingDir)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", "", fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err)
	}

	if err := ExtractInfo(filepath.Join(p.cacheDir, p.archive), base); err != nil {
		return "", "", err
	}

	infoDir = filepath.Join(base, "info")
	infoIndexPath = filepath.Join(infoDir, "index.json")
	if _, err := os.Stat(infoIndexPath); err != nil {
		return "", "", fmt.Errorf("%s: %w: missing info/index.json", p.archive, condamirror.ErrFormat)
	}

	return infoIndexPath, infoDir, nil
}

func (p *Package) baseDir(stagingDir string) string {
	baseName := strings.TrimSuffix(p.archive, "."+p.extension)
	return filepath.Join(stagingDir, baseName)
}

// UploadResult is one tag's push receipt.
type UploadResult struct {
	URI    string
	Layers []string
}

// Upload stages the archive and its metadata, assembles the three-layer
// manifest, and pushes it under Tag(), every extraTag, and the timestamp tag
// if one was set (WithTimestamp). Wrapped in
// class-level retry (5 attempts, exponential), matching the upstream
// mirror's per-package retry decorator.
func (p *Package) Upload(ctx context.Context, stagingRoot string, dryRun bool, extraTags []string) ([]UploadResult, error) {
	var results []UploadResult

	err := retry.Do(ctx, retry.DefaultAttempts, func() error {
		results = nil

		stagingDir, err := os.MkdirTemp(stagingRoot, "pkg-*")
		if err != nil {
			return retry.Permanent(fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err))
		}
		defer os.RemoveAll(stagingDir)

		archivePath, err := p.EnsureFile(ctx)
		if err != nil {
			return err
		}

		infoIndexPath, infoDir, err := p.PrepareMetadata(stagingDir)
		if err != nil {
			return retry.Permanent(err)
		}

		pusher := layer.NewPusher(p.client, p.RepositoryPath(), stagingDir)

		archiveAnnotations := map[string]string{}
		if p.classic {
			md5, err := digest.MD5File(archivePath)
			if err != nil {
				return retry.Permanent(fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err))
			}
			archiveAnnotations["org.conda.md5"] = md5
		}
		if err := pusher.AddLayer(archivePath, p.mediaType, p.archive, archiveAnnotations); err != nil {
			return retry.Permanent(err)
		}

		// AddLayer compresses a directory input on its own; if that fails
		// (e.g. an unreadable file under info/), the tarball layer is
		// simply omitted and only info/index.json is pushed below.
		_ = pusher.AddLayer(infoDir, mediatype.InfoTarball, "info.tar.gz", nil)

		if err := pusher.AddLayer(infoIndexPath, mediatype.InfoIndex, "info/index.json", nil); err != nil {
			return retry.Permanent(err)
		}

		data, err := os.ReadFile(infoIndexPath) //nolint:gosec // path produced by PrepareMetadata above
		if err != nil {
			return retry.Permanent(fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err))
		}
		var idx indexJSON
		if err := json.Unmarshal(data, &idx); err != nil || idx.Subdir == "" {
			// Matches the upstream behavior: log and return without pushing,
			// rather than failing the whole run.
			slog.Error("info/index.json has no subdir, not pushing", "archive", p.archive)
			return nil
		}

		if dryRun {
			results = []UploadResult{{URI: p.RepositoryPath() + ":" + p.tag}}
			return nil
		}

		tags := []string{p.tag}
		tags = append(tags, extraTags...)
		if p.timestamp != "" {
			tags = append(tags, p.timestamp)
		}
		for _, tag := range tags {
			res, err := pusher.Push(ctx, tag)
			if err != nil {
				return fmt.Errorf("%w: %v", condamirror.ErrRegistry, err)
			}
			var layerDigests []string
			for _, l := range res.Layers {
				layerDigests = append(layerDigests, l.Digest.String())
			}
			results = append(results, UploadResult{URI: res.URI, Layers: layerDigests})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// timestampNow formats t as the channel-index timestamp tag layout
// (TimestampLayout, distinct from the per-layer creationTime annotation's
// dotted HH.MM).
func timestampNow(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
