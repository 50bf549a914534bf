// Package mirror implements the top-level verbs that drive the conda
// channel/registry mirror: update, pull-latest, push-new, and push-all.
//
// Grounded on original_source/conda_oci_mirror/mirror.py's Mirror class
// (channel/subdir iteration, the forbidden-packages guard, the
// ORAS-not-authenticated dry-run downgrade, the announce() startup line)
// and original_source/conda_oci_mirror/cache_packages.py (the push-cache
// direction's external-indexer invocation), reworked around
// internal/conda, internal/tasks, and internal/registry instead of the
// Python oras wrapper.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/condamirror/condamirror/internal/conda"
	"github.com/condamirror/condamirror/internal/mediatype"
	"github.com/condamirror/condamirror/internal/registry"
	"github.com/condamirror/condamirror/internal/tasks"
)

// ForbiddenPackagesURL lists conda-forge's undistributable package names.
const ForbiddenPackagesURL = "https://raw.githubusercontent.com/conda-forge/conda-forge-pinning-feedstock/main/recipe/conda_build_config.yaml"

// forbiddenPackagesAPIURL is the actual JSON endpoint consulted; kept
// separate from the human-facing constant above since conda-forge has moved
// this listing before.
const forbiddenPackagesAPIURL = "https://conda.anaconda.org/conda-forge/undistributable.json"

// Controller is the top-level mirror entry point for one (channels,
// subdirs) configuration.
type Controller struct {
	channels []string
	subdirs  []string
	names    []string

	registryHost string
	namespace    string
	cacheDir     string

	client             *registry.Client
	httpClient         *http.Client
	runner             *tasks.Runner
	logger             *slog.Logger
	authorized         bool
	onTaskDone         func(completed, total int)
	fallbackChannelURL string
}

// Option configures a Controller.
type Option func(*Controller)

// WithNames restricts operations to packages matching one of these globs.
func WithNames(names []string) Option {
	return func(c *Controller) { c.names = names }
}

// WithLogger sets the structured logger used for the announce() line and
// per-subdir diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithRunner overrides the task runner (concurrency, custom logger).
func WithRunner(r *tasks.Runner) Option {
	return func(c *Controller) { c.runner = r }
}

// WithAuthorized records whether the registry client resolved push
// credentials; if false, Update logs a warning and downgrades to dry-run
// regardless of the caller's request, mirroring the upstream mirror's safety
// check.
func WithAuthorized(authorized bool) Option {
	return func(c *Controller) { c.authorized = authorized }
}

// WithHTTPClient overrides the HTTP client used for upstream metadata
// requests (the forbidden-packages listing).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Controller) { c.httpClient = httpClient }
}

// WithProgress registers a callback invoked after every task that completes
// successfully during Update, PullLatest, PushNew, or PushAll, reporting the running
// completed count against the run's total task count.
func WithProgress(onTaskDone func(completed, total int)) Option {
	return func(c *Controller) { c.onTaskDone = onTaskDone }
}

// WithFallbackChannelURL registers a secondary channel host, tried for a
// subdir's repodata.json only if the primary upstream host (UpstreamBaseURL)
// answers 404. Unset by default; no fallback is attempted.
func WithFallbackChannelURL(url string) Option {
	return func(c *Controller) { c.fallbackChannelURL = url }
}

// New creates a Controller that mirrors channels/subdirs between upstream
// conda and {registryHost}/{namespace}, caching locally under cacheDir.
func New(channels, subdirs []string, registryHost, namespace, cacheDir string, client *registry.Client, opts ...Option) *Controller {
	c := &Controller{
		channels:     channels,
		subdirs:      subdirs,
		registryHost: registryHost,
		namespace:    namespace,
		cacheDir:     cacheDir,
		client:       client,
		httpClient:   http.DefaultClient,
		runner:       tasks.New(),
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.announce()
	return c
}

// registryPath is the assembled destination namespace, "{host}/{namespace}".
func (c *Controller) registryPath() string {
	return c.registryHost + "/" + c.namespace
}

// newRunContext builds a RunContext wired with the controller's logger and,
// if set, its progress callback.
func (c *Controller) newRunContext() *tasks.RunContext {
	rc := tasks.NewRunContext(c.logger)
	rc.OnTaskDone = c.onTaskDone
	return rc
}

// repositoryOptions builds the conda.RepositoryOption set every
// conda.NewRepository call in this controller shares, currently just the
// optional fallback channel host.
func (c *Controller) repositoryOptions() []conda.RepositoryOption {
	if c.fallbackChannelURL == "" {
		return nil
	}
	return []conda.RepositoryOption{conda.WithRepositoryFallbackBaseURL(c.fallbackChannelURL)}
}

func (c *Controller) announce() {
	c.logger.Info("mirror configured",
		"cacheDir", c.cacheDir,
		"channels", c.channels,
		"subdirs", c.subdirs,
		"packages", c.names,
		"registry", c.registryPath(),
	)
}

// forbiddenPackages returns the conda-forge undistributable package
// listing, or nil if no channel being mirrored is conda-forge.
func (c *Controller) forbiddenPackages(ctx context.Context) (map[string]struct{}, error) {
	forConda := false
	for _, ch := range c.channels {
		if ch == "conda-forge" {
			forConda = true
			break
		}
	}
	if !forConda {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, forbiddenPackagesAPIURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch forbidden packages: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch forbidden packages: status %d", resp.StatusCode)
	}

	var payload struct {
		Undistributable []string `json:"undistributable"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode forbidden packages: %w", err)
	}

	skip := make(map[string]struct{}, len(payload.Undistributable))
	for _, name := range payload.Undistributable {
		skip[name] = struct{}{}
	}
	return skip, nil
}

// Update mirrors every configured channel/subdir: for each, it finds
// candidate packages not already published, enqueues a PackageUploadTask per
// candidate followed by that subdir's RepoUploadTask (so the index publish
// always observes the completion of its subdir's package uploads), and runs
// the pool. If the registry client has no resolved credentials, dryRun is
// forced true regardless of the caller's request.
func (c *Controller) Update(ctx context.Context, dryRun, serial, includeYanked bool) ([]tasks.Result, error) {
	if !c.authorized && !dryRun {
		c.logger.Warn("registry is not authenticated, forcing dry run")
		dryRun = true
	}

	skip, err := c.forbiddenPackages(ctx)
	if err != nil {
		return nil, err
	}

	rc := c.newRunContext()
	var taskList []tasks.Task
	timestamp := time.Now().UTC().Format(conda.TimestampLayout)

	for _, channel := range c.channels {
		for _, subdir := range c.subdirs {
			repo := conda.NewRepository(c.namespace, channel, subdir, c.cacheDir, c.client, c.repositoryOptions()...)
			if err := repo.EnsureRepodata(ctx); err != nil {
				return nil, err
			}

			entries, err := repo.FindPackages(ctx, c.names, skip, includeYanked)
			if err != nil {
				return nil, err
			}

			for _, entry := range entries {
				pkg, err := conda.NewPackage(c.namespace, channel, subdir, entry.Archive, repo.CacheDir(), c.client, &entry.Info)
				if err != nil {
					c.logger.Warn("skipping package with unrecognized archive", "archive", entry.Archive, "error", err)
					continue
				}
				taskList = append(taskList, &tasks.PackageUploadTask{
					Pkg:         pkg,
					DryRun:      dryRun,
					StagingRoot: repo.CacheDir(),
				})
			}

			if !dryRun {
				taskList = append(taskList, &tasks.RepoUploadTask{Repo: repo, Timestamp: timestamp})
			} else if dryRun {
				c.logger.Info("dry run, skipping channel index publish", "channel", channel, "subdir", subdir)
			}
		}
	}

	return c.run(ctx, rc, taskList, serial)
}

// PullLatest pulls each subdir's channel index, computes each package's
// latest tag, and downloads that archive into the cache. (uri, mediaType)
// pairs are deduplicated across the whole run.
func (c *Controller) PullLatest(ctx context.Context, serial bool) ([]tasks.Result, error) {
	rc := c.newRunContext()
	var taskList []tasks.Task
	seen := make(map[string]struct{})

	for _, channel := range c.channels {
		for _, subdir := range c.subdirs {
			repo := conda.NewRepository(c.namespace, channel, subdir, c.cacheDir, c.client)

			indexDest := repo.CacheDir()
			if err := os.MkdirAll(indexDest, 0o755); err != nil {
				return nil, err
			}
			if _, err := c.client.PullByMediaType(ctx, repo.RegistryPath(conda.RepodataFilename), "latest", indexDest, mediatype.RepodataIndex); err != nil {
				return nil, err
			}

			repodata, err := repo.LoadRepodata(false)
			if err != nil {
				return nil, err
			}

			for name := range repodata.PackageNames() {
				latest, ok := repodata.GetLatestTag(name)
				if !ok {
					continue
				}

				repoPath := repo.RegistryPath(conda.EncodeName(name))
				archiveMediaType, err := LatestArchiveMediaType(repodata, name)
				if err != nil {
					continue
				}

				key := repoPath + ":" + latest + ":" + archiveMediaType
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				taskList = append(taskList, &tasks.DownloadTask{
					Client:     c.client,
					Repository: repoPath,
					Reference:  latest,
					CacheDir:   indexDest,
					MediaType:  archiveMediaType,
				})
			}
		}
	}

	return c.run(ctx, rc, taskList, serial)
}

// LatestArchiveMediaType resolves the media type of the repodata entry for
// name's latest tag (GetLatestTag), classic or new-format, whichever the
// index carries.
func LatestArchiveMediaType(repodata *conda.Repodata, name string) (string, error) {
	latest, ok := repodata.GetLatestTag(name)
	if !ok {
		return "", fmt.Errorf("no archive found for %s", name)
	}
	for _, e := range repodata.Packages() {
		if e.Info.Name == name && e.Info.Version+"-"+e.Info.Build == latest {
			return conda.GetPackageMediaType(e.Archive)
		}
	}
	return "", fmt.Errorf("no archive found for %s", name)
}

// PushNew invokes the external conda indexer over the cached channel root,
// then publishes every archive on disk that was not present in the
// pre-indexing repodata.json snapshot. PushAll does the same but publishes
// every archive on disk regardless of the snapshot.
func (c *Controller) PushNew(ctx context.Context, dryRun, serial bool) ([]tasks.Result, error) {
	return c.pushCache(ctx, dryRun, serial, false)
}

// PushAll behaves like PushNew but republishes every archive on disk, not
// only ones absent from the pre-indexing snapshot.
func (c *Controller) PushAll(ctx context.Context, dryRun, serial bool) ([]tasks.Result, error) {
	return c.pushCache(ctx, dryRun, serial, true)
}

func (c *Controller) pushCache(ctx context.Context, dryRun, serial, all bool) ([]tasks.Result, error) {
	rc := c.newRunContext()
	var taskList []tasks.Task
	timestamp := time.Now().UTC().Format(conda.TimestampLayout)

	for _, channel := range c.channels {
		channelRoot := filepath.Join(c.cacheDir, channel)
		if err := os.MkdirAll(channelRoot, 0o755); err != nil {
			return nil, err
		}

		backups := make(map[string]string, len(c.subdirs))
		known := make(map[string]map[string]struct{}, len(c.subdirs))
		for _, subdir := range c.subdirs {
			subdirCache := filepath.Join(channelRoot, subdir)
			if err := os.MkdirAll(subdirCache, 0o755); err != nil {
				return nil, err
			}

			repodataPath := filepath.Join(subdirCache, "repodata.json")
			backupPath := filepath.Join(subdirCache, "original_repodata.json")
			backups[subdir] = backupPath
			known[subdir] = map[string]struct{}{}

			if data, err := os.ReadFile(repodataPath); err == nil { //nolint:gosec // repodataPath is this controller's own cache file
				os.WriteFile(backupPath, data, 0o600) //nolint:errcheck
				var raw struct {
					Packages      map[string]json.RawMessage `json:"packages"`
					PackagesConda map[string]json.RawMessage `json:"packages.conda"`
				}
				if err := json.Unmarshal(data, &raw); err == nil {
					for name := range raw.Packages {
						known[subdir][name] = struct{}{}
					}
					for name := range raw.PackagesConda {
						known[subdir][name] = struct{}{}
					}
				}
			}
		}

		// The external indexer rewrites every subdir's repodata.json under
		// the channel root in one pass.
		if err := runIndexer(ctx, channelRoot); err != nil {
			return nil, err
		}

		for _, subdir := range c.subdirs {
			subdirCache := filepath.Join(channelRoot, subdir)
			archives, err := localArchives(subdirCache)
			if err != nil {
				return nil, err
			}

			for _, archive := range archives {
				if !all {
					if _, ok := known[subdir][archive]; ok {
						continue
					}
				}

				pkg, err := conda.NewPackage(c.namespace, channel, subdir, archive, subdirCache, c.client, nil,
					conda.WithExistingFile(filepath.Join(subdirCache, archive)))
				if err != nil {
					c.logger.Warn("skipping local archive with unrecognized name", "archive", archive, "error", err)
					continue
				}
				taskList = append(taskList, &tasks.PackageUploadTask{
					Pkg:         pkg,
					DryRun:      dryRun,
					StagingRoot: subdirCache,
					ExtraTags:   []string{timestamp},
				})
			}

			// Restore repodata.json from the pre-indexing snapshot, discarding
			// the indexer's transient rewrite.
			repodataPath := filepath.Join(subdirCache, "repodata.json")
			if data, err := os.ReadFile(backups[subdir]); err == nil { //nolint:gosec // backups[subdir] is this controller's own cache file
				os.WriteFile(repodataPath, data, 0o600) //nolint:errcheck
			}
		}
	}

	return c.run(ctx, rc, taskList, serial)
}

func runIndexer(ctx context.Context, channelRoot string) error {
	cmd := exec.CommandContext(ctx, "conda", "index", channelRoot)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func localArchives(dir string) ([]string, error) {
	var archives []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, extErr := conda.GetPackageExtension(d.Name()); extErr == nil {
			archives = append(archives, d.Name())
		}
		return nil
	})
	return archives, err
}

func (c *Controller) run(ctx context.Context, rc *tasks.RunContext, taskList []tasks.Task, serial bool) ([]tasks.Result, error) {
	if serial {
		return c.runner.RunSerial(ctx, rc, taskList)
	}
	return c.runner.Run(ctx, rc, taskList)
}
