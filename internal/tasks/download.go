package tasks

import (
	"context"

	"github.com/condamirror/condamirror/internal/registry"
)

// DownloadTask pulls every layer of mediaType out of repository:reference
// into cacheDir, for the pull-cache direction of the mirror.
type DownloadTask struct {
	Client     *registry.Client
	Repository string
	Reference  string
	CacheDir   string
	MediaType  string
}

// Run implements Task.
func (t *DownloadTask) Run(ctx context.Context, rc *RunContext) ([]Result, error) {
	rc.Wait()

	paths, err := t.Client.PullByMediaType(ctx, t.Repository, t.Reference, t.CacheDir, t.MediaType)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(paths))
	for _, p := range paths {
		out = append(out, p)
	}
	return out, nil
}
