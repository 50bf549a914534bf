package tasks

import (
	"context"

	"github.com/condamirror/condamirror/internal/conda"
)

// RepoUploadTask publishes a subdir's channel index. The Controller must
// only enqueue this after every PackageUploadTask for the same subdir has
// completed successfully, since the index publish represents a commit of
// that subdir's state.
type RepoUploadTask struct {
	Repo      *conda.Repository
	Timestamp string
}

// Run implements Task.
func (t *RepoUploadTask) Run(ctx context.Context, rc *RunContext) ([]Result, error) {
	rc.Wait()

	receipts, err := t.Repo.Upload(ctx, t.Timestamp)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(receipts))
	for _, r := range receipts {
		out = append(out, r)
	}
	return out, nil
}
