package tasks

import (
	"context"
	"os"

	"github.com/condamirror/condamirror/internal/conda"
)

// PackageUploadTask downloads one archive (if not already cached), publishes
// it, and removes the local copy. Its rate-limit wait is taken after
// EnsureFile (an upstream conda-channel request, not subject to the
// registry's budget) and before Upload (which does hit the registry).
type PackageUploadTask struct {
	Pkg         *conda.Package
	DryRun      bool
	StagingRoot string
	ExtraTags   []string
}

// Run implements Task.
func (t *PackageUploadTask) Run(ctx context.Context, rc *RunContext) ([]Result, error) {
	archivePath, err := t.Pkg.EnsureFile(ctx)
	if err != nil {
		return nil, err
	}

	rc.Wait()

	receipts, err := t.Pkg.Upload(ctx, t.StagingRoot, t.DryRun, t.ExtraTags)
	if err != nil {
		return nil, err
	}

	rc.RecordPackageDone()
	os.Remove(archivePath)

	out := make([]Result, 0, len(receipts))
	for _, r := range receipts {
		out = append(out, r)
	}
	return out, nil
}
