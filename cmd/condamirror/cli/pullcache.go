package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pullCacheSerial bool

var pullCacheCmd = &cobra.Command{
	Use:   "pull-cache",
	Short: "Download the latest archive of every mirrored package into the local cache",
	Long: `pull-cache reads each subdir's published channel index, resolves the
latest build of every package, and downloads that archive (and the index
itself) into the local cache directory, so a later push-cache run can
re-upload from local disk.

--registry is required unless --dry-run is set; beyond lifting that
requirement, --dry-run has no effect on pull-cache itself.`,
	RunE: runPullCache,
}

func init() {
	addMirrorFlags(pullCacheCmd, false)
	pullCacheCmd.Flags().BoolVar(&pullCacheSerial, "serial", false, "disable worker concurrency")
	_ = pullCacheCmd.RegisterFlagCompletionFunc("subdir", completeSubdir)
	_ = pullCacheCmd.RegisterFlagCompletionFunc("package", completePackage)
	rootCmd.AddCommand(pullCacheCmd)
}

func runPullCache(cmd *cobra.Command, _ []string) error {
	mf, err := parseMirrorFlags(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(mf)
	progress, finishProgress := newTaskProgress("downloading")

	c, err := newController(mf, logger, progress)
	if err != nil {
		return err
	}

	ctx, cancel := runContext(mf)
	defer cancel()

	results, err := c.PullLatest(ctx, pullCacheSerial)
	finishProgress()
	if err != nil {
		return err
	}

	fmt.Printf("pull-cache: %d archive(s) downloaded\n", len(results))
	return nil
}
