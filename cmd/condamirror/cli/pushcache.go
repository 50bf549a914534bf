package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/condamirror/condamirror/internal/tasks"
)

var pushCacheSerial bool

var pushCacheCmd = &cobra.Command{
	Use:   "push-cache",
	Short: "Re-index the local cache and push its archives into the destination registry",
	Long: `push-cache re-indexes every channel's cache directory with the
local conda indexer, then pushes any archive not already reflected in the
previously published index (or, with --push-all, every local archive)
into the destination registry. No channel index is published by this
command.

Requires a "conda" binary on PATH to perform the re-index step.`,
	RunE: runPushCache,
}

func init() {
	addMirrorFlags(pushCacheCmd, true)
	pushCacheCmd.Flags().BoolVar(&pushCacheSerial, "serial", false, "disable worker concurrency")
	_ = pushCacheCmd.RegisterFlagCompletionFunc("subdir", completeSubdir)
	_ = pushCacheCmd.RegisterFlagCompletionFunc("package", completePackage)
	rootCmd.AddCommand(pushCacheCmd)
}

func runPushCache(cmd *cobra.Command, _ []string) error {
	mf, err := parseMirrorFlags(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(mf)
	progress, finishProgress := newTaskProgress("pushing")

	c, err := newController(mf, logger, progress)
	if err != nil {
		return err
	}

	ctx, cancel := runContext(mf)
	defer cancel()

	var (
		results []tasks.Result
		pushErr error
	)
	if mf.pushAll {
		results, pushErr = c.PushAll(ctx, mf.dryRun, pushCacheSerial)
	} else {
		results, pushErr = c.PushNew(ctx, mf.dryRun, pushCacheSerial)
	}
	finishProgress()
	if pushErr != nil {
		return pushErr
	}

	fmt.Printf("push-cache: %d result(s)\n", len(results))
	return nil
}
