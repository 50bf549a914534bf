package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	mirrorSerial        bool
	mirrorIncludeYanked bool
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Mirror upstream channel updates into the destination registry",
	Long: `mirror finds packages published upstream since the last run and
pushes them into the destination registry, publishing a fresh channel index
per subdir once its packages have landed.

If the destination registry has no resolved credentials, the run is forced
into --dry-run regardless of the flag.`,
	RunE: runMirror,
}

func init() {
	addMirrorFlags(mirrorCmd, false)
	mirrorCmd.Flags().BoolVar(&mirrorSerial, "serial", false, "disable worker concurrency")
	mirrorCmd.Flags().BoolVar(&mirrorIncludeYanked, "include-yanked", false, "also mirror packages upstream has removed from its index")
	_ = mirrorCmd.RegisterFlagCompletionFunc("subdir", completeSubdir)
	_ = mirrorCmd.RegisterFlagCompletionFunc("package", completePackage)
	rootCmd.AddCommand(mirrorCmd)
}

func runMirror(cmd *cobra.Command, _ []string) error {
	mf, err := parseMirrorFlags(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(mf)
	progress, finishProgress := newTaskProgress("mirroring")

	c, err := newController(mf, logger, progress)
	if err != nil {
		return err
	}

	ctx, cancel := runContext(mf)
	defer cancel()

	results, err := c.Update(ctx, mf.dryRun, mirrorSerial, mirrorIncludeYanked)
	finishProgress()
	if err != nil {
		return err
	}

	fmt.Printf("mirror: %d result(s)\n", len(results))
	return nil
}
