// Package cli implements the condamirror command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/condamirror/condamirror"
	"github.com/condamirror/condamirror/cmd/condamirror/cli/config"
	"github.com/condamirror/condamirror/internal/tasks"
)

// Build information set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// defaultSubdirs is the platform set mirrored when --subdir is never given.
var defaultSubdirs = []string{"linux-64", "linux-aarch64", "osx-64", "osx-arm64", "win-64", "noarch"}

// cfgFile is the path to the config file (set via --config flag).
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "condamirror",
	Short: "Mirror a conda channel into an OCI registry, bidirectionally",
	Long: `condamirror mirrors a conda-style package channel into an OCI-compatible
artifact registry, and keeps a local cache directory synchronized against
that registry in either direction.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().Bool("insecure", false, "allow plain-HTTP registry connections")

	//nolint:errcheck // flag is defined above, so Lookup never returns nil
	viper.BindPFlag("insecure", rootCmd.PersistentFlags().Lookup("insecure"))

	viper.SetDefault("registry", "")
	viper.SetDefault("channel", "conda-forge")

	rootCmd.Version = version
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := config.Dir()
		if err == nil {
			viper.AddConfigPath(configDir)
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CONDAMIRROR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("debug") {
			fmt.Fprintln(os.Stderr, "Using config:", viper.ConfigFileUsed())
		}
	}
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
	}
	return err
}

// mirrorFlags is the flag set shared by mirror, pull-cache, and push-cache,
// per the flags table: channel/subdir/package filters, registry target,
// dry-run toggle, cache directory, pool sizing, and log level.
type mirrorFlags struct {
	channel  string
	subdirs  []string
	packages []string
	registry string
	dryRun   bool
	cacheDir string
	workers  int
	timeout  int
	quiet    bool
	debug    bool
	pushAll  bool
}

// addMirrorFlags registers the shared flag set on cmd. includePushAll adds
// --push-all, meaningful only to push-cache.
func addMirrorFlags(cmd *cobra.Command, includePushAll bool) {
	flags := cmd.Flags()
	flags.StringP("channel", "c", "conda-forge", "channel name")
	flags.StringArrayP("subdir", "s", nil, "subdirectory filter (repeatable); default is every known platform")
	flags.StringArrayP("package", "p", nil, "glob filter on package names (repeatable)")
	flags.String("registry", "", "destination registry and namespace, e.g. ghcr.io/myuser (mandatory unless --dry-run)")
	flags.Bool("dry-run", false, "do not upload any blobs")
	flags.Bool("no-dry-run", false, "force a live run, overriding --dry-run")
	flags.String("cache-dir", "", "local cache directory (default $PWD/cache)")
	flags.Int("workers", 4, "worker pool size")
	flags.Int("timeout", 30000, "timeout in milliseconds for the whole run (not applied per request)")
	flags.Bool("quiet", false, "only log warnings and errors")
	flags.Bool("debug", false, "enable verbose debug logging")
	if includePushAll {
		flags.Bool("push-all", false, "push every local archive, not only new ones")
	}
}

// parseMirrorFlags reads the shared flag set off cmd.
func parseMirrorFlags(cmd *cobra.Command) (mirrorFlags, error) {
	flags := cmd.Flags()

	channel, err := flags.GetString("channel")
	if err != nil {
		return mirrorFlags{}, err
	}
	subdirs, err := flags.GetStringArray("subdir")
	if err != nil {
		return mirrorFlags{}, err
	}
	if len(subdirs) == 0 {
		subdirs = defaultSubdirs
	}
	packages, err := flags.GetStringArray("package")
	if err != nil {
		return mirrorFlags{}, err
	}
	registry, err := flags.GetString("registry")
	if err != nil {
		return mirrorFlags{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return mirrorFlags{}, err
	}
	noDryRun, err := flags.GetBool("no-dry-run")
	if err != nil {
		return mirrorFlags{}, err
	}
	if noDryRun {
		dryRun = false
	}
	cacheDir, err := flags.GetString("cache-dir")
	if err != nil {
		return mirrorFlags{}, err
	}
	if cacheDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return mirrorFlags{}, err
		}
		cacheDir = filepath.Join(wd, "cache")
	}
	workers, err := flags.GetInt("workers")
	if err != nil {
		return mirrorFlags{}, err
	}
	timeout, err := flags.GetInt("timeout")
	if err != nil {
		return mirrorFlags{}, err
	}
	quiet, err := flags.GetBool("quiet")
	if err != nil {
		return mirrorFlags{}, err
	}
	debug, err := flags.GetBool("debug")
	if err != nil {
		return mirrorFlags{}, err
	}

	var pushAll bool
	if flags.Lookup("push-all") != nil {
		pushAll, err = flags.GetBool("push-all")
		if err != nil {
			return mirrorFlags{}, err
		}
	}

	if registry == "" && !dryRun {
		return mirrorFlags{}, errors.New("--registry is required unless --dry-run is set")
	}

	return mirrorFlags{
		channel:  channel,
		subdirs:  subdirs,
		packages: packages,
		registry: registry,
		dryRun:   dryRun,
		cacheDir: cacheDir,
		workers:  workers,
		timeout:  timeout,
		quiet:    quiet,
		debug:    debug,
		pushAll:  pushAll,
	}, nil
}

// newLogger builds the *slog.Logger matching --quiet/--debug.
func newLogger(mf mirrorFlags) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case mf.debug:
		level = slog.LevelDebug
	case mf.quiet:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newController builds a condamirror.Controller for the given channel/flags,
// splitting the "host/namespace" registry flag the way ghcr.io/myuser is
// split: everything before the first '/' is the host, everything after it
// the namespace.
// progress, if non-nil, is wired to the controller's per-task reporting.
func newController(mf mirrorFlags, logger *slog.Logger, progress func(completed, total int)) (*condamirror.Controller, error) {
	host, namespace := splitRegistry(mf.registry)

	opts := []condamirror.Option{
		condamirror.WithNames(mf.packages),
		condamirror.WithLogger(logger),
		condamirror.WithRunner(tasks.New(tasks.WithConcurrency(mf.workers))),
	}
	if progress != nil {
		opts = append(opts, condamirror.WithProgress(progress))
	}

	c, err := condamirror.NewController([]string{mf.channel}, mf.subdirs, host, namespace, mf.cacheDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}
	return c, nil
}

// splitRegistry splits "host/namespace" into its two parts. An empty input
// (valid only in --dry-run runs) yields two empty strings.
func splitRegistry(registry string) (host, namespace string) {
	if registry == "" {
		return "", ""
	}
	host, namespace, _ = strings.Cut(registry, "/")
	return host, namespace
}

// requestTimeout returns mf.timeout as a duration.
func requestTimeout(mf mirrorFlags) time.Duration {
	return time.Duration(mf.timeout) * time.Millisecond
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// runContext builds the context a mirror/pull-cache/push-cache command runs
// under: canceled on SIGINT/SIGTERM, and bounded by --timeout applied as a
// single whole-run deadline rather than a per-HTTP-request one, since the
// registry client's transport has no per-request timeout hook to thread one
// through to.
func runContext(mf mirrorFlags) (context.Context, context.CancelFunc) {
	ctx, cancelSignal := signalContext()
	ctx, cancelTimeout := context.WithTimeout(ctx, requestTimeout(mf))
	return ctx, func() {
		cancelTimeout()
		cancelSignal()
	}
}

// formatError converts condamirror errors to user-friendly messages.
func formatError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, condamirror.ErrNotFound):
		return fmt.Sprintf("Error: not found: %v", err)
	case errors.Is(err, condamirror.ErrAuth):
		return "Error: authentication failed (check your credentials)"
	case errors.Is(err, condamirror.ErrInvalidRef):
		return fmt.Sprintf("Error: invalid reference: %v", err)
	case errors.Is(err, condamirror.ErrPathTraversal):
		return "Error: path traversal detected (security violation)"
	case errors.Is(err, condamirror.ErrFormat):
		return "Error: malformed package or metadata"
	case errors.Is(err, context.Canceled):
		return "Error: operation canceled"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
