package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/condamirror/condamirror/internal/registry"
)

// completionTimeout is the maximum time allowed for completion requests.
// Kept short to avoid blocking the shell.
const completionTimeout = 3 * time.Second

// completeSubdir suggests known platform subdirectories for --subdir.
func completeSubdir(cmd *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var completions []string
	for _, subdir := range defaultSubdirs {
		if strings.HasPrefix(subdir, toComplete) {
			completions = append(completions, subdir)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

// completePackage suggests package names already mirrored into the
// destination registry, by listing the tags of the channel/subdir
// repository and decoding the package name prefix off each tag.
//
// It requires --registry, --channel, and --subdir to already be set on
// the command line; if any are missing it falls back to no suggestions
// rather than erroring, since this only affects completion quality.
func completePackage(cmd *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	mf, err := parseMirrorFlags(cmd)
	if err != nil || mf.registry == "" || len(mf.subdirs) == 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	host, namespace := splitRegistry(mf.registry)
	client := registry.New(host)

	ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
	defer cancel()

	repository := strings.Trim(namespace+"/"+mf.channel+"/"+mf.subdirs[0], "/")
	tags, err := client.ListTags(ctx, repository)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	seen := make(map[string]struct{})
	const maxCompletions = 50
	var completions []string
	for _, tag := range tags {
		name, _, ok := strings.Cut(tag, "-")
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		if strings.HasPrefix(name, toComplete) {
			seen[name] = struct{}{}
			completions = append(completions, name)
			if len(completions) >= maxCompletions {
				break
			}
		}
	}

	return completions, cobra.ShellCompDirectiveNoFileComp
}
