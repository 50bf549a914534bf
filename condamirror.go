package condamirror

import (
	"context"
	"os"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/condamirror/condamirror/internal/mirror"
	"github.com/condamirror/condamirror/internal/registry"
)

// Controller is the public facade over the mirror engine: update one or more
// (channel, subdir) pairs against an OCI registry, pull the latest archives
// into a local cache, or push a locally re-indexed cache back up.
type Controller = mirror.Controller

// Option configures a Controller.
type Option = mirror.Option

// Re-exported Controller options, so callers outside this module never need
// to reach into internal/mirror directly.
var (
	WithNames              = mirror.WithNames
	WithLogger             = mirror.WithLogger
	WithRunner             = mirror.WithRunner
	WithAuthorized         = mirror.WithAuthorized
	WithHTTPClient         = mirror.WithHTTPClient
	WithProgress           = mirror.WithProgress
	WithFallbackChannelURL = mirror.WithFallbackChannelURL
)

// NewController creates a Controller for channels/subdirs between upstream
// conda and {registryHost}/{namespace}, caching locally under cacheDir.
// Credentials are resolved the same way the CLI does: environment variables
// first (GHA_USER/GITHUB_USER + GHA_PAT/GITHUB_TOKEN, then ORAS_USER/
// ORAS_PASS), falling back to Docker config and credential helpers.
func NewController(channels, subdirs []string, registryHost, namespace, cacheDir string, opts ...Option) (*Controller, error) {
	credStore, authorized, err := resolveCredentials(registryHost)
	if err != nil {
		return nil, err
	}

	client := registry.New(registryHost, registry.WithCredentialStore(credStore))
	all := append([]Option{WithAuthorized(authorized)}, opts...)
	return mirror.New(channels, subdirs, registryHost, namespace, cacheDir, client, all...), nil
}

// resolveCredentials picks environment-resolved credentials over Docker
// config, reporting whether a usable credential was found for registryHost.
func resolveCredentials(registryHost string) (credentials.Store, bool, error) {
	if user, token, ok := registry.EnvCredentials(os.LookupEnv); ok {
		return registry.StaticCredentials(registryHost, user, token), true, nil
	}

	store, err := registry.DefaultCredentialStore()
	if err != nil {
		return nil, false, err
	}

	cred, err := store.Get(context.Background(), registryHost)
	authorized := err == nil && cred != auth.EmptyCredential && cred.Username != ""
	return store, authorized, nil
}
