package conda_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/condamirror/condamirror"
	"github.com/condamirror/condamirror/internal/conda"
)

func TestGetPackageExtension(t *testing.T) {
	t.Parallel()

	ext, err := conda.GetPackageExtension("zlib-1.2.11-0.tar.bz2")
	require.NoError(t, err)
	require.Equal(t, "tar.bz2", ext)

	ext, err = conda.GetPackageExtension("zlib-1.2.11-0.conda")
	require.NoError(t, err)
	require.Equal(t, "conda", ext)

	_, err = conda.GetPackageExtension("zlib-1.2.11-0.zip")
	require.True(t, errors.Is(err, condamirror.ErrUnknownFormat))
}

func TestGetPackageMediaType(t *testing.T) {
	t.Parallel()

	mt, err := conda.GetPackageMediaType("zlib-1.2.11-0.tar.bz2")
	require.NoError(t, err)
	require.Equal(t, "application/vnd.conda.package.v1", mt)

	mt, err = conda.GetPackageMediaType("zlib-1.2.11-0.conda")
	require.NoError(t, err)
	require.Equal(t, "application/vnd.conda.package.v2", mt)
}

func TestGetLatestTag(t *testing.T) {
	t.Parallel()

	packages := map[string]conda.PackageInfo{
		"zlib-1.2.11-0.tar.bz2": {Name: "zlib", Version: "1.2.11", Build: "0", BuildNumber: 0},
		"zlib-1.2.11-1.tar.bz2": {Name: "zlib", Version: "1.2.11", Build: "1", BuildNumber: 1},
		"zlib-1.2.12-0.tar.bz2": {Name: "zlib", Version: "1.2.12", Build: "0", BuildNumber: 0},
	}
	rd := conda.NewRepodata(packages, nil)

	tag, ok := rd.GetLatestTag("zlib")
	require.True(t, ok)
	require.Equal(t, "1.2.12-0", tag)
}

func TestGetLatestTag_NoMatch(t *testing.T) {
	t.Parallel()

	rd := conda.NewRepodata(nil, nil)
	_, ok := rd.GetLatestTag("missing")
	require.False(t, ok)
}

func TestPackagesOrdersClassicBeforeNewFormat(t *testing.T) {
	t.Parallel()

	classic := map[string]conda.PackageInfo{"b.tar.bz2": {Name: "b"}, "a.tar.bz2": {Name: "a"}}
	newFmt := map[string]conda.PackageInfo{"c.conda": {Name: "c"}}
	rd := conda.NewRepodata(classic, newFmt)

	entries := rd.Packages()
	require.Len(t, entries, 3)
	require.Equal(t, "a.tar.bz2", entries[0].Archive)
	require.Equal(t, "b.tar.bz2", entries[1].Archive)
	require.Equal(t, "c.conda", entries[2].Archive)
}

func TestPackageNames(t *testing.T) {
	t.Parallel()

	rd := conda.NewRepodata(map[string]conda.PackageInfo{
		"a.tar.bz2": {Name: "zlib"},
		"b.tar.bz2": {Name: "zlib"},
	}, map[string]conda.PackageInfo{
		"c.conda": {Name: "xz"},
	})

	names := rd.PackageNames()
	require.Len(t, names, 2)
	_, hasZlib := names["zlib"]
	_, hasXZ := names["xz"]
	require.True(t, hasZlib)
	require.True(t, hasXZ)
}
