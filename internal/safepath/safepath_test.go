package safepath_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/condamirror/condamirror"
	"github.com/condamirror/condamirror/internal/safepath"
)

const osWindows = "windows"

func TestValidatePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "simple file", path: "zlib-1.2.11-0.tar.bz2"},
		{name: "nested path", path: "info/index.json"},
		{name: "dot prefix", path: "./info/index.json"},
		{name: "traversal", path: "../../etc/passwd", wantErr: condamirror.ErrPathTraversal},
		{name: "absolute", path: "/etc/passwd", wantErr: condamirror.ErrPathTraversal},
		{name: "null byte", path: "foo\x00bar", wantErr: condamirror.ErrPathTraversal},
	}

	v := safepath.NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := v.ValidatePath(tt.path)
			if tt.wantErr != nil {
				require.True(t, errors.Is(err, tt.wantErr))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestResolveRejectsEscape(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == osWindows {
		t.Skip("path separator assumptions differ on windows")
	}

	v := safepath.NewValidator()
	_, err := v.Resolve("/cache/conda-forge/noarch", "../../../etc/passwd")
	require.True(t, errors.Is(err, condamirror.ErrPathTraversal))
}

func TestResolveStaysWithinDestDir(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == osWindows {
		t.Skip("path separator assumptions differ on windows")
	}

	v := safepath.NewValidator()
	resolved, err := v.Resolve("/cache/conda-forge/noarch", "zlib-1.2.11-0.tar.bz2")
	require.NoError(t, err)
	require.Equal(t, "/cache/conda-forge/noarch/zlib-1.2.11-0.tar.bz2", resolved)
}
