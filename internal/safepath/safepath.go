// Package safepath provides path validation for materializing registry
// layer titles onto the local filesystem.
//
// This package performs lexical validation only; callers must still use
// ordinary filesystem primitives to create the file.
package safepath

import (
	"path/filepath"
	"strings"

	"github.com/condamirror/condamirror"
)

// Validator checks that a layer's title annotation resolves to a path
// inside the intended destination directory.
type Validator struct{}

// NewValidator creates a new path Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePath checks if a path is safe (no traversal, no volume name, not
// absolute, no NUL bytes).
func (v *Validator) ValidatePath(path string) error {
	if containsNull(path) {
		return condamirror.ErrPathTraversal
	}
	if hasVolumeName(path) {
		return condamirror.ErrPathTraversal
	}
	if filepath.IsAbs(path) {
		return condamirror.ErrPathTraversal
	}
	if containsTraversal(path) {
		return condamirror.ErrPathTraversal
	}
	return nil
}

// Resolve validates title against destDir and returns the absolute path the
// layer should be materialized at. Returns ErrPathTraversal if title would
// escape destDir.
func (v *Validator) Resolve(destDir, title string) (string, error) {
	if err := v.ValidatePath(title); err != nil {
		return "", err
	}

	absDestDir, err := filepath.Abs(destDir)
	if err != nil {
		return "", condamirror.ErrPathTraversal
	}

	resolved := filepath.Join(absDestDir, title)
	if !isWithinDir(resolved, absDestDir) {
		return "", condamirror.ErrPathTraversal
	}
	return resolved, nil
}

// isWithinDir checks if path is lexically within or equal to dir.
func isWithinDir(path, dir string) bool {
	if path == dir {
		return true
	}
	if dir == "/" || dir == string(filepath.Separator) {
		return filepath.IsAbs(path)
	}
	if strings.HasSuffix(dir, string(filepath.Separator)) {
		return strings.HasPrefix(path, dir)
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

func containsNull(path string) bool {
	return strings.ContainsRune(path, '\x00')
}

func containsTraversal(path string) bool {
	normalized := strings.ReplaceAll(path, "\\", "/")
	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func hasVolumeName(path string) bool {
	return filepath.VolumeName(path) != ""
}
