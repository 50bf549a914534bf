// Package condamirror mirrors a conda-style package channel into an
// OCI-compatible artifact registry, and synchronizes a local cache
// directory against that registry in either direction.
package condamirror

import "errors"

// Sentinel errors for the error kinds named by the mirror's error-handling
// design: transient network failures, checksum mismatches, authentication
// failures, malformed archives/metadata, non-auth registry rejections, and
// local I/O failures.
var (
	// ErrTransient indicates an HTTP 5xx, timeout, or connection reset that
	// is eligible for retry with backoff.
	ErrTransient = errors.New("condamirror: transient network error")

	// ErrChecksumMismatch indicates a downloaded file's digest disagrees
	// with the repodata entry's checksum. The local file is deleted and the
	// download retried.
	ErrChecksumMismatch = errors.New("condamirror: checksum mismatch")

	// ErrAuth indicates a 401/403 from the registry. Not retried.
	ErrAuth = errors.New("condamirror: authentication failed")

	// ErrFormat indicates an archive could not be parsed, carries an unknown
	// extension, or its info/index.json is missing or lacks a subdir.
	ErrFormat = errors.New("condamirror: malformed package or metadata")

	// ErrRegistry indicates a non-auth 4xx from the registry on upload.
	// Recorded per task; not retried.
	ErrRegistry = errors.New("condamirror: registry rejected request")

	// ErrLocalIO indicates the cache directory is unwritable or disk full.
	// Fatal to the run.
	ErrLocalIO = errors.New("condamirror: local I/O error")

	// ErrNotFound indicates the requested repository, tag, or manifest does
	// not exist.
	ErrNotFound = errors.New("condamirror: not found")

	// ErrInvalidRef indicates a malformed registry reference.
	ErrInvalidRef = errors.New("condamirror: invalid reference")

	// ErrPathTraversal indicates a layer title would materialize outside
	// the destination directory.
	ErrPathTraversal = errors.New("condamirror: path traversal detected")

	// ErrUnknownFormat indicates an archive filename carries neither the
	// classic nor new-format conda extension.
	ErrUnknownFormat = errors.New("condamirror: unknown archive format")
)
