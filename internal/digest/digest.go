// Package digest provides streaming checksums for local files.
//
// It intentionally stays on the standard library: none of the example
// dependencies provide a streaming-file-hash primitive (opencontainers/go-digest,
// used elsewhere in this module, wraps a digest *value* for OCI content
// addressing, not a file-hashing loop).
package digest

import (
	"crypto/md5" //nolint:gosec // md5 is required by the upstream repodata checksum contract
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// blockSize is the read chunk size used while streaming a file through a hasher.
const blockSize = 4096

// SHA256File returns the hex-encoded SHA-256 digest of the file at path.
func SHA256File(path string) (string, error) {
	return hashFile(path, sha256.New())
}

// MD5File returns the hex-encoded MD5 digest of the file at path.
func MD5File(path string) (string, error) {
	return hashFile(path, md5.New()) //nolint:gosec
}

func hashFile(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Entry is the subset of a repodata entry needed to verify a downloaded
// archive's integrity.
type Entry struct {
	SHA256 string
	MD5    string
}

// Verify checks a downloaded file against a repodata entry's checksum.
// SHA-256 is authoritative when present; MD5 is the fallback. If neither is
// present, Verify returns (true, "") — the download is accepted unchecked.
// The returned string names which algorithm was used, for logging.
func Verify(path string, entry Entry) (ok bool, algorithm string, err error) {
	switch {
	case entry.SHA256 != "":
		sum, hashErr := SHA256File(path)
		if hashErr != nil {
			return false, "sha256", hashErr
		}
		return sum == entry.SHA256, "sha256", nil
	case entry.MD5 != "":
		sum, hashErr := MD5File(path)
		if hashErr != nil {
			return false, "md5", hashErr
		}
		return sum == entry.MD5, "md5", nil
	default:
		return true, "", nil
	}
}
