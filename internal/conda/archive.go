package conda

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/condamirror/condamirror"
	"github.com/condamirror/condamirror/internal/safepath"
)

// ExtractInfo extracts the info/ subtree of a package archive (classic
// .tar.bz2 or new-format .conda) into destDir/info/.
//
// Classic archives are a plain bzip2-compressed tar; decompression uses
// the standard library's read-only bzip2 reader (there is no write-side
// analog in any example dependency, and this project never produces
// .tar.bz2 archives, only consumes them).
//
// New-format .conda archives are a zip container holding separate
// zstd-compressed tar members for metadata and package payload; the
// info-*.tar.zst member is decompressed with klauspost/compress/zstd, the
// same streaming decompressor the teacher's archive builder already
// depended on for zstd-chunked estargz layers.
func ExtractInfo(archivePath, destDir string) error {
	switch {
	case strings.HasSuffix(archivePath, ".tar.bz2"):
		return extractInfoFromTarBz2(archivePath, destDir)
	case strings.HasSuffix(archivePath, ".conda"):
		return extractInfoFromConda(archivePath, destDir)
	default:
		return fmt.Errorf("%s: %w", archivePath, condamirror.ErrUnknownFormat)
	}
}

func extractInfoFromTarBz2(archivePath, destDir string) error {
	f, err := os.Open(archivePath) //nolint:gosec // archivePath is staged by this project's own download step
	if err != nil {
		return fmt.Errorf("%w: %v", condamirror.ErrFormat, err)
	}
	defer f.Close()

	return extractInfoFromTar(tar.NewReader(bzip2.NewReader(f)), destDir, false)
}

func extractInfoFromConda(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", condamirror.ErrFormat, err)
	}
	defer zr.Close()

	var infoMember *zip.File
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "info-") && strings.HasSuffix(f.Name, ".tar.zst") {
			infoMember = f
			break
		}
	}
	if infoMember == nil {
		return fmt.Errorf("%s: %w: no info-*.tar.zst member", archivePath, condamirror.ErrFormat)
	}

	rc, err := infoMember.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", condamirror.ErrFormat, err)
	}
	defer rc.Close()

	zstdReader, err := zstd.NewReader(rc)
	if err != nil {
		return fmt.Errorf("%w: %v", condamirror.ErrFormat, err)
	}
	defer zstdReader.Close()

	return extractInfoFromTar(tar.NewReader(zstdReader), destDir, true)
}

// extractInfoFromTar copies metadata entries into destDir/info/. Classic
// archives bundle info/ alongside the package payload (lib/, bin/, ...), so
// only entries under the "info/" prefix are extracted; allMembersAreInfo
// archives (new-format .conda's dedicated info-*.tar.zst member) root their
// entries directly at the info directory's contents, so every member is
// taken.
func extractInfoFromTar(tr *tar.Reader, destDir string, allMembersAreInfo bool) error {
	validator := safepath.NewValidator()
	infoDir := filepath.Join(destDir, "info")

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", condamirror.ErrFormat, err)
		}

		name := hdr.Name
		if !allMembersAreInfo {
			trimmed := strings.TrimPrefix(hdr.Name, "info/")
			if trimmed == hdr.Name {
				// Member is outside the info/ subtree entirely in a classic
				// archive; skip anything that isn't metadata.
				continue
			}
			name = trimmed
		}

		target, err := validator.Resolve(infoDir, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err)
			}
			out, err := os.Create(target) //nolint:gosec // target validated by safepath.Resolve
			if err != nil {
				return fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err)
			}
			if _, err := io.Copy(out, tr); err != nil { //nolint:gosec // tar entry sizes are bounded by the archive itself
				out.Close()
				return fmt.Errorf("%w: %v", condamirror.ErrLocalIO, err)
			}
			out.Close()
		default:
			// Symlinks and other special entries inside info/ are not
			// expected for conda metadata; skip.
		}
	}
	return nil
}
