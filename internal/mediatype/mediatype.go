// Package mediatype holds the OCI media type constants this project
// assigns to conda package artifacts, grounded on
// original_source/conda_oci_mirror/defaults.py.
package mediatype

const (
	// PackageClassic is the media type for legacy .tar.bz2 archives.
	PackageClassic = "application/vnd.conda.package.v1"

	// PackageNew is the media type for .conda archives.
	PackageNew = "application/vnd.conda.package.v2"

	// InfoTarball is the media type for the extracted info/ directory,
	// repacked as a gzipped tar.
	InfoTarball = "application/vnd.conda.info.v1.tar+gzip"

	// InfoIndex is the media type for the extracted info/index.json file.
	InfoIndex = "application/vnd.conda.info.index.v1+json"

	// RepodataIndex is the media type for a channel's repodata.json.
	RepodataIndex = "application/vnd.conda.repodata.v1+json"

	// OCIManifestConfig is the media type of the minimal empty config blob
	// every manifest carries.
	OCIManifestConfig = "application/vnd.oci.image.config.v1+json"

	// OCIManifest is the media type of the manifest document itself.
	OCIManifest = "application/vnd.oci.image.manifest.v1+json"
)

// ForArchive returns the archive media type for a conda package filename,
// and whether the file is in the classic (.tar.bz2) format.
func ForArchive(filename string) (mediaType string, classic bool, ok bool) {
	switch {
	case hasSuffix(filename, ".tar.bz2"):
		return PackageClassic, true, true
	case hasSuffix(filename, ".conda"):
		return PackageNew, false, true
	default:
		return "", false, false
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
