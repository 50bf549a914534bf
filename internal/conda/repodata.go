package conda

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/condamirror/condamirror"
	"github.com/condamirror/condamirror/internal/mediatype"
)

// PackageInfo is the subset of a repodata.json entry this project cares
// about.
type PackageInfo struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Build       string            `json:"build"`
	BuildNumber int               `json:"build_number"`
	SHA256      string            `json:"sha256,omitempty"`
	MD5         string            `json:"md5,omitempty"`
	Depends     []string          `json:"depends,omitempty"`
	Subdir      string            `json:"subdir,omitempty"`
	Extra       map[string]string `json:"-"`
}

// repodataFile mirrors the on-disk repodata.json shape: two package
// families keyed by archive filename.
type repodataFile struct {
	Info struct {
		Subdir string `json:"subdir"`
	} `json:"info"`
	Packages      map[string]PackageInfo `json:"packages"`
	PackagesConda map[string]PackageInfo `json:"packages.conda"`
}

// Repodata holds the parsed upstream index for one (channel, subdir).
type Repodata struct {
	classic map[string]PackageInfo
	newFmt  map[string]PackageInfo
}

// NewRepodata builds a Repodata model from the raw classic and new-format
// package mappings.
func NewRepodata(classic, newFmt map[string]PackageInfo) *Repodata {
	if classic == nil {
		classic = map[string]PackageInfo{}
	}
	if newFmt == nil {
		newFmt = map[string]PackageInfo{}
	}
	return &Repodata{classic: classic, newFmt: newFmt}
}

// Entry is one (archiveFilename, info) pair.
type Entry struct {
	Archive string
	Info    PackageInfo
}

// Packages returns every entry across both package families, classic
// first, each family in filename order for determinism.
func (r *Repodata) Packages() []Entry {
	entries := make([]Entry, 0, len(r.classic)+len(r.newFmt))
	for _, name := range sortedKeys(r.classic) {
		entries = append(entries, Entry{Archive: name, Info: r.classic[name]})
	}
	for _, name := range sortedKeys(r.newFmt) {
		entries = append(entries, Entry{Archive: name, Info: r.newFmt[name]})
	}
	return entries
}

// PackageArchives returns the flat list of archive filenames across both
// families.
func (r *Repodata) PackageArchives() []string {
	names := make([]string, 0, len(r.classic)+len(r.newFmt))
	for _, e := range r.Packages() {
		names = append(names, e.Archive)
	}
	return names
}

// PackageNames returns the set of unique info.name values across both
// families.
func (r *Repodata) PackageNames() map[string]struct{} {
	names := make(map[string]struct{})
	for _, e := range r.Packages() {
		names[e.Info.Name] = struct{}{}
	}
	return names
}

// GetPackageExtension returns "tar.bz2" or "conda" for filename, failing
// with ErrUnknownFormat for anything else.
func GetPackageExtension(filename string) (string, error) {
	switch {
	case strings.HasSuffix(filename, ".tar.bz2"):
		return "tar.bz2", nil
	case strings.HasSuffix(filename, ".conda"):
		return "conda", nil
	default:
		return "", fmt.Errorf("%s: %w", filename, condamirror.ErrUnknownFormat)
	}
}

// GetPackageMediaType returns the classic or new-format archive media type
// for filename.
func GetPackageMediaType(filename string) (string, error) {
	mt, _, ok := mediatype.ForArchive(filename)
	if !ok {
		return "", fmt.Errorf("%s: %w", filename, condamirror.ErrUnknownFormat)
	}
	return mt, nil
}

// GetLatestTag filters entries to name, groups by version, keeps the
// highest build_number within each version, and returns "{version}-{build}"
// for the version that sorts highest under version-aware comparison.
// Returns "", false if no entry matches name.
func (r *Repodata) GetLatestTag(name string) (string, bool) {
	type best struct {
		buildNumber int
		build       string
	}
	byVersion := make(map[string]best)

	for _, e := range r.Packages() {
		if e.Info.Name != name {
			continue
		}
		current, ok := byVersion[e.Info.Version]
		if !ok || e.Info.BuildNumber > current.buildNumber {
			byVersion[e.Info.Version] = best{buildNumber: e.Info.BuildNumber, build: e.Info.Build}
		}
	}
	if len(byVersion) == 0 {
		return "", false
	}

	versions := make([]string, 0, len(byVersion))
	for v := range byVersion {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) < 0
	})

	top := versions[len(versions)-1]
	return fmt.Sprintf("%s-%s", top, byVersion[top].build), true
}

func sortedKeys(m map[string]PackageInfo) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compareVersions is a lexicographic-aware comparator: it splits on '.' and
// '_', then on runs of digits vs. non-digits, comparing numeric segments
// numerically and everything else as strings. This is intentionally
// stdlib-only: the ecosystem's version-compare libraries (e.g. semver
// implementations) assume a strict X.Y.Z shape, which conda version
// strings do not follow (arbitrary segment counts, letters mixed with
// digits, no fixed arity).
func compareVersions(a, b string) int {
	as, bs := splitVersion(a), splitVersion(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		if c := compareSegment(sa, sb); c != 0 {
			return c
		}
	}
	return 0
}

func splitVersion(v string) []string {
	replaced := strings.NewReplacer("_", ".", "-", ".").Replace(v)
	parts := strings.Split(replaced, ".")
	var segments []string
	for _, p := range parts {
		segments = append(segments, splitAlphaNumeric(p)...)
	}
	return segments
}

func splitAlphaNumeric(s string) []string {
	var segments []string
	var current strings.Builder
	var currentIsDigit bool
	for i, r := range s {
		isDigit := r >= '0' && r <= '9'
		if i > 0 && isDigit != currentIsDigit {
			segments = append(segments, current.String())
			current.Reset()
		}
		current.WriteRune(r)
		currentIsDigit = isDigit
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	return segments
}

func compareSegment(a, b string) int {
	an, aErr := strconv.Atoi(a)
	bn, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
