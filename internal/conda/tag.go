package conda

import "strings"

// tagSubstitutions is applied in order when encoding, and in reverse order
// when decoding, so that overlapping replacement text (none currently, but
// kept ordered defensively) cannot corrupt a round trip.
var tagSubstitutions = []struct {
	raw     string
	encoded string
}{
	{raw: "+", encoded: "__p__"},
	{raw: "!", encoded: "__e__"},
	{raw: "=", encoded: "__eq__"},
}

// EncodeTag rewrites a package version-and-build string into one usable as
// an OCI tag. The mapping is bijective; see DecodeTag.
func EncodeTag(s string) string {
	for _, sub := range tagSubstitutions {
		s = strings.ReplaceAll(s, sub.raw, sub.encoded)
	}
	return s
}

// DecodeTag reverses EncodeTag.
func DecodeTag(s string) string {
	for i := len(tagSubstitutions) - 1; i >= 0; i-- {
		sub := tagSubstitutions[i]
		s = strings.ReplaceAll(s, sub.encoded, sub.raw)
	}
	return s
}

// underscorePrefix is rewritten to this in repository URIs, since
// registries disallow leading-underscore path segments.
const underscorePrefix = "zzz_"

// EncodeName rewrites a package name for use as a repository URI segment.
// A leading underscore is rewritten to "zzz_"; the decoder undoes it.
func EncodeName(name string) string {
	if strings.HasPrefix(name, "_") {
		return underscorePrefix + name[1:]
	}
	return name
}

// DecodeName reverses EncodeName.
func DecodeName(name string) string {
	if strings.HasPrefix(name, underscorePrefix) {
		return "_" + name[len(underscorePrefix):]
	}
	return name
}
