package conda_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/condamirror/condamirror/internal/conda"
)

func TestEncodeDecodeTag_Bijection(t *testing.T) {
	t.Parallel()

	cases := []string{
		"1.2.11-h7f98852_4",
		"1.2.11-h7f98852_4+cuda",
		"1.0!1-0",
		"1.0=2-0",
		"1.0+a!b=c-0",
		"plain",
	}
	for _, s := range cases {
		s := s
		t.Run(s, func(t *testing.T) {
			t.Parallel()
			encoded := conda.EncodeTag(s)
			require.False(t, strings.ContainsAny(encoded, "+!="))
			require.Equal(t, s, conda.DecodeTag(encoded))
		})
	}
}

func TestEncodeDecodeName_UnderscoreRewrite(t *testing.T) {
	t.Parallel()

	encoded := conda.EncodeName("_license_family")
	require.Equal(t, "zzz_license_family", encoded)
	require.Equal(t, "_license_family", conda.DecodeName(encoded))
}

func TestEncodeDecodeName_NoLeadingUnderscoreUnchanged(t *testing.T) {
	t.Parallel()

	require.Equal(t, "zlib", conda.EncodeName("zlib"))
	require.Equal(t, "zlib", conda.DecodeName("zlib"))
}
