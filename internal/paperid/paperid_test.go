package paperid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		`  "P123"  `: "P123",
		"'P1'":       "P1",
		"P1":         "P1",
		`"`:          "",
		"   ":        "",
	}
	for in, want := range cases {
		require.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestNormalizeAllDropsEmpty(t *testing.T) {
	got := NormalizeAll([]string{" P1 ", `"`, "P2", "  "})
	require.Equal(t, []string{"P1", "P2"}, got)
}
