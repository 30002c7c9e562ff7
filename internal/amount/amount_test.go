package amount

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		decimals uint8
		want     string
	}{
		{"zero", "0", 6, "0"},
		{"whole", "25000000", 6, "25"},
		{"fraction", "25370000", 6, "25.37"},
		{"trailing zero digits trimmed", "1000000", 6, "1"},
		{"smaller than decimals", "5", 6, "0.000005"},
		{"zero decimals", "42", 0, "42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := uint256.FromDecimal(tc.raw)
			require.NoError(t, err)
			got, err := FormatUnits(raw, tc.decimals)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseUnits(t *testing.T) {
	cases := []struct {
		name     string
		value    string
		decimals uint8
		want     string
	}{
		{"whole", "25", 6, "25000000"},
		{"fraction", "25.37", 6, "25370000"},
		{"leading dot", ".5", 6, "500000"},
		{"zero", "0", 6, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseUnits(tc.value, tc.decimals)
			require.NoError(t, err)
			require.Equal(t, tc.want, got.Dec())
		})
	}
}

func TestParseUnitsRejectsInvalid(t *testing.T) {
	_, err := ParseUnits("-1", 6)
	require.Error(t, err)

	_, err = ParseUnits("1.1234567", 6)
	require.Error(t, err)

	_, err = ParseUnits("", 6)
	require.Error(t, err)

	_, err = ParseUnits("1", 78)
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	values := []string{"0", "1", "25370000", "1000000000000000000", "123456789012345678901234567890"}
	for _, raw := range values {
		for _, decimals := range []uint8{0, 1, 6, 8, 18, 77} {
			n, err := uint256.FromDecimal(raw)
			require.NoError(t, err)
			formatted, err := FormatUnits(n, decimals)
			require.NoError(t, err)
			back, err := ParseUnits(formatted, decimals)
			require.NoError(t, err)
			require.Equal(t, n.Dec(), back.Dec(), "raw=%s decimals=%d formatted=%s", raw, decimals, formatted)
		}
	}
}
