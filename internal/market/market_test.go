package market

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncode_IsZeroPaddedASCII(t *testing.T) {
	enc := BTC.Encode()
	require.Equal(t, [8]byte{'B', 'T', 'C', 0, 0, 0, 0, 0}, enc)
}

func TestDecodeEncode_RoundTrips(t *testing.T) {
	for _, m := range All {
		decoded, err := Decode(m.Encode())
		require.NoError(t, err)
		require.Equal(t, m, decoded)
	}
}

func TestDecode_RejectsNonZeroTrailingBytes(t *testing.T) {
	bad := [8]byte{'B', 'T', 'C', 0, 'X', 0, 0, 0}
	_, err := Decode(bad)
	require.Error(t, err)
}

func TestFromTag_RoundTripsWithTag(t *testing.T) {
	for _, m := range All {
		got, err := FromTag(m.Tag())
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
	_, err := FromTag(200)
	require.Error(t, err)
}
