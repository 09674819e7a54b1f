package cursor

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	c := Cursor{Ms: 1730635200000, UID: uuid.MustParse("c1d9b7dc-a1b2-4c3d-9e8f-7a6b5c4d3e2f")}
	encoded := Encode(c)
	require.NotEmpty(t, encoded)

	decoded, ok := Decode(encoded)
	require.True(t, ok)
	require.Equal(t, c, decoded)
}

func TestEncodeZeroValueIsEmpty(t *testing.T) {
	require.Equal(t, "", Encode(Cursor{}))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "not-base64!!!", base64OfBadFormat(), base64OfBadUUID()} {
		_, ok := Decode(s)
		require.False(t, ok, "expected decode failure for %q", s)
	}
}

func base64OfBadFormat() string {
	return Encode(Cursor{Ms: 1, UID: uuid.New()})[:5]
}

func base64OfBadUUID() string {
	return "MTIzNDU2fG5vdC1hLXV1aWQ"
}
