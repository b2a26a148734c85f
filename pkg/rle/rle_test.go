package rle

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01, 0x02, 0x03},
		bytes.Repeat([]byte{0x41}, 10),
		bytes.Repeat([]byte{0x41}, 300), // spans two encoded triples
		bytes.Repeat([]byte{0xFF}, 5),   // a run of the escape byte itself
		{0xFF, 0x01, 0xFF, 0x02},        // isolated literal 0xFF bytes, not a run
		append(bytes.Repeat([]byte{0x09}, 6), []byte{0x01, 0x02, 0x03}...),
	}

	for _, data := range cases {
		enc := Encode(data)
		dec, err := Decode(enc)
		require.NoError(t, err)
		require.Equal(t, data, dec)
	}
}

func TestEncodeCollapsesLongRun(t *testing.T) {
	data := bytes.Repeat([]byte{0x7A}, 10)
	enc := Encode(data)
	require.Less(t, len(enc), len(data))
	require.Equal(t, []byte{EscapeByte, byte(10 - 2), 0x7A}, enc)
}

func TestShouldCompress(t *testing.T) {
	require.False(t, ShouldCompress([]byte{0x01, 0x02, 0x03}))
	require.False(t, ShouldCompress(bytes.Repeat([]byte{0x01}, 3))) // below MinRunLength
	require.True(t, ShouldCompress(bytes.Repeat([]byte{0x01}, 64)))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte{EscapeByte, 0x02})
	require.ErrorIs(t, err, ErrTruncated)

	_, err = Decode([]byte{EscapeByte, literalEscapeMarker, 0x01})
	require.ErrorIs(t, err, ErrMalformed)
}
