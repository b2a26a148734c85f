package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRC32KnownVector(t *testing.T) {
	// "123456789" is the canonical CRC-32/IEEE-802.3 check vector.
	got := CRC32([]byte("123456789"))
	require.Equal(t, uint32(0xCBF43926), got)
}

func TestCRC32Incremental(t *testing.T) {
	whole := CRC32([]byte("123456789"))

	st := NewCRC32()
	_, _ = st.Write([]byte("1234"))
	_, _ = st.Write([]byte("56789"))
	require.Equal(t, whole, st.Sum())
}

func TestBinaryRoundTrip(t *testing.T) {
	buf16 := make([]byte, 2)
	PutUint16(buf16, 0xBEEF)
	require.Equal(t, []byte{0xBE, 0xEF}, buf16)
	require.Equal(t, uint16(0xBEEF), Uint16(buf16))

	buf32 := make([]byte, 4)
	PutUint32(buf32, 0xDEADBEEF)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, buf32)
	require.Equal(t, uint32(0xDEADBEEF), Uint32(buf32))
}

func TestCOBSRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01},
		{0x00},
		{0x00, 0x00},
		{0x11, 0x22, 0x00, 0x33},
		bytesRange(1, 254),  // exactly one full non-zero block
		bytesRange(1, 255),  // spills into a second block
		zeroesN(10),
	}

	for _, src := range cases {
		enc := COBSEncode(src)
		for _, b := range enc {
			require.NotEqual(t, byte(0x00), b, "encoded body must never contain 0x00")
		}
		dec, err := COBSDecode(enc, 4096)
		require.NoError(t, err)
		require.Equal(t, src, dec)
	}
}

func TestCOBSDecodeErrors(t *testing.T) {
	_, err := COBSDecode([]byte{0x00}, 4096)
	require.ErrorIs(t, err, ErrCOBSZeroCode)

	_, err = COBSDecode([]byte{0x05, 0x01, 0x02}, 4096)
	require.ErrorIs(t, err, ErrCOBSTruncated)

	enc := COBSEncode(bytesRange(1, 50))
	_, err = COBSDecode(enc, 4)
	require.ErrorIs(t, err, ErrCOBSOverflow)
}

func bytesRange(start, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(start + i)
	}
	return out
}

func zeroesN(n int) []byte {
	return make([]byte, n)
}
