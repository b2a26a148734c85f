// Package wire implements the byte-level codecs the link shares on both
// ends: CRC-32/IEEE-802.3, COBS framing, and big-endian integer helpers.
// Nothing here is protocol-aware; pkg/frame builds the wire format on top
// of it.
package wire

import (
	"hash"
	"hash/crc32"
)

// ieeeTable is the standard reflected CRC-32/IEEE-802.3 table
// (polynomial 0xEDB88320, init 0xFFFFFFFF, xor-out 0xFFFFFFFF).
var ieeeTable = crc32.MakeTable(crc32.IEEE)

// CRC32 computes CRC-32/IEEE-802.3 over data in one call.
func CRC32(data []byte) uint32 {
	return crc32.Checksum(data, ieeeTable)
}

// CRC32State is an incremental CRC-32/IEEE-802.3 accumulator, for callers
// that build a checksum across several non-contiguous byte slices (header
// then payload) without concatenating them first.
type CRC32State struct {
	h hash.Hash32
}

// NewCRC32 returns a fresh incremental accumulator.
func NewCRC32() *CRC32State {
	return &CRC32State{h: crc32.New(ieeeTable)}
}

// Write folds data into the running checksum. It never returns an error;
// the (int, error) signature exists only so *CRC32State satisfies io.Writer.
func (s *CRC32State) Write(data []byte) (int, error) {
	return s.h.Write(data)
}

// Sum returns the CRC-32/IEEE-802.3 value accumulated so far.
func (s *CRC32State) Sum() uint32 {
	return s.h.Sum32()
}
