package frame

import (
	"github.com/librescoot/mdb-link/internal/wire"
	"github.com/librescoot/mdb-link/pkg/proto"
)

// Build serializes cmd/payload into raw bytes (version, payload_length,
// command_id, payload, crc — all before COBS encoding) and returns them.
// Per spec.md §4.2, a payload exceeding MaxPayloadSize is rejected by
// returning a nil slice rather than an error value, mirroring "returns
// zero length" in the spec text.
func Build(cmd proto.CommandID, payload []byte) []byte {
	if len(payload) > proto.MaxPayloadSize {
		return nil
	}

	raw := make([]byte, proto.HeaderSize+len(payload)+proto.CRCSize)
	raw[0] = proto.ProtoVersion
	wire.PutUint16(raw[1:3], uint16(len(payload)))
	wire.PutUint16(raw[3:5], uint16(cmd))
	copy(raw[5:], payload)

	crc := wire.CRC32(raw[:proto.HeaderSize+len(payload)])
	wire.PutUint32(raw[proto.HeaderSize+len(payload):], crc)

	return raw
}

// BuildWireFrame builds a complete frame and returns it COBS-encoded with
// its trailing 0x00 delimiter, ready to write to the transport.
func BuildWireFrame(cmd proto.CommandID, payload []byte) []byte {
	raw := Build(cmd, payload)
	if raw == nil {
		return nil
	}
	encoded := wire.COBSEncode(raw)
	return append(encoded, 0x00)
}
