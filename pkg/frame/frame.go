// Package frame implements the on-wire Frame type and its two halves:
// a builder that serializes (command_id, payload) into raw bytes plus
// CRC, and a streaming parser that turns COBS-delimited wire bytes back
// into validated Frames. Grounded in the teacher's usock.Frame /
// processByte state machine (pkg/usock/usock.go), generalized to the
// version/payload_length/command_id/payload/crc layout spec.md §3 fixes
// and to COBS framing instead of the teacher's raw sync-byte scheme.
package frame

import (
	"github.com/librescoot/mdb-link/internal/wire"
	"github.com/librescoot/mdb-link/pkg/proto"
)

// Frame is the on-wire unit before COBS encoding (spec.md §3).
type Frame struct {
	Version    uint8
	CommandID  proto.CommandID
	Payload    []byte
	CRC        uint32
}

// New builds a Frame value without serializing it; Build does the
// serialization. Useful for constructing test fixtures and for handlers
// that assemble a response in memory before handing it to the engine.
func New(cmd proto.CommandID, payload []byte) Frame {
	return Frame{Version: proto.ProtoVersion, CommandID: cmd, Payload: payload}
}
