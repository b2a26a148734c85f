package link

import (
	"github.com/librescoot/mdb-link/pkg/frame"
	"github.com/librescoot/mdb-link/pkg/proto"
)

// Dispatcher is the C5 handler-dispatch stage. Link hands it every
// complete, CRC-valid frame that survived range/handshake/status/dedup
// classification in C4, per spec.md §4.5's control flow.
type Dispatcher interface {
	Dispatch(f frame.Frame)
}

// FrameSender is the narrow slice of Link that pkg/dispatcher needs to
// answer a dispatched frame: send a status reply or a *_RESP frame. It
// exists so pkg/dispatcher depends on pkg/link only through this narrow
// interface, and pkg/link never imports pkg/dispatcher (Link holds the
// Dispatcher interface above, not the concrete type).
type FrameSender interface {
	SendStatus(status, originalCmd proto.CommandID) error
	SendResponse(cmd proto.CommandID, payload []byte) error
}
