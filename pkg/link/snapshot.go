package link

import (
	"time"

	"github.com/librescoot/mdb-link/pkg/linkfsm"
)

// Snapshot is the point-in-time view take_snapshot() returns (spec.md
// §8), CBOR-encodable for persistence and Redis-publishable for
// telemetry (see pkg/telemetry).
type Snapshot struct {
	State           string    `cbor:"state" json:"state"`
	Synchronized    bool      `cbor:"synchronized" json:"synchronized"`
	PendingTXDepth  int       `cbor:"pending_tx_depth" json:"pending_tx_depth"`
	AwaitingAck     bool      `cbor:"awaiting_ack" json:"awaiting_ack"`
	LastCommandID   uint16    `cbor:"last_command_id" json:"last_command_id"`
	RetryCount      uint8     `cbor:"retry_count" json:"retry_count"`
	RxGated         bool      `cbor:"rx_gated" json:"rx_gated"`
	TakenAt         time.Time `cbor:"taken_at" json:"taken_at"`
}

func snapshotFromState(st linkfsm.State, synchronized bool, pendingDepth int, lastCmd uint16, retryCount uint8, gated bool, now time.Time) Snapshot {
	return Snapshot{
		State:          st.String(),
		Synchronized:   synchronized,
		PendingTXDepth: pendingDepth,
		AwaitingAck:    st == linkfsm.AwaitingAck,
		LastCommandID:  lastCmd,
		RetryCount:     retryCount,
		RxGated:        gated,
		TakenAt:        now,
	}
}
