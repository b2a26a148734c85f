// Package telemetry mirrors the link engine's take_snapshot() and
// status-handler callback onto a Redis pub/sub bus, so the "service
// layer" spec.md §6 describes has something concrete to subscribe to
// without the core depending on MQTT (explicitly out of scope per
// spec.md §1). This is an ambient status bus the core itself owns, not
// the higher-level service routing also excluded by spec.md.
//
// Grounded in the teacher's pkg/redis.Client (HSET-per-field state
// publish, Publish-on-change notification) and the calling shape in
// pkg/service/redis_handlers.go, generalized from the teacher's
// per-characteristic battery/vehicle keys to a single link snapshot hash
// plus a status-event channel.
package telemetry

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/librescoot/mdb-link/pkg/link"
)

// Default Redis key/channel names. A link with multiple concurrent
// instances (rare, but not forbidden by spec.md) should give each its
// own Publisher with distinct names.
const (
	DefaultSnapshotKey    = "mdb-link:snapshot"
	DefaultStatusChannel  = "mdb-link:status"
	DefaultControlChannel = "mdb-link:control"

	// ControlResetLink is the message a separate CLI invocation publishes
	// on the control channel to ask the running daemon to call
	// link.Link.ResetLink(), since reset_link(config?) is an in-process
	// Link method and a CLI subcommand runs in its own process.
	ControlResetLink = "reset_link"
)

// Publisher mirrors Link state onto Redis. It never mutates the Link; it
// only reads TakeSnapshot() and relays OnStatus/OnSafeState events.
type Publisher struct {
	client         *redis.Client
	snapshotKey    string
	statusChannel  string
	controlChannel string
	log            *logrus.Entry
}

// NewPublisher connects to a Redis server at addr (host:port). db
// selects the logical database; password may be empty.
func NewPublisher(ctx context.Context, addr, password string, db int, log *logrus.Entry) (*Publisher, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("telemetry: connect to redis: %w", err)
	}
	return &Publisher{
		client:         client,
		snapshotKey:    DefaultSnapshotKey,
		statusChannel:  DefaultStatusChannel,
		controlChannel: DefaultControlChannel,
		log:            log.WithField("component", "telemetry"),
	}, nil
}

// WithNames overrides the default snapshot hash key and status channel
// name, returning p for chaining.
func (p *Publisher) WithNames(snapshotKey, statusChannel string) *Publisher {
	p.snapshotKey = snapshotKey
	p.statusChannel = statusChannel
	return p
}

// PublishControl sends a control message (e.g. ControlResetLink) for a
// running daemon's subscriber loop to act on.
func (p *Publisher) PublishControl(ctx context.Context, msg string) error {
	if err := p.client.Publish(ctx, p.controlChannel, msg).Err(); err != nil {
		return fmt.Errorf("telemetry: publish control: %w", err)
	}
	return nil
}

// SubscribeControl returns a channel delivering raw control messages
// published on the control channel. Callers should range over it from a
// goroutine and Close the returned *redis.PubSub when done.
func (p *Publisher) SubscribeControl(ctx context.Context) *redis.PubSub {
	return p.client.Subscribe(ctx, p.controlChannel)
}

// Close releases the underlying Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// PublishSnapshot flattens take_snapshot()'s fields into an HSET for
// simple Redis consumers (e.g. redis-cli HGETALL) and additionally
// stores a full CBOR-encoded blob under the "cbor" field for consumers
// that want the structured value untouched by string flattening — a
// debug CLI, for instance, per SPEC_FULL.md §4.9.
func (p *Publisher) PublishSnapshot(ctx context.Context, snap link.Snapshot) error {
	blob, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("telemetry: encode snapshot: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.HSet(ctx, p.snapshotKey,
		"state", snap.State,
		"synchronized", snap.Synchronized,
		"pending_tx_depth", snap.PendingTXDepth,
		"awaiting_ack", snap.AwaitingAck,
		"last_command_id", snap.LastCommandID,
		"retry_count", snap.RetryCount,
		"rx_gated", snap.RxGated,
		"taken_at", snap.TakenAt.UnixMilli(),
		"cbor", blob,
	)
	pipe.Publish(ctx, p.statusChannel, "snapshot")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("telemetry: publish snapshot: %w", err)
	}
	return nil
}

// PublishStatus announces a StatusEvent (see pkg/link.StatusEvent) on
// the status channel, for subscribers watching timeout/error surfacing
// without polling the snapshot hash.
func (p *Publisher) PublishStatus(ctx context.Context, ev link.StatusEvent) error {
	msg := fmt.Sprintf("status:%d:%d", ev.Status, ev.OriginalCmd)
	if err := p.client.Publish(ctx, p.statusChannel, msg).Err(); err != nil {
		return fmt.Errorf("telemetry: publish status: %w", err)
	}
	return nil
}

// PublishSafeState announces that the link entered its terminal Fault
// state, carrying the triggering error's text for operator visibility.
func (p *Publisher) PublishSafeState(ctx context.Context, reason error) error {
	msg := "safe_state"
	if reason != nil {
		msg = fmt.Sprintf("safe_state:%s", reason.Error())
	}
	if err := p.client.Publish(ctx, p.statusChannel, msg).Err(); err != nil {
		return fmt.Errorf("telemetry: publish safe state: %w", err)
	}
	p.log.WithError(reason).Warn("published safe-state transition")
	return nil
}
