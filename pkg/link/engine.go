// Package link implements the link engine (C4): handshake, ACK/retry
// state machine, transmission gating, RX duplicate suppression, pending
// request correlation, and safe-state entry. Grounded in the teacher's
// usock.New/Start goroutine-per-port shape (pkg/usock/usock.go),
// generalized from the teacher's fire-and-forget per-frame handler
// goroutines to the single cooperative dispatch loop spec.md §5's
// concurrency model requires (see SPEC_FULL.md §5).
package link

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/librescoot/mdb-link/pkg/frame"
	"github.com/librescoot/mdb-link/pkg/linkfsm"
	"github.com/librescoot/mdb-link/pkg/proto"
	"github.com/librescoot/mdb-link/pkg/transport"
	"github.com/sirupsen/logrus"
)

const (
	pendingTXCapacity  = 16
	pendingReqCapacity = 32

	handshakeBackoffBase = time.Second
	handshakeBackoffCap  = 60 * time.Second
	maxHandshakeAttempts = 8

	mainLoopIdleSleep = time.Millisecond
)

// pendingFrame is a queued outbound ACK-required frame awaiting its
// turn once the engine returns to Idle.
type pendingFrame struct {
	cmd     proto.CommandID
	payload []byte
}

type pendingGet struct{ key string }
type pendingPoll struct{ pid uint16 }

// CorrelatedResponse is delivered to the OnResponse callback when a
// *_RESP frame arrives. Key is non-nil only for responses whose request
// the engine tracked for FIFO correlation (datastore GET, process POLL);
// spec.md §4.4 notes these response frames carry no identifying field of
// their own, so correlation is order-based.
type CorrelatedResponse struct {
	Command proto.CommandID
	Key     any
	Payload []byte
}

// StatusEvent is delivered to the OnStatus callback for every inbound
// STATUS_* frame that isn't consumed internally as an ACK/retry signal
// (e.g. STATUS_ERROR, STATUS_NOT_IMPLEMENTED).
type StatusEvent struct {
	Status      proto.CommandID
	OriginalCmd proto.CommandID
}

// Link is the link engine. One Link owns one Transport exclusively.
type Link struct {
	transport *transport.Transport
	cfg       Config
	log       *logrus.Entry
	role      Role

	parser *frame.Parser
	fsm    *linkfsm.FSM

	dispatcher Dispatcher

	mu             sync.Mutex
	synchronized   bool
	lastSentCmd    proto.CommandID
	retryCount     uint8
	ackDeadline    time.Time
	pendingTX      *BoundedQueue[pendingFrame]
	pendingGets    *BoundedQueue[pendingGet]
	pendingPolls   *BoundedQueue[pendingPoll]
	lastFP         uint32
	lastFPAt       time.Time
	haveLastFP     bool
	outstandingNonce []byte
	handshakeSince time.Time

	OnResponse func(CorrelatedResponse)
	OnStatus   func(StatusEvent)
	OnSafeState func(reason error)

	resetGPIO func()
}

// Role distinguishes which side initiates the handshake. Responder
// logic (answering an inbound LINK_SYNC) runs regardless of Role, per
// spec.md §4.1's "same code shape runs on both sides."
type Role uint8

const (
	RoleInitiator Role = iota
	RoleResponder
)

// New constructs a Link around an already-started Transport.
func New(tr *transport.Transport, cfg Config, role Role, dispatcher Dispatcher, log *logrus.Entry) *Link {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Link{
		transport:    tr,
		cfg:          cfg,
		log:          log.WithField("component", "link"),
		role:         role,
		parser:       frame.NewParser(),
		fsm:          linkfsm.New(),
		dispatcher:   dispatcher,
		pendingTX:    NewBoundedQueue[pendingFrame](pendingTXCapacity),
		pendingGets:  NewBoundedQueue[pendingGet](pendingReqCapacity),
		pendingPolls: NewBoundedQueue[pendingPoll](pendingReqCapacity),
	}
}

// SetGPIOReset registers the callback enter_safe_state uses to drive
// every GPIO pin back to input mode (spec.md §9(c)).
func (l *Link) SetGPIOReset(fn func()) { l.resetGPIO = fn }

// SetDispatcher binds the dispatch stage after construction, for
// callers that must build a Link and its Dispatcher in a cycle (the
// Dispatcher's FrameSender is the Link itself). Not safe to call once
// Run has started processing frames.
func (l *Link) SetDispatcher(d Dispatcher) { l.dispatcher = d }

// IsSynchronized reports the current synchronized flag.
func (l *Link) IsSynchronized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.synchronized
}

// Run executes the cooperative single-threaded main loop: run the KAT
// self-test, initiate a handshake if Role is initiator, then poll the
// transport for bytes and timers until ctx is cancelled.
func (l *Link) Run(ctx context.Context) error {
	if err := runKAT(); err != nil {
		l.enterSafeState(err)
		return err
	}

	if l.role == RoleInitiator {
		go l.handshakeLoop(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if b, ok := l.transport.TryRead(); ok {
			f, outcome, err := l.parser.Feed(b)
			switch outcome {
			case frame.OutcomeFrame:
				l.handleInbound(f)
			case frame.OutcomeError:
				l.log.WithError(err).Debug("discarding malformed frame")
			}
			continue
		}

		l.checkAckTimeout()
		time.Sleep(mainLoopIdleSleep)
	}
}

// handshakeLoop drives the initiator side: send LINK_SYNC, wait for a
// matching LINK_SYNC_RESP (delivered via completeHandshake from the main
// loop), and retry with exponential backoff on timeout. After
// maxHandshakeAttempts consecutive failures it calls enterSafeState, per
// spec.md §9(c)'s "repeated handshake authentication failures" trigger.
func (l *Link) handshakeLoop(ctx context.Context) {
	backoff := handshakeBackoffBase
	for attempt := 0; attempt < maxHandshakeAttempts; attempt++ {
		if l.IsSynchronized() {
			return
		}

		nonce, err := newNonce()
		if err != nil {
			l.log.WithError(err).Error("failed to generate handshake nonce")
			return
		}

		l.mu.Lock()
		l.outstandingNonce = nonce
		l.handshakeSince = time.Now()
		l.mu.Unlock()

		wireBytes := frame.BuildWireFrame(proto.CmdLinkSync, nonce)
		if err := l.transport.Send(ctx, wireBytes, false); err != nil {
			l.log.WithError(err).Warn("failed to send LINK_SYNC")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.cfg.responseTimeout()):
		}

		if l.IsSynchronized() {
			return
		}

		l.log.WithField("attempt", attempt+1).Warn("handshake timed out, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > handshakeBackoffCap {
			backoff = handshakeBackoffCap
		}
	}

	l.enterSafeState(ErrHandshakeAuthFail)
}

// handleInbound implements spec.md §4.5's control flow for a frame that
// has already passed COBS decode, CRC check, and structural validation.
func (l *Link) handleInbound(f frame.Frame) {
	switch proto.ClassifyRange(f.CommandID) {
	case proto.RangeStatus:
		l.handleStatus(f)
		return
	}

	switch f.CommandID {
	case proto.CmdLinkSync:
		l.handleLinkSync(f)
		return
	case proto.CmdLinkSyncResp:
		l.completeHandshake(f)
		return
	case proto.CmdLinkReset:
		l.handleLinkReset(f)
		return
	case proto.CmdXOFF:
		l.transport.SetGated(true)
		return
	case proto.CmdXON:
		l.transport.SetGated(false)
		return
	}

	if !l.IsSynchronized() && proto.ClassifyRange(f.CommandID) == proto.RangeService {
		l.log.WithField("cmd", f.CommandID).Info("discarding service command received before synchronization")
		return
	}

	meta, _ := proto.Lookup(f.CommandID)
	if meta.SideEffecting && l.isDuplicateRetry(f) {
		if proto.RequiresAck(f.CommandID) {
			_ = l.SendStatus(proto.StatusAck, f.CommandID)
		}
		return
	}

	if proto.IsResponse(f.CommandID) {
		l.handleResponse(f)
		return
	}

	if l.dispatcher != nil {
		l.dispatcher.Dispatch(f)
	}
}

func (l *Link) handleStatus(f frame.Frame) {
	var target proto.CommandID = proto.AckGenericTarget
	if len(f.Payload) >= 2 {
		target = proto.CommandID(binary.BigEndian.Uint16(f.Payload))
	}

	l.mu.Lock()
	awaiting := l.fsm.State() == linkfsm.AwaitingAck
	matches := target == proto.AckGenericTarget || target == l.lastSentCmd
	l.mu.Unlock()

	switch f.CommandID {
	case proto.StatusAck:
		if awaiting && matches {
			l.onAckReceived()
		}
		return
	case proto.StatusMalformed, proto.StatusCRCMismatch:
		if awaiting && matches {
			_, _ = l.transport.Retransmit(context.Background())
		}
		return
	}

	if l.OnStatus != nil {
		l.OnStatus(StatusEvent{Status: f.CommandID, OriginalCmd: target})
	}
}

func (l *Link) onAckReceived() {
	l.transport.ClearCache()
	l.mu.Lock()
	l.fsm.Apply(linkfsm.EventAckReceived)
	l.retryCount = 0
	l.mu.Unlock()
	l.flushPendingTX()
}

// flushPendingTX sends the next queued ACK-required frame, if any, now
// that the engine is back in Idle.
func (l *Link) flushPendingTX() {
	l.mu.Lock()
	pf, ok := l.pendingTX.Pop()
	l.mu.Unlock()
	if !ok {
		return
	}
	if err := l.sendAckRequired(pf.cmd, pf.payload); err != nil {
		l.log.WithError(err).WithField("cmd", pf.cmd).Warn("failed to flush pending frame")
	}
}

func (l *Link) checkAckTimeout() {
	l.mu.Lock()
	awaiting := l.fsm.State() == linkfsm.AwaitingAck
	deadline := l.ackDeadline
	l.mu.Unlock()
	if !awaiting || time.Now().Before(deadline) {
		return
	}

	l.mu.Lock()
	retry := l.retryCount
	limit := l.cfg.RetryLimit
	cmd := l.lastSentCmd
	l.mu.Unlock()

	if retry < limit {
		if _, err := l.transport.Retransmit(context.Background()); err != nil {
			l.log.WithError(err).Warn("retransmit failed")
		}
		l.mu.Lock()
		l.retryCount++
		l.ackDeadline = time.Now().Add(l.cfg.ackTimeout())
		l.mu.Unlock()
		return
	}

	l.log.WithField("cmd", cmd).Warn("ack timeout exhausted retries")
	l.transport.ClearCache()
	l.mu.Lock()
	l.fsm.Apply(linkfsm.EventTimeout)
	l.retryCount = 0
	l.mu.Unlock()
	if l.OnStatus != nil {
		l.OnStatus(StatusEvent{Status: proto.StatusTimeout, OriginalCmd: cmd})
	}
	l.flushPendingTX()
}

func (l *Link) handleLinkSync(f frame.Frame) {
	nonce := f.Payload

	reply := make([]byte, 0, len(nonce)+tagSize)
	reply = append(reply, nonce...)
	if len(l.cfg.SharedSecret) > 0 {
		reply = append(reply, handshakeTag(l.cfg.SharedSecret, nonce)...)
	}

	wireBytes := frame.BuildWireFrame(proto.CmdLinkSyncResp, reply)
	if err := l.transport.Send(context.Background(), wireBytes, false); err != nil {
		l.log.WithError(err).Error("failed to reply to LINK_SYNC")
		return
	}

	l.mu.Lock()
	l.synchronized = true
	l.fsm.Apply(linkfsm.EventHandshakeComplete)
	l.mu.Unlock()
	l.log.Info("responded to peer handshake; link synchronized")
}

func (l *Link) completeHandshake(f frame.Frame) {
	l.mu.Lock()
	nonce := l.outstandingNonce
	l.mu.Unlock()
	if nonce == nil || len(f.Payload) < nonceSize {
		return
	}
	gotNonce := f.Payload[:nonceSize]
	for i := range nonce {
		if i >= len(gotNonce) || nonce[i] != gotNonce[i] {
			return
		}
	}

	if len(l.cfg.SharedSecret) > 0 {
		if len(f.Payload) < nonceSize+tagSize {
			return
		}
		wantTag := handshakeTag(l.cfg.SharedSecret, nonce)
		gotTag := f.Payload[nonceSize : nonceSize+tagSize]
		for i := range wantTag {
			if wantTag[i] != gotTag[i] {
				l.log.Warn("handshake tag mismatch; treating as authentication failure")
				return
			}
		}
	}

	l.mu.Lock()
	l.synchronized = true
	l.outstandingNonce = nil
	l.fsm.Apply(linkfsm.EventHandshakeComplete)
	l.mu.Unlock()
	l.log.Info("peer acknowledged handshake; link synchronized")
}

func (l *Link) handleLinkReset(f frame.Frame) {
	_ = l.SendStatus(proto.StatusAck, proto.CmdLinkReset)
	l.resetState(false)
}

// ResetLink performs the local equivalent of a received CMD_LINK_RESET:
// clears queues and cache, and returns the FSM to Unsynchronized. It does
// not start a new handshake: the initiator's handshake loop runs only
// when Run is called, so the link stays unsynchronized until the peer
// sends a LINK_SYNC or Run is started again.
func (l *Link) ResetLink() {
	l.resetState(false)
}

func (l *Link) resetState(terminal bool) {
	l.mu.Lock()
	l.synchronized = false
	droppedTX := l.pendingTX.Clear()
	droppedGets := l.pendingGets.Clear()
	droppedPolls := l.pendingPolls.Clear()
	l.retryCount = 0
	l.outstandingNonce = nil
	if terminal {
		l.fsm.Apply(linkfsm.EventCryptoFault)
	} else {
		l.fsm.Apply(linkfsm.EventReset)
	}
	l.mu.Unlock()

	l.transport.ClearCache()
	l.transport.SetGated(false)
	l.parser = frame.NewParser()

	l.log.WithField("dropped_tx", droppedTX).
		WithField("dropped_gets", droppedGets).
		WithField("dropped_polls", droppedPolls).
		Info("link state reset")
}

// enterSafeState implements spec.md §9(c)'s fail-safe terminal
// transition: drain every queue and reset every mutable subsystem
// first, transition the FSM to Fault, and only then notify the caller —
// "drain then notify", so OnSafeState never observes half-cleared state.
func (l *Link) enterSafeState(reason error) {
	l.resetState(true)
	if l.resetGPIO != nil {
		l.resetGPIO()
	}
	l.log.WithError(reason).Error("entered safe state")
	if l.OnSafeState != nil {
		l.OnSafeState(reason)
	}
}

// isDuplicateRetry implements the RX duplicate-fingerprint window from
// spec.md §4.4: a frame sharing the last seen CRC and arriving strictly
// after one ack_timeout_ms but no later than ack_timeout_ms*(retry_limit+1)
// is treated as a retransmit of an already-processed frame.
func (l *Link) isDuplicateRetry(f frame.Frame) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	dup := false
	if l.haveLastFP && f.CRC == l.lastFP {
		elapsed := now.Sub(l.lastFPAt)
		lower, upper := l.cfg.dedupWindow()
		if elapsed > lower && elapsed <= upper {
			dup = true
		}
	}

	l.lastFP = f.CRC
	l.lastFPAt = now
	l.haveLastFP = true
	return dup
}

func (l *Link) handleResponse(f frame.Frame) {
	var key any
	switch f.CommandID {
	case proto.CmdDatastoreGetResp:
		l.mu.Lock()
		g, ok := l.pendingGets.Pop()
		l.mu.Unlock()
		if ok {
			key = g.key
		}
	case proto.CmdProcessPollResp:
		l.mu.Lock()
		p, ok := l.pendingPolls.Pop()
		l.mu.Unlock()
		if ok {
			key = p.pid
		}
	}

	if l.OnResponse != nil {
		l.OnResponse(CorrelatedResponse{Command: f.CommandID, Key: key, Payload: f.Payload})
	}
}

// SendFrame is the engine's outward-facing send entry point. It enqueues
// ACK-required frames behind an in-flight send, sends everything else
// immediately, and rejects outright when gating or size rules forbid the
// send (spec.md §4.4 "Transmission gating" and §4.5).
func (l *Link) SendFrame(ctx context.Context, cmd proto.CommandID, payload []byte) error {
	if len(payload) > proto.MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	if !l.IsSynchronized() && !proto.IsSystemOrStatus(cmd) {
		return ErrNotSynchronized
	}

	l.trackCorrelation(cmd, payload)

	if proto.RequiresAck(cmd) {
		return l.sendAckRequired(cmd, payload)
	}

	wireBytes := frame.BuildWireFrame(cmd, payload)
	return l.transport.Send(ctx, wireBytes, false)
}

func (l *Link) sendAckRequired(cmd proto.CommandID, payload []byte) error {
	l.mu.Lock()
	if l.fsm.State() == linkfsm.AwaitingAck {
		ok := l.pendingTX.Push(pendingFrame{cmd: cmd, payload: payload})
		l.mu.Unlock()
		if !ok {
			return ErrQueueFull
		}
		return nil
	}
	l.fsm.Apply(linkfsm.EventSendCritical)
	l.lastSentCmd = cmd
	l.retryCount = 0
	l.ackDeadline = time.Now().Add(l.cfg.ackTimeout())
	l.mu.Unlock()

	wireBytes := frame.BuildWireFrame(cmd, payload)
	return l.transport.Send(context.Background(), wireBytes, true)
}

// trackCorrelation remembers outbound DATASTORE_GET/PROCESS_POLL
// requests so their eventual response (which carries no identifying
// field) can be matched back to the caller in FIFO order.
func (l *Link) trackCorrelation(cmd proto.CommandID, payload []byte) {
	switch cmd {
	case proto.CmdDatastoreGet:
		if len(payload) < 1 {
			return
		}
		keyLen := int(payload[0])
		if len(payload) < 1+keyLen {
			return
		}
		l.mu.Lock()
		l.pendingGets.Push(pendingGet{key: string(payload[1 : 1+keyLen])})
		l.mu.Unlock()
	case proto.CmdProcessPoll:
		if len(payload) < 2 {
			return
		}
		pid := binary.BigEndian.Uint16(payload)
		l.mu.Lock()
		l.pendingPolls.Push(pendingPoll{pid: pid})
		l.mu.Unlock()
	}
}

// SendStatus sends a STATUS_* frame carrying originalCmd as its payload.
// Status frames never require ACK and bypass the pending-TX queue
// entirely (spec.md §4.5 step 4).
func (l *Link) SendStatus(status, originalCmd proto.CommandID) error {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(originalCmd))
	wireBytes := frame.BuildWireFrame(status, payload)
	return l.transport.Send(context.Background(), wireBytes, false)
}

// SendResponse sends a *_RESP frame. Responses never require ACK (the
// response itself is the reply) so they bypass the pending-TX queue.
func (l *Link) SendResponse(cmd proto.CommandID, payload []byte) error {
	return l.SendFrame(context.Background(), cmd, payload)
}

// TakeSnapshot returns a point-in-time view of engine state, per
// spec.md §8's take_snapshot().
func (l *Link) TakeSnapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return snapshotFromState(
		l.fsm.State(),
		l.synchronized,
		l.pendingTX.Len(),
		uint16(l.lastSentCmd),
		l.retryCount,
		l.transport.Gated(),
		time.Now(),
	)
}

func (l *Link) String() string {
	return fmt.Sprintf("link{state=%s synchronized=%t}", l.fsm.State(), l.IsSynchronized())
}
