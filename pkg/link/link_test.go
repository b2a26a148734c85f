package link

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/librescoot/mdb-link/pkg/frame"
	"github.com/librescoot/mdb-link/pkg/linkfsm"
	"github.com/librescoot/mdb-link/pkg/proto"
	"github.com/librescoot/mdb-link/pkg/transport"
	"github.com/stretchr/testify/require"
)

// pipePort is a HardwarePort whose Write feeds another pipePort's Read
// side, letting two Transport/Link pairs talk to each other in-process
// without a real serial device.
type pipePort struct {
	mu   sync.Mutex
	peer *pipePort
	buf  []byte
}

func newPipePair() (*pipePort, *pipePort) {
	a := &pipePort{}
	b := &pipePort{}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *pipePort) Read(out []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) == 0 {
		return 0, nil
	}
	n := copy(out, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func (p *pipePort) Write(data []byte) (int, error) {
	p.peer.mu.Lock()
	p.peer.buf = append(p.peer.buf, data...)
	p.peer.mu.Unlock()
	return len(data), nil
}

func (p *pipePort) Close() error { return nil }

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(f frame.Frame) {}

func newTestPair(t *testing.T) (*Link, *Link, func()) {
	t.Helper()
	portA, portB := newPipePair()

	trA := transport.New(portA, transport.DefaultConfig(), nil)
	trB := transport.New(portB, transport.DefaultConfig(), nil)
	trA.Start()
	trB.Start()

	cfg := DefaultConfig()
	cfg.AckTimeoutMS = 50
	cfg.ResponseTimeoutMS = 150
	cfg.RetryLimit = 3

	linkA := New(trA, cfg, RoleInitiator, nopDispatcher{}, nil)
	linkB := New(trB, cfg, RoleResponder, nopDispatcher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go linkA.Run(ctx)
	go linkB.Run(ctx)

	cleanup := func() {
		cancel()
		_ = trA.Stop()
		_ = trB.Stop()
	}
	return linkA, linkB, cleanup
}

func TestHandshakeSynchronizesBothSides(t *testing.T) {
	linkA, linkB, cleanup := newTestPair(t)
	defer cleanup()

	require.Eventually(t, func() bool {
		return linkA.IsSynchronized() && linkB.IsSynchronized()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAckRequiredSendCompletesRoundTrip(t *testing.T) {
	linkA, linkB, cleanup := newTestPair(t)
	defer cleanup()

	require.Eventually(t, func() bool {
		return linkA.IsSynchronized() && linkB.IsSynchronized()
	}, 2*time.Second, 5*time.Millisecond)

	linkB.OnStatus = func(ev StatusEvent) {}
	dispB := &captureDispatcher{}
	linkB.dispatcher = dispB

	err := linkA.SendFrame(context.Background(), proto.CmdDigitalWrite, []byte{0x0D, 0x01})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return dispB.lastCmd() == proto.CmdDigitalWrite
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return linkA.fsm.State().String() == "Idle"
	}, time.Second, 5*time.Millisecond)
}

type captureDispatcher struct {
	mu  sync.Mutex
	cmd proto.CommandID
}

func (d *captureDispatcher) Dispatch(f frame.Frame) {
	d.mu.Lock()
	d.cmd = f.CommandID
	d.mu.Unlock()
}

func (d *captureDispatcher) lastCmd() proto.CommandID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cmd
}

func TestSendRejectedBeforeSynchronization(t *testing.T) {
	portA, _ := newPipePair()
	tr := transport.New(portA, transport.DefaultConfig(), nil)
	tr.Start()
	defer tr.Stop()

	l := New(tr, DefaultConfig(), RoleInitiator, nopDispatcher{}, nil)
	err := l.SendFrame(context.Background(), proto.CmdDigitalWrite, []byte{0x0D, 0x01})
	require.ErrorIs(t, err, ErrNotSynchronized)
}

func TestSendFrameRejectsOversizePayload(t *testing.T) {
	portA, _ := newPipePair()
	tr := transport.New(portA, transport.DefaultConfig(), nil)
	tr.Start()
	defer tr.Stop()

	l := New(tr, DefaultConfig(), RoleInitiator, nopDispatcher{}, nil)
	big := make([]byte, proto.MaxPayloadSize+1)
	err := l.SendFrame(context.Background(), proto.CmdDigitalWrite, big)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPendingTXQueueFullReturnsTypedError(t *testing.T) {
	portA, _ := newPipePair()
	tr := transport.New(portA, transport.DefaultConfig(), nil)
	tr.Start()
	defer tr.Stop()

	l := New(tr, DefaultConfig(), RoleInitiator, nopDispatcher{}, nil)
	l.synchronized = true
	l.fsm.Apply(linkfsm.EventHandshakeComplete)

	// First send moves the FSM to AwaitingAck; every subsequent send must
	// queue until an ACK (which never arrives on this unconnected port).
	err := l.SendFrame(context.Background(), proto.CmdDigitalWrite, []byte{0x0D, 0x01})
	require.NoError(t, err)

	var lastErr error
	for i := 0; i < pendingTXCapacity+1; i++ {
		lastErr = l.SendFrame(context.Background(), proto.CmdDigitalWrite, []byte{0x0D, byte(i)})
	}
	require.ErrorIs(t, lastErr, ErrQueueFull)
}

func TestHandshakeWithSharedSecretProducesExpectedTag(t *testing.T) {
	// spec.md §8 scenario 1: handshake with a real shared secret. Pin the
	// tag to a known HMAC-SHA256 value so a regression that drops or
	// mis-sizes the tag is caught bit-for-bit, not just "synchronized".
	secret := []byte("testsecret12345")
	nonce := make([]byte, nonceSize)
	for i := range nonce {
		nonce[i] = byte(i)
	}
	wantTag := []byte{
		0x5b, 0x62, 0x13, 0xc4, 0x5f, 0xd8, 0x49, 0x24,
		0xfa, 0x70, 0x03, 0xb1, 0x56, 0x53, 0x1d, 0xe7,
	}
	require.Equal(t, wantTag, handshakeTag(secret, nonce))

	portA, portB := newPipePair()
	trA := transport.New(portA, transport.DefaultConfig(), nil)
	trB := transport.New(portB, transport.DefaultConfig(), nil)
	trA.Start()
	trB.Start()
	defer trA.Stop()
	defer trB.Stop()

	cfg := DefaultConfig()
	cfg.SharedSecret = secret
	linkA := New(trA, cfg, RoleInitiator, nopDispatcher{}, nil)
	linkB := New(trB, cfg, RoleResponder, nopDispatcher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go linkA.Run(ctx)
	go linkB.Run(ctx)

	require.Eventually(t, func() bool {
		return linkA.IsSynchronized() && linkB.IsSynchronized()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandshakeNoSecretSendsNonceOnly(t *testing.T) {
	// spec.md §4.4: with no shared secret configured, LINK_SYNC_RESP must
	// carry nonce only (16 bytes), never nonce||tag (32 bytes).
	portA, portB := newPipePair()
	tr := transport.New(portA, transport.DefaultConfig(), nil)
	l := New(tr, DefaultConfig(), RoleResponder, nopDispatcher{}, nil)
	nonce := make([]byte, nonceSize)

	l.handleLinkSync(frame.New(proto.CmdLinkSync, nonce))

	var reply []byte
	p := frame.NewParser()
	for _, b := range portB.buf {
		if f, outcome, _ := p.Feed(b); outcome == frame.OutcomeFrame && f.CommandID == proto.CmdLinkSyncResp {
			reply = f.Payload
		}
	}
	require.Len(t, reply, nonceSize)
}

func TestDuplicateRetryDedupWindow(t *testing.T) {
	// spec.md §8 scenario 3: a lost ACK causes the peer to retransmit the
	// same frame. A repeat arriving sooner than ack_timeout_ms is a
	// legitimate high-frequency repeat, not a retry; one arriving in
	// one arriving in the window (ack_timeout_ms, ack_timeout_ms times
	// retry_limit+1] is the dedup case.
	portA, _ := newPipePair()
	tr := transport.New(portA, transport.DefaultConfig(), nil)
	tr.Start()
	defer tr.Stop()

	cfg := DefaultConfig()
	cfg.AckTimeoutMS = 50
	cfg.RetryLimit = 3
	l := New(tr, cfg, RoleInitiator, nopDispatcher{}, nil)

	f := frame.Frame{CommandID: proto.CmdDigitalWrite, CRC: 0xdeadbeef}

	require.False(t, l.isDuplicateRetry(f), "first sighting is never a duplicate")

	time.Sleep(10 * time.Millisecond)
	require.False(t, l.isDuplicateRetry(f), "repeat well inside ack_timeout_ms is a legitimate repeat")

	time.Sleep(60 * time.Millisecond)
	require.True(t, l.isDuplicateRetry(f), "repeat past ack_timeout_ms within the retry window is a dedup hit")
}

func TestEnterSafeStateDrainsThenNotifies(t *testing.T) {
	// spec.md §9(c): drain queues, reset GPIO, and transition to Fault
	// before OnSafeState observes anything — never half-cleared state.
	portA, _ := newPipePair()
	tr := transport.New(portA, transport.DefaultConfig(), nil)
	tr.Start()
	defer tr.Stop()

	l := New(tr, DefaultConfig(), RoleInitiator, nopDispatcher{}, nil)
	l.synchronized = true
	l.fsm.Apply(linkfsm.EventHandshakeComplete)
	l.fsm.Apply(linkfsm.EventSendCritical)
	l.pendingTX.Push(pendingFrame{cmd: proto.CmdDigitalWrite, payload: []byte{0x01}})

	gpioReset := false
	l.SetGPIOReset(func() { gpioReset = true })

	var notifiedErr error
	var sawDrainedState bool
	l.OnSafeState = func(reason error) {
		notifiedErr = reason
		sawDrainedState = !l.IsSynchronized() && l.pendingTX.Len() == 0 && l.fsm.State() == linkfsm.Fault
	}

	l.enterSafeState(ErrKATFailure)

	require.True(t, gpioReset)
	require.ErrorIs(t, notifiedErr, ErrKATFailure)
	require.True(t, sawDrainedState)
	require.False(t, l.IsSynchronized())
	require.Equal(t, linkfsm.Fault, l.fsm.State())

	err := l.SendFrame(context.Background(), proto.CmdDigitalWrite, []byte{0x01})
	require.ErrorIs(t, err, ErrNotSynchronized)
}

func TestWeakAndPlaceholderSecretsRejected(t *testing.T) {
	_, err := Validate(Config{SharedSecret: []byte("changeme123")})
	require.Error(t, err)
	var linkErr *Error
	require.ErrorAs(t, err, &linkErr)
	require.Equal(t, KindPlaceholderSecret, linkErr.Kind)

	_, err = Validate(Config{SharedSecret: []byte("short")})
	require.ErrorAs(t, err, &linkErr)
	require.Equal(t, KindWeakSecret, linkErr.Kind)
}

func TestConfigClampingOutOfRangeKnobs(t *testing.T) {
	v, err := Validate(Config{AckTimeoutMS: 5, RetryLimit: 200, ResponseTimeoutMS: 1})
	require.NoError(t, err)
	require.Contains(t, v.Clamped, "ack_timeout_ms")
	require.Contains(t, v.Clamped, "retry_limit")
	require.Contains(t, v.Clamped, "response_timeout_ms")
	require.Equal(t, uint16(AckTimeoutDefaultMS), v.Config.AckTimeoutMS)
}
