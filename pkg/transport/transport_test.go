package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/librescoot/mdb-link/pkg/frame"
	"github.com/librescoot/mdb-link/pkg/proto"
	"github.com/stretchr/testify/require"
)

// fakePort is an in-memory HardwarePort: inbound() feeds bytes that Read
// will return; written bytes accumulate in WriteLog for assertions.
type fakePort struct {
	mu       sync.Mutex
	inbound  []byte
	WriteLog []byte
	closed   bool
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return 0, nil
	}
	n := copy(p, f.inbound)
	f.inbound = f.inbound[n:]
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WriteLog = append(f.WriteLog, p...)
	return len(p), nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePort) feed(b ...byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, b...)
}

func (f *fakePort) writeLogSnapshot() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.WriteLog))
	copy(out, f.WriteLog)
	return out
}

func TestTryReadDrainsFedBytes(t *testing.T) {
	port := &fakePort{}
	tr := New(port, DefaultConfig(), nil)
	tr.Start()
	defer tr.Stop()

	port.feed(0x01, 0x02, 0x03)

	var got []byte
	require.Eventually(t, func() bool {
		for {
			b, ok := tr.TryRead()
			if !ok {
				break
			}
			got = append(got, b)
		}
		return len(got) == 3
	}, time.Second, time.Millisecond)

	require.Equal(t, []byte{0x01, 0x02, 0x03}, got)
}

func TestSendAndRetransmitCache(t *testing.T) {
	port := &fakePort{}
	tr := New(port, DefaultConfig(), nil)
	tr.Start()
	defer tr.Stop()

	wireBytes := frame.BuildWireFrame(proto.CmdDigitalWrite, []byte{0x0D, 0x01})

	ctx := context.Background()
	require.NoError(t, tr.Send(ctx, wireBytes, true))
	require.Equal(t, wireBytes, port.writeLogSnapshot())

	ok, err := tr.Retransmit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, append(append([]byte{}, wireBytes...), wireBytes...), port.writeLogSnapshot())

	tr.ClearCache()
	ok, err = tr.Retransmit(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTxGatedBlocksSend(t *testing.T) {
	port := &fakePort{}
	tr := New(port, DefaultConfig(), nil)
	tr.Start()
	defer tr.Stop()

	tr.SetGated(true)
	wireBytes := frame.BuildWireFrame(proto.CmdDigitalWrite, []byte{0x0D, 0x01})
	err := tr.Send(context.Background(), wireBytes, false)
	require.ErrorIs(t, err, ErrTxGated)
	require.Empty(t, port.writeLogSnapshot())

	tr.SetGated(false)
	require.NoError(t, tr.Send(context.Background(), wireBytes, false))
}

func TestWatermarkEmitsXoffThenXon(t *testing.T) {
	port := &fakePort{}
	cfg := Config{BufferCapacity: 8, HighWaterMark: 6, LowWaterMark: 2}
	tr := New(port, cfg, nil)
	tr.Start()
	defer tr.Stop()

	// Fill the queue past the high watermark without draining it.
	port.feed(make([]byte, 6)...)

	require.Eventually(t, func() bool {
		return len(port.writeLogSnapshot()) > 0
	}, time.Second, time.Millisecond)

	// The first control frame emitted must be XOFF.
	xoffWire := frame.BuildWireFrame(proto.CmdXOFF, nil)
	log := port.writeLogSnapshot()
	require.GreaterOrEqual(t, len(log), len(xoffWire))
	require.Equal(t, xoffWire, log[:len(xoffWire)])

	// Drain below the low watermark; an XON frame should follow.
	for {
		_, ok := tr.TryRead()
		if !ok {
			break
		}
	}

	xonWire := frame.BuildWireFrame(proto.CmdXON, nil)
	require.Eventually(t, func() bool {
		log := port.writeLogSnapshot()
		return len(log) >= len(xoffWire)+len(xonWire)
	}, time.Second, time.Millisecond)
}

func TestWriteTimeoutOnUnwritablePort(t *testing.T) {
	port := &blockingPort{}
	tr := New(port, DefaultConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tr.Send(ctx, []byte{0x01, 0x02, 0x03}, false)
	require.ErrorIs(t, err, ErrWriteTimeout)
}

// blockingPort.Write always reports zero bytes written with no error,
// simulating a stalled line so rawWrite must fall back to ctx's deadline.
type blockingPort struct{}

func (b *blockingPort) Read(p []byte) (int, error)  { return 0, nil }
func (b *blockingPort) Write(p []byte) (int, error) { return 0, nil }
func (b *blockingPort) Close() error                { return nil }
