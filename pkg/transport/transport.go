// Package transport implements the UART I/O adapter (C3): a non-blocking
// byte source, write-all-with-deadline, RX watermark-based XON/XOFF
// emission, and a single-slot retransmit cache. Grounded in the
// teacher's pkg/usock read-loop-goroutine shape (pkg/usock/usock.go's
// readLoop + processByte), generalized from its fixed sync-byte framing
// to feeding bytes through to an external consumer (pkg/link) instead of
// owning the frame state machine itself — the frame state machine now
// lives in pkg/frame, so transport's only job is bytes in, bytes out,
// and flow control.
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/librescoot/mdb-link/pkg/frame"
	"github.com/librescoot/mdb-link/pkg/proto"
	"github.com/sirupsen/logrus"
)

// Config bounds the RX software queue and its XON/XOFF watermarks.
// Defaults approximate spec.md §4.3's 75%/25% of hardware buffer
// capacity guidance for a typical small MCU UART buffer.
type Config struct {
	BufferCapacity int
	HighWaterMark  int
	LowWaterMark   int
}

// DefaultConfig returns the watermark defaults spec.md §4.3 documents.
func DefaultConfig() Config {
	const capacity = 256
	return Config{
		BufferCapacity: capacity,
		HighWaterMark:  capacity * 3 / 4,
		LowWaterMark:   capacity / 4,
	}
}

// Transport owns the hardware port exclusively: all reads and writes
// funnel through it (spec.md §5 "Shared-resource policy").
type Transport struct {
	port HardwarePort
	cfg  Config
	log  *logrus.Entry

	rxChan chan byte
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	xoffSent  bool
	cache     []byte
	txGated   atomic.Bool
}

// New constructs a Transport around an already-open hardware port. Use
// OpenSerial to obtain port from a real device.
func New(port HardwarePort, cfg Config, log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{
		port:   port,
		cfg:    cfg,
		log:    log.WithField("component", "transport"),
		rxChan: make(chan byte, cfg.BufferCapacity),
		stopCh: make(chan struct{}),
	}
}

// Start launches the background reader goroutine that drains the
// hardware port into the software RX queue.
func (t *Transport) Start() {
	t.wg.Add(1)
	go t.readLoop()
}

// Stop halts the reader goroutine and closes the hardware port.
func (t *Transport) Stop() error {
	close(t.stopCh)
	t.wg.Wait()
	return t.port.Close()
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, 1)

	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			// Treat read errors as transient line noise; readPollInterval
			// already rate-limits how often we spin here via the
			// underlying port's read timeout.
			continue
		}
		if n == 0 {
			continue
		}

		select {
		case t.rxChan <- buf[0]:
		case <-t.stopCh:
			return
		}
		t.checkWatermark()
	}
}

// TryRead implements spec.md §4.3's try_read(): non-blocking, returns
// ok=false when no byte is currently queued.
func (t *Transport) TryRead() (byte, bool) {
	select {
	case b := <-t.rxChan:
		t.checkWatermark()
		return b, true
	default:
		return 0, false
	}
}

// checkWatermark emits CMD_XOFF/CMD_XON exactly once per crossing, per
// spec.md §4.3. Control frames bypass the ACK queue and the retransmit
// cache entirely: they go straight to the hardware port.
func (t *Transport) checkWatermark() {
	n := len(t.rxChan)

	t.mu.Lock()
	var toSend proto.CommandID
	send := false
	if !t.xoffSent && n >= t.cfg.HighWaterMark {
		t.xoffSent = true
		toSend = proto.CmdXOFF
		send = true
	} else if t.xoffSent && n <= t.cfg.LowWaterMark {
		t.xoffSent = false
		toSend = proto.CmdXON
		send = true
	}
	t.mu.Unlock()

	if !send {
		return
	}

	t.log.WithField("cmd", toSend).Info("flow control watermark crossed")
	wireBytes := frame.BuildWireFrame(toSend, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := t.rawWrite(ctx, wireBytes); err != nil {
		t.log.WithError(err).Warn("failed to emit flow-control frame")
	}
}

// SetGated sets the process-wide tx_gated flag (spec.md §4.3): when
// true, Send refuses all outbound frames until SetGated(false) is
// called, which pkg/link does on a peer CMD_XON and on link reset.
// Nothing in this package clears the flag when the port fails or closes.
func (t *Transport) SetGated(gated bool) {
	t.txGated.Store(gated)
}

// Gated reports the current tx_gated state.
func (t *Transport) Gated() bool {
	return t.txGated.Load()
}

// Send writes a complete wire frame (already COBS-encoded with its
// trailing delimiter) to the hardware port, honoring tx_gated. When
// cacheForRetransmit is true the bytes are also stored in the
// single-slot retransmit cache (spec.md §4.3): only ACK-required frames
// should set this.
func (t *Transport) Send(ctx context.Context, wireBytes []byte, cacheForRetransmit bool) error {
	if t.Gated() {
		return ErrTxGated
	}
	if err := t.rawWrite(ctx, wireBytes); err != nil {
		return err
	}
	if cacheForRetransmit {
		t.mu.Lock()
		t.cache = append([]byte(nil), wireBytes...)
		t.mu.Unlock()
	}
	return nil
}

// Retransmit replays the cached bytes byte-for-byte. It returns
// ok=false when nothing is cached.
func (t *Transport) Retransmit(ctx context.Context) (ok bool, err error) {
	t.mu.Lock()
	cached := t.cache
	t.mu.Unlock()
	if cached == nil {
		return false, nil
	}
	return true, t.rawWrite(ctx, cached)
}

// ClearCache discards the retransmit cache (called once an ACK for the
// cached frame arrives, or on safe-state entry).
func (t *Transport) ClearCache() {
	t.mu.Lock()
	t.cache = nil
	t.mu.Unlock()
}

// rawWrite performs the write-all-with-deadline described in spec.md
// §4.3: it retries partial writes until either all bytes are written or
// ctx's deadline elapses with bytes remaining.
func (t *Transport) rawWrite(ctx context.Context, data []byte) error {
	written := 0
	for written < len(data) {
		select {
		case <-ctx.Done():
			return ErrWriteTimeout
		default:
		}

		n, err := t.port.Write(data[written:])
		if n > 0 {
			written += n
		}
		if err != nil {
			if written < len(data) {
				return ErrWriteShortfall
			}
			break
		}
		if n == 0 && err == nil {
			select {
			case <-ctx.Done():
				return ErrWriteTimeout
			case <-time.After(time.Millisecond):
			}
		}
	}
	return nil
}
