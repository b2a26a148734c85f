package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// HardwarePort is the minimal surface transport needs from an open
// serial device. go.bug.st/serial's serial.Port already satisfies it;
// the interface exists so tests can substitute an in-memory fake
// without opening a real device.
type HardwarePort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenSerial opens devicePath at baud 8N1 and configures a short read
// timeout so Read calls return promptly with zero bytes when nothing is
// available, which Transport.readLoop relies on to stay responsive to
// Stop() without blocking forever on an idle line.
//
// Grounded on the teacher's usock.New (pkg/usock/usock.go), which opens
// go.bug.st/serial's sibling tarm/serial the same way (8 data bits, no
// parity, 1 stop bit) before handing the port to a read loop; this core
// uses go.bug.st/serial instead (the teacher's own go.mod names it as
// the direct dependency — see DESIGN.md) because it exposes a read
// timeout, which the spec's try_read() "non-blocking, returns None"
// contract needs and tarm/serial's ReadTimeout:0 (blocking) cannot give.
func OpenSerial(devicePath string, baud int) (HardwarePort, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(devicePath, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open serial port %s: %w", devicePath, err)
	}

	if err := port.SetReadTimeout(readPollInterval); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("transport: set read timeout: %w", err)
	}

	return port, nil
}

// readPollInterval bounds how long a single Read() call may block when
// the line is idle; it is short enough that Stop() is responsive but
// long enough to avoid busy-spinning the reader goroutine.
const readPollInterval = 50 * time.Millisecond
