// Package mcudevice is the reference implementation of the
// dispatcher.Handlers interface family (System, GPIO, Console, Mailbox,
// Filesystem, Process) that a host daemon wires into pkg/dispatcher.
// spec.md §1 keeps "the higher-level service routing that wraps this
// RPC link" explicitly out of the core's scope; mcudevice is the
// reference peripheral side the core needs to be runnable end to end —
// it implements the handler contracts, not the MQTT/UCI/shell-policy
// layers those Non-goals name.
//
// Every concern here (GPIO, process exec, file I/O, memory stats) is one
// the retrieval pack and the standard library already handle natively
// (os/exec for Process — grounded in dittofs's test/e2e harness
// shelling out to mount/umount; runtime.MemStats for System.FreeMemory;
// os.*File for Filesystem). No pack repo reaches for a third-party
// library to wrap any of these — see DESIGN.md's stdlib justification
// entries.
package mcudevice

import (
	"fmt"
	"runtime"
)

// buildVersion is the string CMD_VERSION_RESP returns. A real MCU build
// would stamp this at compile time; the host reference implementation
// reports its own module version string instead.
const buildVersion = "mdb-link-host/1.0"

// System implements dispatcher.System for a Linux host process, against
// runtime package counters rather than a real MCU's free-heap register.
type System struct {
	baudrate uint32
}

// NewSystem returns a System reporting the given configured baud rate
// until SetBaudRate changes it.
func NewSystem(baudrate uint32) *System {
	return &System{baudrate: baudrate}
}

// Version implements dispatcher.System.
func (s *System) Version() (string, error) {
	return buildVersion, nil
}

// FreeMemory implements dispatcher.System. On a host process this
// reports the bytes of idle Go heap not yet released to the OS
// (HeapIdle - HeapReleased) rather than a true hardware free-heap
// figure, capped at 0xFFFFFFFF.
func (s *System) FreeMemory() (uint32, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	free := m.HeapIdle - m.HeapReleased
	if free > 0xFFFFFFFF {
		return 0xFFFFFFFF, nil
	}
	return uint32(free), nil
}

// Capabilities implements dispatcher.System. The bitmask documents which
// command families this build actually answers; bit assignments follow
// the range table in spec.md §3 (GPIO=bit0, console=bit1, datastore=
// bit2, mailbox=bit3, filesystem=bit4, process=bit5).
func (s *System) Capabilities() (uint32, error) {
	const (
		capGPIO = 1 << iota
		capConsole
		capDatastore
		capMailbox
		capFilesystem
		capProcess
	)
	return capGPIO | capConsole | capDatastore | capMailbox | capFilesystem | capProcess, nil
}

// SetBaudRate implements dispatcher.System. The reference implementation
// only records the requested rate; reopening the underlying serial port
// at the new rate is the caller's (cmd/) responsibility since System has
// no handle on the transport.
func (s *System) SetBaudRate(baud uint32) error {
	if baud == 0 {
		return fmt.Errorf("mcudevice: refusing zero baud rate")
	}
	s.baudrate = baud
	return nil
}

// Baudrate reports the last rate accepted by SetBaudRate.
func (s *System) Baudrate() uint32 { return s.baudrate }
