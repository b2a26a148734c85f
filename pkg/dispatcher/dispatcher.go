// Package dispatcher implements the command-classification and
// handler-dispatch stage (C5). Grounded in the teacher's
// usock_handlers.go / redis_handlers.go command-switch shape
// (pkg/service/usock_handlers.go), generalized from the teacher's fixed
// BLE command set to the closed, range-partitioned enumeration
// pkg/proto defines, and from the teacher's direct-write-back style to
// routing every reply through a link.FrameSender so pkg/dispatcher never
// touches a transport directly.
package dispatcher

import (
	"encoding/binary"

	"github.com/librescoot/mdb-link/pkg/frame"
	"github.com/librescoot/mdb-link/pkg/link"
	"github.com/librescoot/mdb-link/pkg/proto"
	"github.com/librescoot/mdb-link/pkg/rle"
	"github.com/sirupsen/logrus"
)

// PollExitCodeRunning is PROCESS_POLL_RESP's exit_code sentinel for a
// process that hasn't exited yet (spec.md §4.5's payload table).
const PollExitCodeRunning = 0xFF

// AsyncRunFailedPID is PROCESS_RUN_ASYNC_RESP's pid sentinel for a spawn
// that failed to start.
const AsyncRunFailedPID = 0xFFFF

// Handlers bundles every domain handler the dispatcher routes to. A nil
// handler for a family whose commands never arrive (e.g. a host-only
// build with no Process support) is fine. With a nil handler, request
// commands that expect a *_RESP are answered with STATUS_NOT_IMPLEMENTED
// (PROCESS_RUN_ASYNC instead gets the AsyncRunFailedPID response), and
// ACK-only commands are ACKed and then dropped.
type Handlers struct {
	System     System
	GPIO       GPIO
	Console    Console
	Datastore  Datastore
	Mailbox    Mailbox
	Filesystem Filesystem
	Process    Process
}

// Dispatcher implements link.Dispatcher.
type Dispatcher struct {
	sender    link.FrameSender
	handlers  Handlers
	enableRLE bool
	log       *logrus.Entry
}

// New constructs a Dispatcher. sender is normally the *link.Link that
// owns this Dispatcher (see pkg/link.Link.SendStatus/SendResponse).
func New(sender link.FrameSender, handlers Handlers, enableRLE bool, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{sender: sender, handlers: handlers, enableRLE: enableRLE, log: log.WithField("component", "dispatcher")}
}

// Dispatch implements spec.md §4.5 steps 2-5 for a frame pkg/link has
// already range-classified as "not status, not handshake, not a
// *_RESP". Step 1 (range classification) and the synchronization gate
// already happened in pkg/link before this is called.
func (d *Dispatcher) Dispatch(f frame.Frame) {
	meta, known := proto.Lookup(f.CommandID)
	if !known {
		d.log.WithField("cmd", f.CommandID).Warn("unknown command")
		_ = d.sender.SendStatus(proto.StatusCmdUnknown, f.CommandID)
		return
	}

	if meta.Direction == proto.DirMCUToHost {
		// This dispatcher serves requests sent toward the MCU side; an
		// MCU->host-only command arriving here came from the wrong side.
		d.log.WithField("cmd", f.CommandID).Warn("command arrived from the wrong direction")
		_ = d.sender.SendStatus(proto.StatusCmdUnknown, f.CommandID)
		return
	}

	if !validateShape(f.CommandID, f.Payload) {
		d.log.WithField("cmd", f.CommandID).Warn("payload shape invalid")
		_ = d.sender.SendStatus(proto.StatusMalformed, f.CommandID)
		return
	}

	if meta.RequiresAck {
		_ = d.sender.SendStatus(proto.StatusAck, f.CommandID)
	}

	d.handle(f.CommandID, f.Payload)
}

func (d *Dispatcher) handle(cmd proto.CommandID, payload []byte) {
	switch cmd {
	case proto.CmdVersion:
		d.handleVersion()
	case proto.CmdFreeMemory:
		d.handleFreeMemory()
	case proto.CmdGetCapabilities:
		d.handleCapabilities()
	case proto.CmdSetBaudRate:
		d.handleSetBaudRate(payload)
	case proto.CmdSetPinMode:
		d.handleSetPinMode(payload)
	case proto.CmdDigitalWrite:
		d.handleDigitalWrite(payload)
	case proto.CmdAnalogWrite:
		d.handleAnalogWrite(payload)
	case proto.CmdDigitalRead:
		d.handleDigitalRead(payload)
	case proto.CmdAnalogRead:
		d.handleAnalogRead(payload)
	case proto.CmdConsoleWrite:
		d.handleConsoleWrite(payload)
	case proto.CmdDatastorePut:
		d.handleDatastorePut(payload)
	case proto.CmdDatastoreGet:
		d.handleDatastoreGet(payload)
	case proto.CmdMailboxRead:
		d.handleMailboxRead()
	case proto.CmdMailboxAvailable:
		d.handleMailboxAvailable()
	case proto.CmdMailboxPush:
		d.handleMailboxPush(payload)
	case proto.CmdFileWrite:
		d.handleFileWrite(payload)
	case proto.CmdFileRead:
		d.handleFileRead(payload)
	case proto.CmdFileRemove:
		d.handleFileRemove(payload)
	case proto.CmdProcessRun:
		d.handleProcessRun(payload)
	case proto.CmdProcessRunAsync:
		d.handleProcessRunAsync(payload)
	case proto.CmdProcessPoll:
		d.handleProcessPoll(payload)
	case proto.CmdProcessKill:
		d.handleProcessKill(payload)
	default:
		_ = d.sender.SendStatus(proto.StatusNotImplemented, cmd)
	}
}

// --- System -----------------------------------------------------------

func (d *Dispatcher) handleVersion() {
	if d.handlers.System == nil {
		_ = d.sender.SendStatus(proto.StatusNotImplemented, proto.CmdVersion)
		return
	}
	v, err := d.handlers.System.Version()
	if err != nil {
		_ = d.sender.SendStatus(proto.StatusError, proto.CmdVersion)
		return
	}
	payload := truncate([]byte(v), proto.MaxPayloadSize)
	_ = d.sender.SendResponse(proto.CmdVersionResp, payload)
}

func (d *Dispatcher) handleFreeMemory() {
	if d.handlers.System == nil {
		_ = d.sender.SendStatus(proto.StatusNotImplemented, proto.CmdFreeMemory)
		return
	}
	free, err := d.handlers.System.FreeMemory()
	if err != nil {
		_ = d.sender.SendStatus(proto.StatusError, proto.CmdFreeMemory)
		return
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, free)
	_ = d.sender.SendResponse(proto.CmdFreeMemoryResp, payload)
}

func (d *Dispatcher) handleCapabilities() {
	if d.handlers.System == nil {
		_ = d.sender.SendStatus(proto.StatusNotImplemented, proto.CmdGetCapabilities)
		return
	}
	caps, err := d.handlers.System.Capabilities()
	if err != nil {
		_ = d.sender.SendStatus(proto.StatusError, proto.CmdGetCapabilities)
		return
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, caps)
	_ = d.sender.SendResponse(proto.CmdCapabilitiesResp, payload)
}

func (d *Dispatcher) handleSetBaudRate(payload []byte) {
	if d.handlers.System == nil {
		return
	}
	baud := binary.BigEndian.Uint32(payload)
	if err := d.handlers.System.SetBaudRate(baud); err != nil {
		d.log.WithError(err).Warn("set baud rate failed")
	}
}

// --- GPIO ---------------------------------------------------------------

func (d *Dispatcher) handleSetPinMode(payload []byte) {
	if d.handlers.GPIO == nil {
		return
	}
	if err := d.handlers.GPIO.SetPinMode(payload[0], payload[1]); err != nil {
		d.log.WithError(err).Warn("set pin mode failed")
	}
}

func (d *Dispatcher) handleDigitalWrite(payload []byte) {
	if d.handlers.GPIO == nil {
		return
	}
	if err := d.handlers.GPIO.DigitalWrite(payload[0], payload[1]); err != nil {
		d.log.WithError(err).Warn("digital write failed")
	}
}

func (d *Dispatcher) handleAnalogWrite(payload []byte) {
	if d.handlers.GPIO == nil {
		return
	}
	if err := d.handlers.GPIO.AnalogWrite(payload[0], payload[1]); err != nil {
		d.log.WithError(err).Warn("analog write failed")
	}
}

func (d *Dispatcher) handleDigitalRead(payload []byte) {
	if d.handlers.GPIO == nil {
		_ = d.sender.SendStatus(proto.StatusNotImplemented, proto.CmdDigitalRead)
		return
	}
	v, err := d.handlers.GPIO.DigitalRead(payload[0])
	if err != nil {
		_ = d.sender.SendStatus(proto.StatusError, proto.CmdDigitalRead)
		return
	}
	_ = d.sender.SendResponse(proto.CmdDigitalReadResp, []byte{v})
}

func (d *Dispatcher) handleAnalogRead(payload []byte) {
	if d.handlers.GPIO == nil {
		_ = d.sender.SendStatus(proto.StatusNotImplemented, proto.CmdAnalogRead)
		return
	}
	v, err := d.handlers.GPIO.AnalogRead(payload[0])
	if err != nil {
		_ = d.sender.SendStatus(proto.StatusError, proto.CmdAnalogRead)
		return
	}
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, v)
	_ = d.sender.SendResponse(proto.CmdAnalogReadResp, out)
}

// --- Console --------------------------------------------------------------

func (d *Dispatcher) handleConsoleWrite(payload []byte) {
	if d.handlers.Console == nil {
		return
	}
	data, err := d.unwrapBlob(payload)
	if err != nil {
		d.log.WithError(err).Warn("console write payload corrupt")
		return
	}
	if err := d.handlers.Console.Write(data); err != nil {
		d.log.WithError(err).Warn("console write failed")
	}
}

// --- Datastore --------------------------------------------------------

func (d *Dispatcher) handleDatastorePut(payload []byte) {
	keyLen := int(payload[0])
	key := string(payload[1 : 1+keyLen])
	rest := payload[1+keyLen:]
	valLen := int(rest[0])
	value := rest[1 : 1+valLen]

	if d.handlers.Datastore == nil {
		return
	}
	if err := d.handlers.Datastore.Put(key, value); err != nil {
		d.log.WithError(err).WithField("key", key).Warn("datastore put failed")
	}
}

func (d *Dispatcher) handleDatastoreGet(payload []byte) {
	keyLen := int(payload[0])
	key := string(payload[1 : 1+keyLen])

	if d.handlers.Datastore == nil {
		_ = d.sender.SendStatus(proto.StatusNotImplemented, proto.CmdDatastoreGet)
		return
	}
	value, found, err := d.handlers.Datastore.Get(key)
	if err != nil {
		_ = d.sender.SendStatus(proto.StatusError, proto.CmdDatastoreGet)
		return
	}
	if !found {
		value = nil
	}
	value = truncate(value, proto.MaxPayloadSize-1)
	out := make([]byte, 0, 1+len(value))
	out = append(out, byte(len(value)))
	out = append(out, value...)
	_ = d.sender.SendResponse(proto.CmdDatastoreGetResp, out)
}

// --- Mailbox ------------------------------------------------------------

func (d *Dispatcher) handleMailboxRead() {
	if d.handlers.Mailbox == nil {
		_ = d.sender.SendStatus(proto.StatusNotImplemented, proto.CmdMailboxRead)
		return
	}
	msg, err := d.handlers.Mailbox.Read()
	if err != nil {
		_ = d.sender.SendStatus(proto.StatusError, proto.CmdMailboxRead)
		return
	}
	msg = truncate(d.wrapBlob(msg), proto.MaxPayloadSize-2)
	out := make([]byte, 2, 2+len(msg))
	binary.BigEndian.PutUint16(out, uint16(len(msg)))
	out = append(out, msg...)
	_ = d.sender.SendResponse(proto.CmdMailboxReadResp, out)
}

func (d *Dispatcher) handleMailboxAvailable() {
	if d.handlers.Mailbox == nil {
		_ = d.sender.SendStatus(proto.StatusNotImplemented, proto.CmdMailboxAvailable)
		return
	}
	n, err := d.handlers.Mailbox.Available()
	if err != nil {
		_ = d.sender.SendStatus(proto.StatusError, proto.CmdMailboxAvailable)
		return
	}
	_ = d.sender.SendResponse(proto.CmdMailboxAvailableResp, []byte{n})
}

func (d *Dispatcher) handleMailboxPush(payload []byte) {
	n := int(payload[0])<<8 | int(payload[1])
	msg, err := d.unwrapBlob(payload[2 : 2+n])
	if err != nil {
		d.log.WithError(err).Warn("mailbox push payload corrupt")
		return
	}
	if d.handlers.Mailbox == nil {
		return
	}
	if err := d.handlers.Mailbox.Push(msg); err != nil {
		d.log.WithError(err).Warn("mailbox push failed")
	}
}

// --- Filesystem ---------------------------------------------------------

func (d *Dispatcher) handleFileWrite(payload []byte) {
	pathLen := int(payload[0])
	path := string(payload[1 : 1+pathLen])
	rest := payload[1+pathLen:]
	dataLen := int(rest[0])<<8 | int(rest[1])
	data, err := d.unwrapBlob(rest[2 : 2+dataLen])
	if err != nil {
		d.log.WithError(err).Warn("file write payload corrupt")
		return
	}

	if d.handlers.Filesystem == nil {
		return
	}
	if err := d.handlers.Filesystem.Write(path, data); err != nil {
		d.log.WithError(err).WithField("path", path).Warn("file write failed")
	}
}

func (d *Dispatcher) handleFileRead(payload []byte) {
	pathLen := int(payload[0])
	path := string(payload[1 : 1+pathLen])

	if d.handlers.Filesystem == nil {
		_ = d.sender.SendStatus(proto.StatusNotImplemented, proto.CmdFileRead)
		return
	}
	data, err := d.handlers.Filesystem.Read(path)
	if err != nil {
		_ = d.sender.SendStatus(proto.StatusError, proto.CmdFileRead)
		return
	}
	data = truncate(d.wrapBlob(data), proto.MaxPayloadSize-2)
	out := make([]byte, 2, 2+len(data))
	binary.BigEndian.PutUint16(out, uint16(len(data)))
	out = append(out, data...)
	_ = d.sender.SendResponse(proto.CmdFileReadResp, out)
}

func (d *Dispatcher) handleFileRemove(payload []byte) {
	pathLen := int(payload[0])
	path := string(payload[1 : 1+pathLen])

	if d.handlers.Filesystem == nil {
		return
	}
	if err := d.handlers.Filesystem.Remove(path); err != nil {
		d.log.WithError(err).WithField("path", path).Warn("file remove failed")
	}
}

// --- Process --------------------------------------------------------------

func (d *Dispatcher) handleProcessRun(payload []byte) {
	if d.handlers.Process == nil {
		_ = d.sender.SendStatus(proto.StatusNotImplemented, proto.CmdProcessRun)
		return
	}
	status, stdout, stderr, err := d.handlers.Process.Run(payload)
	if err != nil {
		_ = d.sender.SendStatus(proto.StatusError, proto.CmdProcessRun)
		return
	}
	out := packRunResponse(status, stdout, stderr)
	_ = d.sender.SendResponse(proto.CmdProcessRunResp, out)
}

func (d *Dispatcher) handleProcessRunAsync(payload []byte) {
	if d.handlers.Process == nil {
		pid := make([]byte, 2)
		binary.BigEndian.PutUint16(pid, AsyncRunFailedPID)
		_ = d.sender.SendResponse(proto.CmdProcessRunAsyncResp, pid)
		return
	}
	pid, err := d.handlers.Process.RunAsync(payload)
	if err != nil {
		pid = AsyncRunFailedPID
	}
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, pid)
	_ = d.sender.SendResponse(proto.CmdProcessRunAsyncResp, out)
}

func (d *Dispatcher) handleProcessPoll(payload []byte) {
	pid := binary.BigEndian.Uint16(payload)
	if d.handlers.Process == nil {
		_ = d.sender.SendStatus(proto.StatusNotImplemented, proto.CmdProcessPoll)
		return
	}
	status, exitCode, stdout, stderr, err := d.handlers.Process.Poll(pid)
	if err != nil {
		_ = d.sender.SendStatus(proto.StatusError, proto.CmdProcessPoll)
		return
	}
	out := packPollResponse(status, exitCode, stdout, stderr)
	_ = d.sender.SendResponse(proto.CmdProcessPollResp, out)
}

func (d *Dispatcher) handleProcessKill(payload []byte) {
	pid := binary.BigEndian.Uint16(payload)
	if d.handlers.Process == nil {
		return
	}
	if err := d.handlers.Process.Kill(pid); err != nil {
		d.log.WithError(err).WithField("pid", pid).Warn("process kill failed")
	}
}

// --- shared helpers -----------------------------------------------------

func truncate(b []byte, max int) []byte {
	if max < 0 {
		max = 0
	}
	if len(b) > max {
		return b[:max]
	}
	return b
}

// packRunResponse fits status:u8, stdout_len:u16, stdout, stderr_len:u16,
// stderr into MAX_PAYLOAD_SIZE, truncating stderr before stdout when the
// combined length would otherwise overflow (spec.md §4.5's "dispatcher
// must tolerate truncation" note — there is no explicit flag field for
// this pair, so truncation is silent, matching PROCESS_POLL_RESP below).
func packRunResponse(status uint8, stdout, stderr []byte) []byte {
	budget := proto.MaxPayloadSize - 1 - 2 - 2
	stdout, stderr = splitBudget(budget, stdout, stderr)

	out := make([]byte, 0, proto.MaxPayloadSize)
	out = append(out, status)
	out = appendU16Blob(out, stdout)
	out = appendU16Blob(out, stderr)
	return out
}

func packPollResponse(status, exitCode uint8, stdout, stderr []byte) []byte {
	budget := proto.MaxPayloadSize - 1 - 1 - 2 - 2
	stdout, stderr = splitBudget(budget, stdout, stderr)

	out := make([]byte, 0, proto.MaxPayloadSize)
	out = append(out, status, exitCode)
	out = appendU16Blob(out, stdout)
	out = appendU16Blob(out, stderr)
	return out
}

func splitBudget(budget int, stdout, stderr []byte) ([]byte, []byte) {
	if len(stdout)+len(stderr) <= budget {
		return stdout, stderr
	}
	stdoutBudget := budget
	if len(stdout) > stdoutBudget {
		stdout = stdout[:stdoutBudget]
	}
	remaining := budget - len(stdout)
	if len(stderr) > remaining {
		stderr = stderr[:remaining]
	}
	return stdout, stderr
}

func appendU16Blob(out, blob []byte) []byte {
	lenBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBytes, uint16(len(blob)))
	out = append(out, lenBytes...)
	return append(out, blob...)
}

// wrapBlob/unwrapBlob apply the optional RLE payload envelope (see
// pkg/rle.Wrap/Unwrap) to the byte-blob fields most likely to contain
// repetitive data: console output, mailbox messages, and file contents.
// Fixed small fields (pin numbers, pids) never go through this. The
// one-byte tag only appears on the wire when enable_rle is configured on
// both ends (it is a link-wide, out-of-band-agreed setting, not
// negotiated per frame) — with it off, blobs pass through unchanged so
// disabling the feature costs nothing.
func (d *Dispatcher) wrapBlob(data []byte) []byte {
	if !d.enableRLE {
		return data
	}
	return rle.Wrap(true, data)
}

func (d *Dispatcher) unwrapBlob(data []byte) ([]byte, error) {
	if !d.enableRLE {
		return data, nil
	}
	return rle.Unwrap(data)
}
