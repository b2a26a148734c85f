package dispatcher

// System backs VERSION, FREE_MEMORY, GET_CAPABILITIES, and
// SET_BAUDRATE — the handful of system-range commands the link engine
// doesn't already consume for handshake/reset/flow control.
type System interface {
	Version() (string, error)
	FreeMemory() (uint32, error)
	Capabilities() (uint32, error)
	SetBaudRate(baud uint32) error
}

// GPIO backs SET_PIN_MODE, DIGITAL_WRITE, ANALOG_WRITE, DIGITAL_READ,
// and ANALOG_READ. ResetAllToInput is called from enter_safe_state
// (spec.md §9(c)) via Link.SetGPIOReset.
type GPIO interface {
	SetPinMode(pin, mode uint8) error
	DigitalWrite(pin, value uint8) error
	AnalogWrite(pin, value uint8) error
	DigitalRead(pin uint8) (uint8, error)
	AnalogRead(pin uint8) (uint16, error)
	ResetAllToInput()
}

// Console backs CONSOLE_WRITE: a one-way text/byte sink, bidirectional
// on the wire (either side may write to the other's console).
type Console interface {
	Write(data []byte) error
}

// Datastore backs DATASTORE_PUT/DATASTORE_GET: a small persistent
// key-value store. Get's second return is false when the key is absent.
type Datastore interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
}

// Mailbox backs MAILBOX_READ/MAILBOX_AVAILABLE/MAILBOX_PUSH: a bounded
// FIFO of opaque messages.
type Mailbox interface {
	Read() ([]byte, error)
	Available() (uint8, error)
	Push(msg []byte) error
}

// Filesystem backs FILE_WRITE/FILE_READ/FILE_REMOVE, scoped to whatever
// sandbox root the caller configures (spec.md's Non-goals keep the
// sandbox policy itself out of this core).
type Filesystem interface {
	Write(path string, data []byte) error
	Read(path string) ([]byte, error)
	Remove(path string) error
}

// Process backs PROCESS_RUN/PROCESS_RUN_ASYNC/PROCESS_POLL/PROCESS_KILL.
// Like Filesystem, shell policy itself is an external collaborator;
// this interface only shapes the request/response contract.
type Process interface {
	Run(command []byte) (status uint8, stdout, stderr []byte, err error)
	RunAsync(command []byte) (pid uint16, err error)
	Poll(pid uint16) (status, exitCode uint8, stdout, stderr []byte, err error)
	Kill(pid uint16) error
}
