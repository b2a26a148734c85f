package mcudevice

import (
	"fmt"
	"sync"
)

// mailboxCapacity bounds the FIFO depth; overflow is a typed error per
// spec.md §3's "Pending-request tracking ... overflow returns a typed
// error to the caller".
const mailboxCapacity = 32

// Mailbox implements dispatcher.Mailbox as a bounded in-memory FIFO of
// opaque messages.
type Mailbox struct {
	mu       sync.Mutex
	messages [][]byte
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Push implements dispatcher.Mailbox.
func (m *Mailbox) Push(msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) >= mailboxCapacity {
		return fmt.Errorf("mcudevice: mailbox full")
	}
	cp := make([]byte, len(msg))
	copy(cp, msg)
	m.messages = append(m.messages, cp)
	return nil
}

// Read implements dispatcher.Mailbox: pops and returns the oldest
// message, or an empty slice if none is queued.
func (m *Mailbox) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return nil, nil
	}
	msg := m.messages[0]
	m.messages = m.messages[1:]
	return msg, nil
}

// Available implements dispatcher.Mailbox.
func (m *Mailbox) Available() (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.messages)
	if n > 0xFF {
		n = 0xFF
	}
	return uint8(n), nil
}
