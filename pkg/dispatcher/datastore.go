package dispatcher

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// MemDatastore is the reference Datastore implementation: an in-memory
// key/value map mirrored to disk as CBOR so a restarted host process
// doesn't lose state the MCU still believes is live (SPEC_FULL.md
// §4.9's "pkg/dispatcher's datastore handler persists its key/value map
// to a snapshot file via CBOR"). The teacher's own wire payloads were
// CBOR-encoded end to end; here CBOR is redeployed one layer up, purely
// as the at-rest encoding, since the wire payload layout is fixed by
// spec.md §4.5 and cannot use a self-describing codec.
type MemDatastore struct {
	mu   sync.RWMutex
	data map[string][]byte
	path string
}

// NewMemDatastore returns an empty datastore. If path is non-empty,
// SaveSnapshot/LoadSnapshot persist to it; an empty path disables
// persistence (in-memory only, useful for tests).
func NewMemDatastore(path string) *MemDatastore {
	return &MemDatastore{data: make(map[string][]byte), path: path}
}

// Put implements dispatcher.Datastore.
func (d *MemDatastore) Put(key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	d.data[key] = cp
	return nil
}

// Get implements dispatcher.Datastore.
func (d *MemDatastore) Get(key string) ([]byte, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// SaveSnapshot CBOR-encodes the entire map and writes it to path,
// replacing any prior snapshot atomically via a temp-file rename.
func (d *MemDatastore) SaveSnapshot() error {
	if d.path == "" {
		return nil
	}
	d.mu.RLock()
	enc, err := cbor.Marshal(d.data)
	d.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("dispatcher: encode datastore snapshot: %w", err)
	}

	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, enc, 0o600); err != nil {
		return fmt.Errorf("dispatcher: write datastore snapshot: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("dispatcher: install datastore snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot replaces the in-memory map with the CBOR snapshot at
// path, if one exists. A missing file is not an error: a fresh host has
// nothing to restore yet.
func (d *MemDatastore) LoadSnapshot() error {
	if d.path == "" {
		return nil
	}
	raw, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("dispatcher: read datastore snapshot: %w", err)
	}

	var data map[string][]byte
	if err := cbor.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("dispatcher: decode datastore snapshot: %w", err)
	}

	d.mu.Lock()
	d.data = data
	d.mu.Unlock()
	return nil
}
