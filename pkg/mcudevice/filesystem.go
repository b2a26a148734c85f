package mcudevice

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem implements dispatcher.Filesystem against real files rooted
// under a configured directory. spec.md §1 keeps "the file sandbox" —
// the policy deciding which paths a caller may touch — as an external
// collaborator out of this core's scope; this reference implementation
// only guarantees containment under Root, not a full sandbox policy.
type Filesystem struct {
	root string
}

// NewFilesystem returns a Filesystem rooted at root. root is created if
// it does not already exist.
func NewFilesystem(root string) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("mcudevice: create filesystem root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("mcudevice: resolve filesystem root: %w", err)
	}
	return &Filesystem{root: abs}, nil
}

// resolve joins path under Root and rejects any result that escapes it,
// the one containment guarantee this reference implementation makes.
func (f *Filesystem) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	joined := filepath.Join(f.root, cleaned)
	if joined != f.root && !strings.HasPrefix(joined, f.root+string(filepath.Separator)) {
		return "", fmt.Errorf("mcudevice: path %q escapes filesystem root", path)
	}
	return joined, nil
}

// Write implements dispatcher.Filesystem.
func (f *Filesystem) Write(path string, data []byte) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("mcudevice: create parent directories: %w", err)
	}
	if err := os.WriteFile(full, data, 0o640); err != nil {
		return fmt.Errorf("mcudevice: write file: %w", err)
	}
	return nil
}

// Read implements dispatcher.Filesystem.
func (f *Filesystem) Read(path string) ([]byte, error) {
	full, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("mcudevice: read file: %w", err)
	}
	return data, nil
}

// Remove implements dispatcher.Filesystem.
func (f *Filesystem) Remove(path string) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("mcudevice: remove file: %w", err)
	}
	return nil
}
