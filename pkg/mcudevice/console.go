package mcudevice

import "io"

// Console implements dispatcher.Console by writing to an arbitrary
// io.Writer — stdout for a host daemon, or a test buffer.
type Console struct {
	out io.Writer
}

// NewConsole returns a Console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Write implements dispatcher.Console.
func (c *Console) Write(data []byte) error {
	_, err := c.out.Write(data)
	return err
}
