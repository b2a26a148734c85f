package mcudevice

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGPIODigitalWriteRead(t *testing.T) {
	g := NewGPIO()
	require.NoError(t, g.SetPinMode(13, PinModeOutput))
	require.NoError(t, g.DigitalWrite(13, 1))
	v, err := g.DigitalRead(13)
	require.NoError(t, err)
	require.Equal(t, uint8(1), v)
}

func TestGPIOResetAllToInput(t *testing.T) {
	g := NewGPIO()
	require.NoError(t, g.SetPinMode(5, PinModeOutput))
	require.NoError(t, g.DigitalWrite(5, 1))

	g.ResetAllToInput()

	v, err := g.DigitalRead(5)
	require.NoError(t, err)
	require.Equal(t, uint8(0), v)
}

func TestGPIORejectsUnknownMode(t *testing.T) {
	g := NewGPIO()
	require.Error(t, g.SetPinMode(1, 99))
}

func TestMailboxFIFOOrder(t *testing.T) {
	m := NewMailbox()
	require.NoError(t, m.Push([]byte("first")))
	require.NoError(t, m.Push([]byte("second")))

	n, err := m.Available()
	require.NoError(t, err)
	require.Equal(t, uint8(2), n)

	msg, err := m.Read()
	require.NoError(t, err)
	require.Equal(t, []byte("first"), msg)

	msg, err = m.Read()
	require.NoError(t, err)
	require.Equal(t, []byte("second"), msg)
}

func TestMailboxOverflow(t *testing.T) {
	m := NewMailbox()
	for i := 0; i < mailboxCapacity; i++ {
		require.NoError(t, m.Push([]byte{byte(i)}))
	}
	require.Error(t, m.Push([]byte("overflow")))
}

func TestFilesystemWriteReadRemove(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Write("a/b/c.txt", []byte("hello")))
	data, err := fs.Read("a/b/c.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	require.NoError(t, fs.Remove("a/b/c.txt"))
	_, err = fs.Read("a/b/c.txt")
	require.Error(t, err)
}

func TestFilesystemContainsTraversal(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFilesystem(root)
	require.NoError(t, err)

	// "../../etc/passwd" normalizes to "/etc/passwd" under root, not a
	// real escape to the host's /etc/passwd.
	require.NoError(t, fs.Write("../../etc/passwd", []byte("contained")))

	data, err := fs.Read("etc/passwd")
	require.NoError(t, err)
	require.Equal(t, []byte("contained"), data)

	_, statErr := filepath.Glob(filepath.Join(root, "..", "etc", "passwd"))
	require.NoError(t, statErr)
}

func TestProcessRunCapturesOutput(t *testing.T) {
	p := NewProcess()
	status, stdout, _, err := p.Run([]byte("echo hello"))
	require.NoError(t, err)
	require.Equal(t, uint8(0), status)
	require.Equal(t, "hello\n", string(stdout))
}

func TestProcessRunAsyncAndPoll(t *testing.T) {
	p := NewProcess()
	pid, err := p.RunAsync([]byte("sleep 0.05 && echo done"))
	require.NoError(t, err)
	require.NotZero(t, pid)

	status, exitCode, _, _, err := p.Poll(pid)
	require.NoError(t, err)
	require.Equal(t, uint8(PollExitCodeRunning), exitCode)
	_ = status

	require.Eventually(t, func() bool {
		_, exitCode, stdout, _, err := p.Poll(pid)
		return err == nil && exitCode != PollExitCodeRunning && bytes.Contains(stdout, []byte("done"))
	}, time.Second, 10*time.Millisecond)
}

func TestProcessKill(t *testing.T) {
	p := NewProcess()
	pid, err := p.RunAsync([]byte("sleep 5"))
	require.NoError(t, err)
	require.NoError(t, p.Kill(pid))
}

func TestSystemCapabilitiesAndVersion(t *testing.T) {
	s := NewSystem(115200)
	v, err := s.Version()
	require.NoError(t, err)
	require.NotEmpty(t, v)

	caps, err := s.Capabilities()
	require.NoError(t, err)
	require.NotZero(t, caps)

	require.NoError(t, s.SetBaudRate(230400))
	require.Equal(t, uint32(230400), s.Baudrate())
	require.Error(t, s.SetBaudRate(0))
}
